package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config describes the top-level application configuration loaded from YAML and ENV.
type Config struct {
	Version   string                    `mapstructure:"version"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Models    map[string]ModelConfig    `mapstructure:"models"`
	Assistant AssistantConfig           `mapstructure:"assistant"`
	Budget    BudgetConfig              `mapstructure:"budget"`
	Tools     ToolsConfig               `mapstructure:"tools"`
	Sandbox   SandboxConfig             `mapstructure:"sandbox"`
	Health    HealthConfig              `mapstructure:"health"`
	Workspace WorkspaceConfig           `mapstructure:"workspace"`
	Storage   StorageConfig             `mapstructure:"storage"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	Server    ServerConfig              `mapstructure:"server"`
}

// ProviderConfig represents an OpenAI-compatible endpoint (OpenAI, Groq, OpenRouter, Ollama /v1, vLLM).
type ProviderConfig struct {
	Type    string        `mapstructure:"type"`     // openai, groq, openrouter, ollama, vllm, lmstudio, custom
	BaseURL string        `mapstructure:"base_url"` // API base URL including the /v1 suffix
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ModelConfig binds a logical model name to a provider entry and model parameters.
type ModelConfig struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Default     bool    `mapstructure:"default"`
}

// AssistantConfig controls how a chat turn is assembled.
type AssistantConfig struct {
	Mode        string  `mapstructure:"mode"` // architect, coder, security, database, refactor
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
	// AutoAnalyze runs the configured tools on every extracted fragment.
	AutoAnalyze bool `mapstructure:"auto_analyze"`
}

// BudgetConfig bounds the payload sent to the model.
type BudgetConfig struct {
	MaxMessages   int `mapstructure:"max_messages"`
	MaxFileChars  int `mapstructure:"max_file_chars"`
	MaxTotalChars int `mapstructure:"max_total_chars"`
	// HistoryWindow is how many stored messages are loaded before budgeting.
	HistoryWindow int `mapstructure:"history_window"`
}

// ToolsConfig configures the quality tools run against fragments.
type ToolsConfig struct {
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	GraceMillis    int      `mapstructure:"grace_millis"`
	OutputCapBytes int      `mapstructure:"output_cap_bytes"`
	Concurrency    int      `mapstructure:"concurrency"`
	FileExtension  string   `mapstructure:"file_extension"`
	TempDir        string   `mapstructure:"temp_dir"`
	Enabled        []string `mapstructure:"enabled"`
	Format         []string `mapstructure:"format"`
	Lint           []string `mapstructure:"lint"`
	Typecheck      []string `mapstructure:"typecheck"`
}

// SandboxConfig controls which run commands may be executed and where.
type SandboxConfig struct {
	AllowExec         bool     `mapstructure:"allow_exec"`
	AllowNetwork      bool     `mapstructure:"allow_network"`
	AllowedCommands   []string `mapstructure:"allowed_commands"`
	DeniedCommands    []string `mapstructure:"denied_commands"`
	WorkingDir        string   `mapstructure:"working_dir"`
	RunTimeoutSeconds int      `mapstructure:"run_timeout_seconds"`
}

// HealthConfig holds scoring penalties.
type HealthConfig struct {
	ErrorPenalty   int `mapstructure:"error_penalty"`
	WarningPenalty int `mapstructure:"warning_penalty"`
}

// WorkspaceConfig describes where approved proposals may write.
type WorkspaceConfig struct {
	Root       string `mapstructure:"root"`
	AllowWrite bool   `mapstructure:"allow_write"`
	BackupDir  string `mapstructure:"backup_dir"`
}

// StorageConfig configures the conversation history store.
type StorageConfig struct {
	Path      string `mapstructure:"path"`
	PurgeDays int    `mapstructure:"purge_days"`
}

// LoggingConfig controls logger behaviour.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console or json
}

// ServerConfig describes daemon settings.
type ServerConfig struct {
	Addr           string `mapstructure:"addr"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	Transport      string `mapstructure:"transport"` // connect or ndjson
}

// Load reads configuration from the provided path or defaults to configs/config.yaml.
// Environment variables override file values (prefix: CODEVET_, dots replaced with underscores).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CODEVET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
	} else {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && path == "" {
			v.SetConfigName("config.example")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults populates defaults for optional fields. Budget and storage values follow the
// chat window the assistant shipped with.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("assistant.mode", "coder")
	v.SetDefault("assistant.max_tokens", 4096)
	v.SetDefault("assistant.temperature", 0.2)
	v.SetDefault("assistant.auto_analyze", true)

	v.SetDefault("budget.max_messages", 20)
	v.SetDefault("budget.max_file_chars", 8000)
	v.SetDefault("budget.max_total_chars", 12000)
	v.SetDefault("budget.history_window", 50)

	v.SetDefault("tools.timeout_seconds", 30)
	v.SetDefault("tools.grace_millis", 500)
	v.SetDefault("tools.output_cap_bytes", 64*1024)
	v.SetDefault("tools.concurrency", 4)
	v.SetDefault("tools.file_extension", ".py")
	v.SetDefault("tools.enabled", []string{"format", "lint", "typecheck"})
	v.SetDefault("tools.format", []string{"ruff", "format", "{file}"})
	v.SetDefault("tools.lint", []string{"ruff", "check", "--output-format", "json", "--exit-zero", "{file}"})
	v.SetDefault("tools.typecheck", []string{"mypy", "--ignore-missing-imports", "--no-error-summary", "{file}"})

	v.SetDefault("sandbox.allow_exec", true)
	v.SetDefault("sandbox.allow_network", false)
	v.SetDefault("sandbox.working_dir", ".")
	v.SetDefault("sandbox.run_timeout_seconds", 60)

	v.SetDefault("health.error_penalty", 15)
	v.SetDefault("health.warning_penalty", 5)

	v.SetDefault("workspace.root", ".")
	v.SetDefault("workspace.allow_write", true)
	v.SetDefault("workspace.backup_dir", ".codevet/backups")

	v.SetDefault("storage.path", "data/chat_history.db")
	v.SetDefault("storage.purge_days", 30)

	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.metrics_enabled", true)
	v.SetDefault("server.transport", "connect")
}

// Validate performs basic sanity checks on configuration values.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return errors.New("at least one provider must be configured")
	}

	if len(c.Models) == 0 {
		return errors.New("at least one model must be defined")
	}

	for name, p := range c.Providers {
		if p.Type == "" {
			return fmt.Errorf("provider %q must define type", name)
		}
	}

	var defaultFound bool
	for name, m := range c.Models {
		if m.Provider == "" {
			return fmt.Errorf("model %q must reference provider", name)
		}
		if _, ok := c.Providers[m.Provider]; !ok {
			return fmt.Errorf("model %q references unknown provider %q", name, m.Provider)
		}
		if m.Temperature < 0 || m.Temperature > 2 {
			return fmt.Errorf("model %q temperature must be within [0,2]", name)
		}
		if m.MaxTokens < 0 {
			return fmt.Errorf("model %q max_tokens cannot be negative", name)
		}
		if m.Default {
			defaultFound = true
		}
	}
	if !defaultFound {
		return errors.New("at least one model should be marked as default")
	}
	if model := strings.TrimSpace(c.Assistant.Model); model != "" {
		if _, ok := c.Models[model]; !ok {
			return fmt.Errorf("assistant.model references unknown model %q", model)
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Assistant.Mode)) {
	case "", "architect", "coder", "security", "database", "refactor":
	default:
		return fmt.Errorf("assistant.mode must be one of architect, coder, security, database, refactor, got %q", c.Assistant.Mode)
	}

	if c.Budget.MaxMessages < 0 || c.Budget.MaxFileChars < 0 || c.Budget.MaxTotalChars < 0 {
		return errors.New("budget limits must be >= 0")
	}
	if c.Budget.HistoryWindow < 0 {
		return errors.New("budget.history_window must be >= 0")
	}

	if c.Tools.TimeoutSeconds <= 0 {
		return errors.New("tools.timeout_seconds must be > 0")
	}
	if c.Tools.GraceMillis < 0 {
		return errors.New("tools.grace_millis must be >= 0")
	}
	if c.Tools.OutputCapBytes <= 0 {
		return errors.New("tools.output_cap_bytes must be > 0")
	}
	if c.Tools.Concurrency < 0 {
		return errors.New("tools.concurrency must be >= 0")
	}
	for _, kind := range c.Tools.Enabled {
		switch strings.ToLower(strings.TrimSpace(kind)) {
		case "format":
			if len(c.Tools.Format) == 0 {
				return errors.New("tools.format command is required when format is enabled")
			}
		case "lint":
			if len(c.Tools.Lint) == 0 {
				return errors.New("tools.lint command is required when lint is enabled")
			}
		case "typecheck":
			if len(c.Tools.Typecheck) == 0 {
				return errors.New("tools.typecheck command is required when typecheck is enabled")
			}
		default:
			return fmt.Errorf("tools.enabled contains unknown tool kind %q", kind)
		}
	}

	if c.Sandbox.RunTimeoutSeconds <= 0 {
		return errors.New("sandbox.run_timeout_seconds must be > 0")
	}

	if c.Health.ErrorPenalty < 0 || c.Health.WarningPenalty < 0 {
		return errors.New("health penalties must be >= 0")
	}
	if c.Health.WarningPenalty > c.Health.ErrorPenalty {
		return errors.New("health.warning_penalty must not exceed health.error_penalty")
	}

	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if c.Storage.PurgeDays < 0 {
		return errors.New("storage.purge_days must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.Server.Transport)) {
	case "", "connect", "ndjson":
	default:
		return fmt.Errorf("server.transport must be one of connect or ndjson, got %q", c.Server.Transport)
	}

	return nil
}

// ToolTimeout returns the per-invocation timeout for static-analysis tools.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Tools.TimeoutSeconds) * time.Second
}

// RunTimeout returns the timeout for user run commands.
func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.Sandbox.RunTimeoutSeconds) * time.Second
}
