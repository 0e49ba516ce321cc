package configbuilder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/animus-coder/codevet/internal/config"
	"github.com/animus-coder/codevet/internal/llm"
	llmopenai "github.com/animus-coder/codevet/internal/llm/providers/openai"
)

// defaultBaseURLs holds the OpenAI-compatible endpoint of each known provider type.
// An empty entry means the SDK default (api.openai.com).
var defaultBaseURLs = map[string]string{
	"openai":     "",
	"openrouter": "https://openrouter.ai/api/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"ollama":     "http://localhost:11434/v1",
	"vllm":       "http://localhost:8000/v1",
	"lmstudio":   "http://localhost:1234/v1",
}

// BuildRegistryFromConfig constructs a registry and providers from config.
func BuildRegistryFromConfig(cfg *config.Config) (*llm.Registry, error) {
	reg := llm.NewRegistry()

	for _, name := range sortedKeys(cfg.Providers) {
		p, err := buildProvider(name, cfg.Providers[name])
		if err != nil {
			return nil, err
		}
		reg.RegisterProvider(name, p)
	}

	for _, name := range sortedKeys(cfg.Models) {
		mCfg := cfg.Models[name]
		reg.RegisterModel(name, llm.ModelRoute{
			Provider:    mCfg.Provider,
			Model:       mCfg.Model,
			Temperature: mCfg.Temperature,
			MaxTokens:   mCfg.MaxTokens,
		}, mCfg.Default)
	}

	if _, _, err := reg.Resolve(""); err != nil {
		return nil, err
	}

	return reg, nil
}

// Every supported backend speaks the OpenAI chat completions protocol.
func buildProvider(name string, cfg config.ProviderConfig) (llm.Provider, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Type))
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if kind == "custom" {
		if baseURL == "" {
			return nil, fmt.Errorf("provider %s: custom providers need base_url", name)
		}
		return llmopenai.NewProvider(name, baseURL, cfg.APIKey, cfg.Timeout), nil
	}
	def, ok := defaultBaseURLs[kind]
	if !ok {
		return nil, fmt.Errorf("unknown provider type %q for provider %s", cfg.Type, name)
	}
	if baseURL == "" {
		baseURL = def
	}
	return llmopenai.NewProvider(name, baseURL, cfg.APIKey, cfg.Timeout), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
