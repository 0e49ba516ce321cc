package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/animus-coder/codevet/internal/config"
	"github.com/animus-coder/codevet/internal/logging"
	"github.com/animus-coder/codevet/internal/version"
)

// Options holds global CLI options.
type Options struct {
	ConfigPath string
	// LogLevel overrides logging.level when set.
	LogLevel string
}

// NewRootCmd constructs the base CLI command tree.
func NewRootCmd() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:           "codevet",
		Short:         "codevet – vet assistant code with real tools before it touches your files",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "Path to config file (default: configs/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "Log level for CLI commands (debug, info, warn, error)")

	cmd.AddCommand(NewDoctorCmd(opts))
	cmd.AddCommand(NewVersionCmd())
	cmd.AddCommand(NewVetCmd(opts))
	cmd.AddCommand(NewChatCmd(opts))
	cmd.AddCommand(NewHistoryCmd(opts))

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig wraps config loading with shared options.
func loadConfig(opts *Options) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(opts *Options, cfg *config.Config) (*zap.Logger, error) {
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	return logging.NewLogger(level, cfg.Logging.Format)
}
