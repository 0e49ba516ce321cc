package cli

import (
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/animus-coder/codevet/internal/config"
)

// NewDoctorCmd returns a health-check command validating config and environment.
func NewDoctorCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and check tool binaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config OK. Providers: %d, models: %d\n", len(cfg.Providers), len(cfg.Models))
			fmt.Fprintf(out, "Tools enabled: %s, exec allowed: %v, writes allowed: %v, metrics: %v\n",
				strings.Join(cfg.Tools.Enabled, ","), cfg.Sandbox.AllowExec, cfg.Workspace.AllowWrite, cfg.Server.MetricsEnabled)

			for _, bin := range toolBinaries(cfg) {
				if path, err := exec.LookPath(bin); err == nil {
					fmt.Fprintf(out, "  ok       %s (%s)\n", bin, path)
				} else {
					fmt.Fprintf(out, "  missing  %s\n", bin)
				}
			}
			return nil
		},
	}
}

// toolBinaries lists the executables of every enabled tool, deduplicated and sorted.
func toolBinaries(cfg *config.Config) []string {
	commands := map[string][]string{
		"format":    cfg.Tools.Format,
		"lint":      cfg.Tools.Lint,
		"typecheck": cfg.Tools.Typecheck,
	}
	seen := make(map[string]struct{})
	var out []string
	for _, kind := range cfg.Tools.Enabled {
		cmd := commands[strings.ToLower(strings.TrimSpace(kind))]
		if len(cmd) == 0 {
			continue
		}
		if _, ok := seen[cmd[0]]; ok {
			continue
		}
		seen[cmd[0]] = struct{}{}
		out = append(out, cmd[0])
	}
	sort.Strings(out)
	return out
}
