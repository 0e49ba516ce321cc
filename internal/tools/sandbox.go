package tools

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/animus-coder/codevet/internal/config"
	"github.com/animus-coder/codevet/internal/logging"
)

// Sandbox bundles the configured runner, catalog and workspace.
type Sandbox struct {
	Runner    *Runner
	Catalog   *Catalog
	Workspace *Workspace
	Policy    *CommandPolicy
}

var defaultNetworkDenied = []string{
	"curl", "wget", "ping", "nc", "netcat", "telnet", "ssh", "scp", "sftp",
}

// NewSandbox builds tool instances respecting sandbox, tools and workspace config.
func NewSandbox(cfg *config.Config, logger *zap.Logger) (*Sandbox, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	ws, err := NewWorkspace(cfg.Workspace.Root, cfg.Workspace.AllowWrite, cfg.Workspace.BackupDir, logging.Named(logger, "workspace"))
	if err != nil {
		return nil, fmt.Errorf("build workspace: %w", err)
	}

	catalog, err := NewCatalog(cfg.Tools, cfg.Sandbox)
	if err != nil {
		return nil, fmt.Errorf("build tool catalog: %w", err)
	}

	policy := NewCommandPolicy(cfg.Sandbox)

	if cfg.Tools.TempDir != "" {
		if err := os.MkdirAll(cfg.Tools.TempDir, 0o755); err != nil {
			return nil, fmt.Errorf("create temp dir: %w", err)
		}
	}

	runner := &Runner{
		OutputCap: cfg.Tools.OutputCapBytes,
		Grace:     time.Duration(cfg.Tools.GraceMillis) * time.Millisecond,
		TempDir:   cfg.Tools.TempDir,
		Policy:    policy,
		Logger:    logging.Named(logger, "runner"),
	}

	return &Sandbox{
		Runner:    runner,
		Catalog:   catalog,
		Workspace: ws,
		Policy:    policy,
	}, nil
}

// NewCommandPolicy derives the run-command policy. Network tools are denied unless network is allowed.
func NewCommandPolicy(s config.SandboxConfig) *CommandPolicy {
	denied := append([]string{}, s.DeniedCommands...)
	if !s.AllowNetwork {
		denied = append(denied, defaultNetworkDenied...)
	}
	return &CommandPolicy{
		AllowExecution: s.AllowExec,
		Allowed:        dedupeStrings(s.AllowedCommands),
		Denied:         dedupeStrings(denied),
	}
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
