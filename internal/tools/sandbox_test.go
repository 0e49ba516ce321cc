package tools

import (
	"testing"

	"github.com/animus-coder/codevet/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Tools: config.ToolsConfig{
			TimeoutSeconds: 10,
			GraceMillis:    250,
			OutputCapBytes: 4096,
			FileExtension:  ".py",
			Enabled:        []string{"typecheck", "lint", "format"},
			Format:         []string{"ruff", "format", "{file}"},
			Lint:           []string{"ruff", "check", "--output-format", "json", "{file}"},
			Typecheck:      []string{"mypy", "{file}"},
		},
		Sandbox: config.SandboxConfig{
			AllowExec:         true,
			AllowedCommands:   []string{"python"},
			WorkingDir:        t.TempDir(),
			RunTimeoutSeconds: 20,
		},
		Workspace: config.WorkspaceConfig{Root: t.TempDir(), AllowWrite: true},
	}
}

func TestSandboxBuildsRunnerAndCatalog(t *testing.T) {
	cfg := testConfig(t)
	sb, err := NewSandbox(cfg, nil)
	if err != nil {
		t.Fatalf("sandbox build: %v", err)
	}
	if sb.Runner.OutputCap != 4096 || sb.Runner.Grace.Milliseconds() != 250 {
		t.Fatalf("runner not configured: %+v", sb.Runner)
	}
	if sb.Runner.Policy == nil || !sb.Runner.Policy.AllowExecution {
		t.Fatalf("expected run commands enabled")
	}
	enabled := sb.Catalog.Enabled()
	if len(enabled) != 3 || enabled[0] != KindFormat || enabled[1] != KindLint || enabled[2] != KindTypecheck {
		t.Fatalf("unexpected enabled order %v", enabled)
	}
}

func TestSandboxDisablesExecWhenConfigFalse(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sandbox.AllowExec = false
	sb, err := NewSandbox(cfg, nil)
	if err != nil {
		t.Fatalf("sandbox build: %v", err)
	}
	if sb.Policy.AllowExecution {
		t.Fatalf("expected run commands disabled")
	}
}

func TestSandboxAddsNetworkDeniesWhenDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sandbox.AllowNetwork = false
	sb, err := NewSandbox(cfg, nil)
	if err != nil {
		t.Fatalf("sandbox build: %v", err)
	}
	found := false
	for _, d := range sb.Policy.Denied {
		if d == "curl" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected curl to be denied when network disabled")
	}
}

func TestCatalogSpecs(t *testing.T) {
	cfg := testConfig(t)
	cat, err := NewCatalog(cfg.Tools, cfg.Sandbox)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	spec, err := cat.Spec(KindLint)
	if err != nil {
		t.Fatalf("invocation: %v", err)
	}
	if spec.FileExt != ".py" || spec.Timeout.Seconds() != 10 || spec.Command[0] != "ruff" {
		t.Fatalf("unexpected spec %+v", spec)
	}

	run, err := cat.RunSpec("python main.py")
	if err != nil {
		t.Fatalf("run invocation: %v", err)
	}
	if run.Kind != KindRun || run.WorkDir != cfg.Sandbox.WorkingDir || run.Timeout.Seconds() != 20 {
		t.Fatalf("unexpected run invocation %+v", run)
	}
	if _, err := cat.RunSpec("  "); err == nil {
		t.Fatalf("expected empty run command error")
	}
	if _, ok := cat.Schema("pipeline.run"); !ok {
		t.Fatalf("expected run schema")
	}
	if len(cat.Schemas()) != 4 {
		t.Fatalf("expected 4 schemas, got %d", len(cat.Schemas()))
	}

	cfg.Tools.Enabled = []string{"run"}
	if _, err := NewCatalog(cfg.Tools, cfg.Sandbox); err == nil {
		t.Fatalf("expected run to be rejected as static tool")
	}
}

func TestValidateSpec(t *testing.T) {
	if err := ValidateSpec(InvocationSpec{Kind: KindLint, Command: []string{"ruff"}, FileExt: "py"}); err == nil {
		t.Fatalf("expected extension error")
	}
	if err := ValidateSpec(InvocationSpec{Kind: KindLint, Command: []string{"ruff"}, FileExt: ".py"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
