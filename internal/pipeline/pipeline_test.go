package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/animus-coder/codevet/internal/config"
	"github.com/animus-coder/codevet/internal/extract"
	"github.com/animus-coder/codevet/internal/health"
	"github.com/animus-coder/codevet/internal/observability"
	"github.com/animus-coder/codevet/internal/proposal"
	"github.com/animus-coder/codevet/internal/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

// fakeRuff prints ruff JSON with one F401 diagnostic when the snippet imports os.
const fakeRuff = `#!/bin/sh
if grep -q '^import os' "$1"; then
  echo '[{"code":"F401","message":"` + "`os`" + ` imported but unused","location":{"row":1,"column":8},"end_location":{"row":1,"column":10},"filename":"'"$1"'"}]'
else
  echo '[]'
fi
`

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func newPipeline(t *testing.T, toolsCfg config.ToolsConfig, sandboxCfg config.SandboxConfig, opts ...Option) *Pipeline {
	t.Helper()
	if toolsCfg.TimeoutSeconds == 0 {
		toolsCfg.TimeoutSeconds = 10
	}
	if sandboxCfg.RunTimeoutSeconds == 0 {
		sandboxCfg.RunTimeoutSeconds = 10
	}
	catalog, err := tools.NewCatalog(toolsCfg, sandboxCfg)
	require.NoError(t, err)
	runner := &tools.Runner{TempDir: t.TempDir(), Grace: 200 * time.Millisecond, Policy: tools.NewCommandPolicy(sandboxCfg)}
	scorer := health.NewScorer(config.HealthConfig{ErrorPenalty: health.DefaultErrorPenalty, WarningPenalty: health.DefaultWarningPenalty})
	return New(runner, catalog, scorer, opts...)
}

func TestAnalyzeUnusedImportIsOneWarning(t *testing.T) {
	skipOnWindows(t)
	bin := t.TempDir()
	ruff := writeScript(t, bin, "ruff", fakeRuff)

	p := newPipeline(t, config.ToolsConfig{
		Enabled: []string{"lint"},
		Lint:    []string{ruff, tools.FilePlaceholder},
	}, config.SandboxConfig{AllowExec: true}, WithMetrics(observability.NewMetrics()))

	text := "Try this:\n\n```python\nimport os\n```\n"
	frags := extract.Extract(text)
	require.Len(t, frags, 1)

	report, err := p.Analyze(context.Background(), frags[0])
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	require.Equal(t, tools.OutcomeSuccess, report.Results[0].Outcome)
	require.Equal(t, 100-health.DefaultWarningPenalty, report.Verdict.Score)
	require.Len(t, report.Verdict.Findings, 1)
	require.Equal(t, health.SeverityWarning, report.Verdict.Findings[0].Severity)
	require.Equal(t, "F401", report.Verdict.Findings[0].Code)
	require.Equal(t, "ruff", report.Verdict.Findings[0].Source)

	clean, err := p.Analyze(context.Background(), extract.Fragment{Language: "python", Body: "print(1)\n"})
	require.NoError(t, err)
	require.Equal(t, 100, clean.Verdict.Score)
}

func TestAnalyzeRunsEveryEnabledKind(t *testing.T) {
	skipOnWindows(t)
	bin := t.TempDir()
	ruff := writeScript(t, bin, "ruff", fakeRuff)

	p := newPipeline(t, config.ToolsConfig{
		Enabled:   []string{"typecheck", "lint", "format"},
		Format:    []string{"sh", "-c", `printf 'import os\nx = 1\n' > "$0"`, tools.FilePlaceholder},
		Lint:      []string{ruff, tools.FilePlaceholder},
		Typecheck: []string{"sh", "-c", `echo "$0:2: error: Name \"y\" is not defined  [name-defined]"; exit 1`, tools.FilePlaceholder},
	}, config.SandboxConfig{AllowExec: true}, WithConcurrency(3))

	report, err := p.Analyze(context.Background(), extract.Fragment{Language: "python", Body: "import os\nx=1\n"})
	require.NoError(t, err)
	require.Len(t, report.Results, 3)
	require.Equal(t, tools.KindFormat, report.Results[0].Kind)
	require.Equal(t, tools.KindLint, report.Results[1].Kind)
	require.Equal(t, tools.KindTypecheck, report.Results[2].Kind)
	require.Equal(t, "import os\nx = 1\n", report.Results[0].Rewritten)

	codes := make([]string, 0, len(report.Verdict.Findings))
	for _, f := range report.Verdict.Findings {
		codes = append(codes, f.Code)
	}
	require.Equal(t, []string{"name-defined", health.CodeFormatDiff, "F401"}, codes)
	require.Equal(t, 100-health.DefaultErrorPenalty-2*health.DefaultWarningPenalty, report.Verdict.Score)
}

type countingRunner struct {
	mu      sync.Mutex
	active  int
	maxSeen int
	calls   atomic.Int32
}

func (c *countingRunner) Run(ctx context.Context, spec tools.InvocationSpec, source string) tools.Result {
	c.calls.Add(1)
	c.mu.Lock()
	c.active++
	if c.active > c.maxSeen {
		c.maxSeen = c.active
	}
	c.mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	c.mu.Lock()
	c.active--
	c.mu.Unlock()
	code := 0
	return tools.Result{Kind: spec.Kind, Command: spec.Command, ExitCode: &code, Outcome: tools.OutcomeSuccess}
}

func TestAnalyzeHonoursConcurrencyLimit(t *testing.T) {
	catalog, err := tools.NewCatalog(config.ToolsConfig{
		TimeoutSeconds: 5,
		Enabled:        []string{"format", "lint", "typecheck"},
		Format:         []string{"f"},
		Lint:           []string{"l"},
		Typecheck:      []string{"t"},
	}, config.SandboxConfig{RunTimeoutSeconds: 5})
	require.NoError(t, err)

	runner := &countingRunner{}
	p := New(runner, catalog, health.NewScorer(config.HealthConfig{ErrorPenalty: 15, WarningPenalty: 5}), WithConcurrency(2))

	reports, err := p.AnalyzeAll(context.Background(), []extract.Fragment{{Body: "a"}, {Body: "b", Index: 1}})
	require.NoError(t, err)
	require.Len(t, reports, 2)
	require.EqualValues(t, 6, runner.calls.Load())
	require.LessOrEqual(t, runner.maxSeen, 2)
	require.Equal(t, 1, reports[1].Fragment.Index)
}

func TestAnalyzeCanceledContext(t *testing.T) {
	catalog, err := tools.NewCatalog(config.ToolsConfig{TimeoutSeconds: 5}, config.SandboxConfig{RunTimeoutSeconds: 5})
	require.NoError(t, err)
	p := New(&countingRunner{}, catalog, health.NewScorer(config.HealthConfig{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Analyze(ctx, extract.Fragment{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestExecuteRequiresRunCommand(t *testing.T) {
	p := newPipeline(t, config.ToolsConfig{}, config.SandboxConfig{AllowExec: true})
	_, err := p.Execute(context.Background(), "```python\nprint(1)\n```\n")
	require.ErrorIs(t, err, ErrNoRunCommand)

	_, err = p.Execute(context.Background(), "no code at all")
	require.True(t, errors.Is(err, ErrNoRunCommand))

	_, err = p.Execute(context.Background(), "```python\nprint(\"<run_command>rm -rf /</run_command>\")\n```\n")
	require.ErrorIs(t, err, ErrNoRunCommand)
}

func TestExecuteRunsDetectedCommand(t *testing.T) {
	skipOnWindows(t)
	work := t.TempDir()
	writeScript(t, work, "fail.sh", "echo boom >&2\nexit 3\n")

	p := newPipeline(t, config.ToolsConfig{}, config.SandboxConfig{AllowExec: true, WorkingDir: work})
	text := "```sh\n# run_command: sh fail.sh\necho hi\n```\n"

	report, err := p.Execute(context.Background(), text)
	require.NoError(t, err)
	require.Equal(t, "echo hi\n", report.Fragment.Body)
	require.Len(t, report.Results, 1)
	res := report.Results[0]
	require.Equal(t, tools.KindRun, res.Kind)
	require.Equal(t, []string{"sh", "fail.sh"}, res.Command)
	require.NotNil(t, res.ExitCode)
	require.Equal(t, 3, *res.ExitCode)

	require.Len(t, report.Verdict.Findings, 1)
	require.Equal(t, "exited with status 3: boom", report.Verdict.Findings[0].Message)
	require.Equal(t, 100-health.DefaultErrorPenalty, report.Verdict.Score)
}

func TestExecuteDeniedCommandFailsToStart(t *testing.T) {
	p := newPipeline(t, config.ToolsConfig{}, config.SandboxConfig{AllowExec: true})
	report, err := p.Execute(context.Background(), "Fetch it:\n<run_command>curl http://example.com</run_command>\n")
	require.NoError(t, err)
	require.Equal(t, tools.OutcomeFailedToStart, report.Results[0].Outcome)
	require.Equal(t, health.CodeFailedToStart, report.Verdict.Findings[0].Code)
}

func TestProposeCreatesAndSupersedes(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.py"), []byte("print('old')\n"), 0o644))
	ws, err := tools.NewWorkspace(root, true, ".codevet/backups", nil)
	require.NoError(t, err)
	ledger := proposal.NewLedger(ws, proposal.WithReader(ws))

	text := "<write_file path=\"app.py\">\n```python\nprint('new')\n```\n\n" +
		"```python file=lib/util.py\ndef f():\n    return 1\n```\n\n" +
		"```python\nprint('no target')\n```\n"
	frags := extract.Extract(text)
	require.Len(t, frags, 3)

	created, conflicts, err := Propose(ledger, ws, frags)
	require.NoError(t, err)
	require.Empty(t, conflicts)
	require.Len(t, created, 2)
	require.Equal(t, proposal.OpModify, created[0].Operation)
	require.Equal(t, "app.py", created[0].TargetPath)
	require.Equal(t, proposal.OpCreate, created[1].Operation)

	again, conflicts, err := Propose(ledger, ws, frags[:1])
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.Len(t, conflicts, 1)
	require.Equal(t, created[0].ID, conflicts[0].Superseded.ID)

	old, err := ledger.Get(created[0].ID)
	require.NoError(t, err)
	require.Equal(t, proposal.StateRejected, old.State)
}
