package tools

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
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

func TestRunnerStaticToolSeesSnippet(t *testing.T) {
	skipOnWindows(t)
	r := &Runner{TempDir: t.TempDir()}
	res := r.Run(context.Background(), InvocationSpec{
		Kind:    KindLint,
		Command: []string{"sh", "-c", `echo "$0"; cat "$0"`, FilePlaceholder},
		Timeout: 5 * time.Second,
		FileExt: ".py",
	}, "import os\n")

	if res.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s (%s)", res.Outcome, res.Error)
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %v", res.ExitCode)
	}
	lines := strings.SplitN(res.Stdout, "\n", 2)
	if filepath.Base(lines[0]) != "snippet.py" {
		t.Fatalf("unexpected snippet path %q", lines[0])
	}
	if lines[1] != "import os\n" {
		t.Fatalf("unexpected snippet body %q", lines[1])
	}
	if _, err := os.Stat(filepath.Dir(lines[0])); !os.IsNotExist(err) {
		t.Fatalf("expected temp dir removed, stat err=%v", err)
	}
}

func TestRunnerAppendsFileWhenPlaceholderMissing(t *testing.T) {
	got := substituteFile([]string{"mypy", "--strict"}, "/tmp/x/snippet.py")
	want := []string{"mypy", "--strict", "/tmp/x/snippet.py"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("got %v want %v", got, want)
	}
	got = substituteFile([]string{"tool", "--in={file}"}, "/a.py")
	if got[1] != "--in=/a.py" || len(got) != 2 {
		t.Fatalf("unexpected substitution %v", got)
	}
}

func TestRunnerTimeoutKillsSigtermIgnoringGroup(t *testing.T) {
	skipOnWindows(t)
	tmp := t.TempDir()
	r := &Runner{Grace: 200 * time.Millisecond, TempDir: tmp}

	start := time.Now()
	res := r.Run(context.Background(), InvocationSpec{
		Kind:    KindTypecheck,
		Command: []string{"sh", "-c", `trap '' TERM; sleep 30 & wait; sleep 30`, FilePlaceholder},
		Timeout: 300 * time.Millisecond,
	}, "x = 1\n")
	elapsed := time.Since(start)

	if res.Outcome != OutcomeTimedOut {
		t.Fatalf("expected timed_out, got %s (%s)", res.Outcome, res.Error)
	}
	if res.ExitCode != nil {
		t.Fatalf("expected nil exit code, got %d", *res.ExitCode)
	}
	if elapsed > 3*time.Second {
		t.Fatalf("runner exceeded timeout + grace: %s", elapsed)
	}
	entries, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatalf("read temp: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected temp dir cleaned, found %d entries", len(entries))
	}
}

func TestRunnerMissingBinary(t *testing.T) {
	tmp := t.TempDir()
	r := &Runner{TempDir: tmp}
	res := r.Run(context.Background(), InvocationSpec{
		Kind:    KindLint,
		Command: []string{"codevet-definitely-missing-linter", FilePlaceholder},
		Timeout: time.Second,
	}, "x = 1\n")
	if res.Outcome != OutcomeFailedToStart {
		t.Fatalf("expected failed_to_start, got %s", res.Outcome)
	}
	if res.ExitCode != nil {
		t.Fatalf("expected nil exit code")
	}
	if res.Error == "" {
		t.Fatalf("expected error text")
	}
	entries, _ := os.ReadDir(tmp)
	if len(entries) != 0 {
		t.Fatalf("expected temp dir cleaned after launch failure")
	}
}

func TestRunnerTruncatesOutput(t *testing.T) {
	skipOnWindows(t)
	r := &Runner{OutputCap: 1000}
	res := r.Run(context.Background(), InvocationSpec{
		Kind:    KindRun,
		Command: []string{"sh", "-c", "head -c 5000 /dev/zero | tr '\\0' a"},
		Timeout: 5 * time.Second,
	}, "")
	if !res.StdoutTruncated || res.StderrTruncated {
		t.Fatalf("unexpected truncation flags: %+v", res)
	}
	if !strings.HasSuffix(res.Stdout, "[output truncated: 4000 bytes dropped]") {
		t.Fatalf("missing truncation marker: %q", res.Stdout[len(res.Stdout)-60:])
	}
	if !strings.HasPrefix(res.Stdout, strings.Repeat("a", 1000)+"\n[") {
		t.Fatalf("expected 1000 captured bytes before marker")
	}
}

func TestRunnerFormatReadsBackRewrite(t *testing.T) {
	skipOnWindows(t)
	r := &Runner{}
	res := r.Run(context.Background(), InvocationSpec{
		Kind:    KindFormat,
		Command: []string{"sh", "-c", `printf 'x = 1\n' > "$0"`, FilePlaceholder},
		Timeout: 5 * time.Second,
	}, "x=1")
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s (%s)", res.Outcome, res.Error)
	}
	if res.Rewritten != "x = 1\n" {
		t.Fatalf("unexpected rewrite %q", res.Rewritten)
	}
}

func TestRunnerRunKindNonZeroExit(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	r := &Runner{}
	res := r.Run(context.Background(), InvocationSpec{
		Kind:    KindRun,
		Command: []string{"sh", "-c", "pwd; echo boom >&2; exit 3"},
		WorkDir: dir,
		Timeout: 5 * time.Second,
	}, "")
	if res.Outcome != OutcomeIssues {
		t.Fatalf("expected tool_reported_issues, got %s", res.Outcome)
	}
	if res.ExitCode == nil || *res.ExitCode != 3 {
		t.Fatalf("expected exit 3, got %v", res.ExitCode)
	}
	if strings.TrimSpace(res.Stderr) != "boom" {
		t.Fatalf("unexpected stderr %q", res.Stderr)
	}
	resolved, _ := filepath.EvalSymlinks(dir)
	if got, _ := filepath.EvalSymlinks(strings.TrimSpace(res.Stdout)); got != resolved {
		t.Fatalf("expected run in %s, got %s", resolved, res.Stdout)
	}
}

func TestRunnerRunKindPolicyDenied(t *testing.T) {
	r := &Runner{Policy: &CommandPolicy{AllowExecution: true, Denied: []string{"rm"}}}
	res := r.Run(context.Background(), InvocationSpec{
		Kind:    KindRun,
		Command: []string{"/bin/rm", "-rf", "/"},
		Timeout: time.Second,
	}, "")
	if res.Outcome != OutcomeFailedToStart {
		t.Fatalf("expected failed_to_start, got %s", res.Outcome)
	}
	if !strings.Contains(res.Error, "denylist") {
		t.Fatalf("unexpected error %q", res.Error)
	}
}

func TestRunnerRejectsInvalidSpec(t *testing.T) {
	r := &Runner{}
	res := r.Run(context.Background(), InvocationSpec{Kind: "coverage", Command: []string{"x"}}, "")
	if res.Outcome != OutcomeFailedToStart {
		t.Fatalf("expected failed_to_start, got %s", res.Outcome)
	}
	res = r.Run(context.Background(), InvocationSpec{Kind: KindLint}, "")
	if res.Outcome != OutcomeFailedToStart {
		t.Fatalf("expected failed_to_start for empty command, got %s", res.Outcome)
	}
}

func TestRunnerParentContextCancel(t *testing.T) {
	skipOnWindows(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	r := &Runner{Grace: 100 * time.Millisecond}
	res := r.Run(ctx, InvocationSpec{Kind: KindRun, Command: []string{"sleep", "10"}, Timeout: 10 * time.Second}, "")
	if res.Outcome != OutcomeTimedOut {
		t.Fatalf("expected timed_out on cancel, got %s", res.Outcome)
	}
	if !errors.Is(ctx.Err(), context.Canceled) || res.Error != context.Canceled.Error() {
		t.Fatalf("unexpected error %q", res.Error)
	}
}

func TestClassifyKeepsExitStatusWithoutStop(t *testing.T) {
	skipOnWindows(t)
	cmd := exec.Command("sh", "-c", "exit 0")
	if err := cmd.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}

	var res Result
	classify(&res, "", cmd.ProcessState, nil)
	if res.Outcome != OutcomeSuccess || res.ExitCode == nil || *res.ExitCode != 0 {
		t.Fatalf("expected success with exit 0, got %s %v", res.Outcome, res.ExitCode)
	}

	res = Result{}
	classify(&res, "timed out after 1s", cmd.ProcessState, nil)
	if res.Outcome != OutcomeTimedOut || res.ExitCode != nil || res.Error != "timed out after 1s" {
		t.Fatalf("expected timed_out without exit code, got %+v", res)
	}
}

func TestRunnerFastExitIsNotTimedOut(t *testing.T) {
	skipOnWindows(t)
	r := &Runner{Grace: 100 * time.Millisecond}
	res := r.Run(context.Background(), InvocationSpec{Kind: KindRun, Command: []string{"sh", "-c", "sleep 0.05"}, Timeout: 2 * time.Second}, "")
	if res.Outcome != OutcomeSuccess || res.ExitCode == nil || res.Error != "" {
		t.Fatalf("expected success, got %s (%s)", res.Outcome, res.Error)
	}
}

func TestCommandPolicy(t *testing.T) {
	p := &CommandPolicy{AllowExecution: true, Allowed: []string{"python"}, Denied: []string{"rm"}}
	if err := p.Check([]string{"python", "-m", "pytest"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Check([]string{"rm", "-rf"}); !errors.Is(err, ErrCommandDenied) {
		t.Fatalf("expected deny error, got %v", err)
	}
	if err := p.Check([]string{"node"}); !errors.Is(err, ErrCommandDenied) {
		t.Fatalf("expected allowlist error, got %v", err)
	}
	p.AllowExecution = false
	if err := p.Check([]string{"python"}); !errors.Is(err, ErrExecDisabled) {
		t.Fatalf("expected disabled error, got %v", err)
	}
}

func TestSplitCommand(t *testing.T) {
	got := SplitCommand("  python   main.py --verbose ")
	if strings.Join(got, "|") != "python|main.py|--verbose" {
		t.Fatalf("unexpected split %v", got)
	}
	if len(SplitCommand("   ")) != 0 {
		t.Fatalf("expected empty split")
	}
}
