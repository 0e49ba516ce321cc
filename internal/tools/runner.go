package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Kind identifies what a tool invocation does with a fragment.
type Kind string

const (
	KindFormat    Kind = "format"
	KindLint      Kind = "lint"
	KindTypecheck Kind = "typecheck"
	KindRun       Kind = "run"
)

// Kinds lists every kind in reporting order.
var Kinds = []Kind{KindFormat, KindLint, KindTypecheck, KindRun}

// Order returns the reporting position of the kind.
func (k Kind) Order() int {
	for i, kind := range Kinds {
		if kind == k {
			return i
		}
	}
	return len(Kinds)
}

// Static reports whether the kind analyses a snippet file rather than running a command.
func (k Kind) Static() bool {
	return k == KindFormat || k == KindLint || k == KindTypecheck
}

// ParseKind converts a config or request value to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if k.Order() == len(Kinds) {
		return "", fmt.Errorf("unknown tool kind %q", s)
	}
	return k, nil
}

// Outcome classifies how an invocation ended. Exactly one applies to every Result.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeIssues        Outcome = "tool_reported_issues"
	OutcomeTimedOut      Outcome = "timed_out"
	OutcomeFailedToStart Outcome = "failed_to_start"
)

// FilePlaceholder is replaced with the snippet path in static tool commands.
const FilePlaceholder = "{file}"

const (
	defaultTimeout   = 30 * time.Second
	defaultGrace     = 500 * time.Millisecond
	defaultOutputCap = 64 * 1024
	defaultFileExt   = ".py"
)

// InvocationSpec describes a single tool invocation.
type InvocationSpec struct {
	Kind    Kind          `json:"kind"`
	Command []string      `json:"command"`
	WorkDir string        `json:"work_dir,omitempty"`
	Timeout time.Duration `json:"timeout"`
	FileExt string        `json:"file_ext,omitempty"`
}

// Result is the immutable record of one invocation.
type Result struct {
	Kind            Kind          `json:"kind"`
	Command         []string      `json:"command"`
	ExitCode        *int          `json:"exit_code"`
	Stdout          string        `json:"stdout"`
	Stderr          string        `json:"stderr"`
	StdoutTruncated bool          `json:"stdout_truncated"`
	StderrTruncated bool          `json:"stderr_truncated"`
	Duration        time.Duration `json:"duration"`
	Outcome         Outcome       `json:"outcome"`
	Rewritten       string        `json:"rewritten,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// Truncated reports whether either stream lost output to the cap.
func (r Result) Truncated() bool {
	return r.StdoutTruncated || r.StderrTruncated
}

// Runner executes tool invocations as bounded subprocesses. A Runner holds no
// per-invocation state and is safe for concurrent use.
type Runner struct {
	// OutputCap bounds each captured stream in bytes.
	OutputCap int
	// Grace is how long a process may take to exit after SIGTERM before it is killed.
	Grace time.Duration
	// TempDir is the parent for per-invocation snippet directories (os.TempDir when empty).
	TempDir string
	// Policy gates run-kind commands. Nil allows everything.
	Policy *CommandPolicy
	Logger *zap.Logger
}

// Run executes spec against source and always returns a Result.
func (r *Runner) Run(ctx context.Context, spec InvocationSpec, source string) Result {
	res := Result{Kind: spec.Kind, Command: append([]string(nil), spec.Command...)}
	if err := ValidateSpec(spec); err != nil {
		return r.failed(res, err)
	}

	argv := append([]string(nil), spec.Command...)
	dir := spec.WorkDir
	var snippet string

	if spec.Kind.Static() {
		tmp, err := os.MkdirTemp(r.TempDir, "codevet-*")
		if err != nil {
			return r.failed(res, fmt.Errorf("create temp dir: %w", err))
		}
		defer os.RemoveAll(tmp)

		ext := spec.FileExt
		if ext == "" {
			ext = defaultFileExt
		}
		snippet = filepath.Join(tmp, "snippet"+ext)
		if err := os.WriteFile(snippet, []byte(source), 0o600); err != nil {
			return r.failed(res, fmt.Errorf("write snippet: %w", err))
		}
		argv = substituteFile(argv, snippet)
		if dir == "" {
			dir = tmp
		}
	} else if r.Policy != nil {
		if err := r.Policy.Check(argv); err != nil {
			return r.failed(res, err)
		}
	}
	res.Command = argv

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	grace := r.Grace
	if grace <= 0 {
		grace = defaultGrace
	}
	limit := r.OutputCap
	if limit <= 0 {
		limit = defaultOutputCap
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	setProcGroup(cmd)
	var stopped atomic.Bool
	cmd.Cancel = func() error {
		err := terminateProcGroup(cmd)
		if err == nil {
			stopped.Store(true)
		}
		return err
	}
	cmd.WaitDelay = grace

	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := &limitedWriter{w: &stdoutBuf, max: int64(limit)}
	stderr := &limitedWriter{w: &stderrBuf, max: int64(limit)}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		res.Duration = time.Since(start)
		return r.failed(res, fmt.Errorf("start %s: %w", argv[0], err))
	}
	waitErr := cmd.Wait()
	killProcGroup(cmd)
	res.Duration = time.Since(start)

	res.Stdout, res.StdoutTruncated = stdout.finish(stdoutBuf.String())
	res.Stderr, res.StderrTruncated = stderr.finish(stderrBuf.String())

	var stopReason string
	if stopped.Load() {
		stopReason = runCtx.Err().Error()
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			stopReason = fmt.Sprintf("timed out after %s", timeout)
		}
	}
	classify(&res, stopReason, cmd.ProcessState, waitErr)

	if spec.Kind == KindFormat && res.ExitCode != nil {
		if data, err := os.ReadFile(snippet); err == nil {
			res.Rewritten = string(data)
		}
	}

	r.logger().Debug("tool finished",
		zap.String("kind", string(res.Kind)),
		zap.String("command", argv[0]),
		zap.String("outcome", string(res.Outcome)),
		zap.Duration("duration", res.Duration),
		zap.Bool("truncated", res.Truncated()),
	)
	return res
}

// classify sets the outcome of a finished process. Only a process the context stopped counts
// as timed out; one that exited first keeps its exit status.
func classify(res *Result, stopReason string, state *os.ProcessState, waitErr error) {
	switch {
	case stopReason != "":
		res.Outcome = OutcomeTimedOut
		res.Error = stopReason
	case state != nil:
		code := state.ExitCode()
		res.ExitCode = &code
		if code == 0 {
			res.Outcome = OutcomeSuccess
		} else {
			res.Outcome = OutcomeIssues
		}
		if waitErr != nil && !isExitError(waitErr) {
			res.Error = waitErr.Error()
		}
	default:
		res.Outcome = OutcomeFailedToStart
		if waitErr != nil {
			res.Error = waitErr.Error()
		}
	}
}

func (r *Runner) failed(res Result, err error) Result {
	res.Outcome = OutcomeFailedToStart
	res.Error = err.Error()
	r.logger().Debug("tool failed to start",
		zap.String("kind", string(res.Kind)),
		zap.Strings("command", res.Command),
		zap.Error(err),
	)
	return res
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

// substituteFile replaces every {file} placeholder with path, appending path when none is present.
func substituteFile(argv []string, path string) []string {
	replaced := false
	for i, arg := range argv {
		if strings.Contains(arg, FilePlaceholder) {
			argv[i] = strings.ReplaceAll(arg, FilePlaceholder, path)
			replaced = true
		}
	}
	if !replaced {
		argv = append(argv, path)
	}
	return argv
}

// SplitCommand tokenizes a run command on whitespace. Quoting is not interpreted.
func SplitCommand(command string) []string {
	return strings.Fields(command)
}

// limitedWriter keeps at most max bytes and counts the rest.
type limitedWriter struct {
	w         *bytes.Buffer
	max       int64
	written   int64
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.written >= lw.max {
		lw.discarded += int64(n)
		return n, nil
	}
	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.discarded += int64(n) - remaining
		p = p[:remaining]
	}
	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return n, err
}

// finish appends the truncation marker when bytes were dropped.
func (lw *limitedWriter) finish(captured string) (string, bool) {
	if lw.discarded == 0 {
		return captured, false
	}
	if captured != "" && !strings.HasSuffix(captured, "\n") {
		captured += "\n"
	}
	return captured + fmt.Sprintf("[output truncated: %d bytes dropped]", lw.discarded), true
}
