// Package pipeline runs the configured tools over extracted fragments and scores them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/animus-coder/codevet/internal/extract"
	"github.com/animus-coder/codevet/internal/health"
	"github.com/animus-coder/codevet/internal/observability"
	"github.com/animus-coder/codevet/internal/proposal"
	"github.com/animus-coder/codevet/internal/tools"
)

// ErrNoRunCommand is returned by Execute when the text carries no run marker.
var ErrNoRunCommand = errors.New("no run command detected")

// ToolRunner executes one invocation. *tools.Runner satisfies it.
type ToolRunner interface {
	Run(ctx context.Context, spec tools.InvocationSpec, source string) tools.Result
}

// Report is the outcome of vetting one fragment.
type Report struct {
	Fragment extract.Fragment `json:"fragment"`
	Results  []tools.Result   `json:"results"`
	Verdict  health.Verdict   `json:"verdict"`
}

// Pipeline fans tool invocations out per fragment and folds them into a verdict.
type Pipeline struct {
	runner      ToolRunner
	catalog     *tools.Catalog
	scorer      *health.Scorer
	concurrency int
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithConcurrency bounds parallel tool invocations per fragment. Values below 1 mean one at a time.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) { p.concurrency = n }
}

// WithMetrics records tool runs and verdicts.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New builds a pipeline.
func New(runner ToolRunner, catalog *tools.Catalog, scorer *health.Scorer, opts ...Option) *Pipeline {
	p := &Pipeline{
		runner:      runner,
		catalog:     catalog,
		scorer:      scorer,
		concurrency: 1,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	return p
}

// Analyze runs every enabled static tool on frag and scores the results.
func (p *Pipeline) Analyze(ctx context.Context, frag extract.Fragment) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	kinds := p.catalog.Enabled()
	specs := make([]tools.InvocationSpec, 0, len(kinds))
	for _, kind := range kinds {
		spec, err := p.catalog.Spec(kind)
		if err != nil {
			return Report{}, fmt.Errorf("build %s invocation: %w", kind, err)
		}
		specs = append(specs, spec)
	}

	results := make([]tools.Result, len(specs))
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, spec := range specs {
		g.Go(func() error {
			results[i] = p.runner.Run(ctx, spec, frag.Body)
			return nil
		})
	}
	_ = g.Wait()

	return p.report(frag, results), nil
}

// AnalyzeAll analyzes fragments one after another, in order.
func (p *Pipeline) AnalyzeAll(ctx context.Context, frags []extract.Fragment) ([]Report, error) {
	reports := make([]Report, 0, len(frags))
	for _, frag := range frags {
		r, err := p.Analyze(ctx, frag)
		if err != nil {
			return reports, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// Execute runs the run command detected in text. The command comes from the first
// fragment that carries one, then from the first tag marker of a message without fences.
func (p *Pipeline) Execute(ctx context.Context, text string) (Report, error) {
	frags := extract.Extract(text)
	cmd, frag, ok := runTarget(text, frags)
	if !ok {
		return Report{}, ErrNoRunCommand
	}
	return p.ExecuteCommand(ctx, cmd, frag)
}

// ExecuteCommand runs cmd as the run kind and scores it against frag.
func (p *Pipeline) ExecuteCommand(ctx context.Context, cmd string, frag extract.Fragment) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	spec, err := p.catalog.RunSpec(cmd)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrNoRunCommand, err)
	}
	res := p.runner.Run(ctx, spec, "")
	return p.report(frag, []tools.Result{res}), nil
}

func runTarget(text string, frags []extract.Fragment) (string, extract.Fragment, bool) {
	for _, f := range frags {
		if f.HasRunCommand() && *f.RunCommand != "" {
			return *f.RunCommand, f, true
		}
	}
	// Prose tags are already attached to fragments; only fence-free text is scanned.
	if len(frags) > 0 {
		return "", extract.Fragment{}, false
	}
	if cmd, ok := extract.RunCommandOf(text); ok {
		return cmd, extract.Fragment{}, true
	}
	return "", extract.Fragment{}, false
}

func (p *Pipeline) report(frag extract.Fragment, results []tools.Result) Report {
	for _, r := range results {
		p.metrics.RecordToolRun(string(r.Kind), string(r.Outcome), r.Duration)
	}
	v := p.scorer.Score(frag, results)
	p.metrics.RecordVerdict(v.Grade, v.Score)
	p.logger.Info("fragment vetted",
		zap.Int("fragment", frag.Index),
		zap.String("language", frag.Language),
		zap.Int("score", v.Score),
		zap.String("grade", v.Grade),
		zap.Int("findings", len(v.Findings)))
	return Report{Fragment: frag, Results: results, Verdict: v}
}

// Propose creates a proposal for every fragment with a target path. The operation is
// modify when reader already has the file, create otherwise. Superseded proposals are
// reported through the returned conflicts and do not stop the loop.
func Propose(ledger *proposal.Ledger, reader proposal.Reader, frags []extract.Fragment) ([]proposal.Proposal, []*proposal.ConflictError, error) {
	var created []proposal.Proposal
	var conflicts []*proposal.ConflictError
	for _, f := range frags {
		if f.TargetPath == "" {
			continue
		}
		op := proposal.OpCreate
		if reader != nil {
			_, err := reader.ReadFile(f.TargetPath)
			switch {
			case err == nil:
				op = proposal.OpModify
			case errors.Is(err, fs.ErrNotExist):
			default:
				return created, conflicts, fmt.Errorf("inspect %s: %w", f.TargetPath, err)
			}
		}
		p, err := ledger.Create(f.TargetPath, f.Body, op)
		var conflict *proposal.ConflictError
		switch {
		case errors.As(err, &conflict):
			conflicts = append(conflicts, conflict)
		case err != nil:
			return created, conflicts, fmt.Errorf("propose %s: %w", f.TargetPath, err)
		}
		created = append(created, p)
	}
	return created, conflicts, nil
}

// Elapsed sums result durations.
func (r Report) Elapsed() time.Duration {
	var total time.Duration
	for _, res := range r.Results {
		total += res.Duration
	}
	return total
}
