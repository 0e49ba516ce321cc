package health

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/animus-coder/codevet/internal/config"
	"github.com/animus-coder/codevet/internal/extract"
	"github.com/animus-coder/codevet/internal/tools"
)

const (
	DefaultErrorPenalty   = 15
	DefaultWarningPenalty = 5
)

// Parser turns the output of one tool kind into findings, in output order.
type Parser interface {
	Parse(frag extract.Fragment, res tools.Result) []Finding
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(frag extract.Fragment, res tools.Result) []Finding

func (f ParserFunc) Parse(frag extract.Fragment, res tools.Result) []Finding { return f(frag, res) }

// Parsers maps each tool kind to its parser.
type Parsers map[tools.Kind]Parser

// DefaultParsers understands ruff JSON, mypy text, formatter rewrites and run exit status.
func DefaultParsers() Parsers {
	return Parsers{
		tools.KindFormat:    ParserFunc(parseFormat),
		tools.KindLint:      ParserFunc(parseLint),
		tools.KindTypecheck: ParserFunc(parseTypecheck),
		tools.KindRun:       ParserFunc(parseRun),
	}
}

// Scorer computes verdicts. It holds no mutable state.
type Scorer struct {
	ErrorPenalty   int
	WarningPenalty int
	Parsers        Parsers
}

// NewScorer builds a scorer from health config with the default parsers.
func NewScorer(cfg config.HealthConfig) *Scorer {
	return &Scorer{
		ErrorPenalty:   cfg.ErrorPenalty,
		WarningPenalty: cfg.WarningPenalty,
		Parsers:        DefaultParsers(),
	}
}

// Score folds results into a verdict. The same inputs always produce the same verdict.
func (s *Scorer) Score(frag extract.Fragment, results []tools.Result) Verdict {
	ordered := append([]tools.Result(nil), results...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Kind.Order() < ordered[j].Kind.Order()
	})

	findings := make([]Finding, 0)
	for _, res := range ordered {
		findings = append(findings, s.findingsFor(frag, res)...)
	}
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Severity.rank() < findings[j].Severity.rank()
	})

	score := 100
	for _, f := range findings {
		switch f.Severity {
		case SeverityError:
			score -= s.ErrorPenalty
		case SeverityWarning:
			score -= s.WarningPenalty
		}
	}
	if score < 0 {
		score = 0
	}

	v := Verdict{Score: score, Grade: Grade(score), Findings: findings}
	v.Summary = summarize(v)
	return v
}

func (s *Scorer) findingsFor(frag extract.Fragment, res tools.Result) []Finding {
	source := toolName(res)
	var out []Finding
	switch res.Outcome {
	case tools.OutcomeTimedOut:
		out = append(out, Finding{
			Severity: SeverityError,
			Source:   source,
			Code:     CodeTimedOut,
			Message:  fmt.Sprintf("%s %s did not finish: %s", res.Kind, source, res.Error),
		})
	case tools.OutcomeFailedToStart:
		out = append(out, Finding{
			Severity: SeverityError,
			Source:   source,
			Code:     CodeFailedToStart,
			Message:  fmt.Sprintf("%s %s could not start: %s", res.Kind, source, res.Error),
		})
	default:
		if p, ok := s.Parsers[res.Kind]; ok && p != nil {
			for _, f := range p.Parse(frag, res) {
				if f.Source == "" {
					f.Source = source
				}
				out = append(out, f)
			}
		}
	}
	if res.Truncated() {
		out = append(out, Finding{
			Severity: SeverityWarning,
			Source:   source,
			Code:     CodeOutputTruncated,
			Message:  fmt.Sprintf("%s output exceeded the capture limit; findings may be incomplete", source),
		})
	}
	return out
}

func toolName(res tools.Result) string {
	if len(res.Command) > 0 && res.Command[0] != "" {
		return filepath.Base(res.Command[0])
	}
	return string(res.Kind)
}
