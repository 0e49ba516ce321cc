// Package health folds tool results for one fragment into a scored verdict.
package health

import (
	"fmt"
)

// Severity ranks a finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

func (s Severity) rank() int {
	switch s {
	case SeverityError:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

// Codes for findings the scorer synthesizes itself.
const (
	CodeTimedOut        = "ToolTimedOut"
	CodeFailedToStart   = "ToolFailedToStart"
	CodeOutputTruncated = "ToolOutputTruncated"
	CodeToolFailed      = "ToolFailed"
	CodeFormatDiff      = "FormatDiff"
	CodeRunFailed       = "RunFailed"
)

// Finding is a single diagnostic.
type Finding struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Source   string   `json:"source"`
	Code     string   `json:"code,omitempty"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
}

// Verdict is the derived health of one fragment.
type Verdict struct {
	Score    int       `json:"score"`
	Grade    string    `json:"grade"`
	Summary  string    `json:"summary"`
	Findings []Finding `json:"findings"`
}

// Counts returns the number of findings per severity.
func (v Verdict) Counts() (errors, warnings, infos int) {
	for _, f := range v.Findings {
		switch f.Severity {
		case SeverityError:
			errors++
		case SeverityWarning:
			warnings++
		default:
			infos++
		}
	}
	return errors, warnings, infos
}

// Grade maps a score to a letter.
func Grade(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

func summarize(v Verdict) string {
	e, w, i := v.Counts()
	return fmt.Sprintf("Score %d/100 (%s): %d %s, %d %s, %d info",
		v.Score, v.Grade, e, plural(e, "error", "errors"), w, plural(w, "warning", "warnings"), i)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
