package health

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/animus-coder/codevet/internal/extract"
	"github.com/animus-coder/codevet/internal/textdiff"
	"github.com/animus-coder/codevet/internal/tools"
)

// ruffDiagnostic is one entry of `ruff check --output-format json`.
type ruffDiagnostic struct {
	Code     *string `json:"code"`
	Message  string  `json:"message"`
	Location struct {
		Row    int `json:"row"`
		Column int `json:"column"`
	} `json:"location"`
}

// Rule prefixes ruff treats as correctness errors rather than style.
var lintErrorPrefixes = []string{"E9", "F63", "F7", "F82"}

var (
	lintLineRe = regexp.MustCompile(`^[^:\n]+:(\d+):(\d+):\s+([A-Z]+[0-9]+)\s+(.+)$`)
	mypyLineRe = regexp.MustCompile(`^[^:\n]+:(\d+):(?:(\d+):)? (error|note|warning): (.+?)(?:\s+\[([a-z0-9-]+)\])?$`)
	testFailRe = regexp.MustCompile(`(?i)(?:^|\s)(FAILED|FAIL|ERROR):?\s+([A-Za-z0-9_./:\[\]-]+)`)
	testRunRe  = regexp.MustCompile(`(?im)(=+ .*(passed|failed|error).* =+|^--- FAIL|^FAILED |Ran \d+ tests?)`)
)

func parseLint(_ extract.Fragment, res tools.Result) []Finding {
	out := strings.TrimSpace(res.Stdout)
	var findings []Finding
	var diags []ruffDiagnostic
	if strings.HasPrefix(out, "[") && json.Unmarshal([]byte(out), &diags) == nil {
		for _, d := range diags {
			code := ""
			if d.Code != nil {
				code = *d.Code
			}
			findings = append(findings, Finding{
				Severity: lintSeverity(code, d.Message),
				Message:  d.Message,
				Code:     code,
				Line:     d.Location.Row,
				Column:   d.Location.Column,
			})
		}
	} else {
		for _, line := range strings.Split(res.Stdout, "\n") {
			m := lintLineRe.FindStringSubmatch(strings.TrimSpace(line))
			if m == nil {
				continue
			}
			findings = append(findings, Finding{
				Severity: lintSeverity(m[3], m[4]),
				Message:  m[4],
				Code:     m[3],
				Line:     atoi(m[1]),
				Column:   atoi(m[2]),
			})
		}
	}
	if len(findings) == 0 && res.ExitCode != nil && *res.ExitCode > 1 {
		findings = append(findings, toolFailure(res))
	}
	return findings
}

func lintSeverity(code, message string) Severity {
	if code == "" || strings.HasPrefix(message, "SyntaxError") {
		return SeverityError
	}
	for _, prefix := range lintErrorPrefixes {
		if strings.HasPrefix(code, prefix) {
			return SeverityError
		}
	}
	return SeverityWarning
}

func parseTypecheck(_ extract.Fragment, res tools.Result) []Finding {
	var findings []Finding
	for _, line := range strings.Split(res.Stdout, "\n") {
		m := mypyLineRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		sev := SeverityInfo
		switch m[3] {
		case "error":
			sev = SeverityError
		case "warning":
			sev = SeverityWarning
		}
		findings = append(findings, Finding{
			Severity: sev,
			Message:  m[4],
			Code:     m[5],
			Line:     atoi(m[1]),
			Column:   atoi(m[2]),
		})
	}
	if len(findings) == 0 && res.ExitCode != nil && *res.ExitCode > 1 {
		findings = append(findings, toolFailure(res))
	}
	return findings
}

func parseFormat(frag extract.Fragment, res tools.Result) []Finding {
	if res.ExitCode != nil && *res.ExitCode != 0 {
		return []Finding{toolFailure(res)}
	}
	if res.Rewritten == "" || res.Rewritten == frag.Body {
		return nil
	}
	added, removed := textdiff.Changed(textdiff.Lines(frag.Body, res.Rewritten))
	changed := added
	if removed > changed {
		changed = removed
	}
	return []Finding{{
		Severity: SeverityWarning,
		Code:     CodeFormatDiff,
		Message:  fmt.Sprintf("formatter would change %d %s", changed, plural(changed, "line", "lines")),
	}}
}

func parseRun(_ extract.Fragment, res tools.Result) []Finding {
	if res.ExitCode == nil || *res.ExitCode == 0 {
		return nil
	}
	msg := fmt.Sprintf("exited with status %d", *res.ExitCode)
	combined := res.Stdout + "\n" + res.Stderr
	if testRunRe.MatchString(combined) {
		if failing := failingTests(combined); len(failing) > 0 {
			msg += "; failing tests: " + strings.Join(failing, ", ")
		}
	} else if first := firstLine(res.Stderr); first != "" {
		msg += ": " + first
	}
	return []Finding{{Severity: SeverityError, Code: CodeRunFailed, Message: msg}}
}

// failingTests extracts failing test names from pytest, unittest or go test output.
func failingTests(output string) []string {
	names := make([]string, 0, 8)
	for _, line := range strings.Split(output, "\n") {
		m := testFailRe.FindStringSubmatch(line)
		if len(m) >= 3 {
			names = append(names, strings.TrimSpace(m[2]))
		}
	}
	return unique(names)
}

func unique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func toolFailure(res tools.Result) Finding {
	msg := fmt.Sprintf("exited with status %d", *res.ExitCode)
	if first := firstLine(res.Stderr); first != "" {
		msg += ": " + first
	}
	return Finding{Severity: SeverityError, Code: CodeToolFailed, Message: msg}
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return ""
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
