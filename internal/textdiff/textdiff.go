// Package textdiff produces line-level diffs for proposal previews and formatter findings.
package textdiff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Line kinds.
const (
	Context = "context"
	Added   = "added"
	Removed = "removed"
)

// Line is one line of a diff.
type Line struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	OldLine int    `json:"old_line,omitempty"`
	NewLine int    `json:"new_line,omitempty"`
}

// Lines diffs before and after line by line.
func Lines(before, after string) []Line {
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(beforeChars, afterChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var lines []Line
	oldLine, newLine := 1, 1
	for _, d := range diffs {
		chunk := strings.Split(d.Text, "\n")
		if len(chunk) > 0 && chunk[len(chunk)-1] == "" {
			chunk = chunk[:len(chunk)-1]
		}
		for _, text := range chunk {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				lines = append(lines, Line{Type: Context, Text: text, OldLine: oldLine, NewLine: newLine})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				lines = append(lines, Line{Type: Removed, Text: text, OldLine: oldLine})
				oldLine++
			case diffmatchpatch.DiffInsert:
				lines = append(lines, Line{Type: Added, Text: text, NewLine: newLine})
				newLine++
			}
		}
	}
	return lines
}

// Changed counts added and removed lines.
func Changed(lines []Line) (added, removed int) {
	for _, l := range lines {
		switch l.Type {
		case Added:
			added++
		case Removed:
			removed++
		}
	}
	return added, removed
}

// Render formats lines with +/- prefixes under a header naming the path.
func Render(path string, lines []Line) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", path, path)
	for _, l := range lines {
		switch l.Type {
		case Added:
			b.WriteString("+")
		case Removed:
			b.WriteString("-")
		default:
			b.WriteString(" ")
		}
		b.WriteString(l.Text)
		b.WriteString("\n")
	}
	return b.String()
}
