// Package extract pulls fenced code fragments and their run and file markers out of assistant text.
package extract

import (
	"bytes"
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Fragment is one fenced code block. It is never modified after Extract returns it.
type Fragment struct {
	Language   string  `json:"language"`
	Body       string  `json:"body"`
	RunCommand *string `json:"run_command,omitempty"`
	TargetPath string  `json:"target_path,omitempty"`
	Index      int     `json:"index"`
}

// HasRunCommand reports whether an explicit run marker attached to the fragment.
func (f Fragment) HasRunCommand() bool {
	return f.RunCommand != nil
}

// LanguageIs compares the language tag case-insensitively.
func (f Fragment) LanguageIs(lang string) bool {
	return strings.EqualFold(f.Language, lang)
}

var (
	runTagRe     = regexp.MustCompile(`(?s)<run_command>(.*?)</run_command>`)
	runLineTagRe = regexp.MustCompile(`^\s*<run_command>(.*?)</run_command>\s*$`)
	runInlineRe  = regexp.MustCompile(`^\s*(?:#|//|--)\s*run_command:\s*(.*?)\s*$`)
	writeFileRe  = regexp.MustCompile(`^\s*<write_file\s+path\s*=\s*["']([^"']+)["']\s*/?>\s*$`)
	// A tag alone on a line would open an HTML block and swallow the fence below it.
	writeFileLineRe = regexp.MustCompile(`(?m)^[ \t]*</?write_file\b[^\n]*>[ \t]*$`)
)

var parser = goldmark.New().Parser()

type block struct {
	frag  Fragment
	start int
	end   int
	// marker holds the first run command found inside the body.
	marker *string
}

type markerEvent struct {
	offset int
	target int
	cmd    string
}

// Extract returns the closed fenced code blocks in text, in document order.
// Text without fences yields nil.
func Extract(input string) []Fragment {
	src := []byte(input)
	doc := parser.Parse(text.NewReader(maskWriteFileTags(src)))

	var blocks []block
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fcb, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		if b, ok := buildBlock(fcb, src); ok {
			blocks = append(blocks, b)
		}
		return ast.WalkSkipChildren, nil
	})
	if len(blocks) == 0 {
		return nil
	}

	var events []markerEvent
	for i := range blocks {
		if blocks[i].marker != nil {
			events = append(events, markerEvent{offset: blocks[i].start, target: i, cmd: *blocks[i].marker})
		}
	}
	for _, loc := range runTagRe.FindAllSubmatchIndex(src, -1) {
		if insideBlock(blocks, loc[0]) {
			continue
		}
		cmd := strings.TrimSpace(string(src[loc[2]:loc[3]]))
		if cmd == "" {
			continue
		}
		events = append(events, markerEvent{offset: loc[0], target: precedingBlock(blocks, loc[0]), cmd: cmd})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].offset < events[j].offset })
	for _, ev := range events {
		if blocks[ev.target].frag.RunCommand == nil {
			cmd := ev.cmd
			blocks[ev.target].frag.RunCommand = &cmd
		}
	}

	out := make([]Fragment, len(blocks))
	for i, b := range blocks {
		b.frag.Index = i
		out[i] = b.frag
	}
	return out
}

// RunCommandOf returns the first tag-form run marker anywhere in the message.
func RunCommandOf(input string) (string, bool) {
	for _, m := range runTagRe.FindAllStringSubmatch(input, -1) {
		if cmd := strings.TrimSpace(m[1]); cmd != "" {
			return cmd, true
		}
	}
	return "", false
}

func buildBlock(n *ast.FencedCodeBlock, src []byte) (block, bool) {
	lines := n.Lines()
	var openerPos int
	switch {
	case lines.Len() > 0:
		openerPos = previousLineStart(src, lines.At(0).Start)
	case n.Info != nil:
		openerPos = lineStart(src, n.Info.Segment.Start)
	default:
		return block{}, false
	}
	openerEnd := lineEnd(src, openerPos)
	fenceChar, fenceLen := fenceRun(src[openerPos:openerEnd])
	if fenceLen < 3 {
		return block{}, false
	}

	// The line after the last content line must be a closing fence; goldmark
	// otherwise runs an unclosed fence to the end of its container.
	closerPos := openerEnd + 1
	if lines.Len() > 0 {
		closerPos = lineEnd(src, lines.At(lines.Len()-1).Start) + 1
	}
	if closerPos >= len(src) {
		return block{}, false
	}
	closerEnd := lineEnd(src, closerPos)
	if !isClosingFence(src[closerPos:closerEnd], fenceChar, fenceLen) {
		return block{}, false
	}

	var body bytes.Buffer
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		body.Write(seg.Value(src))
	}

	info := ""
	if n.Info != nil {
		info = string(n.Info.Segment.Value(src))
	}

	b := block{start: openerPos, end: closerEnd}
	b.frag.Language = string(n.Language(src))
	b.frag.Body, b.marker = stripBodyMarkers(body.String())
	b.frag.TargetPath = infoPath(info)
	if b.frag.TargetPath == "" {
		b.frag.TargetPath = writeFileTag(src, openerPos)
	}
	return b, true
}

// stripBodyMarkers removes whole-line run markers from a body and returns the first command
// found. A tag that shares its line with code is code and stays untouched.
func stripBodyMarkers(body string) (string, *string) {
	var first *string
	lines := strings.SplitAfter(body, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line == "" {
			continue
		}
		cmd, ok := lineMarker(strings.TrimRight(line, "\r\n"))
		if !ok {
			kept = append(kept, line)
			continue
		}
		if cmd = strings.TrimSpace(cmd); first == nil && cmd != "" {
			first = &cmd
		}
	}
	return strings.Join(kept, ""), first
}

// lineMarker reports whether the line is a run marker and nothing else.
func lineMarker(line string) (string, bool) {
	if m := runLineTagRe.FindStringSubmatch(line); m != nil {
		return m[1], true
	}
	if m := runInlineRe.FindStringSubmatch(line); m != nil && !strings.Contains(line, "<run_command>") {
		return m[1], true
	}
	return "", false
}

// infoPath reads a file= or path= attribute from the info string.
func infoPath(info string) string {
	fields := strings.Fields(strings.NewReplacer("{", " ", "}", " ", ",", " ").Replace(info))
	for _, f := range fields {
		key, val, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(key) {
		case "file", "path":
			if p := strings.Trim(val, `"'`); p != "" {
				return p
			}
		}
	}
	return ""
}

// writeFileTag checks the prose line right before the opening fence.
func writeFileTag(src []byte, openerPos int) string {
	if openerPos == 0 {
		return ""
	}
	prevStart := previousLineStart(src, openerPos)
	line := strings.TrimRight(string(src[prevStart:openerPos]), "\r\n")
	if m := writeFileRe.FindStringSubmatch(line); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// maskWriteFileTags blanks write_file tag lines without moving any offsets.
func maskWriteFileTags(src []byte) []byte {
	locs := writeFileLineRe.FindAllIndex(src, -1)
	if len(locs) == 0 {
		return src
	}
	masked := append([]byte(nil), src...)
	for _, loc := range locs {
		for i := loc[0]; i < loc[1]; i++ {
			if masked[i] != '\r' {
				masked[i] = ' '
			}
		}
	}
	return masked
}

func insideBlock(blocks []block, offset int) bool {
	for _, b := range blocks {
		if offset >= b.start && offset < b.end {
			return true
		}
	}
	return false
}

// precedingBlock returns the last block that ends before offset, or the first block.
func precedingBlock(blocks []block, offset int) int {
	target := 0
	for i, b := range blocks {
		if b.end <= offset {
			target = i
		}
	}
	return target
}

func fenceRun(line []byte) (byte, int) {
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c != '`' && c != '~' {
			continue
		}
		j := i
		for j < len(line) && line[j] == c {
			j++
		}
		if j-i >= 3 {
			return c, j - i
		}
		i = j - 1
	}
	return 0, 0
}

func isClosingFence(line []byte, c byte, minLen int) bool {
	s := strings.TrimRight(string(line), "\r")
	s = strings.TrimLeft(s, " \t>")
	n := 0
	for n < len(s) && s[n] == c {
		n++
	}
	return n >= minLen && strings.TrimSpace(s[n:]) == ""
}

func lineStart(src []byte, pos int) int {
	if pos > len(src) {
		pos = len(src)
	}
	return bytes.LastIndexByte(src[:pos], '\n') + 1
}

func previousLineStart(src []byte, pos int) int {
	start := lineStart(src, pos)
	if start == 0 {
		return 0
	}
	return lineStart(src, start-1)
}

func lineEnd(src []byte, pos int) int {
	if i := bytes.IndexByte(src[pos:], '\n'); i >= 0 {
		return pos + i
	}
	return len(src)
}
