// Package budget selects the conversation turns and file excerpt that fit a model payload.
package budget

import (
	"unicode/utf8"
)

// Roles understood by the budgeter.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Markers that delimit the file excerpt inside the system message.
const (
	ContextStart = "--- FILE CONTEXT START ---"
	ContextEnd   = "--- FILE CONTEXT END ---"
)

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Budget bounds a payload. A zero limit disables that bound.
type Budget struct {
	MaxMessages   int `json:"max_messages"`
	MaxFileChars  int `json:"max_file_chars"`
	MaxTotalChars int `json:"max_total_chars"`
}

// Payload is what Build selected. Messages keeps the pinned system message first.
type Payload struct {
	Messages         []Message `json:"messages"`
	Excerpt          string    `json:"excerpt,omitempty"`
	ExcerptTruncated bool      `json:"excerpt_truncated"`
	// Dropped counts turns removed to fit MaxTotalChars, on top of the MaxMessages window.
	Dropped int `json:"dropped"`
	// Overflow is set when the payload still exceeds MaxTotalChars after every droppable turn is gone.
	Overflow   bool `json:"overflow"`
	TotalChars int  `json:"total_chars"`
}

// Build applies b to history and excerpt. Character counts are in runes and include the
// pinned system message. It never performs I/O.
func Build(history []Message, excerpt string, b Budget) Payload {
	var pinned *Message
	rest := history
	if len(history) > 0 && history[0].Role == RoleSystem {
		pinned = &history[0]
		rest = history[1:]
	}

	if b.MaxMessages > 0 && len(rest) > b.MaxMessages {
		rest = rest[len(rest)-b.MaxMessages:]
	}
	selected := append([]Message(nil), rest...)

	var p Payload
	p.Excerpt, p.ExcerptTruncated = truncateRunes(excerpt, b.MaxFileChars)

	fixed := utf8.RuneCountInString(p.Excerpt)
	if pinned != nil {
		fixed += utf8.RuneCountInString(pinned.Content)
	}
	total := fixed
	for _, m := range selected {
		total += utf8.RuneCountInString(m.Content)
	}

	if b.MaxTotalChars > 0 {
		keep := newestUserTurn(selected)
		for total > b.MaxTotalChars {
			idx := oldestDroppable(selected, keep)
			if idx < 0 {
				p.Overflow = true
				break
			}
			total -= utf8.RuneCountInString(selected[idx].Content)
			selected = append(selected[:idx], selected[idx+1:]...)
			if keep > idx {
				keep--
			}
			p.Dropped++
		}
	}

	if pinned != nil {
		p.Messages = append([]Message{*pinned}, selected...)
	} else {
		p.Messages = selected
	}
	p.TotalChars = total
	return p
}

// Compose returns the messages to send, with the excerpt merged into the system message.
// A system message is added when the history has none.
func (p Payload) Compose() []Message {
	out := append([]Message(nil), p.Messages...)
	if p.Excerpt == "" {
		return out
	}
	block := ContextStart + "\n" + p.Excerpt + "\n" + ContextEnd
	if len(out) > 0 && out[0].Role == RoleSystem {
		out[0].Content = out[0].Content + "\n\n" + block
		return out
	}
	return append([]Message{{Role: RoleSystem, Content: block}}, out...)
}

func truncateRunes(s string, limit int) (string, bool) {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	runes := 0
	for i := range s {
		if runes == limit {
			return s[:i], true
		}
		runes++
	}
	return s, false
}

func newestUserTurn(msgs []Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return i
		}
	}
	return -1
}

func oldestDroppable(msgs []Message, keep int) int {
	for i := range msgs {
		if i != keep {
			return i
		}
	}
	return -1
}
