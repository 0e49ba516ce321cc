package agent

import (
	"github.com/animus-coder/codevet/internal/budget"
	"github.com/animus-coder/codevet/internal/extract"
	"github.com/animus-coder/codevet/internal/llm"
)

// Attachment is a file the user attached to a turn.
type Attachment struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Request is a single assistant turn.
type Request struct {
	Model      string      `json:"model,omitempty"`
	Mode       string      `json:"mode,omitempty"`
	Prompt     string      `json:"prompt"`
	Attachment *Attachment `json:"attachment,omitempty"`
	// ChunkIndex picks the attachment chunk sent as excerpt. Nil selects the most relevant one.
	ChunkIndex *int `json:"chunk_index,omitempty"`
}

// Excerpt describes which part of the attachment was sent.
type Excerpt struct {
	Name       string `json:"name"`
	ChunkIndex int    `json:"chunk_index"`
	ChunkCount int    `json:"chunk_count"`
	Truncated  bool   `json:"truncated"`
}

// BudgetReport summarizes what the budgeter did to the payload.
type BudgetReport struct {
	Messages   int  `json:"messages"`
	Dropped    int  `json:"dropped"`
	Overflow   bool `json:"overflow"`
	TotalChars int  `json:"total_chars"`
}

// Response wraps the model response and route metadata.
type Response struct {
	Message      llm.ChatMessage    `json:"message"`
	Route        llm.ModelRoute     `json:"route"`
	Mode         Mode               `json:"mode"`
	FinishReason string             `json:"finish_reason,omitempty"`
	Fragments    []extract.Fragment `json:"fragments,omitempty"`
	Budget       BudgetReport       `json:"budget"`
	Excerpt      *Excerpt           `json:"excerpt,omitempty"`
}

func reportOf(p budget.Payload) BudgetReport {
	return BudgetReport{
		Messages:   len(p.Messages),
		Dropped:    p.Dropped,
		Overflow:   p.Overflow,
		TotalChars: p.TotalChars,
	}
}
