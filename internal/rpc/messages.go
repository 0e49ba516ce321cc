package rpc

import (
	"github.com/animus-coder/codevet/internal/agent"
	"github.com/animus-coder/codevet/internal/extract"
	"github.com/animus-coder/codevet/internal/pipeline"
	"github.com/animus-coder/codevet/internal/proposal"
)

// Event types emitted on chat streams.
const (
	EventToken    = "token"
	EventMessage  = "message"
	EventFragment = "fragment"
	EventVerdict  = "verdict"
	EventProposal = "proposal"
	EventBudget   = "budget"
	EventError    = "error"
	EventDone     = "done"
)

// ChatRequest is the top-level request for one assistant turn.
type ChatRequest struct {
	SessionID     string            `json:"session_id"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Model         string            `json:"model,omitempty"`
	Mode          string            `json:"mode,omitempty"`
	Prompt        string            `json:"prompt"`
	Attachment    *agent.Attachment `json:"attachment,omitempty"`
	ChunkIndex    *int              `json:"chunk_index,omitempty"`
	// Analyze runs the pipeline on every extracted fragment. Nil uses the configured default.
	Analyze *bool `json:"analyze,omitempty"`
}

// ChatEvent streams back progress from the daemon.
type ChatEvent struct {
	Type          string              `json:"type"` // token|message|fragment|verdict|proposal|budget|error|done
	SessionID     string              `json:"session_id,omitempty"`
	CorrelationID string              `json:"correlation_id,omitempty"`
	Token         string              `json:"token,omitempty"`
	Message       string              `json:"message,omitempty"`
	Error         string              `json:"error,omitempty"`
	Done          bool                `json:"done,omitempty"`
	FinishReason  string              `json:"finish_reason,omitempty"`
	Mode          string              `json:"mode,omitempty"`
	Fragment      *extract.Fragment   `json:"fragment,omitempty"`
	Report        *pipeline.Report    `json:"report,omitempty"`
	Proposal      *proposal.Proposal  `json:"proposal,omitempty"`
	Budget        *agent.BudgetReport `json:"budget,omitempty"`
	Excerpt       *agent.Excerpt      `json:"excerpt,omitempty"`
}

// ChatStreamRequest is the bidirectional stream payload for Connect RPC.
// The first message must contain the chat turn; later messages can carry control signals.
type ChatStreamRequest struct {
	Chat      *ChatRequest `json:"chat,omitempty"`
	Cancel    bool         `json:"cancel,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
}

// AnalyzeRequest vets either raw assistant text or a single fragment.
type AnalyzeRequest struct {
	Text     string `json:"text,omitempty"`
	Language string `json:"language,omitempty"`
	Body     string `json:"body,omitempty"`
}

// AnalyzeResponse carries one report per fragment.
type AnalyzeResponse struct {
	Reports []pipeline.Report `json:"reports"`
}

// ExecuteRequest runs the run command detected in text.
type ExecuteRequest struct {
	Text string `json:"text"`
}

// ProposalRequest creates a proposal directly.
type ProposalRequest struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Operation string `json:"operation"`
}

// ProposalResponse wraps a proposal and, when one was replaced, the superseded proposal.
type ProposalResponse struct {
	Proposal   proposal.Proposal  `json:"proposal"`
	Superseded *proposal.Proposal `json:"superseded,omitempty"`
}

// DiffResponse is a unified diff preview.
type DiffResponse struct {
	ID   string `json:"id"`
	Diff string `json:"diff"`
}

// ErrorResponse is the JSON error body of REST endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}
