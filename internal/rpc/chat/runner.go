package chat

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/animus-coder/codevet/internal/agent"
	"github.com/animus-coder/codevet/internal/pipeline"
	"github.com/animus-coder/codevet/internal/proposal"
	"github.com/animus-coder/codevet/internal/rpc"
)

// Runner executes a chat turn and yields streamed events. The channel is closed when the turn ends.
type Runner interface {
	Run(ctx context.Context, req rpc.ChatRequest) (<-chan rpc.ChatEvent, error)
}

// AssistantRunner bridges the assistant, the pipeline and the proposal ledger to chat events.
type AssistantRunner struct {
	Agent    *agent.Agent
	Pipeline *pipeline.Pipeline
	Ledger   *proposal.Ledger
	// Reader decides between create and modify for file proposals.
	Reader      proposal.Reader
	AutoAnalyze bool
	Logger      *zap.Logger
}

// Run streams tokens, then the full message, budget report, fragments, verdicts and proposals.
func (r *AssistantRunner) Run(ctx context.Context, req rpc.ChatRequest) (<-chan rpc.ChatEvent, error) {
	if r.Agent == nil {
		return nil, errors.New("assistant unavailable")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("prompt is required")
	}

	out := make(chan rpc.ChatEvent, 16)
	go func() {
		defer close(out)
		e := emitter{ctx: ctx, out: out, session: req.SessionID, corr: req.CorrelationID}

		resp, err := r.Agent.Stream(ctx, agent.Request{
			Model:      req.Model,
			Mode:       req.Mode,
			Prompt:     req.Prompt,
			Attachment: req.Attachment,
			ChunkIndex: req.ChunkIndex,
		}, func(tok string) {
			e.send(rpc.ChatEvent{Type: rpc.EventToken, Token: tok})
		})
		if err != nil {
			r.logger().Warn("chat turn failed", zap.String("session_id", req.SessionID), zap.Error(err))
			e.send(rpc.ChatEvent{Type: rpc.EventError, Error: err.Error()})
			return
		}

		e.send(rpc.ChatEvent{Type: rpc.EventMessage, Message: resp.Message.Content, FinishReason: resp.FinishReason, Mode: string(resp.Mode)})
		budget := resp.Budget
		e.send(rpc.ChatEvent{Type: rpc.EventBudget, Budget: &budget, Excerpt: resp.Excerpt})

		for i := range resp.Fragments {
			frag := resp.Fragments[i]
			e.send(rpc.ChatEvent{Type: rpc.EventFragment, Fragment: &frag})
		}

		analyze := r.AutoAnalyze
		if req.Analyze != nil {
			analyze = *req.Analyze
		}
		if analyze && r.Pipeline != nil {
			for _, frag := range resp.Fragments {
				report, err := r.Pipeline.Analyze(ctx, frag)
				if err != nil {
					e.send(rpc.ChatEvent{Type: rpc.EventError, Error: err.Error()})
					return
				}
				e.send(rpc.ChatEvent{Type: rpc.EventVerdict, Report: &report})
			}
		}

		if r.Ledger != nil {
			created, conflicts, err := pipeline.Propose(r.Ledger, r.Reader, resp.Fragments)
			for i := range created {
				p := created[i]
				e.send(rpc.ChatEvent{Type: rpc.EventProposal, Proposal: &p})
			}
			for _, c := range conflicts {
				superseded := c.Superseded
				e.send(rpc.ChatEvent{Type: rpc.EventProposal, Proposal: &superseded, Message: c.Error()})
			}
			if err != nil {
				e.send(rpc.ChatEvent{Type: rpc.EventError, Error: err.Error()})
				return
			}
		}

		e.send(rpc.ChatEvent{Type: rpc.EventDone, Done: true, FinishReason: resp.FinishReason})
	}()
	return out, nil
}

func (r *AssistantRunner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// EchoRunner is a fallback runner that echoes prompt words.
type EchoRunner struct{}

func (EchoRunner) Run(ctx context.Context, req rpc.ChatRequest) (<-chan rpc.ChatEvent, error) {
	out := make(chan rpc.ChatEvent, 16)
	go func() {
		defer close(out)
		e := emitter{ctx: ctx, out: out, session: req.SessionID, corr: req.CorrelationID}
		e.send(rpc.ChatEvent{Type: rpc.EventMessage, Message: "session started"})
		for _, w := range strings.Fields(req.Prompt) {
			e.send(rpc.ChatEvent{Type: rpc.EventToken, Token: w})
		}
		e.send(rpc.ChatEvent{Type: rpc.EventDone, Done: true, FinishReason: "eos"})
	}()
	return out, nil
}

// emitter stamps session identifiers and stops sending once the context is done.
type emitter struct {
	ctx     context.Context
	out     chan<- rpc.ChatEvent
	session string
	corr    string
}

func (e emitter) send(ev rpc.ChatEvent) bool {
	ev.SessionID = e.session
	ev.CorrelationID = e.corr
	select {
	case e.out <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}
