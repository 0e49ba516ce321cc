package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/animus-coder/codevet/internal/budget"
	"github.com/animus-coder/codevet/internal/config"
	"github.com/animus-coder/codevet/internal/extract"
	"github.com/animus-coder/codevet/internal/llm"
	"github.com/animus-coder/codevet/internal/observability"
	"github.com/animus-coder/codevet/internal/semantic"
	"github.com/animus-coder/codevet/internal/storage"
)

// History is the durable conversation store.
type History interface {
	LoadRecentMessages(ctx context.Context, limit int) ([]storage.Message, error)
	SaveMessage(ctx context.Context, role, content string) (storage.Message, error)
}

// Agent assembles budgeted chat turns and records them in history.
type Agent struct {
	registry *llm.Registry
	cfg      config.AssistantConfig
	budget   config.BudgetConfig
	history  History
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// Option customizes an Agent.
type Option func(*Agent)

// WithHistory persists and replays turns through h.
func WithHistory(h History) Option {
	return func(a *Agent) { a.history = h }
}

// WithMetrics records model and budget metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates a new Agent.
func New(registry *llm.Registry, cfg config.AssistantConfig, b config.BudgetConfig, opts ...Option) *Agent {
	a := &Agent{
		registry: registry,
		cfg:      cfg,
		budget:   b,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type turn struct {
	mode     Mode
	provider llm.Provider
	route    llm.ModelRoute
	request  llm.ChatRequest
	payload  budget.Payload
	excerpt  *Excerpt
	prompt   string
	started  time.Time
}

// Run executes a single non-streaming turn.
func (a *Agent) Run(ctx context.Context, req Request) (Response, error) {
	t, err := a.prepare(ctx, req)
	if err != nil {
		return Response{}, err
	}

	resp, err := t.provider.Chat(ctx, t.request)
	if err != nil {
		return Response{}, a.modelFailure(t, err)
	}
	return a.finish(ctx, t, resp.Message.Content, resp.FinishReason)
}

// Stream executes a turn and calls onToken for every content delta.
func (a *Agent) Stream(ctx context.Context, req Request, onToken func(string)) (Response, error) {
	t, err := a.prepare(ctx, req)
	if err != nil {
		return Response{}, err
	}

	chunks, errs := t.provider.Stream(ctx, t.request)
	var sb strings.Builder
	var finishReason string
	for c := range chunks {
		if c.FinishReason != "" {
			finishReason = c.FinishReason
		}
		if c.Content == "" {
			continue
		}
		sb.WriteString(c.Content)
		if onToken != nil {
			onToken(c.Content)
		}
	}
	if err := <-errs; err != nil {
		return Response{}, a.modelFailure(t, err)
	}
	return a.finish(ctx, t, sb.String(), finishReason)
}

func (a *Agent) prepare(ctx context.Context, req Request) (*turn, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, errors.New("prompt is required")
	}

	modeName := req.Mode
	if modeName == "" {
		modeName = a.cfg.Mode
	}
	if modeName == "" {
		modeName = string(ModeCoder)
	}
	mode, err := ParseMode(modeName)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = a.cfg.Model
	}
	provider, route, err := a.registry.Resolve(model)
	if err != nil {
		return nil, err
	}

	msgs := []budget.Message{{Role: budget.RoleSystem, Content: SystemPrompt(mode)}}
	if a.history != nil && a.budget.HistoryWindow > 0 {
		stored, err := a.history.LoadRecentMessages(ctx, a.budget.HistoryWindow)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		for _, m := range stored {
			if m.Role != budget.RoleUser && m.Role != budget.RoleAssistant {
				continue
			}
			msgs = append(msgs, budget.Message{Role: m.Role, Content: m.Content})
		}
	}
	msgs = append(msgs, budget.Message{Role: budget.RoleUser, Content: prompt})

	excerptText, excerpt, err := a.selectExcerpt(prompt, req)
	if err != nil {
		return nil, err
	}

	payload := budget.Build(msgs, excerptText, budget.Budget{
		MaxMessages:   a.budget.MaxMessages,
		MaxFileChars:  a.budget.MaxFileChars,
		MaxTotalChars: a.budget.MaxTotalChars,
	})
	if excerpt != nil {
		excerpt.Truncated = payload.ExcerptTruncated
	}
	a.metrics.RecordBudget(payload.ExcerptTruncated, payload.Dropped, payload.Overflow)
	if payload.Overflow {
		a.logger.Warn("payload exceeds character budget",
			zap.Int("total_chars", payload.TotalChars),
			zap.Int("max_total_chars", a.budget.MaxTotalChars))
	}

	composed := payload.Compose()
	messages := make([]llm.ChatMessage, 0, len(composed))
	for _, m := range composed {
		messages = append(messages, llm.ChatMessage{Role: llm.Role(m.Role), Content: m.Content})
	}

	return &turn{
		mode:     mode,
		provider: provider,
		route:    route,
		request: llm.ChatRequest{
			Model:       route.Model,
			Messages:    messages,
			MaxTokens:   pickMaxTokens(a.cfg.MaxTokens, route.MaxTokens),
			Temperature: pickTemperature(a.cfg.Temperature, route.Temperature),
		},
		payload: payload,
		excerpt: excerpt,
		prompt:  prompt,
		started: time.Now(),
	}, nil
}

// selectExcerpt chunks the attachment and picks the requested or most relevant chunk. Chunks
// leave room for the file header so a headed chunk still fits MaxFileChars.
func (a *Agent) selectExcerpt(prompt string, req Request) (string, *Excerpt, error) {
	if req.Attachment == nil || req.Attachment.Content == "" {
		return "", nil, nil
	}
	name := strings.TrimSpace(req.Attachment.Name)
	chunks := chunkAttachment(req.Attachment.Content, name, a.budget.MaxFileChars)
	if len(chunks) == 0 {
		return "", nil, nil
	}

	idx := semantic.Best(prompt, chunks)
	if req.ChunkIndex != nil {
		idx = *req.ChunkIndex
		if idx < 0 || idx >= len(chunks) {
			return "", nil, fmt.Errorf("chunk index %d out of range (attachment has %d chunks)", idx, len(chunks))
		}
	}

	text := chunks[idx]
	if name != "" {
		text = excerptHeader(name, idx+1, len(chunks)) + text
	}
	return text, &Excerpt{Name: req.Attachment.Name, ChunkIndex: idx, ChunkCount: len(chunks)}, nil
}

func excerptHeader(name string, part, total int) string {
	return fmt.Sprintf("File: %s (part %d of %d)\n", name, part, total)
}

// chunkAttachment reserves the widest header for the resulting chunk count. The reserve grows
// until the count no longer needs more digits than the header assumed.
func chunkAttachment(content, name string, size int) []string {
	if name == "" || size <= 0 {
		return budget.Chunk(content, size)
	}
	var chunks []string
	for n := 1; ; {
		reserve := utf8.RuneCountInString(excerptHeader(name, n, n))
		chunks = budget.Chunk(content, max(size-reserve, 1))
		if len(strconv.Itoa(len(chunks))) <= len(strconv.Itoa(n)) {
			return chunks
		}
		n = len(chunks)
	}
}

func (a *Agent) finish(ctx context.Context, t *turn, content, finishReason string) (Response, error) {
	a.metrics.RecordModelUsage(string(t.mode), t.route.Name)
	a.metrics.RecordChat(finishReason, time.Since(t.started))

	if a.history != nil {
		if _, err := a.history.SaveMessage(ctx, budget.RoleUser, t.prompt); err != nil {
			return Response{}, fmt.Errorf("save user message: %w", err)
		}
		if _, err := a.history.SaveMessage(ctx, budget.RoleAssistant, content); err != nil {
			return Response{}, fmt.Errorf("save assistant message: %w", err)
		}
	}

	a.logger.Debug("assistant turn complete",
		zap.String("mode", string(t.mode)),
		zap.String("model", t.route.Name),
		zap.String("finish_reason", finishReason),
		zap.Int("dropped", t.payload.Dropped),
		zap.Duration("duration", time.Since(t.started)))

	return Response{
		Message:      llm.ChatMessage{Role: llm.RoleAssistant, Content: content},
		Route:        t.route,
		Mode:         t.mode,
		FinishReason: finishReason,
		Fragments:    extract.Extract(content),
		Budget:       reportOf(t.payload),
		Excerpt:      t.excerpt,
	}, nil
}

func (a *Agent) modelFailure(t *turn, err error) error {
	a.metrics.RecordModelFailure(string(t.mode), t.route.Name)
	a.logger.Warn("model call failed",
		zap.String("mode", string(t.mode)),
		zap.String("model", t.route.Name),
		zap.Error(err))
	return fmt.Errorf("model %s: %w", t.route.Name, err)
}

func pickTemperature(assistantTemp float64, routeTemp float64) float64 {
	if assistantTemp > 0 {
		return assistantTemp
	}
	if routeTemp > 0 {
		return routeTemp
	}
	return 0.2
}

func pickMaxTokens(assistantMax int, routeMax int) int {
	if assistantMax > 0 {
		return assistantMax
	}
	if routeMax > 0 {
		return routeMax
	}
	return 0
}
