package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/animus-coder/codevet/internal/budget"
	"github.com/animus-coder/codevet/internal/config"
	"github.com/animus-coder/codevet/internal/llm"
	llmmock "github.com/animus-coder/codevet/internal/llm/mock"
	"github.com/animus-coder/codevet/internal/observability"
	"github.com/animus-coder/codevet/internal/storage"
)

func newRegistry(p llm.Provider) *llm.Registry {
	reg := llm.NewRegistry()
	reg.RegisterProvider("mock", p)
	reg.RegisterModel("default", llm.ModelRoute{Provider: "mock", Model: "m", MaxTokens: 512}, true)
	return reg
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "history.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var testBudget = config.BudgetConfig{MaxMessages: 20, MaxFileChars: 8000, MaxTotalChars: 12000, HistoryWindow: 50}

func TestRunComposesPromptAndRecordsHistory(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	_, err := store.SaveMessage(ctx, "user", "earlier question")
	require.NoError(t, err)
	_, err = store.SaveMessage(ctx, "assistant", "earlier answer")
	require.NoError(t, err)

	reply := "Here you go:\n\n```python\nprint('hi')\n```\n<run_command>python app.py</run_command>\n"
	provider := &llmmock.Provider{
		ChatFn: func(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
			return llm.ChatResponse{Message: llm.ChatMessage{Role: llm.RoleAssistant, Content: reply}, FinishReason: "stop"}, nil
		},
	}
	a := New(newRegistry(provider), config.AssistantConfig{Mode: "security"}, testBudget, WithHistory(store))

	resp, err := a.Run(ctx, Request{Prompt: "audit this"})
	require.NoError(t, err)
	require.Equal(t, ModeSecurity, resp.Mode)
	require.Equal(t, "stop", resp.FinishReason)
	require.Len(t, resp.Fragments, 1)
	require.Equal(t, "python app.py", *resp.Fragments[0].RunCommand)

	reqs := provider.Requests()
	require.Len(t, reqs, 1)
	msgs := reqs[0].Messages
	require.Len(t, msgs, 4)
	require.Equal(t, llm.RoleSystem, msgs[0].Role)
	require.Contains(t, msgs[0].Content, "Security Auditor")
	require.Equal(t, "earlier question", msgs[1].Content)
	require.Equal(t, "earlier answer", msgs[2].Content)
	require.Equal(t, "audit this", msgs[3].Content)
	require.Equal(t, 512, reqs[0].MaxTokens)
	require.Equal(t, 0.2, reqs[0].Temperature)

	stored, err := store.LoadRecentMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stored, 4)
	require.Equal(t, "audit this", stored[2].Content)
	require.Equal(t, reply, stored[3].Content)
}

func TestAttachmentExcerptPicksRelevantChunk(t *testing.T) {
	var lines []string
	for i := 0; i < 40; i++ {
		lines = append(lines, "filler line number "+strings.Repeat("x", 20))
	}
	lines = append(lines, "def load_config(path):", "    return yaml.safe_load(open(path))")
	content := strings.Join(lines, "\n")

	provider := &llmmock.Provider{}
	b := testBudget
	b.MaxFileChars = 600
	a := New(newRegistry(provider), config.AssistantConfig{}, b)

	resp, err := a.Run(context.Background(), Request{
		Prompt:     "why does load_config crash",
		Attachment: &Attachment{Name: "settings.py", Content: content},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Excerpt)
	require.Greater(t, resp.Excerpt.ChunkCount, 1)
	require.Equal(t, resp.Excerpt.ChunkCount-1, resp.Excerpt.ChunkIndex)

	system := provider.Requests()[0].Messages[0].Content
	require.Contains(t, system, budget.ContextStart)
	require.Contains(t, system, "def load_config(path):")
	require.True(t, strings.HasSuffix(system, budget.ContextEnd))

	idx := 0
	resp, err = a.Run(context.Background(), Request{
		Prompt:     "why does load_config crash",
		Attachment: &Attachment{Name: "settings.py", Content: content},
		ChunkIndex: &idx,
	})
	require.NoError(t, err)
	require.Equal(t, 0, resp.Excerpt.ChunkIndex)

	bad := 99
	_, err = a.Run(context.Background(), Request{
		Prompt:     "x",
		Attachment: &Attachment{Content: content},
		ChunkIndex: &bad,
	})
	require.ErrorContains(t, err, "out of range")
}

func TestAttachmentAtFileLimitIsNotTruncated(t *testing.T) {
	content := strings.Repeat("a", 95) + "TAIL!"
	b := testBudget
	b.MaxFileChars = len(content)

	provider := &llmmock.Provider{}
	a := New(newRegistry(provider), config.AssistantConfig{}, b)

	resp, err := a.Run(context.Background(), Request{
		Prompt:     "summarize",
		Attachment: &Attachment{Content: content},
	})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Excerpt.ChunkCount)
	require.False(t, resp.Excerpt.Truncated)
	require.Contains(t, provider.Requests()[0].Messages[0].Content, "TAIL!")

	var seen strings.Builder
	for idx := 0; ; idx++ {
		i := idx
		resp, err := a.Run(context.Background(), Request{
			Prompt:     "summarize",
			Attachment: &Attachment{Name: "notes.txt", Content: content},
			ChunkIndex: &i,
		})
		require.NoError(t, err)
		require.False(t, resp.Excerpt.Truncated, "chunk %d", idx)

		system := provider.Requests()[len(provider.Requests())-1].Messages[0].Content
		header := fmt.Sprintf("File: notes.txt (part %d of %d)\n", idx+1, resp.Excerpt.ChunkCount)
		start := strings.Index(system, header)
		require.GreaterOrEqual(t, start, 0)
		body := system[start+len(header):]
		body = body[:strings.Index(body, "\n"+budget.ContextEnd)]
		seen.WriteString(body)

		if idx == resp.Excerpt.ChunkCount-1 {
			break
		}
	}
	require.Equal(t, content, seen.String())
}

func TestRunDropsOldHistoryOverBudget(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	for i := 0; i < 10; i++ {
		_, err := store.SaveMessage(ctx, "user", strings.Repeat("q", 400))
		require.NoError(t, err)
	}

	provider := &llmmock.Provider{}
	metrics := observability.NewMetrics()
	b := config.BudgetConfig{MaxMessages: 20, MaxFileChars: 100, MaxTotalChars: 1000 + len(SystemPrompt(ModeCoder)), HistoryWindow: 50}
	a := New(newRegistry(provider), config.AssistantConfig{}, b, WithHistory(store), WithMetrics(metrics))

	resp, err := a.Run(ctx, Request{Prompt: "newest"})
	require.NoError(t, err)
	require.Equal(t, 8, resp.Budget.Dropped)
	require.False(t, resp.Budget.Overflow)

	msgs := provider.Requests()[0].Messages
	require.Equal(t, "newest", msgs[len(msgs)-1].Content)
	require.Len(t, msgs, 4)
}

func TestStreamForwardsTokens(t *testing.T) {
	provider := &llmmock.Provider{StreamChunks: []llm.StreamChunk{
		{Content: "```py\n"},
		{Content: "x = 1\n```\n"},
		{FinishReason: "stop"},
	}}
	a := New(newRegistry(provider), config.AssistantConfig{Mode: "coder"}, testBudget)

	var tokens []string
	resp, err := a.Stream(context.Background(), Request{Prompt: "go"}, func(s string) { tokens = append(tokens, s) })
	require.NoError(t, err)
	require.Equal(t, []string{"```py\n", "x = 1\n```\n"}, tokens)
	require.Equal(t, "```py\nx = 1\n```\n", resp.Message.Content)
	require.Equal(t, "stop", resp.FinishReason)
	require.Len(t, resp.Fragments, 1)
}

func TestModelFailureSavesNothing(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	boom := errors.New("upstream 503")
	provider := &llmmock.Provider{StreamErr: boom}
	a := New(newRegistry(provider), config.AssistantConfig{}, testBudget, WithHistory(store))

	_, err := a.Stream(ctx, Request{Prompt: "hello"}, nil)
	require.ErrorIs(t, err, boom)

	stored, err := store.LoadRecentMessages(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, stored)
}

func TestRequestValidation(t *testing.T) {
	a := New(newRegistry(&llmmock.Provider{}), config.AssistantConfig{}, testBudget)

	_, err := a.Run(context.Background(), Request{Prompt: "  "})
	require.Error(t, err)

	_, err = a.Run(context.Background(), Request{Prompt: "x", Mode: "poet"})
	require.ErrorContains(t, err, "unknown assistant mode")

	_, err = a.Run(context.Background(), Request{Prompt: "x", Model: "missing"})
	require.Error(t, err)
}

func TestEveryModeHasPrompt(t *testing.T) {
	for _, m := range Modes {
		parsed, err := ParseMode(strings.ToUpper(string(m)))
		require.NoError(t, err)
		require.Equal(t, m, parsed)
		require.Contains(t, SystemPrompt(m), m.Title())
		require.Contains(t, SystemPrompt(m), "<run_command>")
	}
}
