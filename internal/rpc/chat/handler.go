package chat

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/animus-coder/codevet/internal/observability"
	"github.com/animus-coder/codevet/internal/rpc"
)

// Handler processes chat requests and streams NDJSON events.
type Handler struct {
	runner  Runner
	metrics *observability.Metrics
}

// NewHandler constructs a handler instance. A nil runner echoes the prompt.
func NewHandler(runner Runner, metrics *observability.Metrics) *Handler {
	if runner == nil {
		runner = EchoRunner{}
	}
	return &Handler{runner: runner, metrics: metrics}
}

// ServeHTTP handles POST /chat with an NDJSON stream of ChatEvent.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.metrics.RecordTransportError("ndjson", "method_not_allowed")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.metrics.IncActiveSessions("ndjson")
	defer h.metrics.DecActiveSessions("ndjson")

	var req rpc.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.metrics.RecordTransportError("ndjson", "decode")
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	ensureIDs(&req)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, err := h.runner.Run(r.Context(), req)
	if err != nil {
		h.metrics.RecordTransportError("ndjson", "runner_error")
		http.Error(w, fmt.Sprintf("runner error: %v", err), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	writer := bufio.NewWriter(w)
	enc := json.NewEncoder(writer)
	enc.SetEscapeHTML(false)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			h.metrics.RecordTransportError("ndjson", "encode")
			continue
		}
		if err := writer.Flush(); err != nil {
			h.metrics.RecordTransportError("ndjson", "write")
			continue
		}
		flusher.Flush()
	}
}

func ensureIDs(req *rpc.ChatRequest) {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.CorrelationID == "" {
		req.CorrelationID = req.SessionID + "-corr"
	}
}
