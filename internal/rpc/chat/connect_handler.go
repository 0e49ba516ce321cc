package chat

import (
	"context"
	"errors"
	"net/http"

	"github.com/bufbuild/connect-go"

	"github.com/animus-coder/codevet/internal/observability"
	"github.com/animus-coder/codevet/internal/rpc"
	"github.com/animus-coder/codevet/internal/rpc/connectjson"
)

// ConnectChatProcedure is the Connect route of the chat stream.
const ConnectChatProcedure = "/connect.codevet.v1.ChatService/Chat"

// NewConnectHandler builds a Connect bidi stream handler for Chat.
func NewConnectHandler(runner Runner, metrics *observability.Metrics) (string, http.Handler) {
	if runner == nil {
		runner = EchoRunner{}
	}
	h := &connectChatHandler{runner: runner, metrics: metrics}
	return ConnectChatProcedure, connect.NewBidiStreamHandler(ConnectChatProcedure, h.handle, connect.WithCodec(connectjson.Codec{}))
}

type connectChatHandler struct {
	runner  Runner
	metrics *observability.Metrics
}

func (h *connectChatHandler) handle(ctx context.Context, stream *connect.BidiStream[rpc.ChatStreamRequest, rpc.ChatEvent]) error {
	h.metrics.IncActiveSessions("connect")
	defer h.metrics.DecActiveSessions("connect")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	first, err := stream.Receive()
	if err != nil {
		h.metrics.RecordTransportError("connect", "receive_first")
		return err
	}
	if first == nil || first.Chat == nil {
		h.metrics.RecordTransportError("connect", "missing_chat")
		return connect.NewError(connect.CodeInvalidArgument, errors.New("first message must include chat payload"))
	}

	req := *first.Chat
	ensureIDs(&req)

	// Listen for cancellation messages from the client.
	go func() {
		for {
			msg, recvErr := stream.Receive()
			if recvErr != nil {
				if !errors.Is(recvErr, context.Canceled) {
					h.metrics.RecordTransportError("connect", "receive_stream")
				}
				return
			}
			if msg != nil && msg.Cancel {
				cancel()
				return
			}
		}
	}()

	events, runErr := h.runner.Run(ctx, req)
	if runErr != nil {
		h.metrics.RecordTransportError("connect", "runner_error")
		return connect.NewError(connect.CodeInvalidArgument, runErr)
	}

	for ev := range events {
		if err := stream.Send(&ev); err != nil {
			h.metrics.RecordTransportError("connect", "send")
			cancel()
			for range events {
			}
			return err
		}
	}
	return nil
}
