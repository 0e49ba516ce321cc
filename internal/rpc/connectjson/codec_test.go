package connectjson

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/animus-coder/codevet/internal/rpc"
)

func TestMarshalKeepsMarkup(t *testing.T) {
	data, err := Codec{}.Marshal(&rpc.ChatEvent{Type: rpc.EventMessage, Message: "<run_command>pytest -q</run_command> & done"})
	require.NoError(t, err)
	require.Equal(t, `{"type":"message","message":"<run_command>pytest -q</run_command> & done"}`, string(data))
}

func TestUnmarshal(t *testing.T) {
	var req rpc.ChatStreamRequest
	require.NoError(t, Codec{}.Unmarshal([]byte(`{"chat":{"session_id":"s","prompt":"hi"},"extra":1}`), &req))
	require.Equal(t, "hi", req.Chat.Prompt)

	var empty rpc.ChatStreamRequest
	require.NoError(t, Codec{}.Unmarshal(nil, &empty))
	require.Nil(t, empty.Chat)

	require.ErrorContains(t, Codec{}.Unmarshal([]byte("{"), &req), "connectjson: unmarshal")
}
