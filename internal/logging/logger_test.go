package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerFormats(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		logger, err := NewLogger("info", format)
		require.NoError(t, err, format)
		require.NotNil(t, logger)
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger("chatty", "json")
	require.Error(t, err)
}

func TestNamedToleratesNil(t *testing.T) {
	require.NotNil(t, Named(nil, "tools"))
}
