package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInitSetsLevel(t *testing.T) {
	require.NoError(t, Init("debug"))
	require.True(t, Logger().Core().Enabled(zapcore.DebugLevel))

	require.NoError(t, Init("warn"))
	require.False(t, Logger().Core().Enabled(zapcore.InfoLevel))
}

func TestInitUnknownLevelFallsBackToInfo(t *testing.T) {
	require.NoError(t, Init("chatty"))
	require.True(t, Logger().Core().Enabled(zapcore.InfoLevel))
	require.False(t, Logger().Core().Enabled(zapcore.DebugLevel))
}

func TestWithModuleUsableBeforeInit(t *testing.T) {
	require.NotNil(t, WithModule("test"))
}
