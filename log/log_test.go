package log

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogRoutesByLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })

	Log(WarnLevel, "retrying", "attempt", 2)
	Log(DebugLevel, "polled")
	Log(Level("bogus"), "fallback")

	entries := logs.All()
	require.Len(t, entries, 3)
	require.Equal(t, zapcore.WarnLevel, entries[0].Level)
	require.Equal(t, int64(2), entries[0].ContextMap()["attempt"])
	require.Equal(t, zapcore.DebugLevel, entries[1].Level)
	require.Equal(t, zapcore.InfoLevel, entries[2].Level)
}

func TestInitRejectsNothingForUnknownLevel(t *testing.T) {
	require.NoError(t, Init(Config{Level: "nope", Encoding: "console"}))
	t.Cleanup(func() { SetLogger(nil) })
	require.NotNil(t, L())
}
