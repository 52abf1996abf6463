package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("nonsense"))
}

func TestNew_WritesJSONAboveLevel(t *testing.T) {
	out := filepath.Join(t.TempDir(), "beacon.log")

	log, err := New(Config{Level: "warn", OutputPaths: []string{out}})
	require.NoError(t, err)

	log.Info("hidden")
	log.With(String("component", "beacon")).Warn("shown", Int("attempt", 1))
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), `"msg":"shown"`)
	assert.Contains(t, string(data), `"component":"beacon"`)
}

func TestNop(t *testing.T) {
	log := NewNop()
	log.With(String("k", "v")).Error("ignored")
	assert.NoError(t, log.Sync())
}
