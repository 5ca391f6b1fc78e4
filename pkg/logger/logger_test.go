package logger_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/metrics-bridge/pkg/config"
	"github.com/metrics-bridge/pkg/logger"
)

func TestDefaultFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger.SetLogger(zap.New(core))
	t.Cleanup(func() { logger.SetLogger(zap.NewNop()) })

	logger.SetDefaultComponent("coordinator")
	t.Cleanup(func() { logger.SetDefaultComponent("bridge") })

	logger.Debug("debug msg")
	logger.Info("info msg", zap.String("source", "redpanda"))
	logger.Warn("warn msg")
	logger.Error("error msg")

	entries := logs.All()
	require.Len(t, entries, 4)

	ctx := entries[1].ContextMap()
	assert.Equal(t, "info msg", entries[1].Message)
	assert.Equal(t, "coordinator", ctx["component"])
	assert.Equal(t, "redpanda", ctx["source"])
	assert.NotEmpty(t, ctx["goid"])
	assert.NotEqual(t, "0", ctx["goid"])
}

func TestLevelFiltering(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger.SetLogger(zap.New(core))
	t.Cleanup(func() { logger.SetLogger(zap.NewNop()) })

	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("kept")

	assert.Equal(t, 1, logs.Len())
}

func TestInitLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.ZapLogConfig{
		Level:   "debug",
		Format:  "json",
		Path:    dir,
		MaxSize: 1,
		MaxAge:  1,
	}

	l, err := logger.InitLogger(cfg)
	require.NoError(t, err)
	require.NotNil(t, l)
	t.Cleanup(func() { logger.SetLogger(zap.NewNop()) })

	logger.Info("written to file")
	_ = logger.Sync()

	files, err := filepath.Glob(filepath.Join(dir, "bridge-*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	body, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(body), `"msg":"written to file"`)
	assert.Contains(t, string(body), `"component":"bridge"`)
}

func TestInitLoggerRetainsByCount(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.ZapLogConfig{
		Level:     "info",
		Format:    "console",
		Path:      dir,
		MaxSize:   1,
		MaxBackup: 3,
	}

	_, err := logger.InitLogger(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { logger.SetLogger(zap.NewNop()) })

	logger.Info("count based retention")
	_ = logger.Sync()

	files, err := filepath.Glob(filepath.Join(dir, "bridge-*.log"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, logger.ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, logger.ParseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, logger.ParseLevel("err"))
	assert.Equal(t, zapcore.InfoLevel, logger.ParseLevel("bogus"))
}

func TestNopBeforeInit(t *testing.T) {
	logger.SetLogger(zap.NewNop())
	assert.NotPanics(t, func() { logger.Error("nobody listens") })
}
