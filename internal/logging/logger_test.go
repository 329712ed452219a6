package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// TestNewDevelopmentLogger builds the console logger at debug level.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(Options{Development: true})
	require.NoError(t, err)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	require.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	logger.Info("development logger ready")
}

// TestNewProductionLoggerLevel honors an explicit level.
func TestNewProductionLoggerLevel(t *testing.T) {
	t.Parallel()

	logger, err := New(Options{Level: "WARN"})
	require.NoError(t, err)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	require.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

// TestNewRejectsUnknownLevel reports bad level names.
func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Level: "chatty"})
	require.ErrorContains(t, err, "parse log level")
}
