package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		logger, err := NewLogger(level)
		require.NoError(t, err, level)
		assert.NotNil(t, logger.Logger)
	}
}

func TestNewLoggerUnknownLevel(t *testing.T) {
	_, err := NewLogger("loud")
	require.Error(t, err)
}
