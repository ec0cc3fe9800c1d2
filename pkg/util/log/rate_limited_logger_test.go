package log

import (
	"testing"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLogger struct {
	lines int
}

func (c *countingLogger) Log(...interface{}) error {
	c.lines++
	return nil
}

func TestRateLimitedLogger(t *testing.T) {
	logger := NewRateLimitedLogger(10, level.Error(Logger))
	assert.NotNil(t, logger)

	require.NoError(t, logger.Log("msg", "test"))
}

func TestRateLimitedLoggerDropsBeyondBudget(t *testing.T) {
	counter := &countingLogger{}
	logger := NewRateLimitedLogger(5, kitlog.Logger(counter))

	for i := 0; i < 100; i++ {
		require.NoError(t, logger.Log("msg", "flood"))
	}
	assert.Equal(t, 5, counter.lines)
}
