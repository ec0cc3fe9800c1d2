package log

import (
	kitlog "github.com/go-kit/log"
	"golang.org/x/time/rate"
)

// RateLimitedLogger drops log lines beyond the configured per-second
// budget, with a burst of the same size.
type RateLimitedLogger struct {
	limiter *rate.Limiter
	logger  kitlog.Logger
}

func NewRateLimitedLogger(logsPerSecond int, logger kitlog.Logger) *RateLimitedLogger {
	return &RateLimitedLogger{
		limiter: rate.NewLimiter(rate.Limit(logsPerSecond), logsPerSecond),
		logger:  logger,
	}
}

func (l *RateLimitedLogger) Log(keyvals ...interface{}) error {
	if l.limiter.Allow() {
		return l.logger.Log(keyvals...)
	}
	return nil
}
