package push

import (
	"context"
	"time"
)

// ReconnectConfig contains the exponential backoff settings of a transport
type ReconnectConfig struct {
	RetryDelay    time.Duration // first delay after a failure
	MaxRetryDelay time.Duration // cap
}

// DefaultReconnectConfig returns 1s doubling up to 30s
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		RetryDelay:    time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// SessionFunc runs one connection until it drops. connected reports whether
// the connection was established before it failed, which resets the backoff.
type SessionFunc func(ctx context.Context) (connected bool, err error)

// runWithReconnect keeps a connection alive until ctx is cancelled.
//
// The push channel is not allowed to give up: a missing confirmation channel
// turns every device command into a hard timeout, so the loop retries
// forever with capped exponential backoff.
func runWithReconnect(
	ctx context.Context,
	name string,
	session SessionFunc,
	cfg ReconnectConfig,
	logger interface {
		Info(string, ...any)
		Warn(string, ...any)
	},
) error {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		connected, err := session(ctx)
		if ctx.Err() != nil {
			logger.Info("push channel stopped", "transport", name)
			return ctx.Err()
		}
		if connected {
			attempt = 0
		}
		attempt++

		delay := calculateBackoff(attempt, cfg)
		logger.Warn("push channel disconnected, reconnecting",
			"transport", name,
			"attempt", attempt,
			"delay", delay.String(),
			"error", errString(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// calculateBackoff returns retryDelay * 2^(attempt-1), capped
func calculateBackoff(attempt int, cfg ReconnectConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = 30 * time.Second
	}

	delay := cfg.RetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cfg.MaxRetryDelay {
			return cfg.MaxRetryDelay
		}
	}
	if delay > cfg.MaxRetryDelay {
		delay = cfg.MaxRetryDelay
	}
	return delay
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
