// Package ratelimit provides the token bucket shared by every outbound catalog request.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/mediacore/mediacore/internal/metrics"
)

// ErrTimeout is returned when no token became available within the caller's timeout.
var ErrTimeout = errors.New("rate limit: timed out waiting for token")

// Config defines the bucket. Capacity tokens are refilled evenly over each Window.
type Config struct {
	Capacity int
	Window   time.Duration
	// AcquireTimeout is the default wait used when Acquire is called with a zero timeout.
	AcquireTimeout time.Duration
}

// DefaultConfig matches the catalog's published budget of roughly 40 requests per 10 seconds.
func DefaultConfig() Config {
	return Config{
		Capacity:       40,
		Window:         10 * time.Second,
		AcquireTimeout: 30 * time.Second,
	}
}

// Limiter is a token bucket gate. One instance is shared per external dependency
// because the budget belongs to the API key, not to a request.
type Limiter struct {
	limiter *rate.Limiter
	config  Config
	logger  zerolog.Logger
}

// NewLimiter creates a new limiter with a full bucket.
func NewLimiter(cfg Config, logger zerolog.Logger) *Limiter {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultConfig().AcquireTimeout
	}

	every := rate.Every(cfg.Window / time.Duration(cfg.Capacity))
	return &Limiter{
		limiter: rate.NewLimiter(every, cfg.Capacity),
		config:  cfg,
		logger:  logger.With().Str("component", "rate-limiter").Logger(),
	}
}

// Acquire blocks until a token is available. It fails with ErrTimeout when the
// timeout elapses first, or with the context's error when the caller cancels or
// its deadline comes before the timeout.
// A zero timeout uses the configured default.
func (l *Limiter) Acquire(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = l.config.AcquireTimeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := l.limiter.Wait(waitCtx)
	metrics.RateLimitWait.Observe(time.Since(start).Seconds())
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	// Wait also fails up front when the reservation would outlast the deadline.
	// If the caller's deadline is the tighter one, the failure is theirs.
	callerDeadline, ok := ctx.Deadline()
	if waitDeadline, _ := waitCtx.Deadline(); ok && waitDeadline.Equal(callerDeadline) {
		return fmt.Errorf("rate limit: token not available before caller deadline: %w", context.DeadlineExceeded)
	}

	metrics.RateLimitTimeouts.Inc()
	l.logger.Warn().
		Dur("timeout", timeout).
		Int("capacity", l.config.Capacity).
		Dur("window", l.config.Window).
		Msg("Timed out waiting for rate limit token")
	return ErrTimeout
}

// Available returns the number of tokens currently in the bucket.
func (l *Limiter) Available() float64 {
	return l.limiter.Tokens()
}

// Config returns the limiter configuration.
func (l *Limiter) Config() Config {
	return l.config
}
