package tmdb

import (
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/mediacore/mediacore/internal/config"
	"github.com/mediacore/mediacore/internal/metrics"
)

const breakerName = "tmdb-api"

// newBreaker opens after BreakerFailures consecutive server or transport failures
// and half-opens again after BreakerTimeout. Client errors such as 404 or 429 do
// not count.
func newBreaker(cfg config.TMDBConfig, logger zerolog.Logger) *gobreaker.CircuitBreaker[struct{}] {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	metrics.CatalogCircuitBreakerState.Set(stateToFloat(gobreaker.StateClosed))

	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isServerFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
			metrics.CatalogCircuitBreakerState.Set(stateToFloat(to))
		},
	})
}

// stateToFloat maps breaker states to the gauge encoding.
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return -1
	}
}

// BreakerState returns the current circuit breaker state ("closed", "open" or
// "half-open").
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}
