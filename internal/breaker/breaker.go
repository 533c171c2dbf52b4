// Package breaker builds the circuit breakers guarding upstream HTTP calls.
package breaker

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"solana-signal-lab/internal/domain"
)

// New returns a breaker that trips after 3 consecutive failures, or when more
// than 5% of at least 20 requests in the interval failed. Rate-limit and
// parse errors count as successes: the upstream answered.
func New(name string) *gobreaker.CircuitBreaker {
	st := gobreaker.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		if counts.Requests < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
	}
	st.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrParse)
	}
	return gobreaker.NewCircuitBreaker(st)
}

// Execute runs fn through cb and maps a rejected call to ErrUpstreamUnavailable.
func Execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	out, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%s: %w: %v", cb.Name(), domain.ErrUpstreamUnavailable, err)
		}
		return zero, err
	}
	return out.(T), nil
}
