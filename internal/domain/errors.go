package domain

import (
	"errors"
	"fmt"
	"time"
)

// Failure taxonomy shared by the stream, control layer, enrichment and scoring.
var (
	// ErrTransport covers dropped connections and socket failures. Recovered by reconnect.
	ErrTransport = errors.New("transport error")

	// ErrAuth is returned when the upstream rejects the handshake. Terminal.
	ErrAuth = errors.New("authentication rejected")

	// ErrParse marks an inbound message or AI response that could not be parsed.
	ErrParse = errors.New("parse error")

	// ErrRateLimited is returned when a limiter denies a call.
	ErrRateLimited = errors.New("rate limited")

	// ErrLockContention is returned when a lock could not be acquired within its retry budget.
	ErrLockContention = errors.New("lock contention")

	// ErrUpstreamUnavailable covers market data and AI outages and open circuit breakers.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrStoreUnavailable covers shared KV and persistent store failures.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrConnectTimeout is returned when the stream did not open in time.
	ErrConnectTimeout = errors.New("connect timeout")

	// ErrNoMarketData means every enrichment source answered with no data.
	ErrNoMarketData = errors.New("no market data")
)

// RateLimitedError carries the advised wait before retrying.
type RateLimitedError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited on %s, retry after %s", e.Key, e.RetryAfter)
}

// Unwrap lets errors.Is match ErrRateLimited.
func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}
