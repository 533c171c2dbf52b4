package control

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-signal-lab/internal/domain"
)

func TestSlidingWindow_AllowsExactlyMax(t *testing.T) {
	s, _ := newTestStore(t)
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	w := NewSlidingWindow(s)
	w.now = clock.Now
	ctx := context.Background()

	var allowed int
	for i := 0; i < 5; i++ {
		res, err := w.Check(ctx, "dexscreener", time.Minute, 3)
		require.NoError(t, err)
		if res.Allowed {
			allowed++
			assert.Equal(t, 3-allowed, res.Remaining)
		}
		clock.Advance(time.Second)
	}
	assert.Equal(t, 3, allowed)
}

func TestSlidingWindow_FreesAfterWindow(t *testing.T) {
	s, _ := newTestStore(t)
	start := time.UnixMilli(1_700_000_000_000)
	clock := &fakeClock{t: start}
	w := NewSlidingWindow(s)
	w.now = clock.Now
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := w.Check(ctx, "k", 10*time.Second, 2)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	res, err := w.Check(ctx, "k", 10*time.Second, 2)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	assert.Equal(t, start.Add(10*time.Second), res.ResetAt)
	assert.Equal(t, 10*time.Second, res.RetryAfter(clock.Now()))

	clock.Advance(9999 * time.Millisecond)
	res, err = w.Check(ctx, "k", 10*time.Second, 2)
	require.NoError(t, err)
	assert.False(t, res.Allowed, "oldest call is still inside the window")

	clock.Advance(time.Millisecond)
	res, err = w.Check(ctx, "k", 10*time.Second, 2)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "oldest call left the window")
}

func TestSlidingWindow_NeverExceedsMaxInAnyWindow(t *testing.T) {
	s, _ := newTestStore(t)
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	w := NewSlidingWindow(s)
	w.now = clock.Now
	ctx := context.Background()

	const window = 1000 * time.Millisecond
	const max = 4
	var accepted []time.Time

	// Irregular call spacing, several calls per window.
	steps := []time.Duration{50, 120, 10, 300, 5, 700, 90, 90, 400, 1, 1, 1, 999, 250}
	for i := 0; i < 60; i++ {
		res, err := w.Check(ctx, "prop", window, max)
		require.NoError(t, err)
		if res.Allowed {
			accepted = append(accepted, clock.Now())
		}
		clock.Advance(steps[i%len(steps)] * time.Millisecond)
	}

	for i := range accepted {
		inWindow := 0
		for j := i; j < len(accepted) && accepted[j].Sub(accepted[i]) < window; j++ {
			inWindow++
		}
		assert.LessOrEqual(t, inWindow, max, "window starting at %v", accepted[i])
	}
}

func TestSlidingWindow_ConcurrentCallers(t *testing.T) {
	s, _ := newTestStore(t)
	w := NewSlidingWindow(s)
	ctx := context.Background()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := w.Check(ctx, "shared", time.Hour, 5)
			if err == nil && res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(5), allowed.Load())
}

func TestSlidingWindow_AllowReturnsTypedError(t *testing.T) {
	s, _ := newTestStore(t)
	w := NewSlidingWindow(s)
	ctx := context.Background()

	require.NoError(t, w.Allow(ctx, "once", time.Minute, 1))
	err := w.Allow(ctx, "once", time.Minute, 1)

	var rl *domain.RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.True(t, errors.Is(err, domain.ErrRateLimited))
	assert.Greater(t, rl.RetryAfter, time.Duration(0))
}

func TestSlidingWindow_InvalidArgs(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := NewSlidingWindow(s).Check(context.Background(), "k", 0, 1)
	assert.Error(t, err)
}
