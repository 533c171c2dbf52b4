package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket_DrainAndRefill(t *testing.T) {
	s, _ := newTestStore(t)
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	b := NewTokenBucket(s)
	b.now = clock.Now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := b.Take(ctx, "ai", 3, 1, 1)
		require.NoError(t, err)
		require.True(t, res.Allowed, "take %d", i)
	}

	res, err := b.Take(ctx, "ai", 3, 1, 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Second, res.RetryAfter)

	clock.Advance(1500 * time.Millisecond)
	res, err = b.Take(ctx, "ai", 3, 1, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.InDelta(t, 0.5, res.Tokens, 1e-9)
}

func TestTokenBucket_NeverExceedsCapacity(t *testing.T) {
	s, _ := newTestStore(t)
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	b := NewTokenBucket(s)
	b.now = clock.Now
	ctx := context.Background()

	_, err := b.Take(ctx, "cap", 5, 2, 1)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	res, err := b.Take(ctx, "cap", 5, 2, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.InDelta(t, 4, res.Tokens, 1e-9)
}

func TestTokenBucket_Validation(t *testing.T) {
	s, _ := newTestStore(t)
	b := NewTokenBucket(s)
	ctx := context.Background()

	_, err := b.Take(ctx, "k", 0, 1, 1)
	assert.Error(t, err)
	_, err = b.Take(ctx, "k", 2, 1, 3)
	assert.Error(t, err, "cost above capacity can never succeed")
}
