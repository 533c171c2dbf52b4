package control

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedValue struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

func TestCached_MissThenHit(t *testing.T) {
	s, _ := newTestStore(t)
	c := NewCache(s)
	ctx := context.Background()

	calls := 0
	produce := func(context.Context) (cachedValue, error) {
		calls++
		return cachedValue{Name: "BONK", Price: 0.00002}, nil
	}

	v, err := Cached(ctx, c, "snap:abc", time.Minute, produce)
	require.NoError(t, err)
	assert.Equal(t, "BONK", v.Name)

	v, err = Cached(ctx, c, "snap:abc", time.Minute, produce)
	require.NoError(t, err)
	assert.Equal(t, 0.00002, v.Price)
	assert.Equal(t, 1, calls)
}

func TestCached_CorruptEntryIsMiss(t *testing.T) {
	s, mr := newTestStore(t)
	c := NewCache(s)

	require.NoError(t, mr.Set(s.Key("cache", "bad"), "{not json"))

	v, err := Cached(context.Background(), c, "bad", time.Minute, func(context.Context) (cachedValue, error) {
		return cachedValue{Name: "fresh"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", v.Name)

	raw, err := mr.Get(s.Key("cache", "bad"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"fresh","price":0}`, raw, "corrupt entry overwritten")
}

func TestCached_ProducerErrorNotCached(t *testing.T) {
	s, mr := newTestStore(t)
	c := NewCache(s)
	boom := errors.New("upstream down")

	_, err := Cached(context.Background(), c, "err", time.Minute, func(context.Context) (cachedValue, error) {
		return cachedValue{}, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(s.Key("cache", "err")))
}

func TestCached_StoreDownStillProduces(t *testing.T) {
	s, mr := newTestStore(t)
	c := NewCache(s)
	mr.Close()

	v, err := Cached(context.Background(), c, "k", time.Minute, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestCached_TTLExpires(t *testing.T) {
	s, mr := newTestStore(t)
	c := NewCache(s)
	ctx := context.Background()

	n := 0
	produce := func(context.Context) (int, error) { n++; return n, nil }

	v, _ := Cached(ctx, c, "ttl", 5*time.Second, produce)
	assert.Equal(t, 1, v)
	mr.FastForward(6 * time.Second)
	v, _ = Cached(ctx, c, "ttl", 5*time.Second, produce)
	assert.Equal(t, 2, v)

	require.NoError(t, c.Invalidate(ctx, "ttl"))
	v, _ = Cached(ctx, c, "ttl", 5*time.Second, produce)
	assert.Equal(t, 3, v)
}
