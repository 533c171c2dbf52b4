package scoring

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-signal-lab/internal/control"
	"solana-signal-lab/internal/domain"
)

type stubMarket struct {
	snaps []domain.EntitySnapshot
	err   error
}

func (s stubMarket) Name() string { return "stub" }

func (s stubMarket) Fetch(context.Context, string) ([]domain.EntitySnapshot, error) {
	return s.snaps, s.err
}

type stubMeta struct {
	meta  *domain.TokenMetadata
	calls int
}

func (s *stubMeta) Fetch(context.Context, string) (*domain.TokenMetadata, error) {
	s.calls++
	return s.meta, nil
}

func strPtr(s string) *string { return &s }

func TestEngine_Score(t *testing.T) {
	market := stubMarket{snaps: []domain.EntitySnapshot{snapshot(500_000, 100_000, 60, 40)}}
	judge := NewJudge(&fakeCompleter{content: validJudgment}, nil, nil, JudgeOptions{})

	eng, err := NewEngine(market, nil, judge, Options{AIWeight: 0.4, Logger: zerolog.Nop()})
	require.NoError(t, err)

	out, err := eng.Score(context.Background(), "mint", Entity{Name: "Hinted", Symbol: "HNT"})
	require.NoError(t, err)
	assert.Len(t, out.Snapshots, 1)

	res := out.Result
	assert.Equal(t, "mint", res.Mint)
	assert.Equal(t, "Hinted", res.Name)
	require.NotNil(t, res.AIScore)
	assert.InDelta(t, res.HeuristicTotal*0.6+82*0.4, res.Final, 1e-9)
	assert.NotZero(t, res.ScoredAt)
}

func TestEngine_NoMarketData(t *testing.T) {
	eng, err := NewEngine(stubMarket{}, nil, nil, Options{})
	require.NoError(t, err)

	_, err = eng.Score(context.Background(), "mint", Entity{})
	assert.ErrorIs(t, err, domain.ErrNoMarketData)

	eng, err = NewEngine(stubMarket{err: domain.ErrNoMarketData}, nil, nil, Options{})
	require.NoError(t, err)
	_, err = eng.Score(context.Background(), "mint", Entity{})
	assert.ErrorIs(t, err, domain.ErrNoMarketData)
}

func TestEngine_UpstreamErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	eng, err := NewEngine(stubMarket{err: boom}, nil, nil, Options{})
	require.NoError(t, err)

	_, err = eng.Score(context.Background(), "mint", Entity{})
	assert.ErrorIs(t, err, boom)
}

func TestEngine_MetadataFill(t *testing.T) {
	market := stubMarket{snaps: []domain.EntitySnapshot{snapshot(10, 10, 1, 1)}}
	meta := &stubMeta{meta: &domain.TokenMetadata{Name: strPtr("OnChain"), Symbol: strPtr("OC")}}
	store := newTestStore(t)

	eng, err := NewEngine(market, meta, nil, Options{MetadataCache: control.NewCache(store)})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		out, err := eng.Score(context.Background(), "mint", Entity{})
		require.NoError(t, err)
		assert.Equal(t, "OnChain", out.Result.Name)
		assert.Equal(t, "OC", out.Result.Symbol)
		assert.True(t, out.Result.AIScore == nil, "no provider means fallback")
	}
	assert.Equal(t, 1, meta.calls)
}

func TestEngine_SnapshotNamesSkipMetadata(t *testing.T) {
	snap := snapshot(10, 10, 1, 1)
	snap.BaseName, snap.BaseSymbol = "Dex Name", "DEX"
	meta := &stubMeta{}

	eng, err := NewEngine(stubMarket{snaps: []domain.EntitySnapshot{snap}}, meta, nil, Options{})
	require.NoError(t, err)

	out, err := eng.Score(context.Background(), "mint", Entity{})
	require.NoError(t, err)
	assert.Equal(t, "DEX", out.Result.Symbol)
	assert.Zero(t, meta.calls)
}

func TestNewEngine_RejectsBadWeights(t *testing.T) {
	_, err := NewEngine(stubMarket{}, nil, nil, Options{Weights: Weights{Volume: 0.5}})
	assert.Error(t, err)
	_, err = NewEngine(stubMarket{}, nil, nil, Options{AIWeight: 1.5})
	assert.Error(t, err)
}
