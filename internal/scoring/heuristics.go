// Package scoring turns market snapshots into a ScoreResult: deterministic
// heuristics, an optional AI judgment, and a pure blend of the two.
package scoring

import (
	"fmt"
	"math"

	"solana-signal-lab/internal/domain"
)

// Saturation points of the logarithmic sub-scores.
const (
	volumeDecades    = 7 // $10M of 24h volume scores 100
	liquidityDecades = 6 // $1M of liquidity
	activityDecades  = 4 // 10k trades in 24h
)

// Weights are the heuristic sub-score weights. They must sum to 1.
type Weights struct {
	Volume      float64
	Liquidity   float64
	PriceAction float64
	Social      float64
	Risk        float64
	Momentum    float64
}

// DefaultWeights returns .25/.20/.20/.15/.10/.10.
func DefaultWeights() Weights {
	return Weights{
		Volume:      0.25,
		Liquidity:   0.20,
		PriceAction: 0.20,
		Social:      0.15,
		Risk:        0.10,
		Momentum:    0.10,
	}
}

// Validate checks that weights are non-negative and sum to 1.
func (w Weights) Validate() error {
	for _, v := range []float64{w.Volume, w.Liquidity, w.PriceAction, w.Social, w.Risk, w.Momentum} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("negative or NaN weight %v", v)
		}
	}
	sum := w.Volume + w.Liquidity + w.PriceAction + w.Social + w.Risk + w.Momentum
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("weights sum to %.4f, want 1", sum)
	}
	return nil
}

// ComputeHeuristics scores snapshots. Zero snapshots yield all zeros.
func ComputeHeuristics(snaps []domain.EntitySnapshot, w Weights) domain.HeuristicMetrics {
	if len(snaps) == 0 {
		return domain.HeuristicMetrics{}
	}

	var volume, liquidity float64
	var txns, buysH1, totalH1 int
	for _, s := range snaps {
		volume += nonNegative(s.Volume.H24)
		liquidity += nonNegative(s.LiquidityUSD)
		txns += max(s.Txns.H24.Total(), 0)
		buysH1 += max(s.Txns.H1.Buys, 0)
		totalH1 += max(s.Txns.H1.Total(), 0)
	}
	deepest := deepestPair(snaps)

	m := domain.HeuristicMetrics{
		Volume:      clamp(logScore(volume, volumeDecades)),
		Liquidity:   clamp(logScore(liquidity, liquidityDecades)),
		PriceAction: clamp(50 + deepest.PriceChange.H24/4),
		Social:      clamp(logScore(float64(txns), activityDecades)),
		Risk:        clamp(100 - math.Max(math.Abs(deepest.PriceChange.M5), math.Abs(deepest.PriceChange.H1))),
		Momentum:    50,
	}
	if totalH1 > 0 {
		m.Momentum = clamp(float64(buysH1) / float64(totalH1) * 100)
	}
	m.Total = clamp(w.Volume*m.Volume +
		w.Liquidity*m.Liquidity +
		w.PriceAction*m.PriceAction +
		w.Social*m.Social +
		w.Risk*m.Risk +
		w.Momentum*m.Momentum)
	return m
}

// Summarize aggregates snapshots for filtering and ranking. Price change and
// market cap come from the deepest pair.
func Summarize(snaps []domain.EntitySnapshot) domain.MarketSummary {
	sum := domain.MarketSummary{SnapshotCount: len(snaps)}
	if len(snaps) == 0 {
		return sum
	}
	for _, s := range snaps {
		sum.VolumeH24 += nonNegative(s.Volume.H24)
		sum.LiquidityUSD += nonNegative(s.LiquidityUSD)
		sum.TxnsH24 += max(s.Txns.H24.Total(), 0)
	}
	deepest := deepestPair(snaps)
	sum.MarketCapUSD = nonNegative(deepest.MarketCapUSD)
	sum.PriceChangeH24 = finite(deepest.PriceChange.H24)
	return sum
}

// deepestPair returns the snapshot with the most liquidity, first on ties.
func deepestPair(snaps []domain.EntitySnapshot) domain.EntitySnapshot {
	best := snaps[0]
	for _, s := range snaps[1:] {
		if s.LiquidityUSD > best.LiquidityUSD {
			best = s
		}
	}
	return best
}

func logScore(v float64, decades float64) float64 {
	return math.Log10(1+nonNegative(v)) / decades * 100
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
