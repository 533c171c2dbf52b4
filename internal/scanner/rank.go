package scanner

import (
	"fmt"
	"sort"
	"strings"

	"solana-signal-lab/internal/domain"
)

// Filters are the inclusive lower bounds a score must meet to become a signal.
type Filters struct {
	MinScore        float64
	MinVolumeUSD    float64
	MinLiquidityUSD float64
	MinConfidence   float64
	MinTxns         int
	MinMarketCapUSD float64
	MaxMarketCapUSD float64 // 0 disables the upper bound
}

// Accept reports whether r passes every filter.
func (f Filters) Accept(r *domain.ScoreResult) bool {
	m := r.Market
	switch {
	case r.Final < f.MinScore:
		return false
	case m.VolumeH24 < f.MinVolumeUSD:
		return false
	case m.LiquidityUSD < f.MinLiquidityUSD:
		return false
	case r.Confidence < f.MinConfidence:
		return false
	case m.TxnsH24 < f.MinTxns:
		return false
	case m.MarketCapUSD < f.MinMarketCapUSD:
		return false
	case f.MaxMarketCapUSD > 0 && m.MarketCapUSD > f.MaxMarketCapUSD:
		return false
	}
	return true
}

// Rank orders results for publication and returns a new slice.
// Results are grouped into noise bands: a band starts at the highest
// remaining score and holds every score less than noise below it. Bands
// rank by score. Within a band results rank by confidence, then 24h volume,
// then mint. Input order does not affect output.
func Rank(results []*domain.ScoreResult, noise float64) []*domain.ScoreResult {
	out := append([]*domain.ScoreResult(nil), results...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Final != out[j].Final {
			return out[i].Final > out[j].Final
		}
		return out[i].Mint < out[j].Mint
	})

	for start := 0; start < len(out); {
		top := out[start].Final
		end := start + 1
		for end < len(out) && (out[end].Final == top || top-out[end].Final < noise) {
			end++
		}
		band := out[start:end]
		sort.Slice(band, func(i, j int) bool {
			a, b := band[i], band[j]
			if a.Confidence != b.Confidence {
				return a.Confidence > b.Confidence
			}
			if a.Market.VolumeH24 != b.Market.VolumeH24 {
				return a.Market.VolumeH24 > b.Market.VolumeH24
			}
			return a.Mint < b.Mint
		})
		start = end
	}
	return out
}

// BuildGeneration filters, ranks and truncates results into a generation.
func BuildGeneration(results []*domain.ScoreResult, f Filters, noise float64, topN int, generatedAt, intervalMs int64) *domain.Generation {
	var kept []*domain.ScoreResult
	for _, r := range results {
		if f.Accept(r) {
			kept = append(kept, r)
		}
	}
	ranked := Rank(kept, noise)
	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}

	signals := make([]domain.Signal, 0, len(ranked))
	for i, r := range ranked {
		signals = append(signals, domain.Signal{
			Mint:          r.Mint,
			Symbol:        r.Symbol,
			Score:         r.Final,
			Confidence:    r.Confidence,
			Risk:          r.Risk,
			Rank:          i + 1,
			Justification: Justify(r, f),
			VolumeH24:     r.Market.VolumeH24,
			LiquidityUSD:  r.Market.LiquidityUSD,
			GeneratedAt:   generatedAt,
		})
	}
	return &domain.Generation{
		GeneratedAt: generatedAt,
		IntervalMs:  intervalMs,
		Considered:  len(results),
		Signals:     signals,
	}
}

// Justify describes the thresholds r crossed.
func Justify(r *domain.ScoreResult, f Filters) string {
	m := r.Market
	parts := []string{fmt.Sprintf("score %.1f (min %.0f)", r.Final, f.MinScore)}
	if f.MinVolumeUSD > 0 {
		parts = append(parts, fmt.Sprintf("24h volume %s (min %s)", usd(m.VolumeH24), usd(f.MinVolumeUSD)))
	} else {
		parts = append(parts, "24h volume "+usd(m.VolumeH24))
	}
	if f.MinLiquidityUSD > 0 {
		parts = append(parts, fmt.Sprintf("liquidity %s (min %s)", usd(m.LiquidityUSD), usd(f.MinLiquidityUSD)))
	} else {
		parts = append(parts, "liquidity "+usd(m.LiquidityUSD))
	}
	parts = append(parts, fmt.Sprintf("%d txns/24h", m.TxnsH24))
	if m.PriceChangeH24 != 0 {
		parts = append(parts, fmt.Sprintf("24h change %+.1f%%", m.PriceChangeH24))
	}
	parts = append(parts, fmt.Sprintf("confidence %.2f", r.Confidence), "risk "+string(r.Risk))
	if r.AIScore == nil {
		parts = append(parts, "heuristic only")
	}
	return strings.Join(parts, "; ")
}

func usd(v float64) string {
	switch {
	case v >= 1e9:
		return fmt.Sprintf("$%.2fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("$%.2fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("$%.1fK", v/1e3)
	}
	return fmt.Sprintf("$%.0f", v)
}
