package scoring

import "solana-signal-lab/internal/domain"

// RiskThresholds map heuristic sub-scores to a tier. A sub-score strictly
// below a threshold escalates.
type RiskThresholds struct {
	HighBelow      float64
	MediumBelow    float64
	LiquidityBelow float64
}

// DefaultRiskThresholds returns 40/70 on the risk sub-score and 30 on liquidity.
func DefaultRiskThresholds() RiskThresholds {
	return RiskThresholds{HighBelow: 40, MediumBelow: 70, LiquidityBelow: 30}
}

// Tier classifies heuristics. Thin liquidity is always high risk.
func (t RiskThresholds) Tier(h domain.HeuristicMetrics) domain.RiskTier {
	switch {
	case h.Risk < t.HighBelow || h.Liquidity < t.LiquidityBelow:
		return domain.RiskHigh
	case h.Risk < t.MediumBelow:
		return domain.RiskMedium
	}
	return domain.RiskLow
}
