package scoring

import (
	"solana-signal-lab/internal/domain"
)

// DefaultAIWeight is the share of the AI score in the final score.
const DefaultAIWeight = 0.4

// Blend returns final = total*(1-w) + ai*w and the stricter of the heuristic
// and AI risk tiers. A fallback judgment leaves the heuristic total as is.
func Blend(h domain.HeuristicMetrics, j domain.AIJudgment, aiWeight float64, t RiskThresholds) (float64, domain.RiskTier) {
	risk := domain.MaxRisk(t.Tier(h), j.Risk)
	if j.Fallback {
		return h.Total, risk
	}
	return clamp(h.Total*(1-aiWeight) + j.Score*aiWeight), risk
}

// Compose builds the ScoreResult. It is pure: equal inputs give equal results.
func Compose(e Entity, snaps []domain.EntitySnapshot, h domain.HeuristicMetrics, j domain.AIJudgment, aiWeight float64, t RiskThresholds, scoredAt int64) domain.ScoreResult {
	final, risk := Blend(h, j, aiWeight, t)

	res := domain.ScoreResult{
		Mint:           e.Mint,
		Name:           e.Name,
		Symbol:         e.Symbol,
		Heuristics:     h,
		HeuristicTotal: h.Total,
		Final:          final,
		Confidence:     j.Confidence,
		Risk:           risk,
		Reasoning:      j.Reasoning,
		Category:       j.Category,
		Market:         Summarize(snaps),
		ScoredAt:       scoredAt,
	}
	if j.Fallback {
		if res.Confidence > MaxFallbackConfidence {
			res.Confidence = MaxFallbackConfidence
		}
	} else {
		score := j.Score
		res.AIScore = &score
	}
	return res
}
