package domain

// RiskTier is an ordered risk classification.
type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// IsValid reports whether r is a known tier.
func (r RiskTier) IsValid() bool {
	return r == RiskLow || r == RiskMedium || r == RiskHigh
}

func (r RiskTier) rank() int {
	switch r {
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	}
	return 0
}

// MaxRisk returns the stricter of two tiers.
func MaxRisk(a, b RiskTier) RiskTier {
	if b.rank() > a.rank() {
		return b
	}
	if !a.IsValid() {
		return RiskLow
	}
	return a
}

// HeuristicMetrics are the deterministic sub-scores, each in [0,100].
type HeuristicMetrics struct {
	Volume      float64 `json:"volume"`
	Liquidity   float64 `json:"liquidity"`
	PriceAction float64 `json:"priceAction"`
	Social      float64 `json:"social"`
	Risk        float64 `json:"risk"` // higher is safer
	Momentum    float64 `json:"momentum"`
	Total       float64 `json:"total"`
}

// AIJudgment is the parsed external judgment, or the heuristic fallback.
type AIJudgment struct {
	Score          float64  `json:"score"`
	Confidence     float64  `json:"confidence"`
	Risk           RiskTier `json:"risk"`
	Reasoning      string   `json:"reasoning"`
	ProbEnterable  float64  `json:"probEnterable"`
	ExpectedROIP50 float64  `json:"expectedRoiP50"`
	ExpectedROIP90 float64  `json:"expectedRoiP90"`
	Category       string   `json:"category,omitempty"`
	Fallback       bool     `json:"fallback"`
}

// MarketSummary carries the aggregates used for filtering and ranking.
type MarketSummary struct {
	VolumeH24      float64 `json:"volumeH24"`
	LiquidityUSD   float64 `json:"liquidityUsd"`
	MarketCapUSD   float64 `json:"marketCapUsd"`
	TxnsH24        int     `json:"txnsH24"`
	PriceChangeH24 float64 `json:"priceChangeH24"`
	SnapshotCount  int     `json:"snapshotCount"`
}

// ScoreResult is the final, immutable scoring outcome for one entity.
type ScoreResult struct {
	Mint           string           `json:"mint"`
	Name           string           `json:"name,omitempty"`
	Symbol         string           `json:"symbol,omitempty"`
	Heuristics     HeuristicMetrics `json:"heuristics"`
	HeuristicTotal float64          `json:"heuristicTotal"`
	AIScore        *float64         `json:"aiScore,omitempty"` // nil when the AI judgment fell back
	Final          float64          `json:"final"`
	Confidence     float64          `json:"confidence"`
	Risk           RiskTier         `json:"risk"`
	Reasoning      string           `json:"reasoning"`
	Category       string           `json:"category,omitempty"`
	Market         MarketSummary    `json:"market"`
	ScoredAt       int64            `json:"scoredAt"` // Unix ms
}
