package domain

// Signal is one ranked output entry.
type Signal struct {
	Mint          string   `json:"mint"`
	Symbol        string   `json:"symbol,omitempty"`
	Score         float64  `json:"score"`
	Confidence    float64  `json:"confidence"`
	Risk          RiskTier `json:"risk"`
	Rank          int      `json:"rank"` // 1-based
	Justification string   `json:"justification"`
	VolumeH24     float64  `json:"volumeH24"`
	LiquidityUSD  float64  `json:"liquidityUsd"`
	GeneratedAt   int64    `json:"generatedAt"` // Unix ms
}

// Generation is one complete ranked output, versioned by GeneratedAt.
type Generation struct {
	GeneratedAt int64    `json:"generatedAt"` // Unix ms
	IntervalMs  int64    `json:"intervalMs"`
	Considered  int      `json:"considered"` // candidates before filtering
	Signals     []Signal `json:"signals"`
}
