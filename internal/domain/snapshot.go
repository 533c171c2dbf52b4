package domain

// Windowed holds a value per rolling window.
type Windowed struct {
	M5  float64 `json:"m5"`
	H1  float64 `json:"h1"`
	H6  float64 `json:"h6"`
	H24 float64 `json:"h24"`
}

// TxnCount is a buy/sell split for a window.
type TxnCount struct {
	Buys  int `json:"buys"`
	Sells int `json:"sells"`
}

// Total returns buys plus sells.
func (t TxnCount) Total() int {
	return t.Buys + t.Sells
}

// TxnWindows holds transaction counts per rolling window.
type TxnWindows struct {
	M5  TxnCount `json:"m5"`
	H1  TxnCount `json:"h1"`
	H6  TxnCount `json:"h6"`
	H24 TxnCount `json:"h24"`
}

// Snapshot provenance values.
const (
	ProvenanceDexScreener = "dexscreener"
	ProvenancePumpCurve   = "pumpfun-curve"
)

// EntitySnapshot is one market-data reading for one venue/pair of an entity.
type EntitySnapshot struct {
	Mint         string     `json:"mint"`
	PairAddress  string     `json:"pairAddress"`
	DexID        string     `json:"dexId"`
	BaseName     string     `json:"baseName,omitempty"`
	BaseSymbol   string     `json:"baseSymbol,omitempty"`
	PriceUSD     float64    `json:"priceUsd"`
	Volume       Windowed   `json:"volume"`
	LiquidityUSD float64    `json:"liquidityUsd"`
	MarketCapUSD float64    `json:"marketCapUsd"`
	PriceChange  Windowed   `json:"priceChange"` // percent
	Txns         TxnWindows `json:"txns"`
	Provenance   string     `json:"provenance"`
	CapturedAt   int64      `json:"capturedAt"` // Unix ms
}
