package scoring

import (
	"fmt"
	"strings"

	"solana-signal-lab/internal/domain"
)

// Entity identifies what is being scored.
type Entity struct {
	Mint   string
	Name   string
	Symbol string
}

const systemPrompt = `You are a Solana memecoin analyst. You judge newly traded tokens from market data.
Answer with a single JSON object and nothing else, using exactly these fields:
{"score": number 0-100, "confidence": number 0-1, "risk": "low"|"medium"|"high",
 "reasoning": string, "probEnterable": number 0-1, "expectedRoiP50": number,
 "expectedRoiP90": number, "category": string (optional)}
expectedRoi values are percentages. Flag "high" risk for thin liquidity, extreme volatility or one-sided flow.`

// BuildPrompt renders the user prompt with the heuristic breakdown and market aggregates.
func BuildPrompt(e Entity, snaps []domain.EntitySnapshot, h domain.HeuristicMetrics) string {
	sum := Summarize(snaps)

	var b strings.Builder
	fmt.Fprintf(&b, "Token: %s", e.Mint)
	if e.Symbol != "" {
		fmt.Fprintf(&b, " ($%s)", e.Symbol)
	}
	if e.Name != "" {
		fmt.Fprintf(&b, " %q", e.Name)
	}
	b.WriteString("\n\nMarket aggregates:\n")
	fmt.Fprintf(&b, "- 24h volume: $%.0f\n", sum.VolumeH24)
	fmt.Fprintf(&b, "- Liquidity: $%.0f\n", sum.LiquidityUSD)
	fmt.Fprintf(&b, "- Market cap: $%.0f\n", sum.MarketCapUSD)
	fmt.Fprintf(&b, "- 24h transactions: %d\n", sum.TxnsH24)
	fmt.Fprintf(&b, "- 24h price change: %.2f%%\n", sum.PriceChangeH24)
	fmt.Fprintf(&b, "- Pairs: %d\n", sum.SnapshotCount)

	for i, s := range snaps {
		if i == 5 {
			fmt.Fprintf(&b, "  (+%d more pairs)\n", len(snaps)-i)
			break
		}
		fmt.Fprintf(&b, "  * %s %s: price $%.8g, liq $%.0f, vol h1 $%.0f, change m5 %.2f%% h1 %.2f%%, h1 buys/sells %d/%d\n",
			s.DexID, s.PairAddress, s.PriceUSD, s.LiquidityUSD, s.Volume.H1,
			s.PriceChange.M5, s.PriceChange.H1, s.Txns.H1.Buys, s.Txns.H1.Sells)
	}

	b.WriteString("\nHeuristic sub-scores (0-100):\n")
	fmt.Fprintf(&b, "- volume %.1f, liquidity %.1f, price action %.1f\n", h.Volume, h.Liquidity, h.PriceAction)
	fmt.Fprintf(&b, "- social %.1f, risk %.1f (higher is safer), momentum %.1f\n", h.Social, h.Risk, h.Momentum)
	fmt.Fprintf(&b, "- weighted total %.1f\n", h.Total)
	return b.String()
}
