package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"solana-signal-lab/internal/domain"
)

// WrappedSolMint is the wSOL mint used to price SOL in USD.
const WrappedSolMint = "So11111111111111111111111111111111111111112"

const solPriceTTL = 60 * time.Second

// SolPricer returns the current SOL/USD price.
type SolPricer interface {
	SolPriceUSD(ctx context.Context) (float64, error)
}

// dexSolPrice holds the last SOL/USD reading from the deepest wSOL pair.
type dexSolPrice struct {
	mu      sync.Mutex
	price   float64
	fetched time.Time
}

// SolPriceUSD returns the wSOL price of the deepest Solana pair, cached for 60s.
func (d *DexScreener) SolPriceUSD(ctx context.Context) (float64, error) {
	d.sol.mu.Lock()
	defer d.sol.mu.Unlock()

	if d.sol.price > 0 && d.now().Sub(d.sol.fetched) < solPriceTTL {
		return d.sol.price, nil
	}

	pairs, err := d.pairs(ctx, WrappedSolMint)
	if err != nil {
		return 0, err
	}
	var best float64
	var depth float64
	for _, p := range pairs {
		if p.BaseToken.Address != WrappedSolMint || p.Liquidity == nil {
			continue
		}
		if price := p.priceUSD(); price > 0 && p.Liquidity.USD > depth {
			best, depth = price, p.Liquidity.USD
		}
	}
	if best == 0 {
		return 0, fmt.Errorf("sol price: %w", domain.ErrNoMarketData)
	}
	d.sol.price = best
	d.sol.fetched = d.now()
	return best, nil
}
