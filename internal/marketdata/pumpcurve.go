package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"solana-signal-lab/internal/domain"
	"solana-signal-lab/internal/solana"
)

// CurveFetcher reads a pump.fun bonding curve.
type CurveFetcher interface {
	Fetch(ctx context.Context, mint string) (*solana.BondingCurve, error)
}

// PumpCurve builds a single snapshot from the on-chain bonding curve, for
// tokens that trade on pump.fun and are not yet listed elsewhere.
type PumpCurve struct {
	curves CurveFetcher
	sol    SolPricer
	now    func() time.Time
}

// NewPumpCurve creates the curve source.
func NewPumpCurve(curves CurveFetcher, sol SolPricer) *PumpCurve {
	return &PumpCurve{curves: curves, sol: sol, now: time.Now}
}

// Name implements Source.
func (p *PumpCurve) Name() string { return domain.ProvenancePumpCurve }

// Fetch returns no data for missing or completed curves.
func (p *PumpCurve) Fetch(ctx context.Context, mint string) ([]domain.EntitySnapshot, error) {
	curve, err := p.curves.Fetch(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("pump curve: %w", err)
	}
	if curve == nil || curve.Complete {
		return nil, nil
	}

	solUSD, err := p.sol.SolPriceUSD(ctx)
	if err != nil {
		return nil, fmt.Errorf("pump curve: %w", err)
	}
	usd := decimal.NewFromFloat(solUSD)

	addr, _ := solana.BondingCurveAddress(mint)
	price := curve.PriceSol().Mul(usd)
	snap := domain.EntitySnapshot{
		Mint:         mint,
		PairAddress:  addr,
		DexID:        "pumpfun",
		PriceUSD:     price.InexactFloat64(),
		MarketCapUSD: price.Mul(curve.Supply()).InexactFloat64(),
		// Both sides of the curve: real SOL plus its token-side equivalent.
		LiquidityUSD: curve.RealSol().Mul(usd).Mul(decimal.NewFromInt(2)).InexactFloat64(),
		Provenance:   domain.ProvenancePumpCurve,
		CapturedAt:   p.now().UnixMilli(),
	}
	return []domain.EntitySnapshot{snap}, nil
}
