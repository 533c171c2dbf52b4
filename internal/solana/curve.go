package solana

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/shopspring/decimal"
)

// Pump.fun token units: 6 decimals for tokens, 9 for lamports.
var (
	lamportsPerSol   = decimal.New(1, 9)
	tokenUnitsPerOne = decimal.New(1, 6)
)

// BondingCurve is the pump.fun bonding-curve account state.
type BondingCurve struct {
	VirtualTokenReserves uint64
	VirtualSolReserves   uint64
	RealTokenReserves    uint64
	RealSolReserves      uint64
	TokenTotalSupply     uint64
	Complete             bool // migrated off the curve
}

// PriceSol returns the spot price of one whole token in SOL.
func (b BondingCurve) PriceSol() decimal.Decimal {
	if b.VirtualTokenReserves == 0 {
		return decimal.Zero
	}
	sol := decimal.NewFromUint64(b.VirtualSolReserves).Div(lamportsPerSol)
	tokens := decimal.NewFromUint64(b.VirtualTokenReserves).Div(tokenUnitsPerOne)
	return sol.Div(tokens)
}

// RealSol returns the SOL actually deposited in the curve.
func (b BondingCurve) RealSol() decimal.Decimal {
	return decimal.NewFromUint64(b.RealSolReserves).Div(lamportsPerSol)
}

// Supply returns the total supply in whole tokens.
func (b BondingCurve) Supply() decimal.Decimal {
	return decimal.NewFromUint64(b.TokenTotalSupply).Div(tokenUnitsPerOne)
}

// CurveReader reads pump.fun bonding-curve accounts.
type CurveReader struct {
	rpc AccountReader
}

// NewCurveReader creates a reader on rpc.
func NewCurveReader(rpc AccountReader) *CurveReader {
	return &CurveReader{rpc: rpc}
}

// Fetch returns the curve for mint, or nil when no curve account exists.
func (r *CurveReader) Fetch(ctx context.Context, mint string) (*BondingCurve, error) {
	addr, err := BondingCurveAddress(mint)
	if err != nil {
		return nil, err
	}
	info, err := r.rpc.GetAccountInfo(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("get bonding curve %s: %w", addr, err)
	}
	if info == nil {
		return nil, nil
	}
	return parseBondingCurve(info.Data)
}

// BondingCurveAddress derives the curve PDA. Seeds: ["bonding-curve", mint]
func BondingCurveAddress(mint string) (string, error) {
	mintBytes, err := decodeMint(mint)
	if err != nil {
		return "", err
	}
	pda, _, err := FindProgramAddress([][]byte{[]byte("bonding-curve"), mintBytes}, PumpFunProgramID)
	return pda, err
}

// parseBondingCurve decodes: discriminator (8), five u64 fields, complete bool.
func parseBondingCurve(data string) (*BondingCurve, error) {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode bonding curve: %w", err)
	}
	if len(decoded) < 49 {
		return nil, fmt.Errorf("bonding curve data too short: %d", len(decoded))
	}

	u64 := func(off int) uint64 { return binary.LittleEndian.Uint64(decoded[off : off+8]) }
	return &BondingCurve{
		VirtualTokenReserves: u64(8),
		VirtualSolReserves:   u64(16),
		RealTokenReserves:    u64(24),
		RealSolReserves:      u64(32),
		TokenTotalSupply:     u64(40),
		Complete:             decoded[48] != 0,
	}, nil
}
