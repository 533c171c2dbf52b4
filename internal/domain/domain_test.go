package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMaxRisk(t *testing.T) {
	tests := []struct {
		a, b RiskTier
		want RiskTier
	}{
		{RiskLow, RiskLow, RiskLow},
		{RiskLow, RiskMedium, RiskMedium},
		{RiskHigh, RiskMedium, RiskHigh},
		{RiskMedium, RiskHigh, RiskHigh},
		{RiskTier("bogus"), RiskLow, RiskLow},
		{RiskTier(""), RiskHigh, RiskHigh},
	}
	for _, tt := range tests {
		if got := MaxRisk(tt.a, tt.b); got != tt.want {
			t.Errorf("MaxRisk(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestEventKindScorable(t *testing.T) {
	for _, k := range []EventKind{EventKindCreation, EventKindTrade, EventKindMigration} {
		if !k.Scorable() {
			t.Errorf("%s should be scorable", k)
		}
	}
	if EventKindUnknown.Scorable() {
		t.Error("unknown should not be scorable")
	}
	if EventKind("other").IsValid() {
		t.Error("unexpected kind reported valid")
	}
}

func TestRateLimitedError(t *testing.T) {
	err := fmt.Errorf("dexscreener: %w", &RateLimitedError{Key: "dex", RetryAfter: 2 * time.Second})

	if !errors.Is(err, ErrRateLimited) {
		t.Fatal("expected errors.Is to match ErrRateLimited")
	}
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatal("expected errors.As to find RateLimitedError")
	}
	if rl.RetryAfter != 2*time.Second {
		t.Errorf("RetryAfter = %v", rl.RetryAfter)
	}
}

func TestTxnCountTotal(t *testing.T) {
	if got := (TxnCount{Buys: 3, Sells: 4}).Total(); got != 7 {
		t.Errorf("Total() = %d, want 7", got)
	}
}
