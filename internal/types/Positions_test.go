package types

import (
	"math/big"
	"strings"
	"testing"

	sdkmath "cosmossdk.io/math"
)

func TestActiveAtBoundsAreExclusive(t *testing.T) {
	p := Position{TickLower: 100, TickUpper: 200}

	if !p.ActiveAt(150) {
		t.Fatalf("tick inside the range should be active")
	}
	if p.ActiveAt(100) || p.ActiveAt(200) {
		t.Fatalf("ticks on the bounds must be inactive")
	}
	if p.ActiveAt(99) || p.ActiveAt(201) {
		t.Fatalf("ticks outside the range must be inactive")
	}
}

func TestShares(t *testing.T) {
	p := Position{AmountA: 2, AmountB: 6}

	// At price 3, side A is worth 6 of B: an even split.
	if got := p.ShareA(3); got != 0.5 {
		t.Fatalf("ShareA = %f, want 0.5", got)
	}
	if got := p.ShareB(3); got != 0.5 {
		t.Fatalf("ShareB = %f, want 0.5", got)
	}

	empty := Position{}
	if empty.ShareA(3) != 0 || empty.ShareB(3) != 0 {
		t.Fatalf("zero-value position must report zero shares")
	}
}

func TestPoolPrice(t *testing.T) {
	q64 := new(big.Int).Lsh(big.NewInt(1), 64)
	pool := Pool{
		SqrtPrice: sdkmath.NewIntFromBigInt(q64),
		TokenA:    Token{Precision: 8},
		TokenB:    Token{Precision: 8},
	}
	if got := pool.Price(); got != 1.0 {
		t.Fatalf("sqrt price 2^64 with equal precisions should price at 1.0, got %f", got)
	}

	// Decimal adjustment: 8-decimal TokenA vs 6-decimal TokenB scales by 100.
	pool.TokenB.Precision = 6
	if got := pool.Price(); got != 100.0 {
		t.Fatalf("expected decimal-adjusted price 100, got %f", got)
	}

	pool.SqrtPrice = sdkmath.ZeroInt()
	if got := pool.Price(); got != 0 {
		t.Fatalf("degenerate sqrt price should report 0, got %f", got)
	}
}

func TestFeeTierSpacing(t *testing.T) {
	cases := map[FeeTier]int{
		FeeTier001: 1,
		FeeTier005: 10,
		FeeTier030: 60,
		FeeTier100: 200,
		FeeTier(9): 200, // unknown tiers use the widest spacing
	}
	for tier, want := range cases {
		if got := tier.TickSpacing(); got != want {
			t.Fatalf("TickSpacing(%d) = %d, want %d", tier, got, want)
		}
	}
}

// A failed outcome with partial progress must still report the hashes that
// did land, and an empty successful outcome must say nothing was needed.
func TestOutcomeSummary(t *testing.T) {
	failed := RebalanceOutcome{
		RunID:    "run-1",
		PoolID:   "0xpool",
		TxHashes: []string{"0xremove"},
		Errors:   []string{"swap failed: timeout"},
	}
	text := failed.Summary()
	if !strings.Contains(text, "FAILED") || !strings.Contains(text, "0xremove") || !strings.Contains(text, "swap failed") {
		t.Fatalf("failed summary incomplete:\n%s", text)
	}

	noop := RebalanceOutcome{RunID: "run-2", PoolID: "0xpool", Success: true}
	text = noop.Summary()
	if !strings.Contains(text, "SUCCESS") || !strings.Contains(text, "no on-chain actions") {
		t.Fatalf("no-op summary must disambiguate doing nothing from failing:\n%s", text)
	}
}

func TestCycleSummaryRendersIdleCycle(t *testing.T) {
	c := CycleSummary{CycleNumber: 7, Mode: "automatic"}
	text := c.Summary()
	if !strings.Contains(text, "no positions required rebalancing") {
		t.Fatalf("idle cycle summary incomplete:\n%s", text)
	}
}
