/*

This is a custom type for pools which contains all the state needed for deciding
tick ranges and token ratios on a concentrated-liquidity pool.

*/

package types

import (
	"math"
	"math/big"

	sdkmath "cosmossdk.io/math"
)

// PoolID is the on-chain object address of a concentrated-liquidity pool.
type PoolID string

// FeeTier selects the trading fee percentage and the associated tick spacing.
type FeeTier int

const (
	FeeTier001 FeeTier = iota // 0.01%
	FeeTier005                // 0.05%
	FeeTier030                // 0.30%
	FeeTier100                // 1.00%
)

// feeTierSpacings maps fee tiers to their tick spacing granularity.
var feeTierSpacings = map[FeeTier]int{
	FeeTier001: 1,
	FeeTier005: 10,
	FeeTier030: 60,
	FeeTier100: 200,
}

// TickSpacing returns the tick spacing for this fee tier. Unknown tiers fall
// back to the widest spacing so derived ranges are never under-aligned.
func (f FeeTier) TickSpacing() int {
	if s, ok := feeTierSpacings[f]; ok {
		return s
	}
	return 200
}

// Pool is an immutable snapshot of a concentrated-liquidity pool. It is
// re-fetched before every decision point because price moves between steps.
type Pool struct {
	ID          PoolID      `json:"id"`
	CurrentTick int         `json:"current_tick"`
	SqrtPrice   sdkmath.Int `json:"sqrt_price"` // Q64.64 fixed-point sqrt of the raw price
	FeeTier     FeeTier     `json:"fee_tier"`
	TokenA      Token       `json:"token_a"`
	TokenB      Token       `json:"token_b"`
}

// Price returns the pool's spot price in display units of TokenB per TokenA:
// (sqrtPrice / 2^64)^2 * 10^(precisionA - precisionB).
func (p Pool) Price() float64 {
	if p.SqrtPrice.IsNil() || !p.SqrtPrice.IsPositive() {
		return 0
	}
	sqrt := new(big.Float).SetInt(p.SqrtPrice.BigInt())
	q64 := new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 64))
	ratio, _ := new(big.Float).Quo(sqrt, q64).Float64()
	return ratio * ratio * math.Pow(10, float64(p.TokenA.Precision-p.TokenB.Precision))
}

// PoolConfig is the operator policy for one pool.
type PoolConfig struct {
	PoolID  PoolID `json:"pool_id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`

	// RangePercent selects the rebalancing policy: nil means "tightest range"
	// (one tick-spacing band around the current tick, ridden until a side is
	// fully depleted); a value means a symmetric percentage band around the
	// current price, rebalanced early to preserve two-sided liquidity.
	RangePercent *float64 `json:"range_percent"`

	// StablePair marks pools whose two tokens track the same underlying
	// (e.g. APT/stkAPT). Both balances near zero on such a pool indicates a
	// balance-fetch fault rather than a real state, and swaps are suppressed.
	StablePair bool `json:"stable_pair"`
}
