/*

This file contains the types for positions which contains all the state needed
for assisting in rebalancing.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// Position is a snapshot of one concentrated-liquidity position. Values are
// refreshed via the reader at every decision point and never cached across
// orchestration steps: a swap changes balances and an external price move
// changes activity status.
type Position struct {
	ID        string    `json:"id"` // position object address
	PoolID    PoolID    `json:"pool_id"`
	TickLower int       `json:"tick_lower"`
	TickUpper int       `json:"tick_upper"`
	CreatedAt time.Time `json:"created_at"`

	// Current token amounts in display units, computed from the position's
	// share of pool liquidity.
	AmountA float64 `json:"amount_a"`
	AmountB float64 `json:"amount_b"`

	RawAmountA sdkmath.Int `json:"raw_amount_a"`
	RawAmountB sdkmath.Int `json:"raw_amount_b"`

	// Accrued but unclaimed trading fees, in display units per side.
	UnclaimedFeeA float64 `json:"unclaimed_fee_a"`
	UnclaimedFeeB float64 `json:"unclaimed_fee_b"`

	// USD-denominated accruals for reporting.
	UnclaimedFeesUSD   float64 `json:"unclaimed_fees_usd"`
	UnclaimedRewardUSD float64 `json:"unclaimed_reward_usd"`
}

// ActiveAt reports whether the position earns fees at the given tick. The
// bounds themselves are inactive: fee accrual requires the price strictly
// inside the range.
func (p Position) ActiveAt(currentTick int) bool {
	return p.TickLower < currentTick && currentTick < p.TickUpper
}

// ValueInB values the position in TokenB display units at the given price.
func (p Position) ValueInB(price float64) float64 {
	return p.AmountA*price + p.AmountB
}

// ShareA returns TokenA's share of the position value in [0, 1] at the given
// price. A zero-value position reports 0.
func (p Position) ShareA(price float64) float64 {
	total := p.ValueInB(price)
	if total <= 0 {
		return 0
	}
	return p.AmountA * price / total
}

// ShareB returns TokenB's share of the position value in [0, 1].
func (p Position) ShareB(price float64) float64 {
	total := p.ValueInB(price)
	if total <= 0 {
		return 0
	}
	return p.AmountB / total
}
