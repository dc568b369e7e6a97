/*

This file contains the derived value objects produced while planning and
executing a rebalance, plus the structured outcome reported to callers.

*/

package types

import (
	"fmt"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
)

// RatioResult is an ephemeral decision artifact: never persisted, recomputed
// fresh at each decision point since it depends on live price and balances.
type RatioResult struct {
	TickLower int     `json:"tick_lower"`
	TickUpper int     `json:"tick_upper"`
	FeeTier   FeeTier `json:"fee_tier"`

	// Wallet balances at computation time, display units.
	BalanceA float64 `json:"balance_a"`
	BalanceB float64 `json:"balance_b"`

	// AvailableA is BalanceA minus the gas reserve when TokenA is native.
	AvailableA float64 `json:"available_a"`

	// LiquidityRatio is the TokenB amount required per unit of TokenA to
	// deposit into the target range at the current price.
	LiquidityRatio float64 `json:"liquidity_ratio"`

	MarketPrice float64 `json:"market_price"`

	OptimalA float64 `json:"optimal_a"`
	OptimalB float64 `json:"optimal_b"`

	// Swap is non-nil when the imbalance exceeds the minimum swap threshold
	// and the donor side can cover it.
	Swap *SwapRecommendation `json:"swap,omitempty"`
}

// SwapRecommendation describes the trade that brings wallet balances into the
// target ratio. Amount is in display units of From.
type SwapRecommendation struct {
	From   Token   `json:"from"`
	To     Token   `json:"to"`
	Amount float64 `json:"amount"`
}

// Allocation is the deposit sizing chosen by the allocation search.
type Allocation struct {
	AmountA float64 `json:"amount_a"`
	AmountB float64 `json:"amount_b"`

	RawA sdkmath.Int `json:"raw_a"`
	RawB sdkmath.Int `json:"raw_b"`

	// UtilizationPct is the fraction of available TokenA committed, in [0, 1].
	UtilizationPct float64 `json:"utilization_pct"`
}

// SwapExecution records one swap actually submitted on-chain.
type SwapExecution struct {
	FromSymbol string  `json:"from_symbol"`
	ToSymbol   string  `json:"to_symbol"`
	Amount     float64 `json:"amount"`
	TxHash     string  `json:"tx_hash"`
}

// CreatedPosition records one position opened by a workflow.
type CreatedPosition struct {
	PositionID string `json:"position_id"` // empty if the id could not be resolved post-create
	PoolID     PoolID `json:"pool_id"`
	TickLower  int    `json:"tick_lower"`
	TickUpper  int    `json:"tick_upper"`
	TxHash     string `json:"tx_hash"`
}

// RebalanceOutcome is the structured result of one orchestrator run. Partial
// progress (hashes, swaps) is always preserved so callers can render a
// "what actually happened" summary even from a failed terminal state.
type RebalanceOutcome struct {
	RunID   string `json:"run_id"`
	PoolID  PoolID `json:"pool_id"`
	Success bool   `json:"success"`

	TxHashes         []string          `json:"tx_hashes"`
	Swaps            []SwapExecution   `json:"swaps"`
	CreatedPositions []CreatedPosition `json:"created_positions"`
	RemovedPositions []string          `json:"removed_positions"`
	Errors           []string          `json:"errors"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// AddError appends a sub-step failure to the outcome's error list.
func (o *RebalanceOutcome) AddError(format string, args ...any) {
	o.Errors = append(o.Errors, fmt.Sprintf(format, args...))
}

// Summary renders the human-readable report for the notification sink. It
// always disambiguates "nothing needed doing" from "something failed".
func (o *RebalanceOutcome) Summary() string {
	var b strings.Builder
	status := "SUCCESS"
	if !o.Success {
		status = "FAILED"
	}
	fmt.Fprintf(&b, "Rebalance %s [pool %s, run %s]\n", status, o.PoolID, o.RunID)
	fmt.Fprintf(&b, "removed=%d swapped=%d created=%d tx=%d\n",
		len(o.RemovedPositions), len(o.Swaps), len(o.CreatedPositions), len(o.TxHashes))
	for _, s := range o.Swaps {
		fmt.Fprintf(&b, "swap %.6f %s -> %s (%s)\n", s.Amount, s.FromSymbol, s.ToSymbol, s.TxHash)
	}
	for _, h := range o.TxHashes {
		fmt.Fprintf(&b, "tx %s\n", h)
	}
	if len(o.Errors) == 0 {
		if len(o.TxHashes) == 0 {
			b.WriteString("no on-chain actions were required\n")
		}
	} else {
		for _, e := range o.Errors {
			fmt.Fprintf(&b, "error: %s\n", e)
		}
	}
	return b.String()
}

// CycleSummary aggregates one batch controller cycle across pools.
type CycleSummary struct {
	CycleNumber int    `json:"cycle_number"`
	CycleID     string `json:"cycle_id"`
	Mode        string `json:"mode"`

	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Deferred  int `json:"deferred"` // candidates pushed past the circuit breaker

	Outcomes []RebalanceOutcome `json:"outcomes"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Summary renders the end-of-cycle report with per-item results.
func (c *CycleSummary) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cycle %d (%s): processed=%d succeeded=%d failed=%d deferred=%d\n",
		c.CycleNumber, c.Mode, c.Processed, c.Succeeded, c.Failed, c.Deferred)
	if c.Processed == 0 {
		b.WriteString("no positions required rebalancing\n")
	}
	for i := range c.Outcomes {
		b.WriteString(c.Outcomes[i].Summary())
	}
	return b.String()
}
