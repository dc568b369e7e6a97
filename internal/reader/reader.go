package reader

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aeither/AptosDeFiHub/internal/config"
	"github.com/aeither/AptosDeFiHub/internal/dex"
	"github.com/aeither/AptosDeFiHub/internal/logger"
	"github.com/aeither/AptosDeFiHub/internal/types"
)

// Decision is the outcome of a needs-rebalancing check.
type Decision struct {
	Required bool   `json:"required"`
	Reason   string `json:"reason"`
}

// Reader fetches position state and classifies positions against pool policy.
type Reader struct {
	source dex.PositionSource
	params config.Parameters
	logger zerolog.Logger
}

// New creates a Reader over the given position source.
func New(source dex.PositionSource, params config.Parameters) *Reader {
	return &Reader{
		source: source,
		params: params,
		logger: logger.GetForComponent("position_reader"),
	}
}

// ListPositions returns all positions of the account, optionally filtered to
// one pool. Empty poolID means all pools.
func (r *Reader) ListPositions(ctx context.Context, account string, poolID types.PoolID) ([]types.Position, error) {
	positions, err := r.source.FetchPositions(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch positions for %s: %w", account, err)
	}
	if poolID == "" {
		return positions, nil
	}
	filtered := positions[:0]
	for _, p := range positions {
		if p.PoolID == poolID {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// Classify refreshes a position's token amounts and applies the policy check.
// If the amount read fails, it falls back conservatively to inactivity alone
// rather than failing the caller's batch.
func (r *Reader) Classify(ctx context.Context, pos types.Position, pool types.Pool, cfg types.PoolConfig) Decision {
	amountA, amountB, err := r.source.FetchTokenAmounts(ctx, pos.ID)
	if err != nil {
		r.logger.Warn().Err(err).
			Str("positionID", pos.ID).
			Msg("Token amount read failed, falling back to activity-only classification")
		if !pos.ActiveAt(pool.CurrentTick) {
			return Decision{Required: true, Reason: fmt.Sprintf(
				"amount read failed and position is inactive (tick %d outside (%d, %d))",
				pool.CurrentTick, pos.TickLower, pos.TickUpper)}
		}
		return Decision{Required: false, Reason: "amount read failed; position still active"}
	}
	pos.AmountA = amountA
	pos.AmountB = amountB
	return r.NeedsRebalancing(pos, pool, cfg)
}

// NeedsRebalancing applies the pool's trigger policy to a position snapshot.
//
// Tightest-range pools (RangePercent nil) ride until depleted: flagged only
// when inactive or when a side's share of value is exactly zero. Custom-range
// pools rebalance early: flagged when either side's share drops strictly
// below the trigger percentage. Tight ranges ride for minimal churn; custom
// ranges rebalance early to keep liquidity two-sided.
func (r *Reader) NeedsRebalancing(pos types.Position, pool types.Pool, cfg types.PoolConfig) Decision {
	price := pool.Price()
	shareA := pos.ShareA(price)
	shareB := pos.ShareB(price)
	active := pos.ActiveAt(pool.CurrentTick)

	if cfg.RangePercent == nil {
		if !active {
			return Decision{Required: true, Reason: fmt.Sprintf(
				"position is inactive (tick %d outside (%d, %d))",
				pool.CurrentTick, pos.TickLower, pos.TickUpper)}
		}
		if shareA == 0 {
			return Decision{Required: true, Reason: fmt.Sprintf("%s side fully depleted", pool.TokenA.Symbol)}
		}
		if shareB == 0 {
			return Decision{Required: true, Reason: fmt.Sprintf("%s side fully depleted", pool.TokenB.Symbol)}
		}
		return Decision{Required: false, Reason: "position active with two-sided liquidity"}
	}

	trigger := r.params.CustomRangeTriggerPct
	if shareA*100 < trigger {
		return Decision{Required: true, Reason: fmt.Sprintf(
			"%s share %.2f%% below %.0f%% threshold", pool.TokenA.Symbol, shareA*100, trigger)}
	}
	if shareB*100 < trigger {
		return Decision{Required: true, Reason: fmt.Sprintf(
			"%s share %.2f%% below %.0f%% threshold", pool.TokenB.Symbol, shareB*100, trigger)}
	}
	return Decision{Required: false, Reason: "both sides above threshold"}
}

// TargetRange computes the tick bounds a replacement position should use under
// the pool's policy, at the pool's current price.
func (r *Reader) TargetRange(pool types.Pool, cfg types.PoolConfig) (tickLower, tickUpper int) {
	if cfg.RangePercent == nil {
		return TightestRange(pool.CurrentTick, pool.FeeTier.TickSpacing())
	}
	return RangeForPercent(pool, *cfg.RangePercent)
}
