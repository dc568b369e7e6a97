package ratio

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/aeither/AptosDeFiHub/internal/config"
	"github.com/aeither/AptosDeFiHub/internal/dex"
	"github.com/aeither/AptosDeFiHub/internal/logger"
	"github.com/aeither/AptosDeFiHub/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidTickRange   = errors.New("tick range is invalid")
	ErrInvalidPrice       = errors.New("pool price is invalid")
	ErrOracleQueryFailed  = errors.New("liquidity oracle query failed")
	ErrDegenerateRatio    = errors.New("liquidity ratio is not finite")
	ErrBalancesUnreadable = errors.New("both balances near zero on a stable pair, likely a fetch fault")
)

// Calculator derives the balanced token allocation and any corrective swap
// for a target tick range.
type Calculator struct {
	oracle dex.LiquidityOracle
	params config.Parameters
	logger zerolog.Logger
}

// New creates a Calculator over the given oracle.
func New(oracle dex.LiquidityOracle, params config.Parameters) *Calculator {
	return &Calculator{
		oracle: oracle,
		params: params,
		logger: logger.GetForComponent("ratio_calculator"),
	}
}

// Compute derives the RatioResult for depositing into [tickLower, tickUpper)
// from the given wallet balances (display units). Balances are live values
// read just before the call; the result is ephemeral and must be recomputed
// after anything that can move price or balances.
func (c *Calculator) Compute(ctx context.Context, pool types.Pool, cfg types.PoolConfig, tickLower, tickUpper int, balanceA, balanceB float64) (*types.RatioResult, error) {
	spacing := pool.FeeTier.TickSpacing()
	if tickLower >= tickUpper || tickLower%spacing != 0 || tickUpper%spacing != 0 {
		return nil, fmt.Errorf("%w: [%d, %d) with spacing %d", ErrInvalidTickRange, tickLower, tickUpper, spacing)
	}

	price := pool.Price()
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return nil, fmt.Errorf("%w: %f", ErrInvalidPrice, price)
	}

	availableA := balanceA
	if pool.TokenA.IsNative {
		availableA = balanceA - c.params.NativeGasReserve
		if availableA < 0 {
			availableA = 0
		}
	}

	// A stable pair with both sides near zero is a balance-fetch fault, not a
	// real wallet state; acting on it would swap phantom funds. One low side
	// is the normal post-depletion state and proceeds.
	if cfg.StablePair && availableA < c.params.StablePairNearZero && balanceB < c.params.StablePairNearZero {
		c.logger.Warn().
			Str("pool", string(pool.ID)).
			Float64("availableA", availableA).
			Float64("balanceB", balanceB).
			Msg("Both stable-pair balances near zero, suppressing swap recommendation")
		return nil, ErrBalancesUnreadable
	}

	// Probe the marginal ratio with a fixed large test amount so the answer
	// does not depend on actual wallet size.
	neededB, err := c.oracle.EstimatePairedAmount(ctx, pool, c.params.OracleTestAmount, tickLower, tickUpper)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOracleQueryFailed, err)
	}
	liquidityRatio := neededB / c.params.OracleTestAmount
	if math.IsNaN(liquidityRatio) || math.IsInf(liquidityRatio, 0) || liquidityRatio < 0 {
		return nil, fmt.Errorf("%w: %f", ErrDegenerateRatio, liquidityRatio)
	}

	totalValueInB := availableA*price + balanceB
	optimalA := totalValueInB / (price + liquidityRatio)
	optimalB := optimalA * liquidityRatio

	result := &types.RatioResult{
		TickLower:      tickLower,
		TickUpper:      tickUpper,
		FeeTier:        pool.FeeTier,
		BalanceA:       balanceA,
		BalanceB:       balanceB,
		AvailableA:     availableA,
		LiquidityRatio: liquidityRatio,
		MarketPrice:    price,
		OptimalA:       optimalA,
		OptimalB:       optimalB,
	}

	deficitA := optimalA - availableA
	deficitB := optimalB - balanceB

	c.logger.Debug().
		Str("pool", string(pool.ID)).
		Float64("price", price).
		Float64("liquidityRatio", liquidityRatio).
		Float64("optimalA", optimalA).
		Float64("optimalB", optimalB).
		Float64("deficitA", deficitA).
		Float64("deficitB", deficitB).
		Msg("Computed balanced allocation")

	switch {
	case deficitA > c.params.MinSwapThreshold:
		// Need more TokenA: donate from the TokenB surplus.
		amountB := deficitA * price
		if amountB <= balanceB {
			result.Swap = &types.SwapRecommendation{From: pool.TokenB, To: pool.TokenA, Amount: amountB}
		} else {
			c.logger.Warn().Float64("needed", amountB).Float64("balanceB", balanceB).
				Msg("TokenB balance cannot cover the deficit swap, skipping recommendation")
		}
	case deficitB > c.params.MinSwapThreshold:
		amountA := deficitB / price
		if amountA <= availableA {
			result.Swap = &types.SwapRecommendation{From: pool.TokenA, To: pool.TokenB, Amount: amountA}
		} else {
			c.logger.Warn().Float64("needed", amountA).Float64("availableA", availableA).
				Msg("TokenA balance cannot cover the deficit swap, skipping recommendation")
		}
	}

	return result, nil
}
