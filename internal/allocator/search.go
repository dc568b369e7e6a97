package allocator

import (
	"context"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/aeither/AptosDeFiHub/internal/config"
	"github.com/aeither/AptosDeFiHub/internal/dex"
	"github.com/aeither/AptosDeFiHub/internal/logger"
	"github.com/aeither/AptosDeFiHub/internal/types"
	"github.com/aeither/AptosDeFiHub/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNoFeasibleAllocation = errors.New("no feasible allocation found")
	ErrBelowProtocolMinimum = errors.New("allocation below protocol minimum viable liquidity")
	ErrExceedsBalance       = errors.New("allocation exceeds actual balance after rounding")
	ErrInvalidInputs        = errors.New("allocation search inputs are invalid")
)

// Search finds the maximum feasible deposit given available balances. The
// oracle's TokenB-per-TokenA relationship is monotonic but not linear and
// must be queried remotely, so the search runs over a utilization percentage
// of available TokenA under a fixed iteration cap.
type Search struct {
	oracle dex.LiquidityOracle
	params config.Parameters
	logger zerolog.Logger
}

// New creates a Search over the given oracle.
func New(oracle dex.LiquidityOracle, params config.Parameters) *Search {
	return &Search{
		oracle: oracle,
		params: params,
		logger: logger.GetForComponent("allocation_search"),
	}
}

// FindMaxAllocation binary-searches the utilization window for the largest
// TokenA commitment whose required TokenB fits the available balance. If the
// search finds nothing, one conservative fallback trial runs before failure.
// Failure is terminal for position creation: reported, never auto-retried.
func (s *Search) FindMaxAllocation(ctx context.Context, pool types.Pool, tickLower, tickUpper int, availableA, availableB float64) (*types.Allocation, error) {
	if availableA <= 0 || availableB < 0 {
		return nil, fmt.Errorf("%w: availableA=%f availableB=%f", ErrInvalidInputs, availableA, availableB)
	}

	lo := s.params.AllocationMinPct
	hi := s.params.AllocationMaxPct
	var best *types.Allocation

	for i := 0; i < s.params.AllocationMaxIterations && hi-lo > s.params.AllocationTolerancePct; i++ {
		mid := (lo + hi) / 2
		candidate, feasible, err := s.evaluate(ctx, pool, tickLower, tickUpper, availableA, availableB, mid)
		if err != nil {
			return nil, err
		}
		if feasible {
			best = candidate
			lo = mid
		} else {
			hi = mid
		}
	}

	if best == nil {
		s.logger.Warn().
			Float64("fallbackPct", s.params.FallbackTrialPct).
			Msg("Binary search found no feasible point, attempting conservative fallback")
		candidate, feasible, err := s.evaluate(ctx, pool, tickLower, tickUpper, availableA, availableB, s.params.FallbackTrialPct)
		if err != nil {
			return nil, err
		}
		if !feasible {
			return nil, fmt.Errorf("%w: availableA=%f availableB=%f range=[%d,%d)",
				ErrNoFeasibleAllocation, availableA, availableB, tickLower, tickUpper)
		}
		best = candidate
	}

	if err := s.validate(pool, best, availableA, availableB); err != nil {
		return nil, err
	}

	s.logger.Info().
		Float64("utilizationPct", best.UtilizationPct*100).
		Float64("amountA", best.AmountA).
		Float64("amountB", best.AmountB).
		Msg("Allocation search converged")
	return best, nil
}

// evaluate probes one utilization percentage. Raw amounts are rounded down to
// the protocol step at every candidate so dust cannot cause rejects later.
func (s *Search) evaluate(ctx context.Context, pool types.Pool, tickLower, tickUpper int, availableA, availableB, pct float64) (*types.Allocation, bool, error) {
	rawA, err := utils.FloatToRaw(availableA*pct, pool.TokenA.Precision)
	if err != nil {
		return nil, false, fmt.Errorf("encoding candidate amount: %w", err)
	}
	rawA, err = utils.RoundDownToStep(rawA, s.params.RawRoundStep)
	if err != nil {
		return nil, false, err
	}
	candidateA, err := utils.RawToFloat(rawA, pool.TokenA.Precision)
	if err != nil {
		return nil, false, err
	}
	if candidateA <= 0 {
		return nil, false, nil
	}

	requiredB, err := s.oracle.EstimatePairedAmount(ctx, pool, candidateA, tickLower, tickUpper)
	if err != nil {
		return nil, false, fmt.Errorf("oracle probe at %.3f%%: %w", pct*100, err)
	}
	if requiredB > availableB {
		s.logger.Debug().
			Float64("pct", pct*100).
			Float64("requiredB", requiredB).
			Float64("availableB", availableB).
			Msg("Candidate infeasible")
		return nil, false, nil
	}

	rawB, err := utils.FloatToRaw(requiredB, pool.TokenB.Precision)
	if err != nil {
		return nil, false, err
	}
	rawB, err = utils.RoundDownToStep(rawB, s.params.RawRoundStep)
	if err != nil {
		return nil, false, err
	}
	amountB, err := utils.RawToFloat(rawB, pool.TokenB.Precision)
	if err != nil {
		return nil, false, err
	}

	return &types.Allocation{
		AmountA:        candidateA,
		AmountB:        amountB,
		RawA:           rawA,
		RawB:           rawB,
		UtilizationPct: pct,
	}, true, nil
}

// validate re-checks the chosen allocation against actual raw balances and
// protocol minimums; float candidates can drift past either after rounding.
func (s *Search) validate(pool types.Pool, alloc *types.Allocation, availableA, availableB float64) error {
	rawAvailA, err := utils.FloatToRaw(availableA, pool.TokenA.Precision)
	if err != nil {
		return err
	}
	rawAvailB, err := utils.FloatToRaw(availableB, pool.TokenB.Precision)
	if err != nil {
		return err
	}
	if alloc.RawA.GT(rawAvailA) || alloc.RawB.GT(rawAvailB) {
		return fmt.Errorf("%w: rawA=%s rawB=%s availA=%s availB=%s",
			ErrExceedsBalance, alloc.RawA, alloc.RawB, rawAvailA, rawAvailB)
	}

	minViable := sdkmath.NewInt(s.params.MinViableRawAmount)
	if alloc.RawA.LT(minViable) || alloc.RawB.LT(minViable) {
		return fmt.Errorf("%w: rawA=%s rawB=%s minimum=%s",
			ErrBelowProtocolMinimum, alloc.RawA, alloc.RawB, minViable)
	}
	return nil
}
