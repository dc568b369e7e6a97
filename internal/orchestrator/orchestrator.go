package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aeither/AptosDeFiHub/internal/allocator"
	"github.com/aeither/AptosDeFiHub/internal/config"
	"github.com/aeither/AptosDeFiHub/internal/dex"
	"github.com/aeither/AptosDeFiHub/internal/logger"
	"github.com/aeither/AptosDeFiHub/internal/ratio"
	"github.com/aeither/AptosDeFiHub/internal/reader"
	"github.com/aeither/AptosDeFiHub/internal/types"
	"github.com/aeither/AptosDeFiHub/internal/utils"
)

// State names one step of the rebalancing workflow.
type State string

const (
	StateStart             State = "START"
	StateRemoving          State = "REMOVING"
	StateAnalyzingRatio    State = "ANALYZING_RATIO"
	StateSwapping          State = "SWAPPING"
	StateWaitingSettlement State = "WAITING_FOR_SETTLEMENT"
	StateCreatingPosition  State = "CREATING_POSITION"
	StateAnalyzingLeftover State = "ANALYZING_LEFTOVER"
	StateToppingUp         State = "TOPPING_UP"
	StateDone              State = "DONE"
	StateFailed            State = "FAILED"
)

// Request describes one rebalancing workflow. An empty PositionID means
// "create a new position" and skips the removal step.
type Request struct {
	PoolID     types.PoolID
	Config     types.PoolConfig
	PositionID string
	Notify     bool
}

// Config holds the dependencies for creating an Orchestrator.
type Config struct {
	Source   dex.PositionSource
	Builder  dex.PayloadBuilder
	Executor dex.TxExecutor
	Notifier dex.Notifier
	Calc     *ratio.Calculator
	Search   *allocator.Search
	Account  string
	Params   config.Parameters
}

// Orchestrator sequences remove-liquidity, swap, create-position, and
// optional top-up for a single position. Steps within one run are strictly
// sequential: a removal confirms before the swap, the swap settles before
// balances are re-read for creation.
type Orchestrator struct {
	source   dex.PositionSource
	builder  dex.PayloadBuilder
	executor dex.TxExecutor
	notifier dex.Notifier
	calc     *ratio.Calculator
	search   *allocator.Search
	account  string
	params   config.Parameters
	logger   zerolog.Logger

	// sleep is swapped out in tests; production uses time.Sleep because the
	// workflow has no cancellation path mid-run by design.
	sleep func(time.Duration)
}

// New creates an Orchestrator with dependency injection.
func New(cfg Config) (*Orchestrator, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("orchestrator configuration validation failed: %w", err)
	}
	return &Orchestrator{
		source:   cfg.Source,
		builder:  cfg.Builder,
		executor: cfg.Executor,
		notifier: cfg.Notifier,
		calc:     cfg.Calc,
		search:   cfg.Search,
		account:  cfg.Account,
		params:   cfg.Params,
		logger:   logger.GetForComponent("orchestrator"),
		sleep:    time.Sleep,
	}, nil
}

func validateConfig(cfg Config) error {
	if cfg.Source == nil {
		return fmt.Errorf("position source cannot be nil")
	}
	if cfg.Builder == nil {
		return fmt.Errorf("payload builder cannot be nil")
	}
	if cfg.Executor == nil {
		return fmt.Errorf("transaction executor cannot be nil")
	}
	if cfg.Calc == nil {
		return fmt.Errorf("ratio calculator cannot be nil")
	}
	if cfg.Search == nil {
		return fmt.Errorf("allocation search cannot be nil")
	}
	if cfg.Account == "" {
		return fmt.Errorf("account address cannot be empty")
	}
	return nil
}

// Rebalance runs the full workflow for one position. It never panics past its
// boundary and never returns a nil outcome: every terminal state carries the
// transaction hashes and swaps that did succeed, so callers can always render
// what actually happened.
func (o *Orchestrator) Rebalance(ctx context.Context, req Request) *types.RebalanceOutcome {
	outcome := &types.RebalanceOutcome{
		RunID:     uuid.New().String(),
		PoolID:    req.PoolID,
		StartedAt: time.Now(),
	}
	runLogger := o.logger.With().Str("run_id", outcome.RunID).Str("pool", string(req.PoolID)).Logger()
	runLogger.Info().Str("positionID", req.PositionID).Msg("--- Starting rebalancing workflow ---")

	o.progress(req, StateStart, fmt.Sprintf("Rebalancing pool %s", req.PoolID))

	pool, err := o.source.FetchPool(ctx, req.PoolID)
	if err != nil {
		return o.fail(outcome, runLogger, req, fmt.Errorf("initial pool read failed: %w", err))
	}

	// --- REMOVING (or skip for create-new) ---
	if req.PositionID != "" {
		o.progress(req, StateRemoving, fmt.Sprintf("Removing liquidity from position %s", req.PositionID))
		payload, err := o.builder.BuildRemovePayload(ctx, pool, req.PositionID)
		if err != nil {
			return o.fail(outcome, runLogger, req, fmt.Errorf("building remove payload: %w", err))
		}
		result, err := o.executor.Execute(ctx, payload, "remove_liquidity")
		if err != nil {
			return o.fail(outcome, runLogger, req, fmt.Errorf("remove liquidity failed: %w", err))
		}
		outcome.TxHashes = append(outcome.TxHashes, result.Hash)
		outcome.RemovedPositions = append(outcome.RemovedPositions, req.PositionID)
		runLogger.Info().Str("txHash", result.Hash).Msg("Liquidity removed")
	} else {
		runLogger.Info().Msg("No prior position, skipping removal")
	}

	// --- ANALYZING_RATIO ---
	o.progress(req, StateAnalyzingRatio, "Analyzing target ratio")
	pool, ratioResult, err := o.analyze(ctx, req, runLogger)
	if err != nil {
		return o.fail(outcome, runLogger, req, err)
	}

	// --- SWAPPING (or skip) ---
	if ratioResult.Swap != nil {
		swap := ratioResult.Swap
		// Execute only a fraction of the recommendation: under-correcting
		// absorbs price-impact slippage and stale quotes.
		execAmount := swap.Amount * o.params.SwapExecutionFraction
		o.progress(req, StateSwapping, fmt.Sprintf("Swapping %.6f %s -> %s", execAmount, swap.From.Symbol, swap.To.Symbol))

		rawAmount, err := utils.FloatToRaw(execAmount, swap.From.Precision)
		if err != nil {
			return o.fail(outcome, runLogger, req, fmt.Errorf("encoding swap amount: %w", err))
		}
		payload, err := o.builder.BuildSwapPayload(ctx, swap.From, swap.To, rawAmount, o.account)
		if err != nil {
			return o.fail(outcome, runLogger, req, fmt.Errorf("building swap payload: %w", err))
		}
		result, err := o.executor.Execute(ctx, payload, "rebalance_swap")
		if err != nil {
			return o.fail(outcome, runLogger, req, fmt.Errorf("swap failed: %w", err))
		}
		outcome.TxHashes = append(outcome.TxHashes, result.Hash)
		outcome.Swaps = append(outcome.Swaps, types.SwapExecution{
			FromSymbol: swap.From.Symbol,
			ToSymbol:   swap.To.Symbol,
			Amount:     execAmount,
			TxHash:     result.Hash,
		})
		runLogger.Info().Str("txHash", result.Hash).Float64("amount", execAmount).Msg("Swap executed")

		// --- WAITING_FOR_SETTLEMENT ---
		// A balance read straight after the swap would see pre-swap state.
		o.progress(req, StateWaitingSettlement, "Waiting for swap settlement")
		o.sleep(o.params.SettlementDelay)

		pool, ratioResult, err = o.analyze(ctx, req, runLogger)
		if err != nil {
			return o.fail(outcome, runLogger, req, fmt.Errorf("post-swap analysis failed: %w", err))
		}
	} else {
		runLogger.Info().Msg("Balances already in ratio, skipping swap")
	}

	// --- CREATING_POSITION ---
	o.progress(req, StateCreatingPosition, fmt.Sprintf("Creating position in ticks [%d, %d)", ratioResult.TickLower, ratioResult.TickUpper))
	created, err := o.createPosition(ctx, req, pool, ratioResult, outcome, runLogger)
	if err != nil {
		return o.fail(outcome, runLogger, req, err)
	}

	// --- ANALYZING_LEFTOVER / TOPPING_UP (best effort) ---
	o.progress(req, StateAnalyzingLeftover, "Checking for leftover balances")
	o.topUpLeftovers(ctx, req, created, outcome, runLogger)

	outcome.Success = true
	outcome.FinishedAt = time.Now()
	o.progress(req, StateDone, outcome.Summary())
	runLogger.Info().
		Int("txCount", len(outcome.TxHashes)).
		Int("swaps", len(outcome.Swaps)).
		Msg("--- Rebalancing workflow completed ---")
	return outcome
}

// analyze re-fetches pool and balances and recomputes the ratio. Called fresh
// at every decision point because price and balances move between steps.
func (o *Orchestrator) analyze(ctx context.Context, req Request, runLogger zerolog.Logger) (types.Pool, *types.RatioResult, error) {
	pool, err := o.source.FetchPool(ctx, req.PoolID)
	if err != nil {
		return types.Pool{}, nil, fmt.Errorf("pool read failed: %w", err)
	}

	balanceA, err := o.source.FetchBalance(ctx, o.account, pool.TokenA)
	if err != nil {
		return types.Pool{}, nil, fmt.Errorf("balance read for %s failed: %w", pool.TokenA.Symbol, err)
	}
	balanceB, err := o.source.FetchBalance(ctx, o.account, pool.TokenB)
	if err != nil {
		return types.Pool{}, nil, fmt.Errorf("balance read for %s failed: %w", pool.TokenB.Symbol, err)
	}

	tickLower, tickUpper := targetRange(pool, req.Config)
	result, err := o.calc.Compute(ctx, pool, req.Config, tickLower, tickUpper, balanceA, balanceB)
	if err != nil {
		return types.Pool{}, nil, fmt.Errorf("ratio computation failed: %w", err)
	}

	runLogger.Info().
		Int("tickLower", tickLower).
		Int("tickUpper", tickUpper).
		Float64("balanceA", balanceA).
		Float64("balanceB", balanceB).
		Float64("price", result.MarketPrice).
		Msg("Ratio analysis complete")
	return pool, result, nil
}

func targetRange(pool types.Pool, cfg types.PoolConfig) (int, int) {
	if cfg.RangePercent == nil {
		return reader.TightestRange(pool.CurrentTick, pool.FeeTier.TickSpacing())
	}
	return reader.RangeForPercent(pool, *cfg.RangePercent)
}

// createPosition runs the allocation search and submits the open-position
// transaction. Returns the created-position record for the top-up step.
func (o *Orchestrator) createPosition(ctx context.Context, req Request, pool types.Pool, rr *types.RatioResult, outcome *types.RebalanceOutcome, runLogger zerolog.Logger) (*types.CreatedPosition, error) {
	alloc, err := o.search.FindMaxAllocation(ctx, pool, rr.TickLower, rr.TickUpper, rr.AvailableA, rr.BalanceB)
	if err != nil {
		return nil, fmt.Errorf("allocation search failed: %w", err)
	}

	payload, err := o.builder.BuildOpenPayload(ctx, pool, rr.TickLower, rr.TickUpper, alloc.RawA, alloc.RawB)
	if err != nil {
		return nil, fmt.Errorf("building open payload: %w", err)
	}

	result, err := o.executor.Execute(ctx, payload, "open_position")
	if err != nil {
		if isInsufficientBalance(err) {
			// Re-query once so the failure report carries live numbers; the
			// workflow itself does not retry.
			balA, _ := o.source.FetchBalance(ctx, o.account, pool.TokenA)
			balB, _ := o.source.FetchBalance(ctx, o.account, pool.TokenB)
			return nil, fmt.Errorf(
				"open position rejected for insufficient balance (wanted %s/%s raw, wallet now %.6f %s / %.6f %s, retryable): %w",
				alloc.RawA, alloc.RawB, balA, pool.TokenA.Symbol, balB, pool.TokenB.Symbol, err)
		}
		return nil, fmt.Errorf("open position failed: %w", err)
	}
	outcome.TxHashes = append(outcome.TxHashes, result.Hash)

	created := &types.CreatedPosition{
		PoolID:    pool.ID,
		TickLower: rr.TickLower,
		TickUpper: rr.TickUpper,
		TxHash:    result.Hash,
	}
	created.PositionID = o.resolveCreatedPositionID(ctx, pool.ID, rr.TickLower, rr.TickUpper, runLogger)
	outcome.CreatedPositions = append(outcome.CreatedPositions, *created)

	runLogger.Info().
		Str("txHash", result.Hash).
		Str("positionID", created.PositionID).
		Float64("amountA", alloc.AmountA).
		Float64("amountB", alloc.AmountB).
		Msg("Position created")
	return created, nil
}

// resolveCreatedPositionID looks the freshly created position up by its range.
// Best effort: an empty return only disables the top-up step.
func (o *Orchestrator) resolveCreatedPositionID(ctx context.Context, poolID types.PoolID, tickLower, tickUpper int, runLogger zerolog.Logger) string {
	positions, err := o.source.FetchPositions(ctx, o.account)
	if err != nil {
		runLogger.Warn().Err(err).Msg("Could not resolve created position id")
		return ""
	}
	var newest *types.Position
	for i := range positions {
		p := &positions[i]
		if p.PoolID != poolID || p.TickLower != tickLower || p.TickUpper != tickUpper {
			continue
		}
		if newest == nil || p.CreatedAt.After(newest.CreatedAt) {
			newest = p
		}
	}
	if newest == nil {
		runLogger.Warn().Msg("Created position not yet visible in position list")
		return ""
	}
	return newest.ID
}

// topUpLeftovers attempts one additional liquidity addition from meaningful
// leftover balances. An optimization, not a correctness requirement: any
// failure is logged and never flips the workflow result.
func (o *Orchestrator) topUpLeftovers(ctx context.Context, req Request, created *types.CreatedPosition, outcome *types.RebalanceOutcome, runLogger zerolog.Logger) {
	if created == nil || created.PositionID == "" {
		runLogger.Info().Msg("No resolvable position for top-up, skipping")
		return
	}

	o.sleep(o.params.SettlementDelay)

	pool, err := o.source.FetchPool(ctx, req.PoolID)
	if err != nil {
		runLogger.Warn().Err(err).Msg("Leftover check skipped: pool read failed")
		return
	}
	balanceA, err := o.source.FetchBalance(ctx, o.account, pool.TokenA)
	if err != nil {
		runLogger.Warn().Err(err).Msg("Leftover check skipped: balance read failed")
		return
	}
	balanceB, err := o.source.FetchBalance(ctx, o.account, pool.TokenB)
	if err != nil {
		runLogger.Warn().Err(err).Msg("Leftover check skipped: balance read failed")
		return
	}

	availableA := balanceA
	if pool.TokenA.IsNative {
		availableA -= o.params.NativeGasReserve
	}
	if availableA <= o.params.LeftoverTopUpThreshold || balanceB <= o.params.LeftoverTopUpThreshold {
		runLogger.Info().
			Float64("leftoverA", availableA).
			Float64("leftoverB", balanceB).
			Msg("Leftovers below top-up threshold, done")
		return
	}

	o.progress(req, StateToppingUp, fmt.Sprintf("Topping up position %s with leftovers", created.PositionID))
	alloc, err := o.search.FindMaxAllocation(ctx, pool, created.TickLower, created.TickUpper, availableA, balanceB)
	if err != nil {
		runLogger.Warn().Err(err).Msg("Top-up sizing failed, leaving leftovers in wallet")
		return
	}
	payload, err := o.builder.BuildAddPayload(ctx, pool, created.PositionID, alloc.RawA, alloc.RawB)
	if err != nil {
		runLogger.Warn().Err(err).Msg("Top-up payload build failed")
		return
	}
	result, err := o.executor.Execute(ctx, payload, "top_up_liquidity")
	if err != nil {
		runLogger.Warn().Err(err).Msg("Top-up transaction failed, leftovers remain in wallet")
		return
	}
	outcome.TxHashes = append(outcome.TxHashes, result.Hash)
	runLogger.Info().Str("txHash", result.Hash).Msg("Leftover balances added to position")
}

// fail finalizes the outcome in the FAILED state, preserving all prior
// progress, and emits the terminal progress event.
func (o *Orchestrator) fail(outcome *types.RebalanceOutcome, runLogger zerolog.Logger, req Request, err error) *types.RebalanceOutcome {
	outcome.Success = false
	outcome.AddError("%v", err)
	outcome.FinishedAt = time.Now()
	runLogger.Error().Err(err).
		Int("txCount", len(outcome.TxHashes)).
		Msg("Rebalancing workflow failed")
	o.progress(req, StateFailed, outcome.Summary())
	return outcome
}

// progress emits an advisory event to the notification sink. Failures to
// notify are swallowed: notification must never abort the workflow.
func (o *Orchestrator) progress(req Request, state State, text string) {
	if !req.Notify || o.notifier == nil {
		return
	}
	_ = o.notifier.Notify(fmt.Sprintf("[%s] %s", state, text))
}

// isInsufficientBalance classifies executor failures that stem from the
// wallet not covering the requested amounts.
func isInsufficientBalance(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "insufficient") || strings.Contains(msg, "e_amount_exceeds_balance")
}
