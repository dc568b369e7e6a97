package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aeither/AptosDeFiHub/internal/config"
	"github.com/aeither/AptosDeFiHub/internal/dex"
	"github.com/aeither/AptosDeFiHub/internal/logger"
	"github.com/aeither/AptosDeFiHub/internal/orchestrator"
	"github.com/aeither/AptosDeFiHub/internal/reader"
	"github.com/aeither/AptosDeFiHub/internal/state"
	"github.com/aeither/AptosDeFiHub/internal/types"
)

// Mode selects how a cycle treats the needs-rebalancing filter.
type Mode string

const (
	// ModeAutomatic processes enabled pools under the circuit breaker,
	// rebalancing only positions that fail the policy check.
	ModeAutomatic Mode = "automatic"
	// ModeSpecificPool force-checks one pool: existing positions are all
	// rebalanced regardless of status; an empty pool gets a creation attempt.
	ModeSpecificPool Mode = "specific-pool"
	// ModeForceAll rebalances every position found, bypassing the filter.
	ModeForceAll Mode = "force-all"
)

// TriggerRequest carries the caller-supplied parameters for one cycle.
type TriggerRequest struct {
	PoolID               types.PoolID
	RangePercentOverride *float64
	Notify               bool
}

// Config holds the dependencies for creating a Controller.
type Config struct {
	Reader       *reader.Reader
	Orchestrator *orchestrator.Orchestrator
	Source       dex.PositionSource
	Notifier     dex.Notifier
	PoolConfigs  []types.PoolConfig
	Account      string
	Params       config.Parameters

	// PersistRun, PersistCycle, NextCycleNumber and SchedulerEnabled default
	// to the database-backed implementations; tests inject fakes.
	PersistRun       func(types.RebalanceOutcome, int) error
	PersistCycle     func(types.CycleSummary) error
	NextCycleNumber  func() (int, error)
	SchedulerEnabled func() (bool, time.Time, error)
}

// Controller iterates pools/positions sequentially under an operation budget.
// Processing is deliberately not concurrent: a single signing account must
// not have two transactions in flight, and external rate limits are shared.
type Controller struct {
	rdr      *reader.Reader
	orch     *orchestrator.Orchestrator
	source   dex.PositionSource
	notifier dex.Notifier
	configs  []types.PoolConfig
	account  string
	params   config.Parameters
	dedup    *TriggerDedup
	logger   zerolog.Logger

	// runMu is the single execution lane: every cycle, automatic or
	// triggered, holds it end to end so the signing account never has two
	// workflows in flight.
	runMu sync.Mutex

	persistRun   func(types.RebalanceOutcome, int) error
	persistCycle func(types.CycleSummary) error
	nextCycleNo  func() (int, error)
	enabled      func() (bool, time.Time, error)
}

// New creates a Controller with dependency injection.
func New(cfg Config) (*Controller, error) {
	if cfg.Reader == nil || cfg.Orchestrator == nil || cfg.Source == nil {
		return nil, fmt.Errorf("controller requires reader, orchestrator and source")
	}
	if cfg.Account == "" {
		return nil, fmt.Errorf("account address cannot be empty")
	}
	if cfg.PersistRun == nil {
		cfg.PersistRun = state.SaveRebalanceRun
	}
	if cfg.PersistCycle == nil {
		cfg.PersistCycle = state.SaveCycleSummary
	}
	if cfg.NextCycleNumber == nil {
		cfg.NextCycleNumber = state.IncrementCycleNumber
	}
	if cfg.SchedulerEnabled == nil {
		cfg.SchedulerEnabled = state.GetSchedulerEnabled
	}
	return &Controller{
		rdr:          cfg.Reader,
		orch:         cfg.Orchestrator,
		source:       cfg.Source,
		notifier:     cfg.Notifier,
		configs:      cfg.PoolConfigs,
		account:      cfg.Account,
		params:       cfg.Params,
		dedup:        NewTriggerDedup(cfg.Params.TriggerDedupTTL),
		logger:       logger.GetForComponent("batch_controller"),
		persistRun:   cfg.PersistRun,
		persistCycle: cfg.PersistCycle,
		nextCycleNo:  cfg.NextCycleNumber,
		enabled:      cfg.SchedulerEnabled,
	}, nil
}

// RunLoop runs automatic cycles on the interval until the context is
// cancelled. The persisted scheduler flag is consulted every tick so the
// loop can be paused externally without a restart.
func (c *Controller) RunLoop(ctx context.Context, interval time.Duration) {
	c.logger.Info().Dur("interval", interval).Msg("Starting scheduler loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Scheduler loop stopped due to context cancellation")
			return
		case <-ticker.C:
			enabled, _, err := c.enabled()
			if err != nil {
				c.logger.Error().Err(err).Msg("Could not read scheduler flag, skipping tick")
				continue
			}
			if !enabled {
				c.logger.Debug().Msg("Scheduler disabled, skipping tick")
				continue
			}
			c.RunCycle(ctx, ModeAutomatic, TriggerRequest{Notify: true})
		}
	}
}

// Trigger starts a cycle in the background and returns immediately so the
// transport caller is not blocked for the multi-minute workflow. Dedup is
// keyed on the target pool, not the mode: while a cycle for a pool is in
// flight, a second trigger of any mode for that pool is dropped, so at most
// one rebalancing workflow runs per (account, pool) pair. Accepted cycles
// then queue on the controller's execution lane behind whatever is running.
// There is no cancellation of a started cycle; termination is guaranteed by
// the bounded step counts inside the workflow.
func (c *Controller) Trigger(mode Mode, req TriggerRequest) (cycleID string, accepted bool) {
	key := triggerKey(req.PoolID)
	if !c.dedup.TryAcquire(key) {
		c.logger.Warn().Str("key", key).Msg("Duplicate trigger dropped")
		return "", false
	}

	cycleID = uuid.New().String()
	go func() {
		defer c.dedup.Release(key)
		c.runCycle(context.Background(), cycleID, mode, req)
	}()
	return cycleID, true
}

// triggerKey scopes trigger dedup to the target pool. Cycles without a pool
// target (automatic, force-all over every pool) share one key since they
// touch every pool.
func triggerKey(poolID types.PoolID) string {
	if poolID == "" {
		return "all-pools"
	}
	return string(poolID)
}

// RunCycle executes one batch cycle synchronously. One pool's or position's
// failure never aborts the rest: successes and failures accumulate per item.
func (c *Controller) RunCycle(ctx context.Context, mode Mode, req TriggerRequest) *types.CycleSummary {
	return c.runCycle(ctx, uuid.New().String(), mode, req)
}

func (c *Controller) runCycle(ctx context.Context, cycleID string, mode Mode, req TriggerRequest) *types.CycleSummary {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	summary := &types.CycleSummary{
		CycleID:   cycleID,
		Mode:      string(mode),
		StartedAt: time.Now(),
	}
	summary.CycleNumber = c.cycleNumber()
	cycleLogger := c.logger.With().Str("cycle_id", summary.CycleID).Int("cycle", summary.CycleNumber).Logger()
	cycleLogger.Info().Str("mode", string(mode)).Str("pool", string(req.PoolID)).Msg("--- Starting batch cycle ---")

	switch mode {
	case ModeSpecificPool:
		c.runSpecificPool(ctx, req, summary, cycleLogger)
	case ModeForceAll:
		c.runForceAll(ctx, req, summary, cycleLogger)
	default:
		c.runAutomatic(ctx, req, summary, cycleLogger)
	}

	summary.FinishedAt = time.Now()
	cycleLogger.Info().
		Int("processed", summary.Processed).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("deferred", summary.Deferred).
		Str("duration", summary.FinishedAt.Sub(summary.StartedAt).String()).
		Msg("--- Batch cycle completed ---")

	if err := c.persistCycle(*summary); err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to persist cycle summary")
	}

	if req.Notify && c.notifier != nil {
		_ = c.notifier.Notify(summary.Summary())
	}
	return summary
}

// runAutomatic walks every enabled pool under the circuit breaker. The
// operation budget caps rebalances plus creations per cycle; creations are
// additionally capped so one cycle cannot burn the budget opening positions.
// Work past the caps is deferred to the next cycle, never retried within it.
func (c *Controller) runAutomatic(ctx context.Context, req TriggerRequest, summary *types.CycleSummary, cycleLogger zerolog.Logger) {
	ops := 0
	creations := 0

	for _, cfg := range c.configs {
		if !cfg.Enabled {
			continue
		}
		cfg = c.applyOverride(cfg, req)

		pool, err := c.source.FetchPool(ctx, cfg.PoolID)
		if err != nil {
			cycleLogger.Error().Err(err).Str("pool", string(cfg.PoolID)).Msg("Pool read failed, skipping pool this cycle")
			continue
		}

		positions, err := c.rdr.ListPositions(ctx, c.account, cfg.PoolID)
		if err != nil {
			cycleLogger.Error().Err(err).Str("pool", string(cfg.PoolID)).Msg("Position list failed, skipping pool this cycle")
			continue
		}

		if len(positions) == 0 {
			// An enabled pool with no position at all needs one created.
			if creations >= c.params.AutoCreationCapPerCycle || ops >= c.params.CycleOperationBudget {
				summary.Deferred++
				cycleLogger.Info().Str("pool", string(cfg.PoolID)).Msg("Creation deferred by circuit breaker")
				continue
			}
			creations++
			ops++
			c.execute(ctx, orchestrator.Request{PoolID: cfg.PoolID, Config: cfg, Notify: req.Notify}, summary, cycleLogger)
			continue
		}

		for _, pos := range positions {
			decision := c.rdr.Classify(ctx, pos, pool, cfg)
			if !decision.Required {
				cycleLogger.Debug().Str("positionID", pos.ID).Str("reason", decision.Reason).Msg("Position healthy, skipping")
				continue
			}
			if ops >= c.params.CycleOperationBudget {
				summary.Deferred++
				cycleLogger.Info().Str("positionID", pos.ID).Msg("Rebalance deferred by circuit breaker")
				continue
			}
			ops++
			cycleLogger.Info().Str("positionID", pos.ID).Str("reason", decision.Reason).Msg("Rebalancing position")
			c.execute(ctx, orchestrator.Request{PoolID: cfg.PoolID, Config: cfg, PositionID: pos.ID, Notify: req.Notify}, summary, cycleLogger)
		}
	}
}

// runSpecificPool force-checks one pool, bypassing the policy filter. Manual
// invocations are naturally scoped to a single pool, so the circuit breaker
// does not apply here.
func (c *Controller) runSpecificPool(ctx context.Context, req TriggerRequest, summary *types.CycleSummary, cycleLogger zerolog.Logger) {
	cfg := c.configFor(req.PoolID)
	cfg = c.applyOverride(cfg, req)

	positions, err := c.rdr.ListPositions(ctx, c.account, cfg.PoolID)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Position list failed for manual pool check")
		summary.Failed++
		return
	}

	if len(positions) > 0 {
		for _, pos := range positions {
			c.execute(ctx, orchestrator.Request{PoolID: cfg.PoolID, Config: cfg, PositionID: pos.ID, Notify: req.Notify}, summary, cycleLogger)
		}
		return
	}

	// No positions: attempt a creation when at least one side holds a
	// meaningful balance.
	pool, err := c.source.FetchPool(ctx, cfg.PoolID)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Pool read failed for manual creation check")
		summary.Failed++
		return
	}
	balanceA, _ := c.source.FetchBalance(ctx, c.account, pool.TokenA)
	balanceB, _ := c.source.FetchBalance(ctx, c.account, pool.TokenB)
	if balanceA < c.params.MinCreationBalance && balanceB < c.params.MinCreationBalance {
		cycleLogger.Info().
			Float64("balanceA", balanceA).
			Float64("balanceB", balanceB).
			Msg("Balances below creation minimum, nothing to do")
		return
	}
	c.execute(ctx, orchestrator.Request{PoolID: cfg.PoolID, Config: cfg, Notify: req.Notify}, summary, cycleLogger)
}

// runForceAll rebalances every position in the target pool, or in all
// configured pools when no target is given.
func (c *Controller) runForceAll(ctx context.Context, req TriggerRequest, summary *types.CycleSummary, cycleLogger zerolog.Logger) {
	targets := c.configs
	if req.PoolID != "" {
		targets = []types.PoolConfig{c.configFor(req.PoolID)}
	}
	for _, cfg := range targets {
		cfg = c.applyOverride(cfg, req)
		positions, err := c.rdr.ListPositions(ctx, c.account, cfg.PoolID)
		if err != nil {
			cycleLogger.Error().Err(err).Str("pool", string(cfg.PoolID)).Msg("Position list failed, skipping pool")
			continue
		}
		for _, pos := range positions {
			c.execute(ctx, orchestrator.Request{PoolID: cfg.PoolID, Config: cfg, PositionID: pos.ID, Notify: req.Notify}, summary, cycleLogger)
		}
	}
}

// execute runs one workflow, records its outcome, and persists it. Sequential
// on purpose: see the Controller doc comment.
func (c *Controller) execute(ctx context.Context, req orchestrator.Request, summary *types.CycleSummary, cycleLogger zerolog.Logger) {
	outcome := c.orch.Rebalance(ctx, req)
	summary.Processed++
	if outcome.Success {
		summary.Succeeded++
	} else {
		summary.Failed++
	}
	summary.Outcomes = append(summary.Outcomes, *outcome)

	if err := c.persistRun(*outcome, summary.CycleNumber); err != nil {
		cycleLogger.Error().Err(err).Str("runID", outcome.RunID).Msg("Failed to persist run outcome")
	}
}

// configFor returns the configured policy for the pool, or a permissive
// default for pools triggered manually without configuration.
func (c *Controller) configFor(poolID types.PoolID) types.PoolConfig {
	for _, cfg := range c.configs {
		if cfg.PoolID == poolID {
			return cfg
		}
	}
	return types.PoolConfig{PoolID: poolID, Name: string(poolID), Enabled: true}
}

func (c *Controller) applyOverride(cfg types.PoolConfig, req TriggerRequest) types.PoolConfig {
	if req.RangePercentOverride != nil {
		override := *req.RangePercentOverride
		cfg.RangePercent = &override
	}
	return cfg
}

// cycleNumber increments the persistent counter, falling back to a
// timestamp-derived value if the database is unavailable.
func (c *Controller) cycleNumber() int {
	n, err := c.nextCycleNo()
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to increment cycle number, using fallback")
		return int(time.Now().Unix() % 1000000)
	}
	return n
}
