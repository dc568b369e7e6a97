/*

This file contains the default policy parameters for the rebalancer.

The percentage margins are empirical safety factors, not derived quantities:
they exist to keep executed amounts noticeably below theoretical maxima so
slippage, stale quotes, and protocol rounding cannot push a transaction past
the wallet's actual balance. Treat them as tunables, not invariants.

*/

package config

import (
	"time"

	"github.com/aeither/AptosDeFiHub/internal/types"
)

// Parameters groups every policy constant consumed by the decision and
// execution pipeline.
type Parameters struct {
	// --- Ratio / swap policy ---

	// OracleTestAmount is the TokenA display amount used to probe the
	// liquidity-math oracle for the marginal TokenB-per-TokenA ratio. Large
	// enough that the answer is stable regardless of actual wallet size.
	OracleTestAmount float64

	// MinSwapThreshold is the smallest deficit (display units) worth
	// correcting with a swap. Below it the imbalance is cheaper to ignore.
	MinSwapThreshold float64

	// SwapExecutionFraction is the share of the recommended swap actually
	// executed. Under-correcting absorbs price-impact slippage and stale
	// quotes; overshooting would leave the wrong side in deficit again.
	SwapExecutionFraction float64

	// NativeGasReserve is the display amount of the native gas token never
	// spent into a position or swap.
	NativeGasReserve float64

	// StablePairNearZero is the balance level under which a stable-pair
	// pool's side counts as "near zero" for the fetch-fault gate.
	StablePairNearZero float64

	// --- Allocation search policy ---

	AllocationMinPct        float64 // lower bound of the utilization search window
	AllocationMaxPct        float64 // upper bound; below 1.0 to absorb rounding
	AllocationTolerancePct  float64 // convergence tolerance in percentage points
	AllocationMaxIterations int     // hard cap on oracle round trips per search
	FallbackTrialPct        float64 // conservative single trial when the search finds nothing
	RawRoundStep            int64   // raw amounts are rounded down to this step
	MinViableRawAmount      int64   // protocol minimum per side, raw units

	// --- Orchestration policy ---

	// SettlementDelay is the fixed wait after a swap before balances are
	// re-read. On-chain read-after-write lag makes an immediate read stale.
	SettlementDelay time.Duration

	// LeftoverTopUpThreshold is the smallest leftover balance (display
	// units) worth a best-effort add-liquidity call after position creation.
	LeftoverTopUpThreshold float64

	// MinCreationBalance is the minimum display balance required on at least
	// one side before a manual-mode position creation is attempted.
	MinCreationBalance float64

	// --- Remote read policy ---

	ReadRetryAttempts int           // attempts per remote read before degrading to zero
	ReadRetryBackoff  time.Duration // constant backoff between read attempts

	// --- Dedup / budget policy ---

	TxDedupCooldown         time.Duration // identical tx signature suppression window
	TriggerDedupTTL         time.Duration // inbound trigger collapse window
	CycleOperationBudget    int           // circuit breaker: rebalances+creations per cycle
	AutoCreationCapPerCycle int           // position creations per automatic cycle

	// --- Classification policy ---

	// CustomRangeTriggerPct flags a custom-range position when either side's
	// share of value drops strictly below this percentage.
	CustomRangeTriggerPct float64
}

// DefaultParameters provides the baseline policy used when no override is
// supplied. The margins follow observed production behavior: 90% swap
// execution, a 50–99.9% allocation search window, and an 80% fallback trial.
var DefaultParameters = Parameters{
	OracleTestAmount:      1000,
	MinSwapThreshold:      0.01,
	SwapExecutionFraction: 0.90,
	NativeGasReserve:      1.0,
	StablePairNearZero:    0.001,

	AllocationMinPct:        0.50,
	AllocationMaxPct:        0.999,
	AllocationTolerancePct:  0.001,
	AllocationMaxIterations: 20,
	FallbackTrialPct:        0.80,
	RawRoundStep:            1000,
	MinViableRawAmount:      1000,

	SettlementDelay:        5 * time.Second,
	LeftoverTopUpThreshold: 0.01,
	MinCreationBalance:     0.1,

	ReadRetryAttempts: 2,
	ReadRetryBackoff:  2 * time.Second,

	TxDedupCooldown:         30 * time.Second,
	TriggerDedupTTL:         60 * time.Second,
	CycleOperationBudget:    4,
	AutoCreationCapPerCycle: 1,

	CustomRangeTriggerPct: 10,
}

// DefaultPoolConfigs is the built-in pool policy list, used when
// POOL_CONFIG_PATH is not set. Addresses are chain objects, not symbols.
var DefaultPoolConfigs = []types.PoolConfig{}
