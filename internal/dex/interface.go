package dex

import (
	"context"

	sdkmath "cosmossdk.io/math"

	"github.com/aeither/AptosDeFiHub/internal/types"
)

// TxPayload is an opaque entry-function call ready for signing and submission.
type TxPayload struct {
	Function string   `json:"function"`
	TypeArgs []string `json:"type_arguments"`
	Args     []string `json:"arguments"`
	Sender   string   `json:"sender"`
}

// TxResult is the confirmed result of a submitted transaction.
type TxResult struct {
	Hash    string `json:"hash"`
	GasUsed uint64 `json:"gas_used"`
}

// PositionSource fetches live pool and position state. Implementations must
// tolerate transient failures with bounded retry and return zero values rather
// than failing the caller, so decision code can proceed with conservative
// defaults.
type PositionSource interface {
	// FetchPositions returns all positions owned by the address.
	FetchPositions(ctx context.Context, address string) ([]types.Position, error)

	// FetchPool returns a fresh snapshot of the pool's state.
	FetchPool(ctx context.Context, poolID types.PoolID) (types.Pool, error)

	// FetchTokenAmounts returns the current token amounts held by a position,
	// in display units.
	FetchTokenAmounts(ctx context.Context, positionID string) (amountA, amountB float64, err error)

	// FetchBalance returns the wallet balance of one token in display units.
	// A failed read degrades to zero after retries.
	FetchBalance(ctx context.Context, address string, token types.Token) (float64, error)
}

// LiquidityOracle answers the pool's liquidity-math question: how much TokenB
// pairs with a given TokenA amount over a tick range at the current price.
// It is queried tens of times per workflow run and must stay cheap.
type LiquidityOracle interface {
	EstimatePairedAmount(ctx context.Context, pool types.Pool, amountA float64, tickLower, tickUpper int) (float64, error)
}

// PayloadBuilder constructs the entry-function payloads for every on-chain
// operation the orchestrator sequences.
type PayloadBuilder interface {
	// BuildSwapPayload routes amountRaw of from into to, paying out to recipient.
	BuildSwapPayload(ctx context.Context, from, to types.Token, amountRaw sdkmath.Int, recipient string) (TxPayload, error)

	// BuildRemovePayload removes 100% of the position's liquidity.
	BuildRemovePayload(ctx context.Context, pool types.Pool, positionID string) (TxPayload, error)

	// BuildOpenPayload opens a new position over the tick range with the
	// given raw deposit amounts.
	BuildOpenPayload(ctx context.Context, pool types.Pool, tickLower, tickUpper int, rawA, rawB sdkmath.Int) (TxPayload, error)

	// BuildAddPayload adds liquidity to an existing position.
	BuildAddPayload(ctx context.Context, pool types.Pool, positionID string, rawA, rawB sdkmath.Int) (TxPayload, error)
}

// TxExecutor simulates, signs, submits, and confirms one transaction. The core
// treats it as an idempotent RPC: identical payloads inside the dedup cooldown
// must collapse to a single submission.
type TxExecutor interface {
	Execute(ctx context.Context, payload TxPayload, label string) (TxResult, error)
}

// Notifier is the advisory progress sink. Delivery is fire-and-forget: a false
// return means the message was dropped, and callers must never escalate that.
type Notifier interface {
	Notify(text string) bool
}
