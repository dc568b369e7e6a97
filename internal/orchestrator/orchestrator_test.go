package orchestrator

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/aeither/AptosDeFiHub/internal/allocator"
	"github.com/aeither/AptosDeFiHub/internal/config"
	"github.com/aeither/AptosDeFiHub/internal/dex"
	"github.com/aeither/AptosDeFiHub/internal/ratio"
	"github.com/aeither/AptosDeFiHub/internal/types"
)

// fakeChain implements PositionSource, PayloadBuilder, LiquidityOracle and
// TxExecutor over in-memory state, with per-label failure injection.
type fakeChain struct {
	pool      types.Pool
	positions []types.Position
	balanceA  float64
	balanceB  float64

	failOn            map[string]error // label -> injected executor failure
	executed          []string         // labels in execution order
	txSeq             int
	leftoverAfterOpen float64
}

func newFakeChain() *fakeChain {
	q64 := new(big.Int).Lsh(big.NewInt(1), 64)
	return &fakeChain{
		pool: types.Pool{
			ID:          "0xpool",
			CurrentTick: 150,
			SqrtPrice:   sdkmath.NewIntFromBigInt(q64), // price 1.0
			FeeTier:     types.FeeTier030,
			TokenA:      types.Token{Address: "0xa", Symbol: "AAA", Precision: 8},
			TokenB:      types.Token{Address: "0xb", Symbol: "BBB", Precision: 8},
		},
		failOn:            make(map[string]error),
		leftoverAfterOpen: 0.001,
	}
}

func (f *fakeChain) FetchPositions(ctx context.Context, address string) ([]types.Position, error) {
	return f.positions, nil
}

func (f *fakeChain) FetchPool(ctx context.Context, poolID types.PoolID) (types.Pool, error) {
	return f.pool, nil
}

func (f *fakeChain) FetchTokenAmounts(ctx context.Context, positionID string) (float64, float64, error) {
	return 0, 0, nil
}

func (f *fakeChain) FetchBalance(ctx context.Context, address string, token types.Token) (float64, error) {
	if token.Symbol == "AAA" {
		return f.balanceA, nil
	}
	return f.balanceB, nil
}

func (f *fakeChain) EstimatePairedAmount(ctx context.Context, pool types.Pool, amountA float64, tickLower, tickUpper int) (float64, error) {
	return amountA, nil // ratio 1:1
}

func (f *fakeChain) BuildSwapPayload(ctx context.Context, from, to types.Token, amountRaw sdkmath.Int, recipient string) (dex.TxPayload, error) {
	return dex.TxPayload{Function: "swap", Args: []string{amountRaw.String()}, Sender: recipient}, nil
}

func (f *fakeChain) BuildRemovePayload(ctx context.Context, pool types.Pool, positionID string) (dex.TxPayload, error) {
	return dex.TxPayload{Function: "remove", Args: []string{positionID}}, nil
}

func (f *fakeChain) BuildOpenPayload(ctx context.Context, pool types.Pool, tickLower, tickUpper int, rawA, rawB sdkmath.Int) (dex.TxPayload, error) {
	return dex.TxPayload{Function: "open"}, nil
}

func (f *fakeChain) BuildAddPayload(ctx context.Context, pool types.Pool, positionID string, rawA, rawB sdkmath.Int) (dex.TxPayload, error) {
	return dex.TxPayload{Function: "add", Args: []string{positionID}}, nil
}

func (f *fakeChain) Execute(ctx context.Context, payload dex.TxPayload, label string) (dex.TxResult, error) {
	if err, ok := f.failOn[label]; ok {
		return dex.TxResult{}, err
	}
	f.executed = append(f.executed, label)
	f.txSeq++

	switch label {
	case "rebalance_swap":
		// Swap out half of the B surplus into A at price 1.
		shift := (f.balanceB - f.balanceA) / 2 * 0.90
		f.balanceA += shift
		f.balanceB -= shift
	case "open_position":
		f.positions = append(f.positions, types.Position{
			ID:        "0xnewpos",
			PoolID:    f.pool.ID,
			TickLower: 60,
			TickUpper: 240,
			CreatedAt: time.Now(),
		})
		f.balanceA = f.leftoverAfterOpen
		f.balanceB = f.leftoverAfterOpen
	}
	return dex.TxResult{Hash: hashFor(label, f.txSeq)}, nil
}

func hashFor(label string, seq int) string {
	return "0x" + label + "_" + strings.Repeat("f", seq)
}

type captureNotifier struct {
	messages []string
}

func (c *captureNotifier) Notify(text string) bool {
	c.messages = append(c.messages, text)
	return true
}

func newTestOrchestrator(t *testing.T, chain *fakeChain, notifier dex.Notifier) *Orchestrator {
	t.Helper()
	params := config.DefaultParameters
	o, err := New(Config{
		Source:   chain,
		Builder:  chain,
		Executor: chain,
		Notifier: notifier,
		Calc:     ratio.New(chain, params),
		Search:   allocator.New(chain, params),
		Account:  "0xme",
		Params:   params,
	})
	if err != nil {
		t.Fatalf("orchestrator setup failed: %v", err)
	}
	o.sleep = func(time.Duration) {}
	return o
}

func TestRebalanceHappyPath(t *testing.T) {
	chain := newFakeChain()
	chain.balanceA = 0
	chain.balanceB = 100
	chain.positions = []types.Position{{ID: "0xoldpos", PoolID: "0xpool", TickLower: -60, TickUpper: 60}}

	o := newTestOrchestrator(t, chain, nil)
	outcome := o.Rebalance(context.Background(), Request{PoolID: "0xpool", PositionID: "0xoldpos"})

	if !outcome.Success {
		t.Fatalf("expected success, got errors: %v", outcome.Errors)
	}
	want := []string{"remove_liquidity", "rebalance_swap", "open_position"}
	if len(chain.executed) < len(want) {
		t.Fatalf("executed %v, want at least %v", chain.executed, want)
	}
	for i, label := range want {
		if chain.executed[i] != label {
			t.Fatalf("step %d was %s, want %s (full order %v)", i, chain.executed[i], label, chain.executed)
		}
	}
	if len(outcome.RemovedPositions) != 1 || outcome.RemovedPositions[0] != "0xoldpos" {
		t.Fatalf("removed positions wrong: %v", outcome.RemovedPositions)
	}
	if len(outcome.CreatedPositions) != 1 || outcome.CreatedPositions[0].PositionID != "0xnewpos" {
		t.Fatalf("created positions wrong: %+v", outcome.CreatedPositions)
	}
	if len(outcome.TxHashes) != len(chain.executed) {
		t.Fatalf("outcome has %d hashes for %d executed transactions", len(outcome.TxHashes), len(chain.executed))
	}
}

// The 90% execution fraction: the swap submitted on-chain must be smaller
// than the raw recommendation.
func TestRebalanceSwapsFractionOfRecommendation(t *testing.T) {
	chain := newFakeChain()
	chain.balanceA = 0
	chain.balanceB = 100

	o := newTestOrchestrator(t, chain, nil)
	outcome := o.Rebalance(context.Background(), Request{PoolID: "0xpool"})

	if !outcome.Success {
		t.Fatalf("expected success, got errors: %v", outcome.Errors)
	}
	if len(outcome.Swaps) != 1 {
		t.Fatalf("expected exactly one swap, got %d", len(outcome.Swaps))
	}
	// Full recommendation at ratio 1, price 1 is 50; 90% of that is 45.
	if got := outcome.Swaps[0].Amount; got < 44.9 || got > 45.1 {
		t.Fatalf("expected ~45 swapped, got %f", got)
	}
}

func TestRebalanceSkipsSwapWhenBalanced(t *testing.T) {
	chain := newFakeChain()
	chain.balanceA = 50
	chain.balanceB = 50

	o := newTestOrchestrator(t, chain, nil)
	outcome := o.Rebalance(context.Background(), Request{PoolID: "0xpool"})

	if !outcome.Success {
		t.Fatalf("expected success, got errors: %v", outcome.Errors)
	}
	if len(outcome.Swaps) != 0 {
		t.Fatalf("balanced wallet should not swap: %+v", outcome.Swaps)
	}
	for _, label := range chain.executed {
		if label == "rebalance_swap" {
			t.Fatalf("swap executed despite balanced wallet: %v", chain.executed)
		}
	}
}

// A mid-workflow failure must preserve the partial progress: the removal
// hash stays in the outcome and the error list explains the stop.
func TestRebalancePreservesProgressOnSwapFailure(t *testing.T) {
	chain := newFakeChain()
	chain.balanceA = 0
	chain.balanceB = 100
	chain.failOn["rebalance_swap"] = errors.New("sequence number too old")

	o := newTestOrchestrator(t, chain, nil)
	outcome := o.Rebalance(context.Background(), Request{PoolID: "0xpool", PositionID: "0xoldpos"})

	if outcome.Success {
		t.Fatalf("expected failure")
	}
	if len(outcome.TxHashes) != 1 {
		t.Fatalf("expected the removal hash to be preserved, got %v", outcome.TxHashes)
	}
	if len(outcome.RemovedPositions) != 1 {
		t.Fatalf("removal progress lost: %+v", outcome)
	}
	if len(outcome.Errors) == 0 || !strings.Contains(outcome.Errors[0], "swap failed") {
		t.Fatalf("error list does not explain the stop: %v", outcome.Errors)
	}
}

func TestRebalanceInsufficientBalanceDiagnostics(t *testing.T) {
	chain := newFakeChain()
	chain.balanceA = 50
	chain.balanceB = 50
	chain.failOn["open_position"] = errors.New("Move abort: E_AMOUNT_EXCEEDS_BALANCE")

	o := newTestOrchestrator(t, chain, nil)
	outcome := o.Rebalance(context.Background(), Request{PoolID: "0xpool"})

	if outcome.Success {
		t.Fatalf("expected failure")
	}
	if len(outcome.Errors) == 0 || !strings.Contains(outcome.Errors[0], "insufficient balance") {
		t.Fatalf("expected the live-balance diagnostic, got %v", outcome.Errors)
	}
}

// Top-up is best effort: its failure must not flip a successful workflow.
func TestRebalanceTopUpFailureStaysSuccessful(t *testing.T) {
	chain := newFakeChain()
	chain.balanceA = 50
	chain.balanceB = 50
	// Leave meaningful leftovers after the open so the top-up actually runs.
	chain.leftoverAfterOpen = 2.0
	chain.failOn["top_up_liquidity"] = errors.New("gas estimation failed")

	o := newTestOrchestrator(t, chain, nil)
	outcome := o.Rebalance(context.Background(), Request{PoolID: "0xpool"})

	if !outcome.Success {
		t.Fatalf("top-up failure must not fail the workflow: %v", outcome.Errors)
	}
	if len(chain.executed) == 0 || chain.executed[len(chain.executed)-1] != "open_position" {
		t.Fatalf("unexpected execution order: %v", chain.executed)
	}
}

func TestRebalanceNotifierReceivesTerminalState(t *testing.T) {
	chain := newFakeChain()
	chain.balanceA = 50
	chain.balanceB = 50
	notifier := &captureNotifier{}

	o := newTestOrchestrator(t, chain, notifier)
	outcome := o.Rebalance(context.Background(), Request{PoolID: "0xpool", Notify: true})

	if !outcome.Success {
		t.Fatalf("expected success, got errors: %v", outcome.Errors)
	}
	if len(notifier.messages) == 0 {
		t.Fatalf("expected progress notifications")
	}
	last := notifier.messages[len(notifier.messages)-1]
	if !strings.Contains(last, string(StateDone)) {
		t.Fatalf("last notification is not the terminal state: %s", last)
	}
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	chain := newFakeChain()
	params := config.DefaultParameters

	_, err := New(Config{
		Builder:  chain,
		Executor: chain,
		Calc:     ratio.New(chain, params),
		Search:   allocator.New(chain, params),
		Account:  "0xme",
		Params:   params,
	})
	if err == nil {
		t.Fatalf("expected error for missing position source")
	}

	_, err = New(Config{
		Source:   chain,
		Builder:  chain,
		Executor: chain,
		Calc:     ratio.New(chain, params),
		Search:   allocator.New(chain, params),
		Params:   params,
	})
	if err == nil {
		t.Fatalf("expected error for empty account")
	}
}
