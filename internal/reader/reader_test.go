package reader

import (
	"context"
	"errors"
	"math/big"
	"testing"

	sdkmath "cosmossdk.io/math"

	"github.com/aeither/AptosDeFiHub/internal/config"
	"github.com/aeither/AptosDeFiHub/internal/types"
)

type fakeSource struct {
	positions []types.Position
	pool      types.Pool
	amountA   float64
	amountB   float64
	amountErr error
}

func (f *fakeSource) FetchPositions(ctx context.Context, address string) ([]types.Position, error) {
	return f.positions, nil
}

func (f *fakeSource) FetchPool(ctx context.Context, poolID types.PoolID) (types.Pool, error) {
	return f.pool, nil
}

func (f *fakeSource) FetchTokenAmounts(ctx context.Context, positionID string) (float64, float64, error) {
	if f.amountErr != nil {
		return 0, 0, f.amountErr
	}
	return f.amountA, f.amountB, nil
}

func (f *fakeSource) FetchBalance(ctx context.Context, address string, token types.Token) (float64, error) {
	return 0, nil
}

func testPool() types.Pool {
	q64 := new(big.Int).Lsh(big.NewInt(1), 64)
	return types.Pool{
		ID:          "0xpool",
		CurrentTick: 150,
		SqrtPrice:   sdkmath.NewIntFromBigInt(q64), // price 1.0
		FeeTier:     types.FeeTier030,
		TokenA:      types.Token{Address: "0xa", Symbol: "AAA", Precision: 8},
		TokenB:      types.Token{Address: "0xb", Symbol: "BBB", Precision: 8},
	}
}

func TestListPositionsFiltersByPool(t *testing.T) {
	src := &fakeSource{positions: []types.Position{
		{ID: "p1", PoolID: "0xpool"},
		{ID: "p2", PoolID: "0xother"},
		{ID: "p3", PoolID: "0xpool"},
	}}
	r := New(src, config.DefaultParameters)

	got, err := r.ListPositions(context.Background(), "0xme", "0xpool")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "p1" || got[1].ID != "p3" {
		t.Fatalf("unexpected filter result: %+v", got)
	}

	all, err := r.ListPositions(context.Background(), "0xme", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected all 3 positions without filter, got %d", len(all))
	}
}

// Activity bounds are exclusive: a position whose bound equals the current
// tick is already out of fee accrual and must be flagged.
func TestNeedsRebalancingInactiveAtBoundary(t *testing.T) {
	r := New(&fakeSource{}, config.DefaultParameters)
	pool := testPool()
	pool.CurrentTick = 200

	pos := types.Position{TickLower: 100, TickUpper: 200, AmountA: 1, AmountB: 1}
	d := r.NeedsRebalancing(pos, pool, types.PoolConfig{})
	if !d.Required {
		t.Fatalf("position with upper bound at current tick should be flagged: %s", d.Reason)
	}

	pool.CurrentTick = 100
	d = r.NeedsRebalancing(pos, pool, types.PoolConfig{})
	if !d.Required {
		t.Fatalf("position with lower bound at current tick should be flagged: %s", d.Reason)
	}

	pool.CurrentTick = 150
	d = r.NeedsRebalancing(pos, pool, types.PoolConfig{})
	if d.Required {
		t.Fatalf("active two-sided position should not be flagged: %s", d.Reason)
	}
}

// Tightest-range pools ride until a side is exactly depleted: a small but
// nonzero share must not trigger.
func TestNeedsRebalancingTightestRangeDepletion(t *testing.T) {
	r := New(&fakeSource{}, config.DefaultParameters)
	pool := testPool()

	skewed := types.Position{TickLower: 100, TickUpper: 200, AmountA: 0.05, AmountB: 0.95}
	d := r.NeedsRebalancing(skewed, pool, types.PoolConfig{})
	if d.Required {
		t.Fatalf("5%% share should not trigger the tightest-range policy: %s", d.Reason)
	}

	depleted := types.Position{TickLower: 100, TickUpper: 200, AmountA: 0, AmountB: 1}
	d = r.NeedsRebalancing(depleted, pool, types.PoolConfig{})
	if !d.Required {
		t.Fatalf("fully depleted side must trigger: %s", d.Reason)
	}
}

// Custom-range pools trigger strictly below the threshold: 9% flags, 11%
// does not, and exactly 10% does not.
func TestNeedsRebalancingCustomRangeThreshold(t *testing.T) {
	r := New(&fakeSource{}, config.DefaultParameters)
	pool := testPool()
	rangePct := 5.0
	cfg := types.PoolConfig{RangePercent: &rangePct}

	below := types.Position{TickLower: 100, TickUpper: 200, AmountA: 0.09, AmountB: 0.91}
	if d := r.NeedsRebalancing(below, pool, cfg); !d.Required {
		t.Fatalf("9%% share should trigger the custom-range policy: %s", d.Reason)
	}

	above := types.Position{TickLower: 100, TickUpper: 200, AmountA: 0.11, AmountB: 0.89}
	if d := r.NeedsRebalancing(above, pool, cfg); d.Required {
		t.Fatalf("11%% share should not trigger: %s", d.Reason)
	}

	exact := types.Position{TickLower: 100, TickUpper: 200, AmountA: 0.10, AmountB: 0.90}
	if d := r.NeedsRebalancing(exact, pool, cfg); d.Required {
		t.Fatalf("exactly 10%% should not trigger (strict comparison): %s", d.Reason)
	}
}

// When the amount read fails, classification degrades to activity alone
// instead of failing the batch.
func TestClassifyFallsBackOnAmountReadFailure(t *testing.T) {
	src := &fakeSource{amountErr: errors.New("view call failed")}
	r := New(src, config.DefaultParameters)
	pool := testPool()

	active := types.Position{ID: "p1", TickLower: 100, TickUpper: 200}
	if d := r.Classify(context.Background(), active, pool, types.PoolConfig{}); d.Required {
		t.Fatalf("active position with unreadable amounts should not be flagged: %s", d.Reason)
	}

	inactive := types.Position{ID: "p2", TickLower: 300, TickUpper: 400}
	if d := r.Classify(context.Background(), inactive, pool, types.PoolConfig{}); !d.Required {
		t.Fatalf("inactive position should be flagged even with unreadable amounts: %s", d.Reason)
	}
}

func TestClassifyUsesFreshAmounts(t *testing.T) {
	src := &fakeSource{amountA: 0, amountB: 3}
	r := New(src, config.DefaultParameters)
	pool := testPool()

	// Stale snapshot says two-sided; the fresh read says side A is depleted.
	pos := types.Position{ID: "p1", TickLower: 100, TickUpper: 200, AmountA: 1, AmountB: 1}
	if d := r.Classify(context.Background(), pos, pool, types.PoolConfig{}); !d.Required {
		t.Fatalf("fresh depleted read must override the stale snapshot: %s", d.Reason)
	}
}

func TestTargetRangeByPolicy(t *testing.T) {
	r := New(&fakeSource{}, config.DefaultParameters)
	pool := testPool()
	pool.CurrentTick = 500

	lower, upper := r.TargetRange(pool, types.PoolConfig{})
	if lower != 420 || upper != 600 {
		t.Fatalf("tightest range = [%d, %d], want [420, 600]", lower, upper)
	}

	rangePct := 5.0
	lower, upper = r.TargetRange(pool, types.PoolConfig{RangePercent: &rangePct})
	if lower%60 != 0 || upper%60 != 0 || upper <= lower {
		t.Fatalf("custom range [%d, %d] not a valid aligned band", lower, upper)
	}
}
