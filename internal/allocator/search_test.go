package allocator

import (
	"context"
	"errors"
	"math"
	"math/big"
	"testing"

	sdkmath "cosmossdk.io/math"

	"github.com/aeither/AptosDeFiHub/internal/config"
	"github.com/aeither/AptosDeFiHub/internal/types"
)

// monotonicOracle pairs each TokenA amount with ratio-times as much TokenB,
// matching the real oracle's monotonic shape.
type monotonicOracle struct {
	ratio float64
	calls int
}

func (m *monotonicOracle) EstimatePairedAmount(ctx context.Context, pool types.Pool, amountA float64, tickLower, tickUpper int) (float64, error) {
	m.calls++
	return amountA * m.ratio, nil
}

type failingOracle struct{}

func (failingOracle) EstimatePairedAmount(ctx context.Context, pool types.Pool, amountA float64, tickLower, tickUpper int) (float64, error) {
	return 0, errors.New("view call failed")
}

func testPool() types.Pool {
	q64 := new(big.Int).Lsh(big.NewInt(1), 64)
	return types.Pool{
		ID:        "0xpool",
		SqrtPrice: sdkmath.NewIntFromBigInt(q64),
		FeeTier:   types.FeeTier030,
		TokenA:    types.Token{Address: "0xa", Symbol: "AAA", Precision: 8},
		TokenB:    types.Token{Address: "0xb", Symbol: "BBB", Precision: 8},
	}
}

// With plentiful TokenB the search should push utilization to the top of the
// window.
func TestFindMaxAllocationConvergesHigh(t *testing.T) {
	oracle := &monotonicOracle{ratio: 1.0}
	s := New(oracle, config.DefaultParameters)

	alloc, err := s.FindMaxAllocation(context.Background(), testPool(), -60, 60, 100, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alloc.UtilizationPct < config.DefaultParameters.AllocationMaxPct-0.01 {
		t.Fatalf("expected near-max utilization, got %f", alloc.UtilizationPct)
	}
	if oracle.calls > config.DefaultParameters.AllocationMaxIterations {
		t.Fatalf("oracle called %d times, budget is %d", oracle.calls, config.DefaultParameters.AllocationMaxIterations)
	}
}

// When TokenB binds, the search must settle close to the true feasibility
// boundary from below.
func TestFindMaxAllocationConvergesToConstraint(t *testing.T) {
	// ratio 1 and availableB = 70 make 70% of availableA=100 the boundary.
	s := New(&monotonicOracle{ratio: 1.0}, config.DefaultParameters)

	alloc, err := s.FindMaxAllocation(context.Background(), testPool(), -60, 60, 100, 70)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alloc.AmountB > 70 {
		t.Fatalf("allocation requires %f TokenB but only 70 is available", alloc.AmountB)
	}
	if math.Abs(alloc.UtilizationPct-0.70) > 0.001+1e-9 {
		t.Fatalf("expected convergence near 0.70, got %f", alloc.UtilizationPct)
	}
}

func TestFindMaxAllocationRoundsToStep(t *testing.T) {
	s := New(&monotonicOracle{ratio: 1.0}, config.DefaultParameters)

	alloc, err := s.FindMaxAllocation(context.Background(), testPool(), -60, 60, 3.14159, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	step := sdkmath.NewInt(config.DefaultParameters.RawRoundStep)
	if !alloc.RawA.Mod(step).IsZero() || !alloc.RawB.Mod(step).IsZero() {
		t.Fatalf("raw amounts %s/%s not aligned to step %s", alloc.RawA, alloc.RawB, step)
	}
}

// The whole search window infeasible: the fallback trial also fails and the
// search reports terminal failure.
func TestFindMaxAllocationNoFeasiblePoint(t *testing.T) {
	// Every candidate needs 10x its TokenA in TokenB, but almost none is held.
	s := New(&monotonicOracle{ratio: 10.0}, config.DefaultParameters)

	_, err := s.FindMaxAllocation(context.Background(), testPool(), -60, 60, 100, 0.5)
	if !errors.Is(err, ErrNoFeasibleAllocation) {
		t.Fatalf("expected ErrNoFeasibleAllocation, got %v", err)
	}
}

func TestFindMaxAllocationBelowMinimum(t *testing.T) {
	s := New(&monotonicOracle{ratio: 1.0}, config.DefaultParameters)

	// 0.00001 of an 8-decimal token is 1000 raw; every candidate inside the
	// 50-99.9% utilization window rounds down to zero at the protocol step.
	_, err := s.FindMaxAllocation(context.Background(), testPool(), -60, 60, 0.00001, 10)
	if err == nil {
		t.Fatalf("expected failure for dust-sized allocation")
	}
}

func TestFindMaxAllocationRejectsBadInputs(t *testing.T) {
	s := New(&monotonicOracle{ratio: 1.0}, config.DefaultParameters)

	if _, err := s.FindMaxAllocation(context.Background(), testPool(), -60, 60, 0, 10); !errors.Is(err, ErrInvalidInputs) {
		t.Fatalf("expected ErrInvalidInputs for zero TokenA, got %v", err)
	}
	if _, err := s.FindMaxAllocation(context.Background(), testPool(), -60, 60, 10, -1); !errors.Is(err, ErrInvalidInputs) {
		t.Fatalf("expected ErrInvalidInputs for negative TokenB, got %v", err)
	}
}

func TestFindMaxAllocationOracleFailure(t *testing.T) {
	s := New(failingOracle{}, config.DefaultParameters)

	if _, err := s.FindMaxAllocation(context.Background(), testPool(), -60, 60, 100, 100); err == nil {
		t.Fatalf("expected error when the oracle is down")
	}
}
