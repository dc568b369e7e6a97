package reader

import (
	"math"

	"github.com/aeither/AptosDeFiHub/internal/types"
)

// TightestRange returns the narrowest spacing-aligned band around the current
// tick: one full tick-spacing step on each side, with the bounds pushed
// outward to the surrounding alignment boundaries.
func TightestRange(currentTick, spacing int) (tickLower, tickUpper int) {
	tickLower = floorDiv(currentTick-spacing, spacing) * spacing
	tickUpper = ceilDiv(currentTick+spacing, spacing) * spacing
	return tickLower, tickUpper
}

// RangeForPercent returns a spacing-aligned tick band covering a symmetric
// percentage window around the pool's current price.
func RangeForPercent(pool types.Pool, percent float64) (tickLower, tickUpper int) {
	spacing := pool.FeeTier.TickSpacing()
	price := pool.Price()
	if price <= 0 || percent <= 0 {
		return TightestRange(pool.CurrentTick, spacing)
	}

	lowTick := priceToTick(price*(1-percent/100), pool)
	highTick := priceToTick(price*(1+percent/100), pool)

	tickLower = floorDiv(lowTick, spacing) * spacing
	tickUpper = ceilDiv(highTick, spacing) * spacing
	if tickUpper <= tickLower {
		tickUpper = tickLower + spacing
	}
	return tickLower, tickUpper
}

// priceToTick inverts the display-price formula: ticks index the raw price
// (before decimal adjustment) on a 1.0001 log scale.
func priceToTick(displayPrice float64, pool types.Pool) int {
	rawPrice := displayPrice / math.Pow(10, float64(pool.TokenA.Precision-pool.TokenB.Precision))
	return int(math.Round(math.Log(rawPrice) / math.Log(1.0001)))
}

// floorDiv divides rounding toward negative infinity; Go's integer division
// truncates toward zero, which misaligns negative ticks.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func ceilDiv(a, b int) int {
	return -floorDiv(-a, b)
}
