package optimization

import (
	"sort"

	"github.com/shopspring/decimal"
)

// percentPrecision trims float noise (e.g. 0.29999999999) before splitting
// a scaled weight into its integer and fractional parts.
const percentPrecision = 6

var hundred = decimal.NewFromInt(100)

// ToPercentages converts weights to integer percentages keyed by symbol.
//
// Each entry is floor(100w) or ceil(100w). Largest remainders are rounded up
// first, until the total reaches 100, so plain per-entry rounding drift is
// removed. An entry is never raised above round(100*maxWeight); when that cap
// blocks every remaining candidate the total stays below 100.
func ToPercentages(symbols []string, weights []float64, maxWeight float64) map[string]int {
	type share struct {
		index     int
		whole     int64
		remainder decimal.Decimal
	}

	ceiling := decimal.NewFromFloat(maxWeight).Mul(hundred).Round(0).IntPart()
	shares := make([]share, len(weights))
	var total int64
	for i, w := range weights {
		if w < 0 {
			w = 0
		}
		scaled := decimal.NewFromFloat(w).Mul(hundred).Round(percentPrecision)
		whole := scaled.Floor()
		shares[i] = share{index: i, whole: whole.IntPart(), remainder: scaled.Sub(whole)}
		total += shares[i].whole
	}

	order := make([]int, len(shares))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return shares[order[a]].remainder.GreaterThan(shares[order[b]].remainder)
	})

	for _, i := range order {
		if total >= 100 {
			break
		}
		if !shares[i].remainder.IsPositive() || shares[i].whole+1 > ceiling {
			continue
		}
		shares[i].whole++
		total++
	}

	percentages := make(map[string]int, len(symbols))
	for _, s := range shares {
		percentages[symbols[s.index]] = int(s.whole)
	}
	return percentages
}

// FilterPositive drops zero allocations. The optimizer never does this on
// its own; callers that only want held positions use it.
func FilterPositive(percentages map[string]int) map[string]int {
	filtered := make(map[string]int, len(percentages))
	for symbol, pct := range percentages {
		if pct > 0 {
			filtered[symbol] = pct
		}
	}
	return filtered
}
