// Package optimization computes long-only portfolio weights from historical
// monthly prices: return estimation, objective functions, and a bounded,
// fully-invested solver.
package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/aristath/allocator/internal/domain"
)

// feasibilitySlack absorbs float error in n*maxWeight, e.g. 10*0.1.
const feasibilitySlack = 1e-12

// projectionIterations bounds the bisection on the projection threshold.
// The bracket starts at most a few units wide, so 100 halvings reach
// adjacent floats.
const projectionIterations = 100

// Constraints is the feasible set {x : 0 <= x_i <= MaxWeight, Σx = 1}.
type Constraints struct {
	N         int
	MaxWeight float64
}

// NewConstraints builds the feasible set for n assets. It fails with a
// ConfigurationError when the per-asset cap cannot add up to one.
func NewConstraints(n int, maxWeight float64) (Constraints, error) {
	if n <= 0 {
		return Constraints{}, &domain.InsufficientDataError{Reason: "no assets to allocate"}
	}
	if err := validateMaxWeight(maxWeight); err != nil {
		return Constraints{}, err
	}
	if float64(n)*maxWeight < 1-feasibilitySlack {
		return Constraints{}, &domain.ConfigurationError{
			Field: "max_weight",
			Message: fmt.Sprintf("%d assets capped at %g cannot sum to 1 (need max_weight >= %g)",
				n, maxWeight, 1/float64(n)),
		}
	}
	return Constraints{N: n, MaxWeight: maxWeight}, nil
}

// Uniform returns the 1/n starting point.
func (c Constraints) Uniform() []float64 {
	x := make([]float64, c.N)
	for i := range x {
		x[i] = 1 / float64(c.N)
	}
	return x
}

// Project writes the Euclidean projection of y onto the feasible set into
// dst and returns it. A nil dst is allocated.
//
// The projection is x_i = clip(y_i - tau, 0, MaxWeight) where tau solves
// Σx_i = 1. The sum is non-increasing in tau, so tau is found by bisection.
func (c Constraints) Project(dst, y []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(y))
	}

	// At lo every coordinate is capped (sum = n*MaxWeight >= 1), at hi every
	// coordinate is zero.
	lo := floats.Min(y) - c.MaxWeight
	hi := floats.Max(y)
	for i := 0; i < projectionIterations && lo < hi; i++ {
		tau := lo + (hi-lo)/2
		if tau == lo || tau == hi {
			break
		}
		if c.clippedSum(y, tau) > 1 {
			lo = tau
		} else {
			hi = tau
		}
	}

	tau := lo + (hi-lo)/2
	for i, v := range y {
		dst[i] = clamp(v-tau, 0, c.MaxWeight)
	}
	return dst
}

func (c Constraints) clippedSum(y []float64, tau float64) float64 {
	var sum float64
	for _, v := range y {
		sum += clamp(v-tau, 0, c.MaxWeight)
	}
	return sum
}

// Validate checks x against the bounds and the budget within tol.
func (c Constraints) Validate(x []float64, tol float64) error {
	if len(x) != c.N {
		return fmt.Errorf("weight vector has %d entries, expected %d", len(x), c.N)
	}
	for i, w := range x {
		if math.IsNaN(w) || w < -tol || w > c.MaxWeight+tol {
			return fmt.Errorf("weight %d = %g outside [0, %g]", i, w, c.MaxWeight)
		}
	}
	if sum := floats.Sum(x); math.Abs(sum-1) > tol {
		return fmt.Errorf("weights sum to %g, expected 1", sum)
	}
	return nil
}

func clamp(value, min, max float64) float64 {
	return math.Max(min, math.Min(max, value))
}
