package optimization

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/allocator/pkg/formulas"
)

// MaxSharpe maximizes (x·mu - rf) / sqrt(x·Σ·x) by minimizing its negation.
// Minimizing 1/sharpe instead has a pole where the excess return crosses
// zero and flips sign past it; the negated ratio is smooth there.
type MaxSharpe struct {
	RiskFreeReturn float64
	VarianceFloor  float64
}

// Name implements Objective.
func (o MaxSharpe) Name() string {
	return "max_sharpe"
}

// Evaluate implements Objective.
func (o MaxSharpe) Evaluate(x, mu []float64, sigma mat.Symmetric) float64 {
	floor := o.VarianceFloor
	if floor <= 0 {
		floor = DefaultVarianceFloor
	}
	return -formulas.SharpeRatio(x, mu, sigma, o.RiskFreeReturn, floor)
}

// TargetReturn minimizes x·Σ·x + Penalty*|x·mu - MinReturn|: variance plus
// an L1 penalty for missing the target return in either direction.
type TargetReturn struct {
	MinReturn float64
	Penalty   float64
}

// Name implements Objective.
func (o TargetReturn) Name() string {
	return "target_return"
}

// Evaluate implements Objective.
func (o TargetReturn) Evaluate(x, mu []float64, sigma mat.Symmetric) float64 {
	penalty := o.Penalty
	if penalty <= 0 {
		penalty = DefaultReturnPenalty
	}
	return formulas.PortfolioVariance(x, sigma) + penalty*math.Abs(formulas.PortfolioReturn(x, mu)-o.MinReturn)
}
