// Package formulas holds the closed-form portfolio statistics shared by the
// estimator and the objective functions.
package formulas

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// MonthsPerYear is the compounding frequency used for annualization.
const MonthsPerYear = 12

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// CalculateReturns converts prices to simple period-over-period returns.
// Returns[i] = Price[i+1]/Price[i] - 1
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		returns[i-1] = prices[i]/prices[i-1] - 1
	}

	return returns
}

// AnnualizeMonthlyReturns compounds the arithmetic mean of monthly returns
// over a year: (1 + mean)^12 - 1.
func AnnualizeMonthlyReturns(monthly []float64) float64 {
	if len(monthly) == 0 {
		return math.NaN()
	}
	return math.Pow(1+Mean(monthly), MonthsPerYear) - 1
}

// PortfolioReturn is x·mu.
func PortfolioReturn(weights, mu []float64) float64 {
	return floats.Dot(weights, mu)
}

// PortfolioVariance is x·Σ·x.
func PortfolioVariance(weights []float64, sigma mat.Symmetric) float64 {
	x := mat.NewVecDense(len(weights), weights)
	return mat.Inner(x, sigma, x)
}

// SharpeRatio returns (x·mu - rf) / sqrt(x·Σ·x). The variance is clipped
// from below at floor so a degenerate portfolio does not divide by zero.
func SharpeRatio(weights, mu []float64, sigma mat.Symmetric, riskFreeReturn, floor float64) float64 {
	variance := math.Max(PortfolioVariance(weights, sigma), floor)
	return (PortfolioReturn(weights, mu) - riskFreeReturn) / math.Sqrt(variance)
}

// InverseSharpe returns 1/sharpe, the quantity minimized by the classic
// SLSQP formulation. It is +Inf when the excess return is exactly zero and
// negative when the excess return is negative.
func InverseSharpe(weights, mu []float64, sigma mat.Symmetric, riskFreeReturn float64) float64 {
	excess := PortfolioReturn(weights, mu) - riskFreeReturn
	if excess == 0 {
		return math.Inf(1)
	}
	return math.Sqrt(PortfolioVariance(weights, sigma)) / excess
}
