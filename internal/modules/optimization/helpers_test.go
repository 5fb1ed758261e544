package optimization

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/allocator/internal/domain"
)

// MockPriceProvider is a mock price provider for testing
type MockPriceProvider struct {
	mock.Mock
}

func (m *MockPriceProvider) FetchMonthlyPrices(ctx context.Context, symbol string, startYear int, endYear *int) ([]domain.PricePoint, error) {
	args := m.Called(ctx, symbol, startYear, endYear)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.PricePoint), args.Error(1)
}

// pricesFromReturns compounds returns onto a starting price.
func pricesFromReturns(start float64, returns []float64) []float64 {
	prices := make([]float64, len(returns)+1)
	prices[0] = start
	for i, r := range returns {
		prices[i+1] = prices[i] * (1 + r)
	}
	return prices
}

// cycle repeats pattern until it has n entries.
func cycle(pattern []float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = pattern[i%len(pattern)]
	}
	return out
}

func pricePoints(prices []float64) []domain.PricePoint {
	start := time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC)
	points := make([]domain.PricePoint, len(prices))
	for i, p := range prices {
		points[i] = domain.PricePoint{Date: start.AddDate(0, i, 0), Price: p}
	}
	return points
}

func twoAssetStats() *ReturnStatistics {
	return &ReturnStatistics{
		Symbols: []string{"A", "B"},
		Mu:      []float64{0.10, 0.05},
		Sigma:   mat.NewSymDense(2, []float64{0.04, 0.01, 0.01, 0.02}),
	}
}

func threeAssetStats() *ReturnStatistics {
	return &ReturnStatistics{
		Symbols: []string{"A", "B", "C"},
		Mu:      []float64{0.12, 0.08, 0.10},
		Sigma: mat.NewSymDense(3, []float64{
			0.04, 0.01, 0.005,
			0.01, 0.03, 0.008,
			0.005, 0.008, 0.025,
		}),
	}
}

// panicObjective fails the test if the solver ever evaluates it.
type panicObjective struct{}

func (panicObjective) Name() string { return "panic" }

func (panicObjective) Evaluate(x, mu []float64, sigma mat.Symmetric) float64 {
	panic("objective must not be evaluated")
}
