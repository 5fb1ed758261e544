package optimization

import (
	"gonum.org/v1/gonum/mat"
)

// SymbolSeries is the monthly close series of one symbol, oldest first.
type SymbolSeries struct {
	Symbol string
	Prices []float64
}

// ReturnStatistics holds annualized expected returns and the covariance of
// raw monthly returns. Symbols[i] indexes both Mu[i] and row/column i of Sigma.
type ReturnStatistics struct {
	Symbols      []string
	Mu           []float64
	Sigma        *mat.SymDense
	Observations int // monthly returns per symbol
}

// Len returns the number of symbols.
func (s *ReturnStatistics) Len() int {
	return len(s.Symbols)
}

// SharpeRequest asks for the maximum Sharpe ratio portfolio.
type SharpeRequest struct {
	Symbols        []string
	StartYear      int
	EndYear        *int
	RiskFreeReturn float64
	MaxWeight      *float64 // nil uses Config.MaxWeight
}

// ReturnRequest asks for the minimum variance portfolio near MinReturn.
type ReturnRequest struct {
	Symbols   []string
	StartYear int
	EndYear   *int
	MinReturn float64
	MaxWeight *float64 // nil uses Config.MaxWeight
}

// Result is the outcome of one optimization run.
type Result struct {
	RunID          string             `json:"run_id"`
	Objective      string             `json:"objective"`
	Symbols        []string           `json:"symbols"`
	Dropped        []string           `json:"dropped,omitempty"`
	Weights        map[string]float64 `json:"weights"`
	Percentages    map[string]int     `json:"percentages"`
	MaxWeight      float64            `json:"max_weight"`
	ExpectedReturn float64            `json:"expected_return"`
	Volatility     float64            `json:"volatility"` // monthly, from the raw-return covariance
	SharpeRatio    float64            `json:"sharpe_ratio"`
	Status         string             `json:"status"`
	Method         string             `json:"method"`
	Restarts       int                `json:"restarts"`
	Iterations     int                `json:"iterations"`
	Observations   int                `json:"observations"`
}
