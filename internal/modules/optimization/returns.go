package optimization

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/pkg/formulas"
)

// ReturnsEstimator turns aligned monthly price series into expected returns
// and a covariance matrix.
type ReturnsEstimator struct {
	log zerolog.Logger
}

// NewReturnsEstimator creates a new returns estimator.
func NewReturnsEstimator(log zerolog.Logger) *ReturnsEstimator {
	return &ReturnsEstimator{
		log: log.With().Str("component", "returns").Logger(),
	}
}

// Estimate computes annualized expected returns and the sample covariance
// of the raw monthly returns. All series must have the same length (see
// AlignSeries). Mu and Sigma follow the order of series.
//
// Annualization compounds the arithmetic monthly mean, (1 + mean)^12 - 1,
// which approximates geometric compounding for i.i.d. returns. The
// covariance uses the N-1 denominator and is not annualized.
func (re *ReturnsEstimator) Estimate(series []SymbolSeries) (*ReturnStatistics, error) {
	if len(series) == 0 {
		return nil, &domain.InsufficientDataError{Reason: "no symbols to estimate"}
	}

	n := len(series)
	observations := len(series[0].Prices) - 1
	symbols := make([]string, n)
	mu := make([]float64, n)
	var data *mat.Dense

	for j, s := range series {
		if err := validatePrices(s); err != nil {
			return nil, err
		}
		if len(s.Prices)-1 != observations {
			return nil, fmt.Errorf("series %s has %d prices, expected %d: align series before estimating",
				s.Symbol, len(s.Prices), observations+1)
		}

		returns := formulas.CalculateReturns(s.Prices)
		if data == nil {
			data = mat.NewDense(observations, n, nil)
		}
		data.SetCol(j, returns)

		symbols[j] = s.Symbol
		mu[j] = formulas.AnnualizeMonthlyReturns(returns)
	}

	sigma := mat.NewSymDense(n, nil)
	stat.CovarianceMatrix(sigma, data, nil)

	re.log.Debug().
		Int("num_symbols", n).
		Int("observations", observations).
		Msg("Estimated return statistics")

	return &ReturnStatistics{
		Symbols:      symbols,
		Mu:           mu,
		Sigma:        sigma,
		Observations: observations,
	}, nil
}

func validatePrices(s SymbolSeries) error {
	if len(s.Prices) < MinPricePoints {
		return &domain.InsufficientDataError{
			Symbol: s.Symbol,
			Reason: fmt.Sprintf("%d prices, need at least %d", len(s.Prices), MinPricePoints),
		}
	}
	for i, p := range s.Prices {
		if p <= 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return &domain.InsufficientDataError{
				Symbol: s.Symbol,
				Reason: fmt.Sprintf("invalid price %g at index %d", p, i),
			}
		}
	}
	return nil
}
