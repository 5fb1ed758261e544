package optimization

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/pkg/formulas"
)

// OptimizerService fetches prices, estimates return statistics and solves
// for portfolio weights. Each call is independent; nothing is cached.
type OptimizerService struct {
	provider  domain.PriceProvider
	estimator *ReturnsEstimator
	optimizer *MVOptimizer
	cfg       Config
	now       func() time.Time
	log       zerolog.Logger
}

// NewOptimizerService creates a new optimizer service. Zero fields of cfg
// take their documented defaults.
func NewOptimizerService(provider domain.PriceProvider, cfg Config, log zerolog.Logger) *OptimizerService {
	cfg = cfg.withDefaults()
	return &OptimizerService{
		provider:  provider,
		estimator: NewReturnsEstimator(log),
		optimizer: NewMVOptimizer(cfg, log),
		cfg:       cfg,
		now:       time.Now,
		log:       log.With().Str("component", "optimizer_service").Logger(),
	}
}

// Config returns the effective configuration.
func (s *OptimizerService) Config() Config {
	return s.cfg
}

// OptimizeSharpe returns the weights that maximize the Sharpe ratio for the
// given risk-free return.
func (s *OptimizerService) OptimizeSharpe(ctx context.Context, req SharpeRequest) (*Result, error) {
	objective := MaxSharpe{
		RiskFreeReturn: req.RiskFreeReturn,
		VarianceFloor:  s.cfg.VarianceFloor,
	}
	return s.run(ctx, objective, req.RiskFreeReturn, req.Symbols, req.StartYear, req.EndYear, req.MaxWeight)
}

// OptimizeReturn returns the minimum-variance weights whose expected return
// is close to MinReturn.
func (s *OptimizerService) OptimizeReturn(ctx context.Context, req ReturnRequest) (*Result, error) {
	objective := TargetReturn{
		MinReturn: req.MinReturn,
		Penalty:   s.cfg.ReturnPenalty,
	}
	return s.run(ctx, objective, 0, req.Symbols, req.StartYear, req.EndYear, req.MaxWeight)
}

// run is shared by both entry points; they differ only in the objective.
// riskFreeReturn is used for reporting the Sharpe ratio of the result.
func (s *OptimizerService) run(
	ctx context.Context,
	objective Objective,
	riskFreeReturn float64,
	rawSymbols []string,
	startYear int,
	endYear *int,
	maxWeightOverride *float64,
) (*Result, error) {
	runID := uuid.New().String()
	log := s.log.With().Str("run_id", runID).Str("objective", objective.Name()).Logger()

	symbols, err := normalizeSymbols(rawSymbols)
	if err != nil {
		return nil, err
	}
	if err := s.validateYears(startYear, endYear); err != nil {
		return nil, err
	}

	maxWeight := s.cfg.MaxWeight
	if maxWeightOverride != nil {
		maxWeight = *maxWeightOverride
	}
	// Alignment can only shrink the universe, so an infeasible cap is
	// rejected before any price is fetched.
	if _, err := NewConstraints(len(symbols), maxWeight); err != nil {
		return nil, err
	}

	log.Info().
		Int("num_symbols", len(symbols)).
		Int("start_year", startYear).
		Float64("max_weight", maxWeight).
		Msg("Starting portfolio optimization")

	series, err := s.fetchSeries(ctx, symbols, startYear, endYear)
	if err != nil {
		return nil, err
	}

	aligned, dropped, err := AlignSeries(series)
	if err != nil {
		return nil, err
	}
	if len(dropped) > 0 {
		log.Info().Strs("dropped", dropped).Msg("Dropped symbols with shorter price history")
	}

	stats, err := s.estimator.Estimate(aligned)
	if err != nil {
		return nil, err
	}

	solution, err := s.optimizer.Optimize(ctx, objective, stats, maxWeight)
	if err != nil {
		log.Error().Err(err).Msg("Portfolio optimization failed")
		return nil, err
	}

	result := s.buildResult(runID, objective, riskFreeReturn, stats, solution, dropped, maxWeight)

	log.Info().
		Interface("percentages", result.Percentages).
		Float64("expected_return", result.ExpectedReturn).
		Float64("sharpe_ratio", result.SharpeRatio).
		Str("status", result.Status).
		Int("iterations", result.Iterations).
		Msg("Portfolio optimization complete")

	return result, nil
}

func (s *OptimizerService) buildResult(
	runID string,
	objective Objective,
	riskFreeReturn float64,
	stats *ReturnStatistics,
	solution *Solution,
	dropped []string,
	maxWeight float64,
) *Result {
	weights := make(map[string]float64, stats.Len())
	for i, symbol := range stats.Symbols {
		weights[symbol] = solution.Weights[i]
	}

	variance := formulas.PortfolioVariance(solution.Weights, stats.Sigma)

	return &Result{
		RunID:          runID,
		Objective:      objective.Name(),
		Symbols:        stats.Symbols,
		Dropped:        dropped,
		Weights:        weights,
		Percentages:    ToPercentages(stats.Symbols, solution.Weights, maxWeight),
		MaxWeight:      maxWeight,
		ExpectedReturn: formulas.PortfolioReturn(solution.Weights, stats.Mu),
		Volatility:     math.Sqrt(math.Max(variance, 0)),
		SharpeRatio:    formulas.SharpeRatio(solution.Weights, stats.Mu, stats.Sigma, riskFreeReturn, s.cfg.VarianceFloor),
		Status:         solution.Status.String(),
		Method:         solution.Method,
		Restarts:       solution.Restarts,
		Iterations:     solution.Iterations,
		Observations:   stats.Observations,
	}
}

// fetchSeries fetches every symbol concurrently and waits for all of them,
// keeping the input order so mu and sigma share one symbol ordering.
func (s *OptimizerService) fetchSeries(ctx context.Context, symbols []string, startYear int, endYear *int) ([]SymbolSeries, error) {
	series := make([]SymbolSeries, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FetchConcurrency)
	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			points, err := s.provider.FetchMonthlyPrices(gctx, symbol, startYear, endYear)
			if err != nil {
				var unavailable *domain.DataUnavailableError
				if errors.As(err, &unavailable) {
					return err
				}
				return &domain.DataUnavailableError{Symbol: symbol, Err: err}
			}
			series[i] = SymbolSeries{Symbol: symbol, Prices: domain.Closes(points)}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return series, nil
}

func (s *OptimizerService) validateYears(startYear int, endYear *int) error {
	current := s.now().Year()
	if startYear <= 0 || startYear > current {
		return &domain.ConfigurationError{
			Field:   "start_year",
			Message: fmt.Sprintf("must be between 1 and %d, got %d", current, startYear),
		}
	}
	if endYear != nil && *endYear < startYear {
		return &domain.ConfigurationError{
			Field:   "end_year",
			Message: fmt.Sprintf("%d is before start_year %d", *endYear, startYear),
		}
	}
	return nil
}

// normalizeSymbols trims blanks and removes duplicates, keeping first
// occurrences in order.
func normalizeSymbols(raw []string) ([]string, error) {
	seen := make(map[string]bool, len(raw))
	symbols := make([]string, 0, len(raw))
	for _, symbol := range raw {
		symbol = strings.TrimSpace(symbol)
		if symbol == "" || seen[symbol] {
			continue
		}
		seen[symbol] = true
		symbols = append(symbols, symbol)
	}
	if len(symbols) == 0 {
		return nil, &domain.ConfigurationError{Field: "symbols", Message: "at least one symbol is required"}
	}
	return symbols, nil
}
