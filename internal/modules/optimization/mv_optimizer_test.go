package optimization

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/pkg/formulas"
)

func newTestOptimizer() *MVOptimizer {
	return NewMVOptimizer(DefaultConfig(), zerolog.New(nil).Level(zerolog.Disabled))
}

func assertFeasible(t *testing.T, weights []float64, maxWeight float64) {
	t.Helper()
	sum := 0.0
	for _, w := range weights {
		sum += w
		assert.GreaterOrEqual(t, w, -1e-9, "weights should be non-negative")
		assert.LessOrEqual(t, w, maxWeight+1e-9, "weights should respect the cap")
	}
	assert.InDelta(t, 1.0, sum, 1e-6, "weights should sum to 1")
}

func TestMVOptimizer_SharpeTwoAssetsAtCap(t *testing.T) {
	stats := twoAssetStats()

	solution, err := newTestOptimizer().Optimize(context.Background(), MaxSharpe{RiskFreeReturn: 0.02}, stats, 0.5)
	require.NoError(t, err)
	assertFeasible(t, solution.Weights, 0.5)

	// with a 50% cap the only feasible point is an even split
	assert.GreaterOrEqual(t, solution.Weights[0], solution.Weights[1])
	percentages := ToPercentages(stats.Symbols, solution.Weights, 0.5)
	assert.GreaterOrEqual(t, percentages["A"], percentages["B"])
	assert.LessOrEqual(t, percentages["A"], 50)
	assert.LessOrEqual(t, percentages["B"], 50)
}

func TestMVOptimizer_SharpeTwoAssetsUncapped(t *testing.T) {
	stats := twoAssetStats()

	solution, err := newTestOptimizer().Optimize(context.Background(), MaxSharpe{RiskFreeReturn: 0.02}, stats, 1.0)
	require.NoError(t, err)
	assertFeasible(t, solution.Weights, 1.0)

	// tangency portfolio: Σ^-1 (mu - rf), normalized
	var inv mat.Dense
	require.NoError(t, inv.Inverse(stats.Sigma))
	var z mat.VecDense
	z.MulVec(&inv, mat.NewVecDense(2, []float64{0.08, 0.03}))
	expected := z.AtVec(0) / (z.AtVec(0) + z.AtVec(1))

	assert.InDelta(t, expected, solution.Weights[0], 0.01)
	assert.Greater(t, solution.Weights[0], solution.Weights[1])
}

func TestMVOptimizer_Idempotent(t *testing.T) {
	stats := threeAssetStats()
	optimizer := newTestOptimizer()

	first, err := optimizer.Optimize(context.Background(), MaxSharpe{RiskFreeReturn: 0.02}, stats, 0.5)
	require.NoError(t, err)
	second, err := optimizer.Optimize(context.Background(), MaxSharpe{RiskFreeReturn: 0.02}, stats, 0.5)
	require.NoError(t, err)

	assert.Equal(t, first.Weights, second.Weights)
}

func TestMVOptimizer_LooserCapDoesNotLowerSharpe(t *testing.T) {
	stats := threeAssetStats()
	optimizer := newTestOptimizer()
	objective := MaxSharpe{RiskFreeReturn: 0.02}

	previous := math.Inf(-1)
	for _, maxWeight := range []float64{0.34, 0.4, 0.5, 0.75, 1.0} {
		solution, err := optimizer.Optimize(context.Background(), objective, stats, maxWeight)
		require.NoError(t, err, "max_weight=%g", maxWeight)
		assertFeasible(t, solution.Weights, maxWeight)

		sharpe := formulas.SharpeRatio(solution.Weights, stats.Mu, stats.Sigma, 0.02, 1e-12)
		assert.GreaterOrEqual(t, sharpe, previous-1e-4, "max_weight=%g", maxWeight)
		previous = sharpe
	}
}

func TestMVOptimizer_TargetReturn(t *testing.T) {
	stats := threeAssetStats()
	target := 0.10

	solution, err := newTestOptimizer().Optimize(context.Background(), TargetReturn{MinReturn: target, Penalty: 100}, stats, 1.0)
	require.NoError(t, err)
	assertFeasible(t, solution.Weights, 1.0)

	achieved := floats.Dot(solution.Weights, stats.Mu)
	assert.InDelta(t, target, achieved, 0.002, "achieved return should be close to target")
}

func TestMVOptimizer_TargetReturnPrefersLowerVariance(t *testing.T) {
	stats := threeAssetStats()
	optimizer := newTestOptimizer()

	solution, err := optimizer.Optimize(context.Background(), TargetReturn{MinReturn: 0.10, Penalty: 100}, stats, 1.0)
	require.NoError(t, err)

	// C alone also returns 10%, the optimizer must do at least as well
	variance := formulas.PortfolioVariance(solution.Weights, stats.Sigma)
	assert.LessOrEqual(t, variance, 0.025+1e-6)
}

func TestMVOptimizer_InfeasibleCapSkipsSolver(t *testing.T) {
	stats := threeAssetStats()

	assert.NotPanics(t, func() {
		solution, err := newTestOptimizer().Optimize(context.Background(), panicObjective{}, stats, 0.3)
		assert.Nil(t, solution)
		var cfgErr *domain.ConfigurationError
		assert.ErrorAs(t, err, &cfgErr)
	})
}

func TestMVOptimizer_EmptyStatistics(t *testing.T) {
	_, err := newTestOptimizer().Optimize(context.Background(), MaxSharpe{}, &ReturnStatistics{}, 0.5)
	var insufficient *domain.InsufficientDataError
	assert.ErrorAs(t, err, &insufficient)
}

func TestMVOptimizer_InconsistentStatistics(t *testing.T) {
	stats := twoAssetStats()
	stats.Mu = stats.Mu[:1]

	_, err := newTestOptimizer().Optimize(context.Background(), MaxSharpe{}, stats, 0.5)
	assert.Error(t, err)
}

func TestMVOptimizer_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestOptimizer().Optimize(ctx, MaxSharpe{}, twoAssetStats(), 0.5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMVOptimizer_ExpiredDeadline(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := newTestOptimizer().Optimize(ctx, MaxSharpe{}, twoAssetStats(), 0.5)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMVOptimizer_IterationLimitIsReported(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIterations = 1
	cfg.IterationScale = 1
	optimizer := NewMVOptimizer(cfg, zerolog.Nop())

	_, err := optimizer.Optimize(context.Background(), MaxSharpe{RiskFreeReturn: 0.02}, threeAssetStats(), 0.5)
	var failed *domain.OptimizationFailedError
	require.ErrorAs(t, err, &failed)
	assert.Contains(t, failed.Error(), "optimization failed")
}

// factorModelStats builds a one-factor universe of n assets with distinct
// betas, idiosyncratic variances and expected returns.
func factorModelStats(n int) *ReturnStatistics {
	symbols := make([]string, n)
	mu := make([]float64, n)
	beta := make([]float64, n)
	for i := 0; i < n; i++ {
		symbols[i] = fmt.Sprintf("S%02d", i)
		beta[i] = 0.6 + 0.1*float64(i%9)
		mu[i] = 0.03 + 0.08*float64((i*7)%n)/float64(n)
	}

	sigma := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := 0.02 * beta[i] * beta[j]
			if i == j {
				v += 0.01 + 0.004*float64(i%5)
			}
			sigma.SetSym(i, j, v)
		}
	}
	return &ReturnStatistics{Symbols: symbols, Mu: mu, Sigma: sigma}
}

// projectedGradientSharpe maximizes the Sharpe ratio by projected gradient
// ascent, as an independent check on the solver.
func projectedGradientSharpe(t *testing.T, stats *ReturnStatistics, rf, maxWeight float64) float64 {
	t.Helper()
	c, err := NewConstraints(stats.Len(), maxWeight)
	require.NoError(t, err)

	x := c.Uniform()
	grad := make([]float64, len(x))
	var sx mat.VecDense
	for iter := 0; iter < 20000; iter++ {
		sx.MulVec(stats.Sigma, mat.NewVecDense(len(x), x))
		variance := floats.Dot(x, sx.RawVector().Data)
		vol := math.Sqrt(variance)
		excess := floats.Dot(x, stats.Mu) - rf
		for i := range grad {
			grad[i] = stats.Mu[i]/vol - excess*sx.AtVec(i)/(vol*variance)
		}
		floats.AddScaled(x, 0.001, grad)
		x = c.Project(nil, x)
	}
	return formulas.SharpeRatio(x, stats.Mu, stats.Sigma, rf, DefaultVarianceFloor)
}

func TestMVOptimizer_SharpeLargeUniverse(t *testing.T) {
	for _, n := range []int{30, 40} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			stats := factorModelStats(n)
			objective := MaxSharpe{RiskFreeReturn: 0.02}

			solution, err := newTestOptimizer().Optimize(context.Background(), objective, stats, 0.3)
			require.NoError(t, err)
			assertFeasible(t, solution.Weights, 0.3)

			c, err := NewConstraints(n, 0.3)
			require.NoError(t, err)
			uniform := formulas.SharpeRatio(c.Uniform(), stats.Mu, stats.Sigma, 0.02, DefaultVarianceFloor)
			reference := projectedGradientSharpe(t, stats, 0.02, 0.3)
			sharpe := formulas.SharpeRatio(solution.Weights, stats.Mu, stats.Sigma, 0.02, DefaultVarianceFloor)

			assert.Greater(t, sharpe, uniform)
			assert.GreaterOrEqual(t, sharpe, reference*0.98, "solver %.4f vs reference %.4f", sharpe, reference)
		})
	}
}

func TestConfig_IterationBudget(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultMaxIterations, cfg.IterationBudget(3))
	assert.Equal(t, DefaultMaxIterations, cfg.IterationBudget(15))
	assert.Equal(t, 18000, cfg.IterationBudget(30))
	assert.Equal(t, 50000, cfg.IterationBudget(50))
}

func TestMVOptimizer_RestartsAfterIterationLimit(t *testing.T) {
	quadratic := func(x []float64) float64 {
		return (x[0]-0.3)*(x[0]-0.3) + 2*(x[1]-0.7)*(x[1]-0.7)
	}
	limited := func(restarts int) *MVOptimizer {
		cfg := DefaultConfig()
		cfg.MaxIterations = 5
		cfg.IterationScale = 1
		cfg.Restarts = restarts
		return NewMVOptimizer(cfg, zerolog.Nop())
	}

	once, err := limited(1).minimize(context.Background(), quadratic, []float64{0.5, 0.5})
	require.NoError(t, err)
	assert.Equal(t, 1, once.restarts)
	assert.Equal(t, 10, once.iterations)
	assert.Equal(t, optimize.IterationLimit, once.result.Status)

	many, err := limited(6).minimize(context.Background(), quadratic, []float64{0.5, 0.5})
	require.NoError(t, err)
	assert.Equal(t, 6, many.restarts)
	assert.Equal(t, 35, many.iterations)
	assert.LessOrEqual(t, many.result.F, once.result.F)
}

func TestMVOptimizer_ConvergesWithoutRestart(t *testing.T) {
	quadratic := func(x []float64) float64 {
		return (x[0]-0.3)*(x[0]-0.3) + 2*(x[1]-0.7)*(x[1]-0.7)
	}

	outcome, err := newTestOptimizer().minimize(context.Background(), quadratic, []float64{0.5, 0.5})
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.restarts)
	assert.True(t, converged(outcome.result.Status), outcome.result.Status.String())
	assert.InDelta(t, 0.3, outcome.result.X[0], 1e-3)
	assert.InDelta(t, 0.7, outcome.result.X[1], 1e-3)
}

func TestMVOptimizer_SolutionReportsSearch(t *testing.T) {
	solution, err := newTestOptimizer().Optimize(context.Background(), MaxSharpe{RiskFreeReturn: 0.02}, threeAssetStats(), 0.5)
	require.NoError(t, err)

	assert.Equal(t, "nelder_mead", solution.Method)
	assert.Positive(t, solution.Iterations)
	assert.GreaterOrEqual(t, solution.FuncEvaluations, solution.Iterations)
}

func TestMVOptimizer_LogsInverseSharpe(t *testing.T) {
	var buf bytes.Buffer
	optimizer := NewMVOptimizer(DefaultConfig(), zerolog.New(&buf).Level(zerolog.DebugLevel))
	stats := threeAssetStats()

	solution, err := optimizer.Optimize(context.Background(), MaxSharpe{RiskFreeReturn: 0.02}, stats, 0.5)
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	assert.Equal(t, "Optimization converged", entry["message"])

	expected := formulas.InverseSharpe(solution.Weights, stats.Mu, stats.Sigma, 0.02)
	assert.InDelta(t, expected, entry["inverse_sharpe"], 1e-9)
	assert.InDelta(t, -1/solution.ObjectiveValue, entry["inverse_sharpe"], 1e-6)
}

func TestConverged(t *testing.T) {
	accepted := []optimize.Status{
		optimize.Success,
		optimize.FunctionConvergence,
		optimize.GradientThreshold,
		optimize.StepConvergence,
		optimize.MethodConverge,
	}
	for _, status := range accepted {
		assert.True(t, converged(status), status.String())
	}

	rejected := []optimize.Status{
		optimize.NotTerminated,
		optimize.Failure,
		optimize.IterationLimit,
		optimize.RuntimeLimit,
		optimize.FunctionEvaluationLimit,
	}
	for _, status := range rejected {
		assert.False(t, converged(status), status.String())
	}
}
