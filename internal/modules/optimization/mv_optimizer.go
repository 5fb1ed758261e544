package optimization

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/pkg/formulas"
)

// Solution is the solver output for one run.
type Solution struct {
	Weights         []float64
	ObjectiveValue  float64
	Status          optimize.Status
	Method          string
	Restarts        int
	Iterations      int
	FuncEvaluations int
	Runtime         time.Duration
}

// MVOptimizer minimizes an Objective over long-only, fully-invested weights
// with a per-asset cap.
//
// gonum/optimize has no SLSQP, so constraints are enforced by projection:
// the solver searches over unconstrained y and the objective is evaluated
// at P(y), the Euclidean projection of y onto the feasible set. A quadratic
// penalty on |y - P(y)| keeps the search near the feasible set. P makes the
// objective non-smooth, so the search is derivative-free Nelder-Mead,
// restarted from its best point when a run hits the iteration limit.
type MVOptimizer struct {
	cfg Config
	log zerolog.Logger
}

// NewMVOptimizer creates a new mean-variance optimizer.
func NewMVOptimizer(cfg Config, log zerolog.Logger) *MVOptimizer {
	return &MVOptimizer{
		cfg: cfg.withDefaults(),
		log: log.With().Str("component", "mv_optimizer").Logger(),
	}
}

// Optimize solves min objective(x) subject to 0 <= x_i <= maxWeight and
// Σx = 1, starting from uniform weights.
//
// Returns a ConfigurationError when maxWeight*n < 1 (checked before the
// solver runs), and an OptimizationFailedError when the solver does not
// report convergence or its result violates the constraints.
func (mvo *MVOptimizer) Optimize(
	ctx context.Context,
	objective Objective,
	stats *ReturnStatistics,
	maxWeight float64,
) (*Solution, error) {
	if stats == nil || stats.Len() == 0 {
		return nil, &domain.InsufficientDataError{Reason: "no return statistics"}
	}
	n := stats.Len()
	if len(stats.Mu) != n || stats.Sigma == nil || stats.Sigma.SymmetricDim() != n {
		return nil, fmt.Errorf("return statistics are inconsistent: %d symbols, %d returns", n, len(stats.Mu))
	}

	constraints, err := NewConstraints(n, maxWeight)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mu, sigma := stats.Mu, stats.Sigma
	penalty := mvo.cfg.ProjectionPenalty
	f := func(y []float64) float64 {
		x := constraints.Project(nil, y)
		dist := floats.Distance(y, x, 2)
		return objective.Evaluate(x, mu, sigma) + penalty*dist*dist
	}

	initial := constraints.Uniform()
	start := time.Now()

	outcome, err := mvo.minimize(ctx, f, initial)
	result := outcome.result

	if err != nil {
		status := ""
		if result != nil {
			status = result.Status.String()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Join(err, ctxErr)
		}
		return nil, &domain.OptimizationFailedError{Status: status, Reason: "solver error", Err: err}
	}
	if !converged(result.Status) {
		failure := &domain.OptimizationFailedError{
			Status: result.Status.String(),
			Reason: "solver did not converge",
		}
		if result.Status == optimize.RuntimeLimit {
			failure.Reason = "solver deadline exceeded"
			failure.Err = ctx.Err()
		}
		return nil, failure
	}

	weights := constraints.Project(nil, result.X)
	if err := constraints.Validate(weights, mvo.cfg.FeasibilityTolerance); err != nil {
		return nil, &domain.OptimizationFailedError{
			Status: result.Status.String(),
			Reason: "solution violates constraints",
			Err:    err,
		}
	}

	solution := &Solution{
		Weights:         weights,
		ObjectiveValue:  objective.Evaluate(weights, mu, sigma),
		Status:          result.Status,
		Method:          "nelder_mead",
		Restarts:        outcome.restarts,
		Iterations:      outcome.iterations,
		FuncEvaluations: outcome.evaluations,
		Runtime:         time.Since(start),
	}

	event := mvo.log.Debug().
		Str("objective", objective.Name()).
		Str("status", result.Status.String()).
		Int("restarts", solution.Restarts).
		Int("iterations", solution.Iterations).
		Int("func_evaluations", solution.FuncEvaluations).
		Dur("runtime", solution.Runtime).
		Float64("value", solution.ObjectiveValue)
	if sharpe, ok := objective.(MaxSharpe); ok {
		event = event.Float64("inverse_sharpe", formulas.InverseSharpe(weights, mu, sigma, sharpe.RiskFreeReturn))
	}
	event.Msg("Optimization converged")

	return solution, nil
}

// searchOutcome accumulates solver statistics across restarts.
type searchOutcome struct {
	result      *optimize.Result
	restarts    int
	iterations  int
	evaluations int
}

// minimize runs Nelder-Mead and restarts it from the best point found when a
// run stops on its iteration limit. A restart rebuilds the simplex around
// that point, which frees a simplex collapsed against a kink of P.
func (mvo *MVOptimizer) minimize(ctx context.Context, f func([]float64) float64, initial []float64) (searchOutcome, error) {
	// one wall-clock budget covers every restart
	ctx, cancel := context.WithTimeout(ctx, mvo.cfg.Timeout)
	defer cancel()

	var out searchOutcome
	problem := optimize.Problem{Func: f}
	x := initial

	for attempt := 0; ; attempt++ {
		settings, err := mvo.settings(ctx, len(initial))
		if err != nil {
			return out, err
		}

		result, err := optimize.Minimize(problem, x, settings, &optimize.NelderMead{})
		out.restarts = attempt
		if result != nil {
			out.result = result
			out.iterations += result.Stats.MajorIterations
			out.evaluations += result.Stats.FuncEvaluations
		}
		if err != nil || result == nil {
			return out, err
		}
		if result.Status != optimize.IterationLimit || attempt >= mvo.cfg.Restarts {
			return out, nil
		}
		if len(result.X) == len(x) {
			x = result.X
		}

		mvo.log.Warn().
			Int("attempt", attempt+1).
			Int("iterations", result.Stats.MajorIterations).
			Float64("value", result.F).
			Msg("Nelder-Mead hit the iteration limit, restarting from best point")
	}
}

// settings builds solver limits for n assets, capping the runtime at the
// context deadline.
func (mvo *MVOptimizer) settings(ctx context.Context, n int) (*optimize.Settings, error) {
	runtime := mvo.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, context.DeadlineExceeded
		}
		if remaining < runtime {
			runtime = remaining
		}
	}

	return &optimize.Settings{
		MajorIterations: mvo.cfg.IterationBudget(n),
		Runtime:         runtime,
		Converger: &optimize.FunctionConverge{
			Absolute:   mvo.cfg.FunctionTolerance,
			Iterations: mvo.cfg.ConvergenceIterations,
		},
	}, nil
}

// converged reports whether a termination status is a successful one.
func converged(status optimize.Status) bool {
	switch status {
	case optimize.Success,
		optimize.FunctionConvergence,
		optimize.GradientThreshold,
		optimize.StepConvergence,
		optimize.MethodConverge:
		return true
	}
	return false
}
