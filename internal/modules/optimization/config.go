package optimization

import (
	"fmt"
	"math"
	"time"

	"github.com/aristath/allocator/internal/domain"
)

// Defaults for Config. ReturnPenalty is a fixed tuning knob, sized for
// annualized returns expressed as fractions; it does not adapt to the
// scale of the asset returns.
const (
	DefaultMaxWeight             = 0.5
	DefaultReturnPenalty         = 100.0
	DefaultVarianceFloor         = 1e-12
	DefaultMaxIterations         = 5000
	DefaultIterationScale        = 20
	DefaultRestarts              = 2
	DefaultFunctionTolerance     = 1e-10
	DefaultConvergenceIterations = 200
	DefaultFeasibilityTolerance  = 1e-6
	DefaultProjectionPenalty     = 1.0
	DefaultTimeout               = 30 * time.Second
	DefaultFetchConcurrency      = 4

	// MinPricePoints is the shortest usable series: two returns are needed
	// for an unbiased (N-1) covariance.
	MinPricePoints = 3
)

// Config holds the optimizer tuning knobs.
type Config struct {
	MaxWeight             float64       // per-asset upper bound when a request does not set one
	ReturnPenalty         float64       // weight of |x·mu - target| in the target-return objective
	VarianceFloor         float64       // lower clip for x·Σ·x in the Sharpe objective
	MaxIterations         int           // minimum major-iteration limit per solver run
	IterationScale        int           // iterations per n² when that exceeds MaxIterations
	Restarts              int           // Nelder-Mead restarts from the best point after an iteration limit
	FunctionTolerance     float64       // absolute objective improvement treated as converged
	ConvergenceIterations int           // iterations without improvement before convergence
	FeasibilityTolerance  float64       // allowed bound and budget violation of the result
	ProjectionPenalty     float64       // weight of the distance between iterate and feasible set
	Timeout               time.Duration // solver wall-clock limit per run
	FetchConcurrency      int           // parallel price fetches
}

// IterationBudget is the major-iteration limit for one solver run over n
// assets. Nelder-Mead needs roughly quadratically more iterations as the
// dimension grows, so a fixed limit would fail large universes.
func (c Config) IterationBudget(n int) int {
	return max(c.MaxIterations, c.IterationScale*n*n)
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxWeight:             DefaultMaxWeight,
		ReturnPenalty:         DefaultReturnPenalty,
		VarianceFloor:         DefaultVarianceFloor,
		MaxIterations:         DefaultMaxIterations,
		IterationScale:        DefaultIterationScale,
		Restarts:              DefaultRestarts,
		FunctionTolerance:     DefaultFunctionTolerance,
		ConvergenceIterations: DefaultConvergenceIterations,
		FeasibilityTolerance:  DefaultFeasibilityTolerance,
		ProjectionPenalty:     DefaultProjectionPenalty,
		Timeout:               DefaultTimeout,
		FetchConcurrency:      DefaultFetchConcurrency,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxWeight == 0 {
		c.MaxWeight = d.MaxWeight
	}
	if c.ReturnPenalty == 0 {
		c.ReturnPenalty = d.ReturnPenalty
	}
	if c.VarianceFloor == 0 {
		c.VarianceFloor = d.VarianceFloor
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.IterationScale == 0 {
		c.IterationScale = d.IterationScale
	}
	if c.Restarts == 0 {
		c.Restarts = d.Restarts
	}
	if c.FunctionTolerance == 0 {
		c.FunctionTolerance = d.FunctionTolerance
	}
	if c.ConvergenceIterations == 0 {
		c.ConvergenceIterations = d.ConvergenceIterations
	}
	if c.FeasibilityTolerance == 0 {
		c.FeasibilityTolerance = d.FeasibilityTolerance
	}
	if c.ProjectionPenalty == 0 {
		c.ProjectionPenalty = d.ProjectionPenalty
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
	if c.FetchConcurrency == 0 {
		c.FetchConcurrency = d.FetchConcurrency
	}
	return c
}

// Validate rejects values the optimizer cannot work with.
func (c Config) Validate() error {
	if err := validateMaxWeight(c.MaxWeight); err != nil {
		return err
	}
	checks := []struct {
		field string
		ok    bool
	}{
		{"return_penalty", c.ReturnPenalty > 0},
		{"variance_floor", c.VarianceFloor > 0},
		{"max_iterations", c.MaxIterations > 0},
		{"iteration_scale", c.IterationScale > 0},
		{"restarts", c.Restarts > 0},
		{"function_tolerance", c.FunctionTolerance > 0},
		{"convergence_iterations", c.ConvergenceIterations > 0},
		{"feasibility_tolerance", c.FeasibilityTolerance > 0},
		{"projection_penalty", c.ProjectionPenalty > 0},
		{"timeout", c.Timeout > 0},
		{"fetch_concurrency", c.FetchConcurrency > 0},
	}
	for _, check := range checks {
		if !check.ok {
			return &domain.ConfigurationError{Field: check.field, Message: "must be positive"}
		}
	}
	return nil
}

func validateMaxWeight(maxWeight float64) error {
	if math.IsNaN(maxWeight) || maxWeight <= 0 || maxWeight > 1 {
		return &domain.ConfigurationError{
			Field:   "max_weight",
			Message: fmt.Sprintf("must be in (0, 1], got %g", maxWeight),
		}
	}
	return nil
}
