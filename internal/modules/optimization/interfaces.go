package optimization

import (
	"gonum.org/v1/gonum/mat"
)

// Objective is a scalar function of the weight vector that the optimizer
// minimizes. MaxSharpe and TargetReturn are the two variants.
type Objective interface {
	// Name identifies the objective in logs and results.
	Name() string
	// Evaluate returns the objective at weights x.
	Evaluate(x, mu []float64, sigma mat.Symmetric) float64
}
