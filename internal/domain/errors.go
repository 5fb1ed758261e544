package domain

import (
	"fmt"
)

// DataUnavailableError is returned when the price provider cannot serve a
// symbol, either because it is unknown or because the provider failed.
type DataUnavailableError struct {
	Symbol string
	Err    error
}

func (e *DataUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("price data unavailable for %s", e.Symbol)
	}
	return fmt.Sprintf("price data unavailable for %s: %v", e.Symbol, e.Err)
}

func (e *DataUnavailableError) Unwrap() error {
	return e.Err
}

// InsufficientDataError is returned when a price series is too short to
// estimate returns, or when nothing is left after alignment.
// Symbol is empty when the whole universe is affected.
type InsufficientDataError struct {
	Symbol string
	Reason string
}

func (e *InsufficientDataError) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("insufficient data: %s", e.Reason)
	}
	return fmt.Sprintf("insufficient data for %s: %s", e.Symbol, e.Reason)
}

// OptimizationFailedError is returned when the solver does not converge or
// its result violates the bounds or the budget constraint.
type OptimizationFailedError struct {
	Status string // solver termination status, if any
	Reason string
	Err    error
}

func (e *OptimizationFailedError) Error() string {
	msg := "optimization failed"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Status != "" {
		msg += fmt.Sprintf(" (status=%s)", e.Status)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *OptimizationFailedError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports an invalid parameter, e.g. a per-asset cap that
// makes the budget constraint infeasible.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
}
