// Package domain holds the types and collaborator interfaces shared across modules.
package domain

import (
	"context"
	"time"
)

// PricePoint is one adjusted monthly close.
type PricePoint struct {
	Date  time.Time
	Price float64
}

// PriceProvider returns monthly adjusted closing prices for a symbol.
// Implementations must return points sorted ascending by date and report
// failures as *DataUnavailableError. A nil endYear means up to the most
// recent month.
type PriceProvider interface {
	FetchMonthlyPrices(ctx context.Context, symbol string, startYear int, endYear *int) ([]PricePoint, error)
}

// Closes extracts the price column of a series.
func Closes(points []PricePoint) []float64 {
	closes := make([]float64, len(points))
	for i, p := range points {
		closes[i] = p.Price
	}
	return closes
}
