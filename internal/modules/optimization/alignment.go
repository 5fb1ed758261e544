package optimization

import (
	"fmt"

	"github.com/aristath/allocator/internal/domain"
)

// AlignSeries keeps only the symbols whose series is as long as the longest
// one. Shorter histories (later listings) are dropped, not imputed. Input
// order is preserved; a repeated symbol keeps its first series.
func AlignSeries(series []SymbolSeries) ([]SymbolSeries, []string, error) {
	seen := make(map[string]bool, len(series))
	unique := make([]SymbolSeries, 0, len(series))
	for _, s := range series {
		if seen[s.Symbol] {
			continue
		}
		seen[s.Symbol] = true
		unique = append(unique, s)
	}

	if len(unique) == 0 {
		return nil, nil, &domain.InsufficientDataError{Reason: "no symbols to align"}
	}

	maxLen := 0
	for _, s := range unique {
		if len(s.Prices) > maxLen {
			maxLen = len(s.Prices)
		}
	}

	if maxLen < MinPricePoints {
		return nil, nil, &domain.InsufficientDataError{
			Reason: fmt.Sprintf("longest series has %d prices, need at least %d", maxLen, MinPricePoints),
		}
	}

	aligned := make([]SymbolSeries, 0, len(unique))
	var dropped []string
	for _, s := range unique {
		if len(s.Prices) == maxLen {
			aligned = append(aligned, s)
		} else {
			dropped = append(dropped, s.Symbol)
		}
	}

	return aligned, dropped, nil
}
