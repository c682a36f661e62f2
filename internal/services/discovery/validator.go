package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/finbase/rawfeed/internal/models"
)

const (
	recentPriceWindow    = 7 * 24 * time.Hour
	recentDividendWindow = 365 * 24 * time.Hour
)

// ValidationResult is the liveness verdict for one symbol.
type ValidationResult struct {
	Symbol            string
	HasRecentPrice    bool
	HasRecentDividend bool
	Reason            string
}

// Valid reports whether the symbol shows any recent market activity.
func (r *ValidationResult) Valid() bool {
	return r.HasRecentPrice || r.HasRecentDividend
}

// validate checks liveness for every stored symbol with any history and
// auto-excludes the dead ones. Symbols with no rows at all are left alone:
// the price processor owns exclusion for symbols that never return data.
// Returns the number of symbols newly excluded.
func (s *Service) validate(ctx context.Context, universe []models.Symbol) (int, error) {
	now := time.Now().UTC()

	excluded, err := s.repo.ListExcluded(ctx)
	if err != nil {
		return 0, fmt.Errorf("load exclusions: %w", err)
	}
	latestPrices, err := s.repo.BulkLatestDates(ctx, models.DataPrices, nil)
	if err != nil {
		return 0, fmt.Errorf("load latest price dates: %w", err)
	}
	latestDividends, err := s.repo.BulkLatestDates(ctx, models.DataDividends, nil)
	if err != nil {
		return 0, fmt.Errorf("load latest dividend dates: %w", err)
	}

	count := 0
	for _, sym := range universe {
		if row, ok := excluded[sym.Identifier]; ok && row.AutoExcluded {
			continue
		}

		result := s.check(sym.Identifier, now, latestPrices, latestDividends)
		if result == nil || result.Valid() {
			continue
		}

		if err := s.repo.MarkExcluded(ctx, sym.Identifier, models.ExcludeReasonNoData, true); err != nil {
			s.logger.Error().Err(err).Str("symbol", sym.Identifier).Msg("Failed to record exclusion")
			continue
		}
		s.logger.Info().Str("symbol", sym.Identifier).Str("reason", result.Reason).Msg("Symbol auto-excluded")
		count++
	}
	return count, nil
}

// check returns nil for symbols with no stored history.
func (s *Service) check(symbol string, now time.Time, latestPrices, latestDividends map[string]time.Time) *ValidationResult {
	lastPrice, hasPrices := latestPrices[symbol]
	lastDividend, hasDividends := latestDividends[symbol]
	if !hasPrices && !hasDividends {
		return nil
	}

	result := &ValidationResult{
		Symbol:            symbol,
		HasRecentPrice:    hasPrices && now.Sub(lastPrice) <= recentPriceWindow,
		HasRecentDividend: hasDividends && now.Sub(lastDividend) <= recentDividendWindow,
	}
	if !result.Valid() {
		result.Reason = fmt.Sprintf("no price within 7d, no dividend within 365d (last price %s, last dividend %s)",
			formatDate(lastPrice), formatDate(lastDividend))
	}
	return result
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format("2006-01-02")
}
