package interfaces

import (
	"context"
	"time"

	"github.com/finbase/rawfeed/internal/models"
)

// Repository is the data-access layer over the raw tables. All bulk writes
// are idempotent upserts, chunked to db.upsert_batch_size and chunk-wise
// atomic; a failed chunk is reported and subsequent chunks still attempted.
type Repository interface {
	// Bulk upserts. Each returns the number of rows written.
	UpsertSymbols(ctx context.Context, batch []models.Symbol) (int, error)
	UpsertPrices(ctx context.Context, batch []models.PriceBar) (int, error)
	UpsertDividends(ctx context.Context, batch []models.DividendEvent) (int, error)
	UpsertFutureDividends(ctx context.Context, batch []models.DividendEvent) (int, error)
	UpsertSplits(ctx context.Context, batch []models.CorporateSplit) (int, error)
	UpsertCompanies(ctx context.Context, batch []models.CompanyInfo) (int, error)

	// BulkLatestDates returns max(date) per symbol for the given data type in
	// a single query. A nil symbols slice covers the whole table.
	BulkLatestDates(ctx context.Context, dataType models.DataType, symbols []string) (map[string]time.Time, error)

	// LatestDate is the per-symbol probe fallback when the bulk path fails.
	LatestDate(ctx context.Context, dataType models.DataType, symbol string) (time.Time, error)

	// DistinctSymbolsWith returns the set of symbols holding any row of the
	// given data type.
	DistinctSymbolsWith(ctx context.Context, dataType models.DataType) (map[string]bool, error)

	// Symbol universe.
	ListSymbols(ctx context.Context) ([]models.Symbol, error)
	ListSymbolsNullName(ctx context.Context, limit int) ([]models.Symbol, error)
	DividendPayers(ctx context.Context) (map[string]bool, error)
	TouchSymbols(ctx context.Context, symbols []string, at time.Time) error

	// Validator lookups.
	HasPriceSince(ctx context.Context, symbol string, since time.Time) (bool, error)
	HasDividendSince(ctx context.Context, symbol string, since time.Time) (bool, error)

	// Company cache.
	CompaniesRefreshedSince(ctx context.Context, cutoff time.Time) (map[string]bool, error)

	// Exclusion ledger.
	ListExcluded(ctx context.Context) (map[string]models.ExcludedSymbol, error)
	MarkExcluded(ctx context.Context, symbol, reason string, auto bool) error

	// Source tracking rows.
	UpsertTracking(ctx context.Context, row models.SourceAvailability) error
	ListTracking(ctx context.Context, dataType models.DataType, symbols []string) ([]models.SourceAvailability, error)

	Close()
}

// TrackingLedger is the in-run view of the source-tracking table: which
// providers are known to have, or lack, a data type for a symbol.
type TrackingLedger interface {
	// Preload warms the in-memory cache for a work list.
	Preload(ctx context.Context, dataType models.DataType, symbols []string) error

	// Record upserts an observation and increments the attempt counter.
	Record(ctx context.Context, symbol string, dataType models.DataType, source models.SourceName, hasData bool, note string)

	// KnownEmpty reports whether the source's last observation for the symbol
	// was has_data=false.
	KnownEmpty(symbol string, dataType models.DataType, source models.SourceName) bool

	// PreferredSource returns the highest-priority source whose last
	// observation was has_data=true.
	PreferredSource(symbol string, dataType models.DataType) (models.SourceName, bool)

	// ConsecutiveMisses returns the smallest attempt count across sources that
	// have never returned data for the symbol, or 0 if any source has.
	ConsecutiveMisses(symbol string, dataType models.DataType) int
}
