package interfaces

import (
	"context"
	"time"

	"github.com/finbase/rawfeed/internal/models"
)

// UpdateOptions control one `update` invocation.
type UpdateOptions struct {
	FromDate      time.Time // overrides the planner's per-symbol from-date
	PricesOnly    bool
	DividendsOnly bool
	CompaniesOnly bool
	Force         bool // ignore staleness skip and market-hours gate
	Limit         int  // cap work list size, 0 = unlimited
}

// DiscoveryService enumerates, filters, and validates the symbol universe.
type DiscoveryService interface {
	// Discover runs enumeration plus validation and persists Symbol and
	// ExcludedSymbol rows.
	Discover(ctx context.Context) (*models.PhaseReport, error)
}

// IngestService is the pipeline orchestrator.
type IngestService interface {
	// Update performs the daily ingestion (prices and dividends in parallel,
	// then companies).
	Update(ctx context.Context, opts UpdateOptions) (*models.RunReport, error)

	// RefreshCompanies re-fetches metadata for symbols missing a name.
	RefreshCompanies(ctx context.Context, limit int) (*models.RunReport, error)

	// FutureDividends populates announced events up to daysAhead out.
	FutureDividends(ctx context.Context, daysAhead int) (*models.RunReport, error)
}
