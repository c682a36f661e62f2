// Package interfaces defines the contracts between rawfeed components.
package interfaces

import (
	"context"
	"time"

	"github.com/finbase/rawfeed/internal/models"
)

// Source is the base capability shared by every provider client.
type Source interface {
	// Name identifies the provider in the tracking ledger and logs.
	Name() models.SourceName
}

// SymbolLister enumerates the tradable universe of a provider.
type SymbolLister interface {
	Source

	// ListSymbols pages through the provider's symbol directory. An empty
	// cursor starts from the beginning; an empty next cursor ends the walk.
	ListSymbols(ctx context.Context, cursor string, limit int) (symbols []*models.Symbol, next string, err error)

	// ListETFs enumerates exchange-traded funds.
	ListETFs(ctx context.Context) ([]*models.Symbol, error)

	// ListDividendCandidates enumerates symbols the provider believes pay dividends.
	ListDividendCandidates(ctx context.Context) ([]string, error)
}

// PriceSource serves per-symbol daily bars, chronological oldest first.
type PriceSource interface {
	Source

	// FetchPrices returns bars from the given date forward. A zero from
	// fetches full history.
	FetchPrices(ctx context.Context, symbol string, from time.Time) ([]models.PriceBar, error)
}

// BatchEODSource serves one bar per symbol for a single trading date.
type BatchEODSource interface {
	Source

	FetchBatchEOD(ctx context.Context, date time.Time) (map[string]models.PriceBar, error)
}

// BatchQuoteSource serves real-time quote deltas for many symbols at once.
type BatchQuoteSource interface {
	Source

	FetchBatchQuotes(ctx context.Context, symbols []string) (map[string]models.QuoteDelta, error)
}

// DividendSource serves historical dividend events.
type DividendSource interface {
	Source

	FetchDividends(ctx context.Context, symbol string, from time.Time) ([]models.DividendEvent, error)
}

// FutureDividendSource serves announced events with ex-dates in a window ahead.
type FutureDividendSource interface {
	Source

	FetchFutureDividends(ctx context.Context, start, end time.Time) ([]models.DividendEvent, error)
}

// SplitSource serves corporate split history.
type SplitSource interface {
	Source

	FetchSplits(ctx context.Context, symbol string, from time.Time) ([]models.CorporateSplit, error)
}

// CompanySource serves company and fund metadata.
type CompanySource interface {
	Source

	FetchCompany(ctx context.Context, symbol string) (*models.CompanyInfo, error)
}

// HoldingsSource serves fund constituents.
type HoldingsSource interface {
	Source

	FetchHoldings(ctx context.Context, etfSymbol string) ([]models.ETFHolding, error)
}

// ClientStats exposes per-client request counters.
type ClientStats struct {
	Attempts     int64 `json:"attempts"`
	Successes    int64 `json:"successes"`
	Retries      int64 `json:"retries"`
	ClientErrors int64 `json:"client_errors"` // 4xx
	ServerErrors int64 `json:"server_errors"` // 5xx
	Timeouts     int64 `json:"timeouts"`
}

// StatsReporter is implemented by clients that track request counters.
type StatsReporter interface {
	Stats() ClientStats
}
