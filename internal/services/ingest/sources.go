// Package ingest implements the daily ingestion pipeline: incremental
// planning, price and dividend processing with provider fallback, company
// refresh, and the orchestrator that ties the phases together.
package ingest

import (
	"context"

	"github.com/finbase/rawfeed/internal/interfaces"
)

// PrimarySource is the full-capability provider the pipeline prefers.
type PrimarySource interface {
	interfaces.PriceSource
	interfaces.BatchEODSource
	interfaces.DividendSource
	interfaces.FutureDividendSource
	interfaces.SplitSource
	interfaces.CompanySource
	interfaces.HoldingsSource

	// FetchFundMetrics returns current AUM and implied volatility for a fund,
	// nil when the provider does not carry the figure.
	FetchFundMetrics(ctx context.Context, symbol string) (aum, iv *float64, err error)
}

// TertiarySource is the first fallback: prices, dividends, splits.
type TertiarySource interface {
	interfaces.PriceSource
	interfaces.DividendSource
	interfaces.SplitSource
}

// SecondarySource is the last fallback plus the ETF-field fill for companies.
type SecondarySource interface {
	interfaces.PriceSource
	interfaces.DividendSource
	interfaces.CompanySource
}

// Sources bundles the provider clients by role. Secondary and BatchQuote may
// be nil when unconfigured; every code path must tolerate that.
type Sources struct {
	Primary    PrimarySource
	Tertiary   TertiarySource
	Secondary  SecondarySource
	BatchQuote interfaces.BatchQuoteSource
}

// priceChain returns the per-symbol price sources in fallback order.
func (s *Sources) priceChain() []interfaces.PriceSource {
	chain := []interfaces.PriceSource{s.Primary, s.Tertiary}
	if s.Secondary != nil {
		chain = append(chain, s.Secondary)
	}
	return chain
}

// dividendChain returns the dividend sources in fallback order.
func (s *Sources) dividendChain() []interfaces.DividendSource {
	chain := []interfaces.DividendSource{s.Primary, s.Tertiary}
	if s.Secondary != nil {
		chain = append(chain, s.Secondary)
	}
	return chain
}
