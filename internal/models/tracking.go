package models

import "time"

// SourceName identifies one upstream data provider.
type SourceName string

const (
	SourcePrimary    SourceName = "primary"
	SourceSecondary  SourceName = "secondary"
	SourceTertiary   SourceName = "tertiary"
	SourceBatchQuote SourceName = "batch_quote"
)

// DataType identifies one kind of raw data a provider can serve.
type DataType string

const (
	DataPrices    DataType = "prices"
	DataDividends DataType = "dividends"
	DataSplits    DataType = "splits"
	DataCompany   DataType = "company"
)

// SourceAvailability is one row of the source-tracking ledger, keyed
// (symbol, data_type, source). Rows grow monotonically: they are updated
// on every fetch attempt and never deleted.
type SourceAvailability struct {
	Symbol        string     `json:"symbol"`
	DataType      DataType   `json:"data_type"`
	Source        SourceName `json:"source"`
	HasData       bool       `json:"has_data"`
	LastCheckedAt time.Time  `json:"last_checked_at"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	Attempts      int        `json:"attempts"`
	Note          string     `json:"note,omitempty"`
}

// ExcludedSymbol records a symbol removed from the ingestion universe.
// Once auto-excluded for lack of data, the symbol is skipped by every
// processor until the row is cleared by hand.
type ExcludedSymbol struct {
	Symbol       string    `json:"symbol"`
	Reason       string    `json:"reason"`
	AutoExcluded bool      `json:"auto_excluded"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// Exclusion reasons written by the pipeline.
const (
	ExcludeReasonNoData      = "no-data"
	ExcludeReasonNoPriceData = "no-price-data"
)
