package models

import "time"

// CompanyInfo is company or fund metadata for one symbol.
// Refreshed opportunistically; stale once RefreshedAt is older than the
// configured company cache TTL.
type CompanyInfo struct {
	Symbol        string       `json:"symbol"`
	Name          string       `json:"name"`
	Sector        string       `json:"sector,omitempty"`
	Industry      string       `json:"industry,omitempty"`
	MarketCap     float64      `json:"market_cap,omitempty"`
	DividendYield float64      `json:"dividend_yield,omitempty"`
	FundFamily    string       `json:"fund_family,omitempty"`   // ETFs only
	ExpenseRatio  float64      `json:"expense_ratio,omitempty"` // ETFs only
	IsFund        bool         `json:"is_fund,omitempty"`
	Description   string       `json:"description,omitempty"`
	TopHoldings   []ETFHolding `json:"top_holdings,omitempty"`
	RefreshedAt   time.Time    `json:"refreshed_at"`
}

// ETFHolding is one constituent of a fund, captured with the company record.
type ETFHolding struct {
	Symbol string  `json:"symbol"`
	Name   string  `json:"name,omitempty"`
	Weight float64 `json:"weight"` // percent of assets
}
