// Package models defines the raw-layer data types for rawfeed.
package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// InstrumentType classifies a symbol.
type InstrumentType string

const (
	InstrumentStock InstrumentType = "stock"
	InstrumentETF   InstrumentType = "etf"
	InstrumentTrust InstrumentType = "trust"
)

// Symbol is one tradable instrument in the raw universe.
// Records are upserted keyed on Identifier and never mutated in place.
type Symbol struct {
	Identifier    string         `json:"symbol"`
	Exchange      string         `json:"exchange"`
	Type          InstrumentType `json:"type"`
	Name          string         `json:"name,omitempty"`
	Currency      string         `json:"currency,omitempty"`
	Country       string         `json:"country,omitempty"`
	DividendYield *float64       `json:"dividend_yield,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

var identifierPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9\-]{0,11}(\.[A-Z]{1,3})?$`)

// NormalizeIdentifier upper-cases and trims a raw provider ticker.
func NormalizeIdentifier(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ValidIdentifier reports whether id satisfies the symbol identifier rules:
// upper-cased ASCII, 1-12 characters, at most one dot-suffix exchange qualifier.
func ValidIdentifier(id string) bool {
	base := id
	if i := strings.IndexByte(id, '.'); i >= 0 {
		base = id[:i]
	}
	if len(base) == 0 || len(base) > 12 {
		return false
	}
	return identifierPattern.MatchString(id)
}

// Suffix returns the dotted exchange qualifier including the dot (".HK"),
// or empty string when the identifier carries none.
func (s *Symbol) Suffix() string {
	if i := strings.LastIndexByte(s.Identifier, '.'); i >= 0 {
		return s.Identifier[i:]
	}
	return ""
}

// Validate checks the Symbol invariants prior to persistence.
func (s *Symbol) Validate() error {
	if s.Identifier != NormalizeIdentifier(s.Identifier) {
		return fmt.Errorf("symbol %q is not normalized", s.Identifier)
	}
	if !ValidIdentifier(s.Identifier) {
		return fmt.Errorf("symbol %q is not a valid identifier", s.Identifier)
	}
	switch s.Type {
	case InstrumentStock, InstrumentETF, InstrumentTrust:
	default:
		return fmt.Errorf("symbol %s has unknown instrument type %q", s.Identifier, s.Type)
	}
	return nil
}

// PriceBar is one end-of-day summary bar, keyed (symbol, date).
type PriceBar struct {
	Symbol   string    `json:"symbol"`
	Date     time.Time `json:"date"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	AdjClose float64   `json:"adj_close"`
	Volume   int64     `json:"volume"`
	AUM      *float64  `json:"aum,omitempty"` // assets under management, funds only
	IV       *float64  `json:"iv,omitempty"`  // implied volatility, option-heavy ETFs
}

// Validate checks the PriceBar invariants prior to persistence.
func (b *PriceBar) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("price bar missing symbol")
	}
	if b.Date.IsZero() {
		return fmt.Errorf("price bar for %s missing date", b.Symbol)
	}
	if b.Date.After(endOfToday()) {
		return fmt.Errorf("price bar for %s dated in the future: %s", b.Symbol, b.Date.Format("2006-01-02"))
	}
	if b.Close <= 0 {
		return fmt.Errorf("price bar for %s on %s has non-positive close %f", b.Symbol, b.Date.Format("2006-01-02"), b.Close)
	}
	return nil
}

// QuoteDelta is a real-time change snapshot from the batch-quote endpoint.
type QuoteDelta struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Volume        int64   `json:"volume"`
}

// Unchanged reports whether the quote shows no movement since the prior close.
// Symbols with unchanged quotes can skip their per-symbol price fetch.
func (q *QuoteDelta) Unchanged() bool {
	return q.Change == 0 && q.ChangePercent == 0
}

func endOfToday() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, time.UTC)
}
