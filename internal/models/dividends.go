package models

import (
	"fmt"
	"time"
)

// DividendEvent is one dividend, keyed (symbol, ex_date).
// Historical events are immutable; future events may still revise
// payment date and amount until the ex-date passes.
type DividendEvent struct {
	Symbol          string     `json:"symbol"`
	ExDate          time.Time  `json:"ex_date"`
	DeclarationDate *time.Time `json:"declaration_date,omitempty"`
	RecordDate      *time.Time `json:"record_date,omitempty"`
	PaymentDate     *time.Time `json:"payment_date,omitempty"`
	Amount          float64    `json:"amount"`
	Currency        string     `json:"currency,omitempty"`
	Frequency       string     `json:"frequency,omitempty"`
}

// Future reports whether the event's ex-date has not yet passed.
func (d *DividendEvent) Future() bool {
	return !d.ExDate.Before(truncateDay(time.Now().UTC()))
}

// Validate checks the DividendEvent invariants prior to persistence.
func (d *DividendEvent) Validate() error {
	if d.Symbol == "" {
		return fmt.Errorf("dividend missing symbol")
	}
	if d.ExDate.IsZero() {
		return fmt.Errorf("dividend for %s missing ex-date", d.Symbol)
	}
	if d.Amount < 0 {
		return fmt.Errorf("dividend for %s on %s has negative amount %f", d.Symbol, d.ExDate.Format("2006-01-02"), d.Amount)
	}
	return nil
}

// CorporateSplit is one stock split, keyed (symbol, split_date).
type CorporateSplit struct {
	Symbol      string    `json:"symbol"`
	SplitDate   time.Time `json:"split_date"`
	Numerator   float64   `json:"numerator"`
	Denominator float64   `json:"denominator"`
}

// Ratio returns numerator/denominator. A 4:1 split yields 4.0.
func (s *CorporateSplit) Ratio() float64 {
	if s.Denominator == 0 {
		return 0
	}
	return s.Numerator / s.Denominator
}

// Validate checks the CorporateSplit invariants prior to persistence.
func (s *CorporateSplit) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("split missing symbol")
	}
	if s.SplitDate.IsZero() {
		return fmt.Errorf("split for %s missing date", s.Symbol)
	}
	if s.Numerator <= 0 || s.Denominator <= 0 {
		return fmt.Errorf("split for %s on %s has non-positive terms %f:%f",
			s.Symbol, s.SplitDate.Format("2006-01-02"), s.Numerator, s.Denominator)
	}
	return nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
