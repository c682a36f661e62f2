package models

import (
	"testing"
	"time"
)

func TestValidIdentifier(t *testing.T) {
	valid := []string{"A", "AAPL", "BRK-B", "0700.HK", "VAB.TO", "ABCDEFGHIJKL"}
	for _, id := range valid {
		if !ValidIdentifier(id) {
			t.Errorf("ValidIdentifier(%q) = false, want true", id)
		}
	}

	invalid := []string{"", "aapl", "ABCDEFGHIJKLM", ".TO", "AAPL.", "AA PL", "AAPL.TORONTO", "AAPL.TO.X"}
	for _, id := range invalid {
		if ValidIdentifier(id) {
			t.Errorf("ValidIdentifier(%q) = true, want false", id)
		}
	}
}

func TestNormalizeIdentifier(t *testing.T) {
	if got := NormalizeIdentifier("  aapl "); got != "AAPL" {
		t.Errorf("NormalizeIdentifier = %q, want AAPL", got)
	}
}

func TestSymbolSuffix(t *testing.T) {
	cases := map[string]string{
		"AAPL":    "",
		"0700.HK": ".HK",
		"VAB.TO":  ".TO",
	}
	for id, want := range cases {
		s := Symbol{Identifier: id}
		if got := s.Suffix(); got != want {
			t.Errorf("Suffix(%q) = %q, want %q", id, got, want)
		}
	}
}

func TestSymbolValidate(t *testing.T) {
	s := Symbol{Identifier: "AAPL", Type: InstrumentStock}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	s.Type = "bond"
	if err := s.Validate(); err == nil {
		t.Fatal("Validate() accepted unknown instrument type")
	}

	s = Symbol{Identifier: "aapl", Type: InstrumentStock}
	if err := s.Validate(); err == nil {
		t.Fatal("Validate() accepted unnormalized identifier")
	}
}

func TestPriceBarValidate(t *testing.T) {
	base := PriceBar{
		Symbol: "AAPL",
		Date:   time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		Open:   100, High: 101, Low: 99, Close: 100.5, AdjClose: 100.5, Volume: 1000,
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	future := base
	future.Date = time.Now().UTC().AddDate(0, 0, 2)
	if err := future.Validate(); err == nil {
		t.Error("Validate() accepted a future-dated bar")
	}

	zeroClose := base
	zeroClose.Close = 0
	if err := zeroClose.Validate(); err == nil {
		t.Error("Validate() accepted a zero close")
	}

	noSymbol := base
	noSymbol.Symbol = ""
	if err := noSymbol.Validate(); err == nil {
		t.Error("Validate() accepted a missing symbol")
	}
}

func TestQuoteDeltaUnchanged(t *testing.T) {
	q := QuoteDelta{Symbol: "AAPL", Price: 100}
	if !q.Unchanged() {
		t.Error("zero-movement quote should be unchanged")
	}
	q.ChangePercent = 0.01
	if q.Unchanged() {
		t.Error("quote with change_percent should not be unchanged")
	}
}

func TestDividendEventValidate(t *testing.T) {
	d := DividendEvent{Symbol: "AAPL", ExDate: time.Date(2025, 5, 9, 0, 0, 0, 0, time.UTC), Amount: 0.25}
	if err := d.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	d.Amount = -1
	if err := d.Validate(); err == nil {
		t.Error("Validate() accepted a negative amount")
	}
}

func TestCorporateSplitRatio(t *testing.T) {
	s := CorporateSplit{Symbol: "AAPL", SplitDate: time.Now(), Numerator: 4, Denominator: 1}
	if got := s.Ratio(); got != 4 {
		t.Errorf("Ratio() = %f, want 4", got)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	s.Denominator = 0
	if err := s.Validate(); err == nil {
		t.Error("Validate() accepted a zero denominator")
	}
}
