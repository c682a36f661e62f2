package models

import (
	"testing"
	"time"
)

func TestFetchPlanMaxWindowDays(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	plan := FetchPlan{
		DataType: DataPrices,
		Entries: []PlanEntry{
			{Symbol: "AAPL", FromDate: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)},
			{Symbol: "MSFT", FromDate: time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)},
		},
	}
	if got := plan.MaxWindowDays(now); got != 7 {
		t.Errorf("MaxWindowDays = %d, want 7", got)
	}

	oneDay := FetchPlan{Entries: []PlanEntry{
		{Symbol: "AAPL", FromDate: time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)},
	}}
	if got := oneDay.MaxWindowDays(now); got != 1 {
		t.Errorf("MaxWindowDays = %d, want 1", got)
	}
}

func TestFetchPlanLimit(t *testing.T) {
	plan := FetchPlan{Entries: []PlanEntry{{Symbol: "A"}, {Symbol: "B"}, {Symbol: "C"}}}

	plan.Limit(0)
	if len(plan.Entries) != 3 {
		t.Fatal("Limit(0) must be a no-op")
	}

	plan.Limit(2)
	if len(plan.Entries) != 2 || plan.Entries[1].Symbol != "B" {
		t.Errorf("Limit(2) kept %v", plan.Entries)
	}
}

func TestFetchPlanFromDate(t *testing.T) {
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	plan := FetchPlan{Entries: []PlanEntry{{Symbol: "AAPL", FromDate: from}}}

	if got := plan.FromDate("AAPL"); !got.Equal(from) {
		t.Errorf("FromDate(AAPL) = %v, want %v", got, from)
	}
	if got := plan.FromDate("MSFT"); !got.IsZero() {
		t.Errorf("FromDate(MSFT) = %v, want zero", got)
	}
}
