package models

import "time"

// SkipReason explains why the planner dropped a symbol from a work list.
type SkipReason string

const (
	SkipFresh     SkipReason = "fresh"      // symbol updated within staleness window
	SkipExcluded  SkipReason = "excluded"   // symbol in the exclusion ledger
	SkipUpToDate  SkipReason = "up-to-date" // latest stored date is today
	SkipUnchanged SkipReason = "unchanged"  // batch quote showed zero movement
	SkipNoPayer   SkipReason = "non-payer"  // dividend phase restricted to known payers
	SkipLedger    SkipReason = "ledger"     // every capable source known to lack data
)

// PlanEntry is one unit of work: fetch data for Symbol from FromDate forward.
type PlanEntry struct {
	Symbol   string    `json:"symbol"`
	FromDate time.Time `json:"from_date"`
}

// SkippedEntry records a symbol the planner dropped, with the reason.
type SkippedEntry struct {
	Symbol string     `json:"symbol"`
	Reason SkipReason `json:"reason"`
}

// FetchPlan is the planner's output for one data type: an ordered work list
// plus the skip set. For identical inputs and stored state the plan is
// identical.
type FetchPlan struct {
	DataType DataType       `json:"data_type"`
	Entries  []PlanEntry    `json:"entries"`
	Skipped  []SkippedEntry `json:"skipped"`
}

// Symbols returns the work list symbols in plan order.
func (p *FetchPlan) Symbols() []string {
	out := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		out[i] = e.Symbol
	}
	return out
}

// FromDate returns the planned from-date for a symbol, or zero time when the
// symbol is not in the plan.
func (p *FetchPlan) FromDate(symbol string) time.Time {
	for _, e := range p.Entries {
		if e.Symbol == symbol {
			return e.FromDate
		}
	}
	return time.Time{}
}

// MaxWindowDays returns the widest from-date window in the plan, in calendar
// days from today. The batch-quote filter only applies when every entry is
// within one day.
func (p *FetchPlan) MaxWindowDays(now time.Time) int {
	max := 0
	today := truncateDay(now)
	for _, e := range p.Entries {
		days := int(today.Sub(truncateDay(e.FromDate)).Hours() / 24)
		if days > max {
			max = days
		}
	}
	return max
}

// Limit truncates the work list to at most n entries. No-op when n <= 0.
func (p *FetchPlan) Limit(n int) {
	if n > 0 && len(p.Entries) > n {
		p.Entries = p.Entries[:n]
	}
}
