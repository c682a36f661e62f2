package models

import (
	"time"

	"github.com/google/uuid"
)

// PhaseName identifies one pipeline phase in the run report.
type PhaseName string

const (
	PhaseDiscovery PhaseName = "discovery"
	PhasePrices    PhaseName = "prices"
	PhaseDividends PhaseName = "dividends"
	PhaseCompanies PhaseName = "companies"
)

// PhaseReport summarizes one phase of a pipeline run.
type PhaseReport struct {
	Phase            PhaseName     `json:"phase"`
	Inputs           int           `json:"inputs"`
	SkippedStaleness int           `json:"skipped_staleness"`
	SkippedLedger    int           `json:"skipped_ledger"`
	SkippedUnchanged int           `json:"skipped_unchanged"`
	Processed        int           `json:"processed"`
	Succeeded        int           `json:"succeeded"`
	Failed           int           `json:"failed"`
	RowsWritten      int           `json:"rows_written"`
	Elapsed          time.Duration `json:"elapsed"`
	Failures         []PhaseError  `json:"failures,omitempty"`
	Degraded         bool          `json:"degraded"` // persistence failures occurred
}

// PhaseError is one recorded failure inside a phase.
type PhaseError struct {
	Symbol string `json:"symbol,omitempty"`
	Error  string `json:"error"`
}

// FailureRate returns the failed fraction of processed symbols, 0 when the
// phase processed nothing.
func (p *PhaseReport) FailureRate() float64 {
	if p.Processed == 0 {
		return 0
	}
	return float64(p.Failed) / float64(p.Processed)
}

// RunReport is the aggregate outcome of one pipeline invocation.
type RunReport struct {
	RunID     string                     `json:"run_id"`
	Mode      string                     `json:"mode"`
	StartedAt time.Time                  `json:"started_at"`
	EndedAt   time.Time                  `json:"ended_at"`
	Skipped   bool                       `json:"skipped"` // market-hours gate declined the run
	Reason    string                     `json:"reason,omitempty"`
	Phases    map[PhaseName]*PhaseReport `json:"phases"`
	Fatal     string                     `json:"fatal,omitempty"`
}

// NewRunReport starts a report for the given mode.
func NewRunReport(mode string) *RunReport {
	return &RunReport{
		RunID:     uuid.NewString(),
		Mode:      mode,
		StartedAt: time.Now().UTC(),
		Phases:    make(map[PhaseName]*PhaseReport),
	}
}

// Add records a completed phase.
func (r *RunReport) Add(p *PhaseReport) {
	r.Phases[p.Phase] = p
}

// Finish stamps the end time and returns the report for chaining.
func (r *RunReport) Finish() *RunReport {
	r.EndedAt = time.Now().UTC()
	return r
}

// ExitCode maps the run outcome to the process exit code: 0 success or
// voluntary skip, 1 when any phase failed for at least 5% of its symbols or
// was degraded by persistence errors, 2 on fatal config/auth errors.
func (r *RunReport) ExitCode() int {
	if r.Fatal != "" {
		return 2
	}
	for _, p := range r.Phases {
		if p.FailureRate() >= 0.05 || p.Degraded {
			return 1
		}
	}
	return 0
}
