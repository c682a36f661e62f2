package models

import "testing"

func TestRunReportExitCode(t *testing.T) {
	clean := NewRunReport("update")
	clean.Add(&PhaseReport{Phase: PhasePrices, Processed: 100, Succeeded: 100})
	if got := clean.Finish().ExitCode(); got != 0 {
		t.Errorf("clean run exit = %d, want 0", got)
	}

	skipped := NewRunReport("update")
	skipped.Skipped = true
	skipped.Reason = "weekend"
	if got := skipped.Finish().ExitCode(); got != 0 {
		t.Errorf("voluntary skip exit = %d, want 0", got)
	}

	partial := NewRunReport("update")
	partial.Add(&PhaseReport{Phase: PhasePrices, Processed: 100, Succeeded: 94, Failed: 6})
	if got := partial.Finish().ExitCode(); got != 1 {
		t.Errorf("6%% failure exit = %d, want 1", got)
	}

	underThreshold := NewRunReport("update")
	underThreshold.Add(&PhaseReport{Phase: PhasePrices, Processed: 100, Succeeded: 97, Failed: 3})
	if got := underThreshold.Finish().ExitCode(); got != 0 {
		t.Errorf("3%% failure exit = %d, want 0", got)
	}

	degraded := NewRunReport("update")
	degraded.Add(&PhaseReport{Phase: PhasePrices, Processed: 10, Succeeded: 10, Degraded: true})
	if got := degraded.Finish().ExitCode(); got != 1 {
		t.Errorf("degraded run exit = %d, want 1", got)
	}

	fatal := NewRunReport("update")
	fatal.Fatal = "db unreachable"
	if got := fatal.Finish().ExitCode(); got != 2 {
		t.Errorf("fatal run exit = %d, want 2", got)
	}
}

func TestPhaseReportFailureRate(t *testing.T) {
	empty := PhaseReport{}
	if got := empty.FailureRate(); got != 0 {
		t.Errorf("empty phase failure rate = %f, want 0", got)
	}

	p := PhaseReport{Processed: 20, Failed: 1}
	if got := p.FailureRate(); got != 0.05 {
		t.Errorf("failure rate = %f, want 0.05", got)
	}
}
