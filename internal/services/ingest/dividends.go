package ingest

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/finbase/rawfeed/internal/common"
	"github.com/finbase/rawfeed/internal/interfaces"
	"github.com/finbase/rawfeed/internal/models"
)

// dividendProcessor runs the dividend phase: payer filtering, per-symbol
// fetch with fallback, and the once-per-run future-dividend calendar pull.
type dividendProcessor struct {
	cfg      *common.Config
	repo     interfaces.Repository
	ledger   interfaces.TrackingLedger
	src      *Sources
	logger   *common.Logger
	universe map[string]models.Symbol
}

type dividendResult struct {
	symbol string
	events []models.DividendEvent
	err    error
}

// Run executes the dividend phase for the given plan.
func (dp *dividendProcessor) Run(ctx context.Context, plan *models.FetchPlan) *models.PhaseReport {
	start := time.Now()
	report := &models.PhaseReport{Phase: models.PhaseDividends, Inputs: len(plan.Entries) + len(plan.Skipped)}
	countSkips(report, plan.Skipped)

	entries := dp.payerFilter(ctx, plan.Entries)
	if err := dp.ledger.Preload(ctx, models.DataDividends, symbolsOf(entries)); err != nil {
		dp.logger.Warn().Err(err).Msg("Tracking ledger preload failed, proceeding cold")
	}

	var mu sync.Mutex
	results := make([]dividendResult, 0, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(dp.cfg.API.PrimaryConcurrency)
	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			res := dp.fetchOne(gctx, entry)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	dp.persist(ctx, results, report)
	dp.futureCalendar(ctx, report)

	report.Elapsed = time.Since(start)
	return report
}

// payerFilter narrows the work list to known payers: a non-null dividend
// yield on the symbol record, or existing dividend rows.
func (dp *dividendProcessor) payerFilter(ctx context.Context, entries []models.PlanEntry) []models.PlanEntry {
	if !dp.cfg.Fetch.FilterDividendSymbols {
		return entries
	}

	payers, err := dp.repo.DividendPayers(ctx)
	if err != nil {
		dp.logger.Warn().Err(err).Msg("Payer lookup failed, keeping full work list")
		return entries
	}

	kept := make([]models.PlanEntry, 0, len(entries))
	for _, e := range entries {
		sym, ok := dp.universe[e.Symbol]
		if payers[e.Symbol] || (ok && sym.DividendYield != nil) {
			kept = append(kept, e)
		}
	}
	dp.logger.Info().Int("kept", len(kept)).Int("dropped", len(entries)-len(kept)).Msg("Dividend payer filter applied")
	return kept
}

func (dp *dividendProcessor) fetchOne(ctx context.Context, entry models.PlanEntry) dividendResult {
	res := dividendResult{symbol: entry.Symbol}

	var lastErr error
	for _, source := range dp.src.dividendChain() {
		if dp.ledger.KnownEmpty(entry.Symbol, models.DataDividends, source.Name()) {
			continue
		}

		events, err := source.FetchDividends(ctx, entry.Symbol, entry.FromDate)
		if err != nil {
			lastErr = err
			dp.ledger.Record(ctx, entry.Symbol, models.DataDividends, source.Name(), false, err.Error())
			dp.logger.Warn().Err(err).Str("symbol", entry.Symbol).
				Str("source", string(source.Name())).Msg("Dividend fetch failed, trying next source")
			continue
		}
		dp.ledger.Record(ctx, entry.Symbol, models.DataDividends, source.Name(), len(events) > 0, "")
		if len(events) == 0 {
			continue
		}
		res.events = events
		return res
	}

	res.err = lastErr
	return res
}

// persist splits events on the ex-date: past events are immutable history,
// events from today forward stay revisable in the future table.
func (dp *dividendProcessor) persist(ctx context.Context, results []dividendResult, report *models.PhaseReport) {
	var historical, future []models.DividendEvent

	for _, res := range results {
		report.Processed++
		if res.err != nil {
			report.Failed++
			report.Failures = append(report.Failures, models.PhaseError{Symbol: res.symbol, Error: res.err.Error()})
			continue
		}
		report.Succeeded++
		for _, event := range res.events {
			if err := event.Validate(); err != nil {
				dp.logger.Warn().Err(err).Str("symbol", res.symbol).Msg("Dropping invalid dividend")
				continue
			}
			if event.Future() {
				future = append(future, event)
			} else {
				historical = append(historical, event)
			}
		}
	}

	n, err := dp.repo.UpsertDividends(ctx, historical)
	report.RowsWritten += n
	if err != nil {
		report.Degraded = true
		report.Failures = append(report.Failures, models.PhaseError{Error: err.Error()})
	}
	if len(future) > 0 {
		n, err := dp.repo.UpsertFutureDividends(ctx, future)
		report.RowsWritten += n
		if err != nil {
			report.Degraded = true
			report.Failures = append(report.Failures, models.PhaseError{Error: err.Error()})
		}
	}
}

// futureCalendar pulls the announced-dividend calendar once per run.
func (dp *dividendProcessor) futureCalendar(ctx context.Context, report *models.PhaseReport) {
	days := dp.cfg.Fetch.FutureDividendDays
	if days <= 0 {
		return
	}

	today := time.Now().UTC()
	events, err := dp.src.Primary.FetchFutureDividends(ctx, today, today.AddDate(0, 0, days))
	if err != nil {
		dp.logger.Warn().Err(err).Msg("Future dividend calendar fetch failed")
		report.Failures = append(report.Failures, models.PhaseError{Error: err.Error()})
		return
	}

	valid := events[:0:0]
	for _, event := range events {
		if err := event.Validate(); err != nil {
			dp.logger.Warn().Err(err).Str("symbol", event.Symbol).Msg("Dropping invalid future dividend")
			continue
		}
		valid = append(valid, event)
	}

	n, err := dp.repo.UpsertFutureDividends(ctx, valid)
	report.RowsWritten += n
	if err != nil {
		report.Degraded = true
		report.Failures = append(report.Failures, models.PhaseError{Error: err.Error()})
	}
}

func symbolsOf(entries []models.PlanEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Symbol
	}
	return out
}
