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

const batchQuoteChunk = 500

// priceProcessor runs the price phase: batch-quote filtering, batch-EOD
// backfill, per-symbol hybrid fetch with provider fallback, and persistence.
type priceProcessor struct {
	cfg      *common.Config
	repo     interfaces.Repository
	ledger   interfaces.TrackingLedger
	src      *Sources
	cal      *common.MarketCalendar
	logger   *common.Logger
	universe map[string]models.Symbol
}

type priceResult struct {
	symbol string
	bars   []models.PriceBar
	splits []models.CorporateSplit
	err    error
}

// Run executes the price phase for the given plan.
func (pp *priceProcessor) Run(ctx context.Context, plan *models.FetchPlan) *models.PhaseReport {
	start := time.Now()
	report := &models.PhaseReport{Phase: models.PhasePrices, Inputs: len(plan.Entries) + len(plan.Skipped)}
	countSkips(report, plan.Skipped)

	if err := pp.ledger.Preload(ctx, models.DataPrices, plan.Symbols()); err != nil {
		pp.logger.Warn().Err(err).Msg("Tracking ledger preload failed, proceeding cold")
	}

	entries := pp.quoteFilter(ctx, plan, report)

	var results []priceResult
	entries, batched := pp.batchBackfill(ctx, entries)
	results = append(results, batched...)
	results = append(results, pp.fetchConcurrent(ctx, entries)...)

	pp.persist(ctx, results, report)
	report.Elapsed = time.Since(start)
	return report
}

// quoteFilter drops symbols whose real-time quote shows zero movement. Only
// applies to one-day incremental windows; a filter failure keeps everyone.
func (pp *priceProcessor) quoteFilter(ctx context.Context, plan *models.FetchPlan, report *models.PhaseReport) []models.PlanEntry {
	if !pp.cfg.Fetch.UseBatchQuoteFilter || pp.src.BatchQuote == nil {
		return plan.Entries
	}
	if plan.MaxWindowDays(time.Now().UTC()) > 1 {
		return plan.Entries
	}

	symbols := plan.Symbols()
	changed := make(map[string]bool, len(symbols))
	for start := 0; start < len(symbols); start += batchQuoteChunk {
		end := start + batchQuoteChunk
		if end > len(symbols) {
			end = len(symbols)
		}
		quotes, err := pp.src.BatchQuote.FetchBatchQuotes(ctx, symbols[start:end])
		if err != nil {
			pp.logger.Warn().Err(err).Msg("Batch-quote filter failed, keeping full work list")
			return plan.Entries
		}
		for symbol, quote := range quotes {
			if !quote.Unchanged() {
				changed[symbol] = true
			}
		}
	}

	kept := make([]models.PlanEntry, 0, len(plan.Entries))
	for _, e := range plan.Entries {
		if changed[e.Symbol] {
			kept = append(kept, e)
			continue
		}
		report.SkippedUnchanged++
	}
	pp.logger.Info().Int("kept", len(kept)).Int("skipped", report.SkippedUnchanged).Msg("Batch-quote filter applied")
	return kept
}

// batchBackfill serves recent one-day windows from the primary batch-EOD
// endpoint, one request per business day instead of one per symbol. The
// first failed day disables the path for the rest of the run.
func (pp *priceProcessor) batchBackfill(ctx context.Context, entries []models.PlanEntry) (remaining []models.PlanEntry, done []priceResult) {
	if !pp.cfg.Fetch.UseBatchEOD || len(entries) == 0 {
		return entries, nil
	}

	today := time.Now().UTC()
	cache := make(map[string][]models.PriceBar)
	for i := 0; i < pp.cfg.Fetch.BatchEODDays; i++ {
		day := today.AddDate(0, 0, -i)
		if !pp.cal.IsBusinessDay(day) {
			continue
		}
		dayBars, err := pp.src.Primary.FetchBatchEOD(ctx, day)
		if err != nil {
			pp.logger.Warn().Err(err).Str("date", day.Format("2006-01-02")).
				Msg("Batch-EOD unavailable, falling back to per-symbol fetch")
			return entries, nil
		}
		for symbol, bar := range dayBars {
			cache[symbol] = append(cache[symbol], bar)
		}
	}

	oldest := today.AddDate(0, 0, -(pp.cfg.Fetch.BatchEODDays - 1))
	for _, e := range entries {
		bars := cache[e.Symbol]
		// The cache only covers the window; older from-dates still need the
		// per-symbol path.
		if len(bars) == 0 || e.FromDate.Before(oldest) {
			remaining = append(remaining, e)
			continue
		}
		inWindow := bars[:0:0]
		for _, bar := range bars {
			if !bar.Date.Before(e.FromDate) {
				inWindow = append(inWindow, bar)
			}
		}
		if len(inWindow) == 0 {
			remaining = append(remaining, e)
			continue
		}
		pp.ledger.Record(ctx, e.Symbol, models.DataPrices, models.SourcePrimary, true, "batch-eod")
		done = append(done, priceResult{symbol: e.Symbol, bars: inWindow})
	}
	pp.logger.Info().Int("batched", len(done)).Int("remaining", len(remaining)).Msg("Batch-EOD backfill done")
	return remaining, done
}

// fetchConcurrent runs the per-symbol hybrid fetch with a bounded worker pool.
func (pp *priceProcessor) fetchConcurrent(ctx context.Context, entries []models.PlanEntry) []priceResult {
	if len(entries) == 0 {
		return nil
	}

	var mu sync.Mutex
	results := make([]priceResult, 0, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pp.cfg.API.PrimaryConcurrency)
	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			res := pp.fetchOne(gctx, entry)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return results
}

// fetchOne walks the fallback chain for one symbol and opportunistically
// refreshes splits and fund metrics when the fetch produced bars.
func (pp *priceProcessor) fetchOne(ctx context.Context, entry models.PlanEntry) priceResult {
	res := priceResult{symbol: entry.Symbol}

	var lastErr error
	allEmpty := true
	for _, source := range pp.src.priceChain() {
		if pp.ledger.KnownEmpty(entry.Symbol, models.DataPrices, source.Name()) {
			// A skipped source still counts as a miss; otherwise the attempt
			// count freezes after the first empty run and the symbol never
			// reaches the auto-exclusion threshold.
			pp.ledger.Record(ctx, entry.Symbol, models.DataPrices, source.Name(), false, "known empty")
			continue
		}

		bars, err := source.FetchPrices(ctx, entry.Symbol, entry.FromDate)
		if err != nil {
			allEmpty = false
			lastErr = err
			pp.ledger.Record(ctx, entry.Symbol, models.DataPrices, source.Name(), false, err.Error())
			pp.logger.Warn().Err(err).Str("symbol", entry.Symbol).
				Str("source", string(source.Name())).Msg("Price fetch failed, trying next source")
			continue
		}
		pp.ledger.Record(ctx, entry.Symbol, models.DataPrices, source.Name(), len(bars) > 0, "")
		if len(bars) == 0 {
			continue
		}

		res.bars = bars
		res.splits = pp.refreshSplits(ctx, entry, source.Name())
		pp.stampFundMetrics(ctx, entry.Symbol, res.bars)
		return res
	}

	if lastErr != nil {
		res.err = lastErr
		return res
	}
	if allEmpty {
		pp.maybeAutoExclude(ctx, entry.Symbol)
	}
	return res
}

// refreshSplits pulls split history alongside a successful price fetch from
// a split-capable provider. Failures only cost the split rows.
func (pp *priceProcessor) refreshSplits(ctx context.Context, entry models.PlanEntry, from models.SourceName) []models.CorporateSplit {
	var source interfaces.SplitSource
	switch from {
	case models.SourcePrimary:
		source = pp.src.Primary
	case models.SourceTertiary:
		source = pp.src.Tertiary
	default:
		return nil
	}

	splits, err := source.FetchSplits(ctx, entry.Symbol, entry.FromDate)
	if err != nil {
		pp.logger.Warn().Err(err).Str("symbol", entry.Symbol).Msg("Split refresh failed")
		return nil
	}
	return splits
}

// stampFundMetrics attaches AUM and IV to the newest bar of a fund.
func (pp *priceProcessor) stampFundMetrics(ctx context.Context, symbol string, bars []models.PriceBar) {
	if !pp.cfg.Features.TrackAUM && !pp.cfg.Features.TrackIV {
		return
	}
	if sym, ok := pp.universe[symbol]; !ok || sym.Type != models.InstrumentETF {
		return
	}
	if len(bars) == 0 {
		return
	}

	aum, iv, err := pp.src.Primary.FetchFundMetrics(ctx, symbol)
	if err != nil {
		pp.logger.Debug().Err(err).Str("symbol", symbol).Msg("Fund metrics unavailable")
		return
	}
	latest := &bars[len(bars)-1]
	if pp.cfg.Features.TrackAUM {
		latest.AUM = aum
	}
	if pp.cfg.Features.TrackIV {
		latest.IV = iv
	}
}

// maybeAutoExclude retires a symbol every provider has repeatedly come back
// empty for.
func (pp *priceProcessor) maybeAutoExclude(ctx context.Context, symbol string) {
	misses := pp.ledger.ConsecutiveMisses(symbol, models.DataPrices)
	if misses < pp.cfg.Fetch.EmptyRunsBeforeExclude {
		return
	}
	if err := pp.repo.MarkExcluded(ctx, symbol, models.ExcludeReasonNoPriceData, true); err != nil {
		pp.logger.Error().Err(err).Str("symbol", symbol).Msg("Failed to auto-exclude symbol")
		return
	}
	pp.logger.Info().Str("symbol", symbol).Int("empty_runs", misses).Msg("Symbol auto-excluded after persistent empty fetches")
}

// persist validates and writes all fetched rows, then touches the owning
// symbols so the staleness predicate sees them as fresh.
func (pp *priceProcessor) persist(ctx context.Context, results []priceResult, report *models.PhaseReport) {
	var bars []models.PriceBar
	var splits []models.CorporateSplit
	var touched []string

	for _, res := range results {
		report.Processed++
		if res.err != nil {
			report.Failed++
			report.Failures = append(report.Failures, models.PhaseError{Symbol: res.symbol, Error: res.err.Error()})
			continue
		}
		report.Succeeded++
		if len(res.bars) == 0 {
			continue
		}
		for _, bar := range res.bars {
			if err := bar.Validate(); err != nil {
				pp.logger.Warn().Err(err).Str("symbol", res.symbol).Msg("Dropping invalid price bar")
				continue
			}
			bars = append(bars, bar)
		}
		for _, split := range res.splits {
			if err := split.Validate(); err != nil {
				pp.logger.Warn().Err(err).Str("symbol", res.symbol).Msg("Dropping invalid split")
				continue
			}
			splits = append(splits, split)
		}
		touched = append(touched, res.symbol)
	}

	written, err := pp.repo.UpsertPrices(ctx, bars)
	report.RowsWritten += written
	if err != nil {
		report.Degraded = true
		report.Failures = append(report.Failures, models.PhaseError{Error: err.Error()})
	}

	if len(splits) > 0 {
		n, err := pp.repo.UpsertSplits(ctx, splits)
		report.RowsWritten += n
		if err != nil {
			report.Degraded = true
			report.Failures = append(report.Failures, models.PhaseError{Error: err.Error()})
		}
	}

	if err := pp.repo.TouchSymbols(ctx, touched, time.Now().UTC()); err != nil {
		pp.logger.Warn().Err(err).Msg("Failed to touch symbols after price write")
	}
}

func countSkips(report *models.PhaseReport, skipped []models.SkippedEntry) {
	for _, s := range skipped {
		switch s.Reason {
		case models.SkipFresh:
			report.SkippedStaleness++
		case models.SkipLedger:
			report.SkippedLedger++
		case models.SkipUnchanged:
			report.SkippedUnchanged++
		}
	}
}
