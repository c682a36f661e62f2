package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/finbase/rawfeed/internal/common"
	"github.com/finbase/rawfeed/internal/models"
	"github.com/finbase/rawfeed/internal/services/tracking"
)

func newPriceProc(cfg *common.Config, repo *mockRepo, src *Sources, universe ...models.Symbol) *priceProcessor {
	u := make(map[string]models.Symbol, len(universe))
	for _, s := range universe {
		u[s.Identifier] = s
	}
	return &priceProcessor{
		cfg:      cfg,
		repo:     repo,
		ledger:   tracking.NewLedger(repo, common.NewSilentLogger()),
		src:      src,
		cal:      common.NewMarketCalendar(),
		logger:   common.NewSilentLogger(),
		universe: u,
	}
}

func bar(symbol string, d time.Time, close float64) models.PriceBar {
	return models.PriceBar{
		Symbol: symbol, Date: d,
		Open: close, High: close, Low: close, Close: close, AdjClose: close,
		Volume: 1000,
	}
}

func pricePlan(entries ...models.PlanEntry) *models.FetchPlan {
	return &models.FetchPlan{DataType: models.DataPrices, Entries: entries}
}

func TestPricesPerSymbolFetch(t *testing.T) {
	cfg := testConfig()
	cfg.Fetch.UseBatchEOD = false
	cfg.Fetch.UseBatchQuoteFilter = false

	repo := newMockRepo()
	primary := newMockSource(models.SourcePrimary)
	d1 := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	primary.bars["AAPL"] = []models.PriceBar{bar("AAPL", d1, 100), bar("AAPL", d2, 101)}

	pp := newPriceProc(cfg, repo, &Sources{Primary: primary, Tertiary: newMockSource(models.SourceTertiary)},
		sym("AAPL", time.Time{}))
	report := pp.Run(context.Background(), pricePlan(models.PlanEntry{Symbol: "AAPL", FromDate: d1}))

	if report.Succeeded != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}
	if len(repo.prices) != 2 {
		t.Errorf("stored %d bars, want 2", len(repo.prices))
	}
	if report.RowsWritten != 2 {
		t.Errorf("rows written = %d", report.RowsWritten)
	}
	if len(repo.touched) != 1 || repo.touched[0] != "AAPL" {
		t.Errorf("touched = %v", repo.touched)
	}
}

func TestPricesFallbackToNextSource(t *testing.T) {
	cfg := testConfig()
	cfg.Fetch.UseBatchEOD = false
	cfg.Fetch.UseBatchQuoteFilter = false

	repo := newMockRepo()
	primary := newMockSource(models.SourcePrimary)
	primary.priceErr["AAPL"] = errors.New("upstream 500")
	tertiary := newMockSource(models.SourceTertiary)
	d := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	tertiary.bars["AAPL"] = []models.PriceBar{bar("AAPL", d, 100)}

	pp := newPriceProc(cfg, repo, &Sources{Primary: primary, Tertiary: tertiary}, sym("AAPL", time.Time{}))
	report := pp.Run(context.Background(), pricePlan(models.PlanEntry{Symbol: "AAPL", FromDate: d}))

	if report.Succeeded != 1 {
		t.Fatalf("report = %+v", report)
	}
	if len(repo.prices) != 1 {
		t.Errorf("stored %d bars, want 1 from fallback", len(repo.prices))
	}
	// Both the failure and the fallback success are in the ledger.
	var sawPrimaryFail, sawTertiaryOK bool
	for _, row := range repo.tracking {
		if row.Source == models.SourcePrimary && !row.HasData {
			sawPrimaryFail = true
		}
		if row.Source == models.SourceTertiary && row.HasData {
			sawTertiaryOK = true
		}
	}
	if !sawPrimaryFail || !sawTertiaryOK {
		t.Errorf("tracking rows = %+v", repo.tracking)
	}
}

func TestPricesAllSourcesFail(t *testing.T) {
	cfg := testConfig()
	cfg.Fetch.UseBatchEOD = false
	cfg.Fetch.UseBatchQuoteFilter = false

	repo := newMockRepo()
	primary := newMockSource(models.SourcePrimary)
	primary.priceErr["AAPL"] = errors.New("primary down")
	tertiary := newMockSource(models.SourceTertiary)
	tertiary.priceErr["AAPL"] = errors.New("tertiary down")

	pp := newPriceProc(cfg, repo, &Sources{Primary: primary, Tertiary: tertiary}, sym("AAPL", time.Time{}))
	report := pp.Run(context.Background(), pricePlan(models.PlanEntry{Symbol: "AAPL", FromDate: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)}))

	if report.Failed != 1 || len(report.Failures) != 1 {
		t.Fatalf("report = %+v", report)
	}
	if report.Failures[0].Symbol != "AAPL" {
		t.Errorf("failure = %+v", report.Failures[0])
	}
}

func TestPricesBatchQuoteFilter(t *testing.T) {
	cfg := testConfig()
	cfg.Fetch.UseBatchEOD = false
	cfg.Fetch.UseBatchQuoteFilter = true

	repo := newMockRepo()
	primary := newMockSource(models.SourcePrimary)
	quote := newMockSource(models.SourceBatchQuote)
	today := time.Now().UTC()
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	primary.bars["AAPL"] = []models.PriceBar{bar("AAPL", day, 191)}
	primary.bars["FLAT"] = []models.PriceBar{bar("FLAT", day, 10)}
	quote.quotes["AAPL"] = models.QuoteDelta{Symbol: "AAPL", Price: 191, Change: 1.2, ChangePercent: 0.63}
	quote.quotes["FLAT"] = models.QuoteDelta{Symbol: "FLAT", Price: 10}

	pp := newPriceProc(cfg, repo, &Sources{Primary: primary, Tertiary: newMockSource(models.SourceTertiary), BatchQuote: quote},
		sym("AAPL", time.Time{}), sym("FLAT", time.Time{}))
	report := pp.Run(context.Background(), pricePlan(
		models.PlanEntry{Symbol: "AAPL", FromDate: day},
		models.PlanEntry{Symbol: "FLAT", FromDate: day},
	))

	if report.SkippedUnchanged != 1 {
		t.Errorf("skipped unchanged = %d", report.SkippedUnchanged)
	}
	if len(primary.priceCalls) != 1 || primary.priceCalls[0] != "AAPL" {
		t.Errorf("price calls = %v, FLAT should have been filtered", primary.priceCalls)
	}
}

func TestPricesBatchQuoteFilterFailureKeepsAll(t *testing.T) {
	cfg := testConfig()
	cfg.Fetch.UseBatchEOD = false
	cfg.Fetch.UseBatchQuoteFilter = true

	repo := newMockRepo()
	primary := newMockSource(models.SourcePrimary)
	quote := newMockSource(models.SourceBatchQuote)
	quote.quoteErr = errors.New("quote endpoint down")
	today := time.Now().UTC()
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	primary.bars["AAPL"] = []models.PriceBar{bar("AAPL", day, 191)}

	pp := newPriceProc(cfg, repo, &Sources{Primary: primary, Tertiary: newMockSource(models.SourceTertiary), BatchQuote: quote},
		sym("AAPL", time.Time{}))
	report := pp.Run(context.Background(), pricePlan(models.PlanEntry{Symbol: "AAPL", FromDate: day}))

	if report.SkippedUnchanged != 0 {
		t.Errorf("skipped unchanged = %d, filter failure must keep everyone", report.SkippedUnchanged)
	}
	if len(primary.priceCalls) != 1 {
		t.Errorf("price calls = %v", primary.priceCalls)
	}
}

func TestPricesBatchEODBackfill(t *testing.T) {
	cfg := testConfig()
	cfg.Fetch.UseBatchQuoteFilter = false
	cfg.Fetch.UseBatchEOD = true

	repo := newMockRepo()
	primary := newMockSource(models.SourcePrimary)
	primary.batchEOD["AAPL"] = bar("AAPL", time.Time{}, 101)

	today := time.Now().UTC()
	from := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -5)

	pp := newPriceProc(cfg, repo, &Sources{Primary: primary, Tertiary: newMockSource(models.SourceTertiary)},
		sym("AAPL", time.Time{}))
	report := pp.Run(context.Background(), pricePlan(models.PlanEntry{Symbol: "AAPL", FromDate: from}))

	if len(primary.priceCalls) != 0 {
		t.Errorf("price calls = %v, batch path should have served AAPL", primary.priceCalls)
	}
	if len(repo.prices) == 0 {
		t.Error("no bars persisted from batch backfill")
	}
	if report.Succeeded != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestPricesBatchEODDisableOnFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Fetch.UseBatchQuoteFilter = false
	cfg.Fetch.UseBatchEOD = true

	repo := newMockRepo()
	primary := newMockSource(models.SourcePrimary)
	primary.batchEODErr = errors.New("batch endpoint 500")
	d := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	primary.bars["AAPL"] = []models.PriceBar{bar("AAPL", d, 100)}

	pp := newPriceProc(cfg, repo, &Sources{Primary: primary, Tertiary: newMockSource(models.SourceTertiary)},
		sym("AAPL", time.Time{}))
	report := pp.Run(context.Background(), pricePlan(models.PlanEntry{Symbol: "AAPL", FromDate: d}))

	if primary.eodCalls != 1 {
		t.Errorf("eod calls = %d, first failure must disable the path", primary.eodCalls)
	}
	if len(primary.priceCalls) != 1 {
		t.Errorf("price calls = %v, want per-symbol fallback", primary.priceCalls)
	}
	if report.Succeeded != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestPricesAutoExcludeAfterEmptyRuns(t *testing.T) {
	cfg := testConfig()
	cfg.Fetch.UseBatchEOD = false
	cfg.Fetch.UseBatchQuoteFilter = false
	cfg.Fetch.EmptyRunsBeforeExclude = 1

	repo := newMockRepo()
	primary := newMockSource(models.SourcePrimary)
	tertiary := newMockSource(models.SourceTertiary)

	pp := newPriceProc(cfg, repo, &Sources{Primary: primary, Tertiary: tertiary}, sym("GHOST", time.Time{}))
	pp.Run(context.Background(), pricePlan(models.PlanEntry{Symbol: "GHOST", FromDate: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)}))

	ex, ok := repo.excluded["GHOST"]
	if !ok {
		t.Fatal("GHOST not auto-excluded")
	}
	if ex.Reason != models.ExcludeReasonNoPriceData || !ex.AutoExcluded {
		t.Errorf("exclusion = %+v", ex)
	}
}

func TestPricesNoExcludeBelowThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.Fetch.UseBatchEOD = false
	cfg.Fetch.UseBatchQuoteFilter = false
	cfg.Fetch.EmptyRunsBeforeExclude = 5

	repo := newMockRepo()
	pp := newPriceProc(cfg, repo, &Sources{Primary: newMockSource(models.SourcePrimary), Tertiary: newMockSource(models.SourceTertiary)},
		sym("GHOST", time.Time{}))
	pp.Run(context.Background(), pricePlan(models.PlanEntry{Symbol: "GHOST", FromDate: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)}))

	if _, ok := repo.excluded["GHOST"]; ok {
		t.Error("one empty run must not exclude")
	}
}

func TestPricesAutoExcludeAcrossRuns(t *testing.T) {
	cfg := testConfig()
	cfg.Fetch.UseBatchEOD = false
	cfg.Fetch.UseBatchQuoteFilter = false
	cfg.Fetch.EmptyRunsBeforeExclude = 3

	// The repo and sources persist across runs; each run gets a fresh
	// processor whose ledger warms up from the replayed tracking rows.
	repo := newMockRepo()
	primary := newMockSource(models.SourcePrimary)
	tertiary := newMockSource(models.SourceTertiary)

	for run := 1; run <= 3; run++ {
		pp := newPriceProc(cfg, repo, &Sources{Primary: primary, Tertiary: tertiary}, sym("GHOST", time.Time{}))
		pp.Run(context.Background(), pricePlan(models.PlanEntry{Symbol: "GHOST", FromDate: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)}))

		_, excluded := repo.excluded["GHOST"]
		if run < 3 && excluded {
			t.Fatalf("run %d: excluded before the threshold", run)
		}
		if run == 3 && !excluded {
			t.Fatal("run 3: GHOST not auto-excluded")
		}
	}

	// After the cold run the ledger short-circuits every fetch.
	if len(primary.priceCalls) != 1 {
		t.Errorf("primary price calls = %v, want 1", primary.priceCalls)
	}
	if len(tertiary.priceCalls) != 1 {
		t.Errorf("tertiary price calls = %v, want 1", tertiary.priceCalls)
	}

	ex := repo.excluded["GHOST"]
	if ex.Reason != models.ExcludeReasonNoPriceData || !ex.AutoExcluded {
		t.Errorf("exclusion = %+v", ex)
	}
}

func TestPricesUpsertFailureDegrades(t *testing.T) {
	cfg := testConfig()
	cfg.Fetch.UseBatchEOD = false
	cfg.Fetch.UseBatchQuoteFilter = false

	repo := newMockRepo()
	repo.upsertErr = errors.New("db write failed")
	primary := newMockSource(models.SourcePrimary)
	d := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	primary.bars["AAPL"] = []models.PriceBar{bar("AAPL", d, 100)}

	pp := newPriceProc(cfg, repo, &Sources{Primary: primary, Tertiary: newMockSource(models.SourceTertiary)},
		sym("AAPL", time.Time{}))
	report := pp.Run(context.Background(), pricePlan(models.PlanEntry{Symbol: "AAPL", FromDate: d}))

	if !report.Degraded {
		t.Error("write failure must mark the phase degraded")
	}
}

func TestPricesSplitRefreshAlongsideFetch(t *testing.T) {
	cfg := testConfig()
	cfg.Fetch.UseBatchEOD = false
	cfg.Fetch.UseBatchQuoteFilter = false

	repo := newMockRepo()
	primary := newMockSource(models.SourcePrimary)
	d := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	primary.bars["AAPL"] = []models.PriceBar{bar("AAPL", d, 100)}
	primary.splits["AAPL"] = []models.CorporateSplit{{
		Symbol: "AAPL", SplitDate: time.Date(2020, 8, 31, 0, 0, 0, 0, time.UTC),
		Numerator: 4, Denominator: 1,
	}}

	pp := newPriceProc(cfg, repo, &Sources{Primary: primary, Tertiary: newMockSource(models.SourceTertiary)},
		sym("AAPL", time.Time{}))
	pp.Run(context.Background(), pricePlan(models.PlanEntry{Symbol: "AAPL", FromDate: d}))

	if len(repo.splits) != 1 {
		t.Errorf("stored %d splits, want 1", len(repo.splits))
	}
}
