package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/finbase/rawfeed/internal/common"
	"github.com/finbase/rawfeed/internal/models"
)

func testConfig() *common.Config {
	cfg := common.NewDefaultConfig()
	cfg.API.PrimaryKey = "pk"
	cfg.API.TertiaryKey = "tk"
	cfg.DB.URL = "postgres://test"
	return cfg
}

func sym(id string, updated time.Time) models.Symbol {
	return models.Symbol{Identifier: id, Exchange: "NYSE", Type: models.InstrumentStock, UpdatedAt: updated}
}

func TestPlanIncrementalFromDates(t *testing.T) {
	cfg := testConfig()
	repo := newMockRepo()
	stale := time.Now().UTC().Add(-48 * time.Hour)

	repo.setLatest(models.DataPrices, "AAPL", time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC))
	universe := []models.Symbol{sym("AAPL", stale), sym("NEWCO", stale)}

	planner := NewPlanner(cfg, repo, common.NewSilentLogger())
	plan, err := planner.Plan(context.Background(), models.DataPrices, universe, planOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if len(plan.Entries) != 2 {
		t.Fatalf("entries = %v", plan.Entries)
	}
	// Stored history resumes the day after the latest bar.
	if got := plan.FromDate("AAPL"); !got.Equal(time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("AAPL from = %v", got)
	}
	// No history starts at the configured floor.
	if got := plan.FromDate("NEWCO"); !got.Equal(cfg.Fetch.GetPricesStartDate()) {
		t.Errorf("NEWCO from = %v", got)
	}
}

func TestPlanStalenessSkip(t *testing.T) {
	cfg := testConfig()
	repo := newMockRepo()
	planner := NewPlanner(cfg, repo, common.NewSilentLogger())

	fresh := time.Now().UTC().Add(-time.Hour)
	stale := time.Now().UTC().Add(-48 * time.Hour)
	universe := []models.Symbol{sym("FRESH", fresh), sym("STALE", stale)}

	plan, err := planner.Plan(context.Background(), models.DataPrices, universe, planOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Entries) != 1 || plan.Entries[0].Symbol != "STALE" {
		t.Errorf("entries = %v", plan.Entries)
	}
	if len(plan.Skipped) != 1 || plan.Skipped[0].Reason != models.SkipFresh {
		t.Errorf("skipped = %v", plan.Skipped)
	}

	// Force keeps everyone.
	forced, err := planner.Plan(context.Background(), models.DataPrices, universe, planOptions{force: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(forced.Entries) != 2 {
		t.Errorf("forced entries = %v", forced.Entries)
	}
}

func TestPlanExcludedSkip(t *testing.T) {
	cfg := testConfig()
	repo := newMockRepo()
	repo.excluded["GHOST"] = models.ExcludedSymbol{Symbol: "GHOST", Reason: models.ExcludeReasonNoPriceData, AutoExcluded: true}

	stale := time.Now().UTC().Add(-48 * time.Hour)
	planner := NewPlanner(cfg, repo, common.NewSilentLogger())
	plan, err := planner.Plan(context.Background(), models.DataPrices,
		[]models.Symbol{sym("GHOST", stale), sym("AAPL", stale)}, planOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Entries) != 1 || plan.Entries[0].Symbol != "AAPL" {
		t.Errorf("entries = %v", plan.Entries)
	}
	if plan.Skipped[0].Reason != models.SkipExcluded {
		t.Errorf("skipped = %v", plan.Skipped)
	}
}

func TestPlanUpToDateSkip(t *testing.T) {
	cfg := testConfig()
	repo := newMockRepo()
	today := time.Now().UTC()
	repo.setLatest(models.DataPrices, "AAPL", time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC))

	stale := today.Add(-48 * time.Hour)
	planner := NewPlanner(cfg, repo, common.NewSilentLogger())
	plan, err := planner.Plan(context.Background(), models.DataPrices, []models.Symbol{sym("AAPL", stale)}, planOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Entries) != 0 {
		t.Errorf("entries = %v, want empty plan", plan.Entries)
	}
	if len(plan.Skipped) != 1 || plan.Skipped[0].Reason != models.SkipUpToDate {
		t.Errorf("skipped = %v", plan.Skipped)
	}
}

func TestPlanProbeFallback(t *testing.T) {
	cfg := testConfig()
	repo := newMockRepo()
	repo.bulkLatestErr = errors.New("group by blew up")
	repo.setLatest(models.DataPrices, "AAPL", time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC))

	stale := time.Now().UTC().Add(-48 * time.Hour)
	planner := NewPlanner(cfg, repo, common.NewSilentLogger())
	plan, err := planner.Plan(context.Background(), models.DataPrices, []models.Symbol{sym("AAPL", stale)}, planOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got := plan.FromDate("AAPL"); !got.Equal(time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("probe fallback from = %v", got)
	}
}

func TestPlanDeterministicOrderAndLimit(t *testing.T) {
	cfg := testConfig()
	repo := newMockRepo()
	stale := time.Now().UTC().Add(-48 * time.Hour)
	universe := []models.Symbol{sym("MSFT", stale), sym("AAPL", stale), sym("KO", stale)}

	planner := NewPlanner(cfg, repo, common.NewSilentLogger())
	plan, err := planner.Plan(context.Background(), models.DataPrices, universe, planOptions{limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Entries) != 2 || plan.Entries[0].Symbol != "AAPL" || plan.Entries[1].Symbol != "KO" {
		t.Errorf("entries = %v", plan.Entries)
	}
}

func TestPlanExplicitFromDate(t *testing.T) {
	cfg := testConfig()
	repo := newMockRepo()
	repo.setLatest(models.DataPrices, "AAPL", time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC))

	stale := time.Now().UTC().Add(-48 * time.Hour)
	override := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	planner := NewPlanner(cfg, repo, common.NewSilentLogger())
	plan, err := planner.Plan(context.Background(), models.DataPrices, []models.Symbol{sym("AAPL", stale)},
		planOptions{fromDate: override})
	if err != nil {
		t.Fatal(err)
	}
	if got := plan.FromDate("AAPL"); !got.Equal(override) {
		t.Errorf("from = %v, want override", got)
	}
}
