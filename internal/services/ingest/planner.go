package ingest

import (
	"context"
	"sort"
	"time"

	"github.com/finbase/rawfeed/internal/common"
	"github.com/finbase/rawfeed/internal/interfaces"
	"github.com/finbase/rawfeed/internal/models"
)

// Planner builds deterministic incremental work lists: one (symbol,
// from_date) pair per symbol that needs fetching, plus the skip set.
type Planner struct {
	cfg    *common.Config
	repo   interfaces.Repository
	logger *common.Logger
}

// NewPlanner creates a planner over the repository.
func NewPlanner(cfg *common.Config, repo interfaces.Repository, logger *common.Logger) *Planner {
	return &Planner{cfg: cfg, repo: repo, logger: logger}
}

// planOptions tune one Plan call.
type planOptions struct {
	fromDate time.Time // non-zero overrides the per-symbol from-date
	force    bool      // ignore the staleness skip
	limit    int       // cap the work list, 0 = unlimited
}

// Plan computes the incremental fetch plan for the given universe and data
// type. Symbols in the exclusion ledger are dropped first; symbols updated
// within the staleness window are dropped unless forced. The output is
// ordered by identifier so identical state yields an identical plan.
func (p *Planner) Plan(ctx context.Context, dataType models.DataType, universe []models.Symbol, opts planOptions) (*models.FetchPlan, error) {
	now := time.Now().UTC()
	plan := &models.FetchPlan{DataType: dataType}

	excluded, err := p.repo.ListExcluded(ctx)
	if err != nil {
		return nil, err
	}

	work := make([]models.Symbol, 0, len(universe))
	for _, sym := range universe {
		if _, ok := excluded[sym.Identifier]; ok {
			plan.Skipped = append(plan.Skipped, models.SkippedEntry{Symbol: sym.Identifier, Reason: models.SkipExcluded})
			continue
		}
		if !opts.force && p.cfg.Fetch.StalenessHours > 0 && common.IsFresh(sym.UpdatedAt, p.cfg.Fetch.StalenessWindow()) {
			plan.Skipped = append(plan.Skipped, models.SkippedEntry{Symbol: sym.Identifier, Reason: models.SkipFresh})
			continue
		}
		work = append(work, sym)
	}

	latest := p.latestDates(ctx, dataType, work)

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	floor := p.cfg.Fetch.GetPricesStartDate()

	for _, sym := range work {
		from := opts.fromDate
		if from.IsZero() {
			if last, ok := latest[sym.Identifier]; ok {
				from = last.AddDate(0, 0, 1)
			} else {
				from = floor
			}
		}
		if from.After(today) {
			plan.Skipped = append(plan.Skipped, models.SkippedEntry{Symbol: sym.Identifier, Reason: models.SkipUpToDate})
			continue
		}
		plan.Entries = append(plan.Entries, models.PlanEntry{Symbol: sym.Identifier, FromDate: from})
	}

	sort.Slice(plan.Entries, func(i, j int) bool { return plan.Entries[i].Symbol < plan.Entries[j].Symbol })
	plan.Limit(opts.limit)

	p.logger.Info().Str("data_type", string(dataType)).
		Int("entries", len(plan.Entries)).Int("skipped", len(plan.Skipped)).
		Msg("Fetch plan built")
	return plan, nil
}

// latestDates prefers the single bulk query and degrades to per-symbol
// probes when it fails.
func (p *Planner) latestDates(ctx context.Context, dataType models.DataType, work []models.Symbol) map[string]time.Time {
	symbols := make([]string, len(work))
	for i, sym := range work {
		symbols[i] = sym.Identifier
	}

	latest, err := p.repo.BulkLatestDates(ctx, dataType, symbols)
	if err == nil {
		return latest
	}
	p.logger.Warn().Err(err).Str("data_type", string(dataType)).Msg("Bulk latest-date query failed, probing per symbol")

	latest = make(map[string]time.Time, len(symbols))
	for _, symbol := range symbols {
		d, err := p.repo.LatestDate(ctx, dataType, symbol)
		if err != nil {
			p.logger.Warn().Err(err).Str("symbol", symbol).Msg("Latest-date probe failed")
			continue
		}
		if !d.IsZero() {
			latest[symbol] = d
		}
	}
	return latest
}
