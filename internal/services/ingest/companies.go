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

// companyProcessor refreshes company and fund metadata with a TTL cache.
type companyProcessor struct {
	cfg      *common.Config
	repo     interfaces.Repository
	ledger   interfaces.TrackingLedger
	src      *Sources
	logger   *common.Logger
	universe map[string]models.Symbol
}

type companyResult struct {
	symbol string
	info   *models.CompanyInfo
	err    error
}

// Run refreshes metadata for the given symbols, skipping cache hits.
func (cp *companyProcessor) Run(ctx context.Context, symbols []string) *models.PhaseReport {
	start := time.Now()
	report := &models.PhaseReport{Phase: models.PhaseCompanies, Inputs: len(symbols)}

	work := cp.cacheFilter(ctx, symbols, report)
	if err := cp.ledger.Preload(ctx, models.DataCompany, work); err != nil {
		cp.logger.Warn().Err(err).Msg("Tracking ledger preload failed, proceeding cold")
	}

	var mu sync.Mutex
	results := make([]companyResult, 0, len(work))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cp.cfg.API.PrimaryConcurrency)
	for _, symbol := range work {
		symbol := symbol
		g.Go(func() error {
			res := cp.fetchOne(gctx, symbol)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	cp.persist(ctx, results, report)
	report.Elapsed = time.Since(start)
	return report
}

// cacheFilter drops symbols refreshed within the company TTL.
func (cp *companyProcessor) cacheFilter(ctx context.Context, symbols []string, report *models.PhaseReport) []string {
	if !cp.cfg.Fetch.CacheCompanyData || cp.cfg.Fetch.CompanyCacheDays <= 0 {
		return symbols
	}

	cutoff := time.Now().UTC().Add(-cp.cfg.Fetch.CompanyCacheWindow())
	fresh, err := cp.repo.CompaniesRefreshedSince(ctx, cutoff)
	if err != nil {
		cp.logger.Warn().Err(err).Msg("Company cache lookup failed, refreshing everything")
		return symbols
	}

	work := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		if fresh[symbol] {
			report.SkippedStaleness++
			continue
		}
		work = append(work, symbol)
	}
	cp.logger.Info().Int("cache_hits", report.SkippedStaleness).Int("to_fetch", len(work)).Msg("Company cache applied")
	return work
}

// fetchOne pulls the primary profile, fills missing fund fields from the
// secondary, and captures top holdings for ETFs.
func (cp *companyProcessor) fetchOne(ctx context.Context, symbol string) companyResult {
	res := companyResult{symbol: symbol}

	info, err := cp.src.Primary.FetchCompany(ctx, symbol)
	if err != nil {
		cp.ledger.Record(ctx, symbol, models.DataCompany, models.SourcePrimary, false, err.Error())
		if cp.src.Secondary == nil {
			res.err = err
			return res
		}
		info, err = cp.src.Secondary.FetchCompany(ctx, symbol)
		if err != nil {
			cp.ledger.Record(ctx, symbol, models.DataCompany, models.SourceSecondary, false, err.Error())
			res.err = err
			return res
		}
		cp.ledger.Record(ctx, symbol, models.DataCompany, models.SourceSecondary, true, "")
	} else {
		cp.ledger.Record(ctx, symbol, models.DataCompany, models.SourcePrimary, true, "")
	}

	if sym, ok := cp.universe[symbol]; ok && sym.Type == models.InstrumentETF {
		info.IsFund = true
	}

	if info.IsFund {
		cp.fillFundFields(ctx, info)
		if holdings, err := cp.src.Primary.FetchHoldings(ctx, symbol); err == nil {
			info.TopHoldings = holdings
		} else {
			cp.logger.Debug().Err(err).Str("symbol", symbol).Msg("Holdings unavailable")
		}
	}

	info.RefreshedAt = time.Now().UTC()
	res.info = info
	return res
}

// fillFundFields backfills fund_family and expense_ratio from the secondary
// provider when the primary profile lacks them.
func (cp *companyProcessor) fillFundFields(ctx context.Context, info *models.CompanyInfo) {
	if cp.src.Secondary == nil {
		return
	}
	if info.FundFamily != "" && info.ExpenseRatio != 0 {
		return
	}

	extra, err := cp.src.Secondary.FetchCompany(ctx, info.Symbol)
	if err != nil {
		cp.logger.Debug().Err(err).Str("symbol", info.Symbol).Msg("Secondary fund fields unavailable")
		return
	}
	if info.FundFamily == "" {
		info.FundFamily = extra.FundFamily
	}
	if info.ExpenseRatio == 0 {
		info.ExpenseRatio = extra.ExpenseRatio
	}
}

func (cp *companyProcessor) persist(ctx context.Context, results []companyResult, report *models.PhaseReport) {
	var infos []models.CompanyInfo
	for _, res := range results {
		report.Processed++
		if res.err != nil {
			report.Failed++
			report.Failures = append(report.Failures, models.PhaseError{Symbol: res.symbol, Error: res.err.Error()})
			continue
		}
		report.Succeeded++
		infos = append(infos, *res.info)
	}

	written, err := cp.repo.UpsertCompanies(ctx, infos)
	report.RowsWritten += written
	if err != nil {
		report.Degraded = true
		report.Failures = append(report.Failures, models.PhaseError{Error: err.Error()})
	}
}
