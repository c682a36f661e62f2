package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/finbase/rawfeed/internal/common"
	"github.com/finbase/rawfeed/internal/interfaces"
	"github.com/finbase/rawfeed/internal/models"
)

// Service is the pipeline orchestrator implementing interfaces.IngestService.
type Service struct {
	cfg     *common.Config
	repo    interfaces.Repository
	ledger  interfaces.TrackingLedger
	src     *Sources
	cal     *common.MarketCalendar
	logger  *common.Logger
	planner *Planner
}

// NewService wires the orchestrator.
func NewService(cfg *common.Config, repo interfaces.Repository, ledger interfaces.TrackingLedger,
	src *Sources, cal *common.MarketCalendar, logger *common.Logger) *Service {
	return &Service{
		cfg:     cfg,
		repo:    repo,
		ledger:  ledger,
		src:     src,
		cal:     cal,
		logger:  logger,
		planner: NewPlanner(cfg, repo, logger),
	}
}

// Update performs the daily ingestion: prices and dividends run in parallel
// because they write disjoint tables, then companies run sequentially.
// Partial results persisted before a cancellation are kept.
func (s *Service) Update(ctx context.Context, opts interfaces.UpdateOptions) (*models.RunReport, error) {
	report := models.NewRunReport("update")

	if !opts.Force && !common.ForceRun() {
		if ok, reason := s.cal.ShouldRun(time.Now()); !ok {
			s.logger.Info().Str("reason", reason).Msg("Run skipped by market-hours gate")
			report.Skipped = true
			report.Reason = reason
			return report.Finish(), nil
		}
	}

	universe, universeMap, err := s.loadUniverse(ctx)
	if err != nil {
		report.Fatal = err.Error()
		return report.Finish(), err
	}
	s.logger.Info().Str("run_id", report.RunID).Int("universe", len(universe)).Msg("Update run started")

	runPrices := !opts.DividendsOnly && !opts.CompaniesOnly
	runDividends := !opts.PricesOnly && !opts.CompaniesOnly
	runCompanies := !opts.PricesOnly && !opts.DividendsOnly

	popts := planOptions{fromDate: opts.FromDate, force: opts.Force, limit: opts.Limit}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	if runPrices {
		g.Go(func() error {
			plan, err := s.planner.Plan(gctx, models.DataPrices, universe, popts)
			if err != nil {
				return fmt.Errorf("price plan: %w", err)
			}
			pp := &priceProcessor{cfg: s.cfg, repo: s.repo, ledger: s.ledger, src: s.src,
				cal: s.cal, logger: s.logger, universe: universeMap}
			phase := pp.Run(gctx, plan)
			mu.Lock()
			report.Add(phase)
			mu.Unlock()
			return nil
		})
	}
	if runDividends {
		g.Go(func() error {
			plan, err := s.planner.Plan(gctx, models.DataDividends, universe, popts)
			if err != nil {
				return fmt.Errorf("dividend plan: %w", err)
			}
			dp := &dividendProcessor{cfg: s.cfg, repo: s.repo, ledger: s.ledger, src: s.src,
				logger: s.logger, universe: universeMap}
			phase := dp.Run(gctx, plan)
			mu.Lock()
			report.Add(phase)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		report.Fatal = err.Error()
		return report.Finish(), err
	}

	if runCompanies {
		symbols, err := s.companyWorkList(ctx, universe, opts.Limit)
		if err != nil {
			report.Fatal = err.Error()
			return report.Finish(), err
		}
		cp := &companyProcessor{cfg: s.cfg, repo: s.repo, ledger: s.ledger, src: s.src,
			logger: s.logger, universe: universeMap}
		report.Add(cp.Run(ctx, symbols))
	}

	s.logStats()
	return report.Finish(), ctx.Err()
}

// RefreshCompanies re-fetches metadata for symbols still missing a name.
func (s *Service) RefreshCompanies(ctx context.Context, limit int) (*models.RunReport, error) {
	report := models.NewRunReport("refresh-companies")

	symbols, err := s.repo.ListSymbolsNullName(ctx, limit)
	if err != nil {
		report.Fatal = err.Error()
		return report.Finish(), err
	}

	universeMap := make(map[string]models.Symbol, len(symbols))
	ids := make([]string, len(symbols))
	for i, sym := range symbols {
		universeMap[sym.Identifier] = sym
		ids[i] = sym.Identifier
	}

	cp := &companyProcessor{cfg: s.cfg, repo: s.repo, ledger: s.ledger, src: s.src,
		logger: s.logger, universe: universeMap}
	report.Add(cp.Run(ctx, ids))

	s.logStats()
	return report.Finish(), ctx.Err()
}

// FutureDividends pulls the announced-dividend calendar daysAhead out.
func (s *Service) FutureDividends(ctx context.Context, daysAhead int) (*models.RunReport, error) {
	report := models.NewRunReport("future-dividends")
	if daysAhead <= 0 {
		daysAhead = s.cfg.Fetch.FutureDividendDays
	}

	phase := &models.PhaseReport{Phase: models.PhaseDividends}
	start := time.Now()

	today := time.Now().UTC()
	events, err := s.src.Primary.FetchFutureDividends(ctx, today, today.AddDate(0, 0, daysAhead))
	if err != nil {
		report.Fatal = err.Error()
		return report.Finish(), err
	}
	phase.Inputs = len(events)
	phase.Processed = len(events)

	valid := events[:0:0]
	for _, event := range events {
		if err := event.Validate(); err != nil {
			s.logger.Warn().Err(err).Str("symbol", event.Symbol).Msg("Dropping invalid future dividend")
			phase.Failed++
			continue
		}
		valid = append(valid, event)
	}
	phase.Succeeded = len(valid)

	n, err := s.repo.UpsertFutureDividends(ctx, valid)
	phase.RowsWritten = n
	if err != nil {
		phase.Degraded = true
		phase.Failures = append(phase.Failures, models.PhaseError{Error: err.Error()})
	}

	phase.Elapsed = time.Since(start)
	report.Add(phase)
	return report.Finish(), ctx.Err()
}

// loadUniverse reads the stored symbol table once per run.
func (s *Service) loadUniverse(ctx context.Context) ([]models.Symbol, map[string]models.Symbol, error) {
	universe, err := s.repo.ListSymbols(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load symbol universe: %w", err)
	}
	m := make(map[string]models.Symbol, len(universe))
	for _, sym := range universe {
		m[sym.Identifier] = sym
	}
	return universe, m, nil
}

// companyWorkList is the non-excluded universe, capped like the other phases.
func (s *Service) companyWorkList(ctx context.Context, universe []models.Symbol, limit int) ([]string, error) {
	excluded, err := s.repo.ListExcluded(ctx)
	if err != nil {
		return nil, fmt.Errorf("load exclusions: %w", err)
	}
	symbols := make([]string, 0, len(universe))
	for _, sym := range universe {
		if _, ok := excluded[sym.Identifier]; ok {
			continue
		}
		symbols = append(symbols, sym.Identifier)
	}
	if limit > 0 && len(symbols) > limit {
		symbols = symbols[:limit]
	}
	return symbols, nil
}

// logStats emits per-client request counters at the end of a run.
func (s *Service) logStats() {
	emit := func(name models.SourceName, source any) {
		reporter, ok := source.(interfaces.StatsReporter)
		if !ok || source == nil {
			return
		}
		stats := reporter.Stats()
		s.logger.Info().Str("client", string(name)).
			Int64("attempts", stats.Attempts).Int64("successes", stats.Successes).
			Int64("retries", stats.Retries).Int64("client_errors", stats.ClientErrors).
			Int64("server_errors", stats.ServerErrors).Int64("timeouts", stats.Timeouts).
			Msg("Client stats")
	}
	emit(models.SourcePrimary, s.src.Primary)
	emit(models.SourceTertiary, s.src.Tertiary)
	if s.src.Secondary != nil {
		emit(models.SourceSecondary, s.src.Secondary)
	}
	if s.src.BatchQuote != nil {
		emit(models.SourceBatchQuote, s.src.BatchQuote)
	}
}

var _ interfaces.IngestService = (*Service)(nil)
