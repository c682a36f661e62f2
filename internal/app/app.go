// Package app wires configuration, clients, storage, and services into a
// runnable pipeline.
package app

import (
	"context"
	"fmt"

	"github.com/finbase/rawfeed/internal/clients/eodhd"
	"github.com/finbase/rawfeed/internal/clients/fmp"
	"github.com/finbase/rawfeed/internal/clients/marketstack"
	"github.com/finbase/rawfeed/internal/common"
	"github.com/finbase/rawfeed/internal/interfaces"
	"github.com/finbase/rawfeed/internal/ratelimit"
	"github.com/finbase/rawfeed/internal/repository"
	"github.com/finbase/rawfeed/internal/services/discovery"
	"github.com/finbase/rawfeed/internal/services/ingest"
	"github.com/finbase/rawfeed/internal/services/tracking"
)

// App holds the assembled pipeline.
type App struct {
	Config *common.Config
	Logger *common.Logger
	Repo   *repository.Postgres

	Discovery interfaces.DiscoveryService
	Ingest    interfaces.IngestService
}

// New loads configuration, connects storage, and wires the services.
// A validation failure here is fatal: the process should exit 2.
func New(ctx context.Context, configPaths ...string) (*App, error) {
	cfg, err := common.LoadConfig(configPaths...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := common.NewLogger(cfg.Logging.Level)
	logger.Info().Str("environment", cfg.Environment).Str("version", common.GetVersion()).Msg("Starting rawfeed")

	repo, err := repository.New(ctx, cfg.DB.URL,
		repository.WithBatchSize(cfg.DB.UpsertBatchSize),
		repository.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := repo.Migrate(ctx); err != nil {
		repo.Close()
		return nil, err
	}

	timeout := cfg.API.GetTimeout()
	primary := fmp.NewClient(cfg.API.PrimaryKey,
		ratelimit.New("primary", cfg.API.PrimaryConcurrency),
		fmp.WithLogger(logger), fmp.WithTimeout(timeout))
	quote := fmp.NewQuoteClient(cfg.API.PrimaryKey,
		ratelimit.New("batch_quote", cfg.API.PrimaryConcurrency),
		fmp.WithLogger(logger), fmp.WithTimeout(timeout))
	tertiary := eodhd.NewClient(cfg.API.TertiaryKey,
		ratelimit.New("tertiary", cfg.API.TertiaryConcurrency),
		eodhd.WithLogger(logger), eodhd.WithTimeout(timeout))

	sources := &ingest.Sources{
		Primary:    primary,
		Tertiary:   tertiary,
		BatchQuote: quote,
	}
	listers := []interfaces.SymbolLister{primary}

	if cfg.SecondaryEnabled() {
		secondary := marketstack.NewClient(cfg.API.SecondaryKey,
			ratelimit.New("secondary", cfg.API.SecondaryConcurrency),
			marketstack.WithLogger(logger), marketstack.WithTimeout(timeout))
		sources.Secondary = secondary
		listers = append(listers, secondary)
	} else {
		logger.Info().Msg("Secondary provider disabled: no api.secondary_key")
	}

	ledger := tracking.NewLedger(repo, logger)
	cal := common.NewMarketCalendar()

	return &App{
		Config:    cfg,
		Logger:    logger,
		Repo:      repo,
		Discovery: discovery.NewService(cfg, repo, logger, listers...),
		Ingest:    ingest.NewService(cfg, repo, ledger, sources, cal, logger),
	}, nil
}

// Close releases held resources.
func (a *App) Close() {
	if a.Repo != nil {
		a.Repo.Close()
	}
}
