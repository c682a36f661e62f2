// Package discovery enumerates the tradable symbol universe across
// providers, filters it to the target exchanges, and validates liveness.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/finbase/rawfeed/internal/common"
	"github.com/finbase/rawfeed/internal/interfaces"
	"github.com/finbase/rawfeed/internal/models"
)

const listPageSize = 10000

// Service implements interfaces.DiscoveryService.
type Service struct {
	cfg     *common.Config
	repo    interfaces.Repository
	logger  *common.Logger
	listers []interfaces.SymbolLister
}

// NewService creates the discovery service. Listers are consulted in
// priority order; the first provider to report a symbol wins.
func NewService(cfg *common.Config, repo interfaces.Repository, logger *common.Logger, listers ...interfaces.SymbolLister) *Service {
	return &Service{cfg: cfg, repo: repo, logger: logger, listers: listers}
}

// Discover enumerates, filters, validates, and persists the symbol universe.
func (s *Service) Discover(ctx context.Context) (*models.PhaseReport, error) {
	start := time.Now()
	report := &models.PhaseReport{Phase: models.PhaseDiscovery}

	candidates, err := s.enumerate(ctx)
	if err != nil {
		return nil, err
	}
	report.Inputs = len(candidates)

	kept := s.filter(candidates)
	report.Processed = len(kept)
	s.logger.Info().Int("candidates", len(candidates)).Int("kept", len(kept)).Msg("Discovery filtered universe")

	written, err := s.repo.UpsertSymbols(ctx, kept)
	report.RowsWritten = written
	if err != nil {
		report.Degraded = true
		report.Failures = append(report.Failures, models.PhaseError{Error: err.Error()})
		s.logger.Error().Err(err).Msg("Symbol upsert partially failed")
	}

	excluded, err := s.validate(ctx, kept)
	if err != nil {
		report.Degraded = true
		report.Failures = append(report.Failures, models.PhaseError{Error: err.Error()})
	}
	report.Succeeded = len(kept) - excluded
	report.Failed = excluded

	report.Elapsed = time.Since(start)
	return report, nil
}

// enumerate walks every lister's directory plus its ETF and dividend-payer
// listings, deduplicating on identifier.
func (s *Service) enumerate(ctx context.Context) ([]models.Symbol, error) {
	seen := make(map[string]*models.Symbol)
	order := make([]string, 0, 1024)

	add := func(sym *models.Symbol) {
		id := models.NormalizeIdentifier(sym.Identifier)
		if id == "" {
			return
		}
		if existing, ok := seen[id]; ok {
			// First provider wins; later ones only fill gaps.
			if existing.Type == models.InstrumentStock && sym.Type == models.InstrumentETF {
				existing.Type = models.InstrumentETF
			}
			if existing.Name == "" {
				existing.Name = sym.Name
			}
			return
		}
		cp := *sym
		cp.Identifier = id
		seen[id] = &cp
		order = append(order, id)
	}

	for _, lister := range s.listers {
		cursor := ""
		for {
			symbols, next, err := lister.ListSymbols(ctx, cursor, listPageSize)
			if err != nil {
				return nil, fmt.Errorf("list symbols from %s: %w", lister.Name(), err)
			}
			for _, sym := range symbols {
				add(sym)
			}
			if next == "" {
				break
			}
			cursor = next
		}

		etfs, err := lister.ListETFs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list etfs from %s: %w", lister.Name(), err)
		}
		for _, sym := range etfs {
			sym.Type = models.InstrumentETF
			add(sym)
		}

		payers, err := lister.ListDividendCandidates(ctx)
		if err != nil {
			return nil, fmt.Errorf("list dividend candidates from %s: %w", lister.Name(), err)
		}
		for _, id := range payers {
			add(&models.Symbol{Identifier: id, Type: models.InstrumentStock})
		}
	}

	out := make([]models.Symbol, 0, len(order))
	for _, id := range order {
		out = append(out, *seen[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

// filter applies the suffix, exchange, and type filters.
func (s *Service) filter(candidates []models.Symbol) []models.Symbol {
	allowed := s.cfg.Exchange.AllowedSet()
	now := time.Now().UTC()

	kept := make([]models.Symbol, 0, len(candidates))
	for _, sym := range candidates {
		if !models.ValidIdentifier(sym.Identifier) {
			continue
		}
		if s.blockedSuffix(sym.Suffix()) {
			continue
		}
		// Symbols arriving without an exchange tag (dividend calendar entries)
		// cannot be classified and pass through to validation.
		if sym.Exchange != "" && len(allowed) > 0 && !allowed[strings.ToUpper(sym.Exchange)] {
			continue
		}
		switch sym.Type {
		case models.InstrumentStock, models.InstrumentETF, models.InstrumentTrust:
		default:
			sym.Type = models.InstrumentStock
		}
		sym.UpdatedAt = now
		kept = append(kept, sym)
	}
	return kept
}

func (s *Service) blockedSuffix(suffix string) bool {
	if suffix == "" {
		return false
	}
	for _, blocked := range s.cfg.Exchange.BlockedSuffixes {
		if strings.EqualFold(suffix, blocked) {
			return true
		}
	}
	return false
}

var _ interfaces.DiscoveryService = (*Service)(nil)
