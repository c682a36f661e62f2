// Package tracking maintains the source-availability ledger: which providers
// are known to have, or lack, each data type for each symbol. The ledger is
// cached in memory for the run and written through to the repository.
package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/finbase/rawfeed/internal/common"
	"github.com/finbase/rawfeed/internal/interfaces"
	"github.com/finbase/rawfeed/internal/models"
)

// fallbackOrder is the provider priority for reads: the primary first, then
// the tertiary (closest capability overlap), then the secondary.
var fallbackOrder = []models.SourceName{
	models.SourcePrimary,
	models.SourceTertiary,
	models.SourceSecondary,
}

type key struct {
	symbol   string
	dataType models.DataType
}

// Ledger implements interfaces.TrackingLedger.
type Ledger struct {
	repo   interfaces.Repository
	logger *common.Logger

	mu    sync.RWMutex
	cache map[key]map[models.SourceName]models.SourceAvailability
}

// NewLedger creates a ledger backed by the repository.
func NewLedger(repo interfaces.Repository, logger *common.Logger) *Ledger {
	return &Ledger{
		repo:   repo,
		logger: logger,
		cache:  make(map[key]map[models.SourceName]models.SourceAvailability),
	}
}

// Preload warms the cache for a work list with one repository query.
func (l *Ledger) Preload(ctx context.Context, dataType models.DataType, symbols []string) error {
	rows, err := l.repo.ListTracking(ctx, dataType, symbols)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, row := range rows {
		k := key{symbol: row.Symbol, dataType: row.DataType}
		if l.cache[k] == nil {
			l.cache[k] = make(map[models.SourceName]models.SourceAvailability)
		}
		l.cache[k][row.Source] = row
	}
	l.logger.Debug().Str("data_type", string(dataType)).Int("rows", len(rows)).Msg("Tracking ledger preloaded")
	return nil
}

// Record updates the cache and writes through to the repository. A storage
// failure is logged but never fails the fetch that produced the observation.
func (l *Ledger) Record(ctx context.Context, symbol string, dataType models.DataType, source models.SourceName, hasData bool, note string) {
	now := time.Now().UTC()
	row := models.SourceAvailability{
		Symbol:        symbol,
		DataType:      dataType,
		Source:        source,
		HasData:       hasData,
		LastCheckedAt: now,
		Note:          note,
	}
	if hasData {
		row.LastSuccessAt = &now
	}

	l.mu.Lock()
	k := key{symbol: symbol, dataType: dataType}
	if l.cache[k] == nil {
		l.cache[k] = make(map[models.SourceName]models.SourceAvailability)
	}
	prev, seen := l.cache[k][source]
	row.Attempts = prev.Attempts + 1
	if !hasData && seen && prev.LastSuccessAt != nil {
		row.LastSuccessAt = prev.LastSuccessAt
	}
	l.cache[k][source] = row
	l.mu.Unlock()

	if err := l.repo.UpsertTracking(ctx, row); err != nil {
		l.logger.Warn().Err(err).Str("symbol", symbol).
			Str("data_type", string(dataType)).Str("source", string(source)).
			Msg("Failed to persist tracking row")
	}
}

// KnownEmpty reports whether the source's last observation for the symbol was
// has_data=false. Unknown pairs are not empty: they have simply never been tried.
func (l *Ledger) KnownEmpty(symbol string, dataType models.DataType, source models.SourceName) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	row, ok := l.cache[key{symbol: symbol, dataType: dataType}][source]
	return ok && !row.HasData
}

// PreferredSource returns the highest-priority source whose last observation
// had data.
func (l *Ledger) PreferredSource(symbol string, dataType models.DataType) (models.SourceName, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sources := l.cache[key{symbol: symbol, dataType: dataType}]
	for _, name := range fallbackOrder {
		if row, ok := sources[name]; ok && row.HasData {
			return name, true
		}
	}
	return "", false
}

// ConsecutiveMisses returns the smallest attempt count across sources that
// have never returned data, or 0 when any source has (or nothing was tried).
func (l *Ledger) ConsecutiveMisses(symbol string, dataType models.DataType) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sources := l.cache[key{symbol: symbol, dataType: dataType}]
	if len(sources) == 0 {
		return 0
	}

	misses := 0
	for _, row := range sources {
		if row.HasData || row.LastSuccessAt != nil {
			return 0
		}
		if misses == 0 || row.Attempts < misses {
			misses = row.Attempts
		}
	}
	return misses
}

var _ interfaces.TrackingLedger = (*Ledger)(nil)
