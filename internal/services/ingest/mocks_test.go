package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/finbase/rawfeed/internal/interfaces"
	"github.com/finbase/rawfeed/internal/models"
)

// mockRepo is an in-memory Repository for processor tests.
type mockRepo struct {
	mu sync.Mutex

	symbols   []models.Symbol
	excluded  map[string]models.ExcludedSymbol
	latest    map[models.DataType]map[string]time.Time
	payers    map[string]bool
	refreshed map[string]bool
	tracking  []models.SourceAvailability

	prices    []models.PriceBar
	dividends []models.DividendEvent
	futures   []models.DividendEvent
	splits    []models.CorporateSplit
	companies []models.CompanyInfo
	touched   []string

	bulkLatestErr error
	upsertErr     error
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		excluded:  make(map[string]models.ExcludedSymbol),
		latest:    make(map[models.DataType]map[string]time.Time),
		payers:    make(map[string]bool),
		refreshed: make(map[string]bool),
	}
}

func (m *mockRepo) setLatest(dt models.DataType, symbol string, d time.Time) {
	if m.latest[dt] == nil {
		m.latest[dt] = make(map[string]time.Time)
	}
	m.latest[dt][symbol] = d
}

func (m *mockRepo) UpsertSymbols(ctx context.Context, batch []models.Symbol) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.symbols = append(m.symbols, batch...)
	return len(batch), m.upsertErr
}

func (m *mockRepo) UpsertPrices(ctx context.Context, batch []models.PriceBar) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return 0, m.upsertErr
	}
	m.prices = append(m.prices, batch...)
	return len(batch), nil
}

func (m *mockRepo) UpsertDividends(ctx context.Context, batch []models.DividendEvent) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dividends = append(m.dividends, batch...)
	return len(batch), nil
}

func (m *mockRepo) UpsertFutureDividends(ctx context.Context, batch []models.DividendEvent) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.futures = append(m.futures, batch...)
	return len(batch), nil
}

func (m *mockRepo) UpsertSplits(ctx context.Context, batch []models.CorporateSplit) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.splits = append(m.splits, batch...)
	return len(batch), nil
}

func (m *mockRepo) UpsertCompanies(ctx context.Context, batch []models.CompanyInfo) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.companies = append(m.companies, batch...)
	return len(batch), nil
}

func (m *mockRepo) BulkLatestDates(ctx context.Context, dt models.DataType, symbols []string) (map[string]time.Time, error) {
	if m.bulkLatestErr != nil {
		return nil, m.bulkLatestErr
	}
	out := make(map[string]time.Time)
	for s, d := range m.latest[dt] {
		out[s] = d
	}
	return out, nil
}

func (m *mockRepo) LatestDate(ctx context.Context, dt models.DataType, symbol string) (time.Time, error) {
	return m.latest[dt][symbol], nil
}

func (m *mockRepo) DistinctSymbolsWith(ctx context.Context, dt models.DataType) (map[string]bool, error) {
	out := make(map[string]bool)
	for s := range m.latest[dt] {
		out[s] = true
	}
	return out, nil
}

func (m *mockRepo) ListSymbols(ctx context.Context) ([]models.Symbol, error) {
	return m.symbols, nil
}

func (m *mockRepo) ListSymbolsNullName(ctx context.Context, limit int) ([]models.Symbol, error) {
	var out []models.Symbol
	for _, s := range m.symbols {
		if s.Name == "" {
			out = append(out, s)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockRepo) DividendPayers(ctx context.Context) (map[string]bool, error) {
	return m.payers, nil
}

func (m *mockRepo) TouchSymbols(ctx context.Context, symbols []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched = append(m.touched, symbols...)
	return nil
}

func (m *mockRepo) HasPriceSince(ctx context.Context, symbol string, since time.Time) (bool, error) {
	d, ok := m.latest[models.DataPrices][symbol]
	return ok && !d.Before(since), nil
}

func (m *mockRepo) HasDividendSince(ctx context.Context, symbol string, since time.Time) (bool, error) {
	d, ok := m.latest[models.DataDividends][symbol]
	return ok && !d.Before(since), nil
}

func (m *mockRepo) CompaniesRefreshedSince(ctx context.Context, cutoff time.Time) (map[string]bool, error) {
	return m.refreshed, nil
}

func (m *mockRepo) ListExcluded(ctx context.Context) (map[string]models.ExcludedSymbol, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.ExcludedSymbol, len(m.excluded))
	for k, v := range m.excluded {
		out[k] = v
	}
	return out, nil
}

func (m *mockRepo) MarkExcluded(ctx context.Context, symbol, reason string, auto bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.excluded[symbol] = models.ExcludedSymbol{
		Symbol: symbol, Reason: reason, AutoExcluded: auto, RecordedAt: time.Now().UTC(),
	}
	return nil
}

func (m *mockRepo) UpsertTracking(ctx context.Context, row models.SourceAvailability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracking = append(m.tracking, row)
	return nil
}

// ListTracking replays the latest upserted row per (symbol, source), the way
// the real table looks after prior runs.
func (m *mockRepo) ListTracking(ctx context.Context, dt models.DataType, symbols []string) ([]models.SourceAvailability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	latest := make(map[string]models.SourceAvailability)
	for _, row := range m.tracking {
		if row.DataType != dt {
			continue
		}
		if symbols != nil && !want[row.Symbol] {
			continue
		}
		latest[row.Symbol+"|"+string(row.Source)] = row
	}
	out := make([]models.SourceAvailability, 0, len(latest))
	for _, row := range latest {
		out = append(out, row)
	}
	return out, nil
}

func (m *mockRepo) Close() {}

var _ interfaces.Repository = (*mockRepo)(nil)

// mockSource implements every fetch capability with canned data per symbol.
type mockSource struct {
	mu   sync.Mutex
	name models.SourceName

	bars      map[string][]models.PriceBar
	dividends map[string][]models.DividendEvent
	splits    map[string][]models.CorporateSplit
	companies map[string]*models.CompanyInfo
	holdings  map[string][]models.ETFHolding
	futures   []models.DividendEvent
	quotes    map[string]models.QuoteDelta
	batchEOD  map[string]models.PriceBar

	priceErr    map[string]error
	companyErr  map[string]error
	dividendErr error
	batchEODErr error
	quoteErr    error

	priceCalls []string
	eodCalls   int
}

func newMockSource(name models.SourceName) *mockSource {
	return &mockSource{
		name:       name,
		bars:       make(map[string][]models.PriceBar),
		dividends:  make(map[string][]models.DividendEvent),
		splits:     make(map[string][]models.CorporateSplit),
		companies:  make(map[string]*models.CompanyInfo),
		holdings:   make(map[string][]models.ETFHolding),
		quotes:     make(map[string]models.QuoteDelta),
		batchEOD:   make(map[string]models.PriceBar),
		priceErr:   make(map[string]error),
		companyErr: make(map[string]error),
	}
}

func (m *mockSource) Name() models.SourceName { return m.name }

func (m *mockSource) FetchPrices(ctx context.Context, symbol string, from time.Time) ([]models.PriceBar, error) {
	m.mu.Lock()
	m.priceCalls = append(m.priceCalls, symbol)
	m.mu.Unlock()
	if err := m.priceErr[symbol]; err != nil {
		return nil, err
	}
	var out []models.PriceBar
	for _, b := range m.bars[symbol] {
		if from.IsZero() || !b.Date.Before(from) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *mockSource) FetchBatchEOD(ctx context.Context, date time.Time) (map[string]models.PriceBar, error) {
	m.mu.Lock()
	m.eodCalls++
	m.mu.Unlock()
	if m.batchEODErr != nil {
		return nil, m.batchEODErr
	}
	out := make(map[string]models.PriceBar, len(m.batchEOD))
	for s, b := range m.batchEOD {
		b.Date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
		out[s] = b
	}
	return out, nil
}

func (m *mockSource) FetchBatchQuotes(ctx context.Context, symbols []string) (map[string]models.QuoteDelta, error) {
	if m.quoteErr != nil {
		return nil, m.quoteErr
	}
	out := make(map[string]models.QuoteDelta)
	for _, s := range symbols {
		if q, ok := m.quotes[s]; ok {
			out[s] = q
		}
	}
	return out, nil
}

func (m *mockSource) FetchDividends(ctx context.Context, symbol string, from time.Time) ([]models.DividendEvent, error) {
	if m.dividendErr != nil {
		return nil, m.dividendErr
	}
	return m.dividends[symbol], nil
}

func (m *mockSource) FetchFutureDividends(ctx context.Context, start, end time.Time) ([]models.DividendEvent, error) {
	return m.futures, nil
}

func (m *mockSource) FetchSplits(ctx context.Context, symbol string, from time.Time) ([]models.CorporateSplit, error) {
	return m.splits[symbol], nil
}

func (m *mockSource) FetchCompany(ctx context.Context, symbol string) (*models.CompanyInfo, error) {
	if err := m.companyErr[symbol]; err != nil {
		return nil, err
	}
	if info, ok := m.companies[symbol]; ok {
		cp := *info
		return &cp, nil
	}
	return &models.CompanyInfo{Symbol: symbol, Name: symbol + " Inc"}, nil
}

func (m *mockSource) FetchHoldings(ctx context.Context, etfSymbol string) ([]models.ETFHolding, error) {
	return m.holdings[etfSymbol], nil
}

func (m *mockSource) FetchFundMetrics(ctx context.Context, symbol string) (aum, iv *float64, err error) {
	return nil, nil, nil
}

var (
	_ PrimarySource               = (*mockSource)(nil)
	_ TertiarySource              = (*mockSource)(nil)
	_ SecondarySource             = (*mockSource)(nil)
	_ interfaces.BatchQuoteSource = (*mockSource)(nil)
)
