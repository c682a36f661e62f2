package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/finbase/rawfeed/internal/models"
)

// UpsertSymbols writes identity columns of raw_stocks. Company metadata
// columns on the same rows are owned by UpsertCompanies and left untouched.
func (p *Postgres) UpsertSymbols(ctx context.Context, batch []models.Symbol) (int, error) {
	const q = `
		INSERT INTO raw_stocks (symbol, exchange, type, name, currency, country, dividend_yield, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8)
		ON CONFLICT (symbol) DO UPDATE SET
			exchange       = EXCLUDED.exchange,
			type           = EXCLUDED.type,
			name           = COALESCE(EXCLUDED.name, raw_stocks.name),
			currency       = COALESCE(EXCLUDED.currency, raw_stocks.currency),
			country        = COALESCE(EXCLUDED.country, raw_stocks.country),
			dividend_yield = COALESCE(EXCLUDED.dividend_yield, raw_stocks.dividend_yield),
			updated_at     = EXCLUDED.updated_at`

	return p.chunkWrite(ctx, "raw_stocks", len(batch), func(b *pgx.Batch, i int) {
		s := batch[i]
		at := s.UpdatedAt
		if at.IsZero() {
			at = time.Now().UTC()
		}
		b.Queue(q, s.Identifier, s.Exchange, string(s.Type), s.Name, s.Currency, s.Country, s.DividendYield, at)
	})
}

// UpsertPrices writes daily bars. Re-running a window rewrites identical rows.
func (p *Postgres) UpsertPrices(ctx context.Context, batch []models.PriceBar) (int, error) {
	const q = `
		INSERT INTO raw_stock_prices (symbol, date, open, high, low, close, adj_close, volume, aum, iv)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (symbol, date) DO UPDATE SET
			open      = EXCLUDED.open,
			high      = EXCLUDED.high,
			low       = EXCLUDED.low,
			close     = EXCLUDED.close,
			adj_close = EXCLUDED.adj_close,
			volume    = EXCLUDED.volume,
			aum       = COALESCE(EXCLUDED.aum, raw_stock_prices.aum),
			iv        = COALESCE(EXCLUDED.iv, raw_stock_prices.iv)`

	return p.chunkWrite(ctx, "raw_stock_prices", len(batch), func(b *pgx.Batch, i int) {
		bar := batch[i]
		b.Queue(q, bar.Symbol, dateOnly(bar.Date), bar.Open, bar.High, bar.Low,
			bar.Close, bar.AdjClose, bar.Volume, bar.AUM, bar.IV)
	})
}

// UpsertDividends writes historical events. A row already present keeps its
// values: historical ex-dates are immutable.
func (p *Postgres) UpsertDividends(ctx context.Context, batch []models.DividendEvent) (int, error) {
	const q = `
		INSERT INTO raw_dividends (symbol, ex_date, declaration_date, record_date, payment_date, amount, currency, frequency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
		ON CONFLICT (symbol, ex_date) DO NOTHING`

	return p.chunkWrite(ctx, "raw_dividends", len(batch), func(b *pgx.Batch, i int) {
		d := batch[i]
		b.Queue(q, d.Symbol, dateOnly(d.ExDate), optDate(d.DeclarationDate), optDate(d.RecordDate),
			optDate(d.PaymentDate), d.Amount, currencyOrUSD(d.Currency), d.Frequency)
	})
}

// UpsertFutureDividends writes announced events. Unlike historical rows these
// stay revisable until the ex-date passes.
func (p *Postgres) UpsertFutureDividends(ctx context.Context, batch []models.DividendEvent) (int, error) {
	const q = `
		INSERT INTO raw_future_dividends (symbol, ex_date, declaration_date, record_date, payment_date, amount, currency, frequency, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NOW())
		ON CONFLICT (symbol, ex_date) DO UPDATE SET
			declaration_date = COALESCE(EXCLUDED.declaration_date, raw_future_dividends.declaration_date),
			record_date      = COALESCE(EXCLUDED.record_date, raw_future_dividends.record_date),
			payment_date     = COALESCE(EXCLUDED.payment_date, raw_future_dividends.payment_date),
			amount           = EXCLUDED.amount,
			currency         = EXCLUDED.currency,
			frequency        = COALESCE(EXCLUDED.frequency, raw_future_dividends.frequency),
			updated_at       = NOW()`

	return p.chunkWrite(ctx, "raw_future_dividends", len(batch), func(b *pgx.Batch, i int) {
		d := batch[i]
		b.Queue(q, d.Symbol, dateOnly(d.ExDate), optDate(d.DeclarationDate), optDate(d.RecordDate),
			optDate(d.PaymentDate), d.Amount, currencyOrUSD(d.Currency), d.Frequency)
	})
}

// UpsertSplits writes corporate split history.
func (p *Postgres) UpsertSplits(ctx context.Context, batch []models.CorporateSplit) (int, error) {
	const q = `
		INSERT INTO raw_stock_splits (symbol, split_date, numerator, denominator)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (symbol, split_date) DO UPDATE SET
			numerator   = EXCLUDED.numerator,
			denominator = EXCLUDED.denominator`

	return p.chunkWrite(ctx, "raw_stock_splits", len(batch), func(b *pgx.Batch, i int) {
		s := batch[i]
		b.Queue(q, s.Symbol, dateOnly(s.SplitDate), s.Numerator, s.Denominator)
	})
}

// UpsertCompanies writes company metadata columns onto existing raw_stocks
// rows, inserting the row when discovery has not seen the symbol yet.
func (p *Postgres) UpsertCompanies(ctx context.Context, batch []models.CompanyInfo) (int, error) {
	const q = `
		INSERT INTO raw_stocks (symbol, name, sector, industry, market_cap, dividend_yield,
			fund_family, expense_ratio, is_fund, description, top_holdings, company_refreshed_at, updated_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, 0), NULLIF($6, 0),
			NULLIF($7, ''), NULLIF($8, 0), $9, NULLIF($10, ''), $11, $12, $12)
		ON CONFLICT (symbol) DO UPDATE SET
			name                 = COALESCE(EXCLUDED.name, raw_stocks.name),
			sector               = COALESCE(EXCLUDED.sector, raw_stocks.sector),
			industry             = COALESCE(EXCLUDED.industry, raw_stocks.industry),
			market_cap           = COALESCE(EXCLUDED.market_cap, raw_stocks.market_cap),
			dividend_yield       = COALESCE(EXCLUDED.dividend_yield, raw_stocks.dividend_yield),
			fund_family          = COALESCE(EXCLUDED.fund_family, raw_stocks.fund_family),
			expense_ratio        = COALESCE(EXCLUDED.expense_ratio, raw_stocks.expense_ratio),
			is_fund              = raw_stocks.is_fund OR EXCLUDED.is_fund,
			description          = COALESCE(EXCLUDED.description, raw_stocks.description),
			top_holdings         = COALESCE(EXCLUDED.top_holdings, raw_stocks.top_holdings),
			company_refreshed_at = EXCLUDED.company_refreshed_at`

	return p.chunkWrite(ctx, "raw_stocks", len(batch), func(b *pgx.Batch, i int) {
		c := batch[i]
		at := c.RefreshedAt
		if at.IsZero() {
			at = time.Now().UTC()
		}
		b.Queue(q, c.Symbol, c.Name, c.Sector, c.Industry, c.MarketCap, c.DividendYield,
			c.FundFamily, c.ExpenseRatio, c.IsFund, c.Description, holdingsJSON(c.TopHoldings), at)
	})
}

// TouchSymbols bumps updated_at after a successful price write so the
// staleness predicate sees the symbol as fresh.
func (p *Postgres) TouchSymbols(ctx context.Context, symbols []string, at time.Time) error {
	if len(symbols) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx,
		`UPDATE raw_stocks SET updated_at = $1 WHERE symbol = ANY($2)`, at, symbols)
	return err
}

// MarkExcluded records an exclusion. Re-marking an already excluded symbol
// refreshes the reason without resetting recorded_at.
func (p *Postgres) MarkExcluded(ctx context.Context, symbol, reason string, auto bool) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO raw_excluded_symbols (symbol, reason, auto_excluded, recorded_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (symbol) DO UPDATE SET
			reason        = EXCLUDED.reason,
			auto_excluded = EXCLUDED.auto_excluded`,
		symbol, reason, auto)
	return err
}

// UpsertTracking records one source observation, incrementing the stored
// attempt counter.
func (p *Postgres) UpsertTracking(ctx context.Context, row models.SourceAvailability) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO raw_data_source_tracking
			(symbol, data_type, source, has_data, last_checked_at, last_success_at, attempts, note)
		VALUES ($1, $2, $3, $4, $5, $6, 1, NULLIF($7, ''))
		ON CONFLICT (symbol, data_type, source) DO UPDATE SET
			has_data        = EXCLUDED.has_data,
			last_checked_at = EXCLUDED.last_checked_at,
			last_success_at = COALESCE(EXCLUDED.last_success_at, raw_data_source_tracking.last_success_at),
			attempts        = raw_data_source_tracking.attempts + 1,
			note            = EXCLUDED.note`,
		row.Symbol, string(row.DataType), string(row.Source), row.HasData,
		row.LastCheckedAt, row.LastSuccessAt, row.Note)
	return err
}

func optDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := dateOnly(*t)
	return &d
}

func currencyOrUSD(c string) string {
	if c == "" {
		return "USD"
	}
	return c
}

func holdingsJSON(holdings []models.ETFHolding) []byte {
	if len(holdings) == 0 {
		return nil
	}
	data, err := json.Marshal(holdings)
	if err != nil {
		return nil
	}
	return data
}
