package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/finbase/rawfeed/internal/models"
)

// tableFor maps a data type to its table and date column.
func tableFor(dataType models.DataType) (table, dateCol string, err error) {
	switch dataType {
	case models.DataPrices:
		return "raw_stock_prices", "date", nil
	case models.DataDividends:
		return "raw_dividends", "ex_date", nil
	case models.DataSplits:
		return "raw_stock_splits", "split_date", nil
	case models.DataCompany:
		return "raw_stocks", "company_refreshed_at", nil
	default:
		return "", "", fmt.Errorf("unknown data type %q", dataType)
	}
}

// BulkLatestDates returns max(date) per symbol in one query. A nil symbols
// slice covers the whole table.
func (p *Postgres) BulkLatestDates(ctx context.Context, dataType models.DataType, symbols []string) (map[string]time.Time, error) {
	table, dateCol, err := tableFor(dataType)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`SELECT symbol, MAX(%s) FROM %s GROUP BY symbol`, dateCol, table)
	args := []any{}
	if symbols != nil {
		q = fmt.Sprintf(`SELECT symbol, MAX(%s) FROM %s WHERE symbol = ANY($1) GROUP BY symbol`, dateCol, table)
		args = append(args, symbols)
	}

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("bulk latest %s dates: %w", dataType, err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var symbol string
		var latest *time.Time
		if err := rows.Scan(&symbol, &latest); err != nil {
			return nil, err
		}
		if latest != nil {
			out[symbol] = *latest
		}
	}
	return out, rows.Err()
}

// LatestDate is the per-symbol probe used when the bulk query fails. A symbol
// with no rows returns the zero time and no error.
func (p *Postgres) LatestDate(ctx context.Context, dataType models.DataType, symbol string) (time.Time, error) {
	table, dateCol, err := tableFor(dataType)
	if err != nil {
		return time.Time{}, err
	}

	var latest *time.Time
	q := fmt.Sprintf(`SELECT MAX(%s) FROM %s WHERE symbol = $1`, dateCol, table)
	if err := p.pool.QueryRow(ctx, q, symbol).Scan(&latest); err != nil {
		return time.Time{}, fmt.Errorf("latest %s date for %s: %w", dataType, symbol, err)
	}
	if latest == nil {
		return time.Time{}, nil
	}
	return *latest, nil
}

// DistinctSymbolsWith returns the set of symbols holding any row of the type.
func (p *Postgres) DistinctSymbolsWith(ctx context.Context, dataType models.DataType) (map[string]bool, error) {
	table, dateCol, err := tableFor(dataType)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`SELECT DISTINCT symbol FROM %s WHERE %s IS NOT NULL`, table, dateCol)
	rows, err := p.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("distinct symbols with %s: %w", dataType, err)
	}
	defer rows.Close()
	return scanSymbolSet(rows)
}

// ListSymbols returns the full symbol universe, excluded rows included.
func (p *Postgres) ListSymbols(ctx context.Context) ([]models.Symbol, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT symbol, exchange, type, COALESCE(name, ''), COALESCE(currency, ''),
		       COALESCE(country, ''), dividend_yield, updated_at
		FROM raw_stocks
		ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	defer rows.Close()
	return scanSymbols(rows)
}

// ListSymbolsNullName returns symbols still missing company metadata, used by
// the refresh-companies backfill.
func (p *Postgres) ListSymbolsNullName(ctx context.Context, limit int) ([]models.Symbol, error) {
	q := `
		SELECT symbol, exchange, type, COALESCE(name, ''), COALESCE(currency, ''),
		       COALESCE(country, ''), dividend_yield, updated_at
		FROM raw_stocks
		WHERE name IS NULL OR name = ''
		ORDER BY symbol`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list symbols with null name: %w", err)
	}
	defer rows.Close()
	return scanSymbols(rows)
}

// DividendPayers returns symbols with at least one historical dividend row.
func (p *Postgres) DividendPayers(ctx context.Context) (map[string]bool, error) {
	rows, err := p.pool.Query(ctx, `SELECT DISTINCT symbol FROM raw_dividends`)
	if err != nil {
		return nil, fmt.Errorf("dividend payers: %w", err)
	}
	defer rows.Close()
	return scanSymbolSet(rows)
}

// HasPriceSince reports whether the symbol has any bar on or after since.
func (p *Postgres) HasPriceSince(ctx context.Context, symbol string, since time.Time) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM raw_stock_prices WHERE symbol = $1 AND date >= $2)`,
		symbol, dateOnly(since)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has price since for %s: %w", symbol, err)
	}
	return exists, nil
}

// HasDividendSince reports whether the symbol has any ex-date on or after since.
func (p *Postgres) HasDividendSince(ctx context.Context, symbol string, since time.Time) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM raw_dividends WHERE symbol = $1 AND ex_date >= $2)`,
		symbol, dateOnly(since)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has dividend since for %s: %w", symbol, err)
	}
	return exists, nil
}

// CompaniesRefreshedSince returns symbols whose company metadata is newer
// than the cutoff, so the company processor can skip them.
func (p *Postgres) CompaniesRefreshedSince(ctx context.Context, cutoff time.Time) (map[string]bool, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT symbol FROM raw_stocks WHERE company_refreshed_at >= $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("companies refreshed since: %w", err)
	}
	defer rows.Close()
	return scanSymbolSet(rows)
}

// ListExcluded returns the exclusion ledger keyed by symbol.
func (p *Postgres) ListExcluded(ctx context.Context) (map[string]models.ExcludedSymbol, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT symbol, reason, auto_excluded, recorded_at FROM raw_excluded_symbols`)
	if err != nil {
		return nil, fmt.Errorf("list excluded: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.ExcludedSymbol)
	for rows.Next() {
		var e models.ExcludedSymbol
		if err := rows.Scan(&e.Symbol, &e.Reason, &e.AutoExcluded, &e.RecordedAt); err != nil {
			return nil, err
		}
		out[e.Symbol] = e
	}
	return out, rows.Err()
}

// ListTracking returns source-tracking rows for the given symbols, or all
// rows of the data type when symbols is nil.
func (p *Postgres) ListTracking(ctx context.Context, dataType models.DataType, symbols []string) ([]models.SourceAvailability, error) {
	q := `
		SELECT symbol, data_type, source, has_data, last_checked_at, last_success_at, attempts, COALESCE(note, '')
		FROM raw_data_source_tracking
		WHERE data_type = $1`
	args := []any{string(dataType)}
	if symbols != nil {
		q += ` AND symbol = ANY($2)`
		args = append(args, symbols)
	}

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tracking: %w", err)
	}
	defer rows.Close()

	var out []models.SourceAvailability
	for rows.Next() {
		var r models.SourceAvailability
		var dt, src string
		if err := rows.Scan(&r.Symbol, &dt, &src, &r.HasData, &r.LastCheckedAt,
			&r.LastSuccessAt, &r.Attempts, &r.Note); err != nil {
			return nil, err
		}
		r.DataType = models.DataType(dt)
		r.Source = models.SourceName(src)
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanSymbols(rows pgx.Rows) ([]models.Symbol, error) {
	var out []models.Symbol
	for rows.Next() {
		var s models.Symbol
		var typ string
		if err := rows.Scan(&s.Identifier, &s.Exchange, &typ, &s.Name,
			&s.Currency, &s.Country, &s.DividendYield, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Type = models.InstrumentType(typ)
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSymbolSet(rows pgx.Rows) (map[string]bool, error) {
	out := make(map[string]bool)
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, err
		}
		out[symbol] = true
	}
	return out, rows.Err()
}
