// Package repository implements the data-access layer over the raw postgres
// tables. All bulk writes are idempotent upserts, chunked and chunk-wise
// atomic: a failed chunk is logged and reported while later chunks still run.
package repository

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finbase/rawfeed/internal/common"
	"github.com/finbase/rawfeed/internal/interfaces"
)

//go:embed schema.sql
var schemaSQL string

const defaultBatchSize = 500

// Postgres is the pgx-backed Repository implementation.
type Postgres struct {
	pool      *pgxpool.Pool
	logger    *common.Logger
	batchSize int
}

// Option configures the repository.
type Option func(*Postgres)

// WithBatchSize sets the upsert chunk size.
func WithBatchSize(n int) Option {
	return func(p *Postgres) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *common.Logger) Option {
	return func(p *Postgres) {
		p.logger = logger
	}
}

// New connects to postgres and verifies the connection.
func New(ctx context.Context, databaseURL string, opts ...Option) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	p := &Postgres{
		pool:      pool,
		logger:    common.NewSilentLogger(),
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Migrate applies the embedded schema. Every statement is IF NOT EXISTS so
// the call is safe on every startup.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	p.logger.Debug().Msg("Schema applied")
	return nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// chunkWrite runs one exec per row inside a transaction per chunk. It returns
// the number of rows in chunks that committed; the first chunk error is
// returned after all chunks have been attempted.
func (p *Postgres) chunkWrite(ctx context.Context, table string, total int, queue func(b *pgx.Batch, i int)) (int, error) {
	written := 0
	var firstErr error

	for start := 0; start < total; start += p.batchSize {
		end := start + p.batchSize
		if end > total {
			end = total
		}

		b := &pgx.Batch{}
		for i := start; i < end; i++ {
			queue(b, i)
		}

		if err := p.sendBatch(ctx, b); err != nil {
			p.logger.Error().Err(err).Str("table", table).
				Int("chunk_start", start).Int("chunk_size", end-start).
				Msg("Upsert chunk failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("upsert %s rows %d-%d: %w", table, start, end-1, err)
			}
			continue
		}
		written += end - start
	}
	return written, firstErr
}

func (p *Postgres) sendBatch(ctx context.Context, b *pgx.Batch) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

var _ interfaces.Repository = (*Postgres)(nil)
