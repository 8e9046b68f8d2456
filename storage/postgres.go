package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const summaryTable = "transaction_summary"

var summaryColumns = []string{"development", "block", "floor", "units", "price", "reg_date", "ins_date"}

// PostgresStore mirrors the condensed summary into a Postgres table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 4
	config.MinConns = 1
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// ReplaceSummary swaps the table contents for rows in one transaction, so
// readers see either the previous summary or the new one.
func (s *PostgresStore) ReplaceSummary(ctx context.Context, rows [][]string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS transaction_summary (
			development TEXT,
			block TEXT,
			floor TEXT,
			units TEXT,
			price TEXT,
			reg_date TEXT,
			ins_date TEXT,
			loaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	if _, err := tx.Exec(ctx, `TRUNCATE transaction_summary`); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}

	values := make([][]any, 0, len(rows))
	for _, row := range rows {
		v := make([]any, len(summaryColumns))
		for i := range summaryColumns {
			if i < len(row) {
				v[i] = row[i]
			}
		}
		values = append(values, v)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{summaryTable}, summaryColumns, pgx.CopyFromRows(values)); err != nil {
		return fmt.Errorf("copy rows: %w", err)
	}

	return tx.Commit(ctx)
}
