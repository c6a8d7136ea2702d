package quota

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS api_usage (
    user_id     text        NOT NULL,
    hour_bucket timestamptz NOT NULL,
    count       bigint      NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, hour_bucket)
)`

// incrementSQL uses the database clock for the bucket so every API instance
// sharing the table agrees on the hour boundary. The upsert makes the
// read-modify-write a single atomic statement.
const incrementSQL = `
INSERT INTO api_usage (user_id, hour_bucket, count)
VALUES ($1, date_trunc('hour', now()), 1)
ON CONFLICT (user_id, hour_bucket)
DO UPDATE SET count = api_usage.count + 1
RETURNING count, hour_bucket`

// PostgresLedger stores usage counters in a shared Postgres table.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresLedger connects a pool against the DSN and verifies the
// connection before returning.
func NewPostgresLedger(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresLedger, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresLedger{
		pool:   pool,
		logger: logger.With(slog.String("component", "quota.postgres")),
	}, nil
}

// EnsureSchema creates the usage table when it does not exist yet.
func (l *PostgresLedger) EnsureSchema(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure usage schema: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Increment(ctx context.Context, identity string) (Usage, error) {
	var usage Usage
	if err := l.pool.QueryRow(ctx, incrementSQL, identity).Scan(&usage.Count, &usage.Bucket); err != nil {
		l.logger.Error("usage increment failed", slog.Any("error", err))
		return Usage{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return usage, nil
}

func (l *PostgresLedger) Ping(ctx context.Context) error {
	if err := l.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (l *PostgresLedger) Close() {
	l.pool.Close()
}
