package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/glancesec/glance/pkg/flow"
)

const pgWriteTimeout = 3 * time.Second

const pgSchema = `
CREATE TABLE IF NOT EXISTS glance_records (
	id         TEXT PRIMARY KEY,
	stream     TEXT NOT NULL,
	host       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	record     JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS glance_records_stream_idx ON glance_records (stream, created_at);
`

// PostgresSink persists records into a single table keyed by stream. All four
// streams stay disjoint through the stream column.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects and ensures the records table exists.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure records table: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

func (s *PostgresSink) Write(rec flow.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pgWriteTimeout)
	defer cancel()

	_, err = s.pool.Exec(ctx,
		`INSERT INTO glance_records (id, stream, host, created_at, record)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		rec.ID, string(rec.Stream), rec.Host, rec.Timestamp, payload)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
