package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/cenkalti/backoff/v4"
)

// Config holds ClickHouse connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// DefaultConfig returns local-development defaults.
func DefaultConfig() Config {
	return Config{
		Host:     "localhost",
		Port:     9000,
		User:     "default",
		Database: "lynex",
	}
}

// Store is the ClickHouse-backed event table.
type Store struct {
	conn   driver.Conn
	logger *slog.Logger
}

// Connect opens a ClickHouse connection, retrying transient failures up to
// five times, and ensures the schema exists.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	var conn driver.Conn

	operation := func() error {
		var err error
		conn, err = clickhouse.Open(&clickhouse.Options{
			Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
			Auth: clickhouse.Auth{
				Database: cfg.Database,
				Username: cfg.User,
				Password: cfg.Password,
			},
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			return err
		}
		return conn.Ping(ctx)
	}

	policy := backoff.WithContext(newRetryPolicy(5), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("connecting to clickhouse: %w", err)
	}

	s := &Store{
		conn:   conn,
		logger: slog.Default().With("component", "analytics"),
	}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// NewStoreFromConn wraps an existing connection (useful for testing).
func NewStoreFromConn(conn driver.Conn) *Store {
	return &Store{
		conn:   conn,
		logger: slog.Default().With("component", "analytics"),
	}
}

// EnsureSchema creates the events table. ReplacingMergeTree keyed on
// event_id makes redelivered duplicates collapse at merge time, which is
// what lets the processor stay at-least-once.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS events (
			event_id           String,
			project_id         String,
			type               LowCardinality(String),
			timestamp          DateTime64(3, 'UTC'),
			body               String,
			context            String,
			trace_id           String,
			parent_event_id    String,
			sdk_name           LowCardinality(String),
			sdk_version        LowCardinality(String),
			queued_at          DateTime64(3, 'UTC'),
			processed_at       DateTime64(3, 'UTC'),
			queue_latency_ms   Float32,
			estimated_cost_usd Float64,
			cost_breakdown     String
		)
		ENGINE = ReplacingMergeTree
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (event_id)`

	if err := s.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensuring events schema: %w", err)
	}
	return nil
}

// InsertBatch writes rows in a single batched insert.
func (s *Store) InsertBatch(ctx context.Context, rows []StoredEvent) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO events")
	if err != nil {
		return fmt.Errorf("preparing insert batch: %w", err)
	}
	for i := range rows {
		r := &rows[i]
		if err := batch.Append(
			r.EventID, r.ProjectID, r.EventType, r.Timestamp,
			r.Body, r.Context, r.TraceID, r.ParentEventID,
			r.SDKName, r.SDKVersion, r.QueuedAt, r.ProcessedAt,
			r.QueueLatencyMs, r.EstimatedCostUSD, r.CostBreakdown,
		); err != nil {
			return fmt.Errorf("appending row %s: %w", r.EventID, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("sending batch of %d: %w", len(rows), err)
	}
	return nil
}

// SelectOlderThan returns up to limit rows with timestamp before cutoff,
// oldest first. Used by the archiver.
func (s *Store) SelectOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]StoredEvent, error) {
	const query = `
		SELECT event_id, project_id, type, timestamp, body, context,
		       trace_id, parent_event_id, sdk_name, sdk_version, queued_at,
		       processed_at, queue_latency_ms, estimated_cost_usd, cost_breakdown
		FROM events FINAL
		WHERE timestamp < ?
		ORDER BY timestamp
		LIMIT ?`

	rows, err := s.conn.Query(ctx, query, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("selecting archivable events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var r StoredEvent
		if err := rows.Scan(
			&r.EventID, &r.ProjectID, &r.EventType, &r.Timestamp,
			&r.Body, &r.Context, &r.TraceID, &r.ParentEventID,
			&r.SDKName, &r.SDKVersion, &r.QueuedAt, &r.ProcessedAt,
			&r.QueueLatencyMs, &r.EstimatedCostUSD, &r.CostBreakdown,
		); err != nil {
			return nil, fmt.Errorf("scanning archivable event: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteByIDs removes archived rows by event id. Lightweight deletes are
// eventually applied by ClickHouse; readers may briefly still see rows.
func (s *Store) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.conn.Exec(ctx, `DELETE FROM events WHERE event_id IN (?)`, ids); err != nil {
		return fmt.Errorf("deleting %d archived events: %w", len(ids), err)
	}
	return nil
}

// Close releases the connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// newRetryPolicy builds the transient-error envelope: exponential backoff
// from 1s capped at 10s, limited to maxAttempts tries.
func newRetryPolicy(maxAttempts uint64) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 10 * time.Second
	return backoff.WithMaxRetries(b, maxAttempts-1)
}
