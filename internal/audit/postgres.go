package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// PostgresStore persists audit records in Postgres for deployments that need
// the trail to survive restarts. Same contract as MemoryStore.
type PostgresStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgresStore connects and verifies the DSN.
func NewPostgresStore(dsn string, timeout time.Duration) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to audit db: %w", err)
	}
	return &PostgresStore{db: db, timeout: timeout}, nil
}

// Schema is the expected table; applied by operators, not by the service.
const Schema = `
CREATE TABLE IF NOT EXISTS order_audit (
    id               TEXT PRIMARY KEY,
    ts               TIMESTAMPTZ NOT NULL,
    mode             TEXT NOT NULL,
    symbol           TEXT NOT NULL,
    route            TEXT NOT NULL DEFAULT '',
    client_order_id  TEXT NOT NULL DEFAULT '',
    side             TEXT NOT NULL DEFAULT '',
    qty              DOUBLE PRECISION NOT NULL DEFAULT 0,
    notional_usdt    DOUBLE PRECISION NOT NULL DEFAULT 0,
    status           TEXT NOT NULL,
    error_code       TEXT NOT NULL DEFAULT '',
    place_latency_ms BIGINT NOT NULL DEFAULT 0,
    persist_ms       BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS order_audit_ts_idx ON order_audit (ts DESC);
`

// Create inserts one record.
func (s *PostgresStore) Create(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if rec.ID == "" {
		rec.ID = "audit-" + uuid.New().String()[:8]
	}
	if rec.TS.IsZero() {
		rec.TS = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO order_audit
			(id, ts, mode, symbol, route, client_order_id, side, qty,
			 notional_usdt, status, error_code, place_latency_ms, persist_ms)
		VALUES
			(:id, :ts, :mode, :symbol, :route, :client_order_id, :side, :qty,
			 :notional_usdt, :status, :error_code, :place_latency_ms, :persist_ms)`,
		rec)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// Stats aggregates in SQL; p95 uses percentile_cont over acked latencies.
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stats := Stats{ByStatus: make(map[string]int), ByMode: make(map[string]int)}

	var agg struct {
		Total  int     `db:"total"`
		Errors int     `db:"errors"`
		AvgMs  float64 `db:"avg_ms"`
		P95Ms  float64 `db:"p95_ms"`
	}
	err := s.db.GetContext(ctx, &agg, `
		SELECT COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE status IN ('rejected','timeout')) AS errors,
		       COALESCE(AVG(place_latency_ms) FILTER (WHERE place_latency_ms > 0), 0) AS avg_ms,
		       COALESCE(percentile_cont(0.95) WITHIN GROUP (ORDER BY place_latency_ms)
		                FILTER (WHERE place_latency_ms > 0), 0) AS p95_ms
		FROM order_audit`)
	if err != nil {
		return stats, fmt.Errorf("failed to query audit stats: %w", err)
	}

	stats.Total = agg.Total
	stats.AvgLatencyMs = agg.AvgMs
	stats.P95AckMs = agg.P95Ms
	if agg.Total > 0 {
		stats.ErrorRate = float64(agg.Errors) / float64(agg.Total)
	}

	rows, err := s.db.QueryxContext(ctx,
		`SELECT status, mode, COUNT(*) AS n FROM order_audit GROUP BY status, mode`)
	if err != nil {
		return stats, fmt.Errorf("failed to query audit breakdown: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status, mode string
		var n int
		if err := rows.Scan(&status, &mode, &n); err != nil {
			return stats, err
		}
		stats.ByStatus[status] += n
		stats.ByMode[mode] += n
	}
	return stats, rows.Err()
}

// RecentErrors returns the newest rejected/timeout records.
func (s *PostgresStore) RecentErrors(ctx context.Context, limit int) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out []Record
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, ts, mode, symbol, route, client_order_id, side, qty,
		       notional_usdt, status, error_code, place_latency_ms, persist_ms
		FROM order_audit
		WHERE status IN ('rejected','timeout')
		ORDER BY ts DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent errors: %w", err)
	}
	return out, nil
}
