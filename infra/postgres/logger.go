package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mstgnz/coursepay/infra/opensearch"
)

// GatewayStats summarises gateway calls over a time window.
type GatewayStats struct {
	TotalCalls    int      `json:"total_calls"`
	ErrorCount    int      `json:"error_count"`
	SuccessRate   float64  `json:"success_rate"`
	AvgDurationMs *float64 `json:"avg_duration_ms,omitempty"`
}

// Logger keeps the gateway call audit in PostgreSQL. It is used when
// OpenSearch is disabled and the service runs on the postgres storage driver.
type Logger struct {
	db *sql.DB
}

// NewLogger creates a new PostgreSQL logger
func NewLogger(db *sql.DB) *Logger {
	return &Logger{db: db}
}

// LogGatewayCall stores one audit record.
func (l *Logger) LogGatewayCall(ctx context.Context, entry opensearch.GatewayCallLog) error {
	const query = `
		INSERT INTO gateway_calls
			(called_at, method, endpoint, request_id, idempotency_key, status_code, duration_ms, attempts, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := l.db.ExecContext(ctx, query,
		entry.Timestamp,
		entry.Method,
		entry.Endpoint,
		nullable(entry.RequestID),
		nullable(entry.IdempotencyKey),
		entry.StatusCode,
		entry.DurationMs,
		entry.Attempts,
		nullable(entry.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to insert gateway call: %w", err)
	}
	return nil
}

// SearchGatewayCalls returns the latest calls whose endpoint starts with
// the given prefix, newest first.
func (l *Logger) SearchGatewayCalls(ctx context.Context, endpoint string, size int) ([]opensearch.GatewayCallLog, error) {
	const query = `
		SELECT called_at, method, endpoint, COALESCE(request_id, ''), COALESCE(idempotency_key, ''),
		       status_code, duration_ms, attempts, COALESCE(error, '')
		FROM gateway_calls
		WHERE endpoint LIKE $1 || '%'
		ORDER BY called_at DESC
		LIMIT $2`

	rows, err := l.db.QueryContext(ctx, query, endpoint, size)
	if err != nil {
		return nil, fmt.Errorf("failed to search gateway calls: %w", err)
	}
	defer rows.Close()

	logs := []opensearch.GatewayCallLog{}
	for rows.Next() {
		var e opensearch.GatewayCallLog
		if err := rows.Scan(&e.Timestamp, &e.Method, &e.Endpoint, &e.RequestID, &e.IdempotencyKey,
			&e.StatusCode, &e.DurationMs, &e.Attempts, &e.Error); err != nil {
			return nil, fmt.Errorf("failed to scan gateway call: %w", err)
		}
		logs = append(logs, e)
	}
	return logs, rows.Err()
}

// Stats aggregates the calls of the last hours.
func (l *Logger) Stats(ctx context.Context, hours int) (*GatewayStats, error) {
	if hours <= 0 || hours > 8760 {
		return nil, fmt.Errorf("invalid hours parameter: must be between 1 and 8760")
	}

	const query = `
		SELECT COUNT(*),
		       COUNT(CASE WHEN status_code = 0 OR status_code >= 400 THEN 1 END),
		       AVG(duration_ms)::float8
		FROM gateway_calls
		WHERE called_at >= NOW() - make_interval(hours => $1)`

	var stats GatewayStats
	if err := l.db.QueryRowContext(ctx, query, hours).Scan(&stats.TotalCalls, &stats.ErrorCount, &stats.AvgDurationMs); err != nil {
		return nil, fmt.Errorf("failed to get gateway stats: %w", err)
	}
	if stats.TotalCalls > 0 {
		stats.SuccessRate = float64(stats.TotalCalls-stats.ErrorCount) / float64(stats.TotalCalls) * 100
	}
	return &stats, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
