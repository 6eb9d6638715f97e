package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"SnipeFlow/internal/domain/models"
	domrepo "SnipeFlow/internal/domain/repository"
)

const (
	matchesTable = "pattern_events"
	tradesTable  = "trade_results"

	// Rows per multi-row INSERT; keeps round-trips low without building
	// oversized statements.
	insertChunk = 2000
)

// EventStoreSchema returns the idempotent DDL for the history tables.
func EventStoreSchema(database string) []string {
	return []string{
		fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
			detected_at DateTime64(3),
			symbol LowCardinality(String),
			vcoin_id String,
			pattern_type LowCardinality(String),
			confidence Float64,
			recommendation LowCardinality(String),
			advance_notice_hours Float64,
			price Float64,
			volume Float64
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(detected_at)
		ORDER BY (symbol, detected_at)`, database, matchesTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
			ts DateTime64(3),
			symbol LowCardinality(String),
			side LowCardinality(String),
			success UInt8,
			order_id String,
			executed_price Float64,
			executed_qty Float64,
			fees Float64,
			attempts UInt8,
			error String
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(ts)
		ORDER BY (symbol, ts)`, database, tradesTable),
	}
}

// ClickHouseEventStore records pattern matches and trade results for
// offline review. Writes are append-only.
type ClickHouseEventStore struct {
	db *sql.DB
}

// NewClickHouseEventStore creates an event store over an open pool.
func NewClickHouseEventStore(db *sql.DB) *ClickHouseEventStore {
	return &ClickHouseEventStore{db: db}
}

// StoreMatch records one pattern match.
func (s *ClickHouseEventStore) StoreMatch(ctx context.Context, m *models.PatternMatch) error {
	return s.StoreMatchBatch(ctx, []*models.PatternMatch{m})
}

// StoreMatchBatch records matches with chunked multi-row inserts.
func (s *ClickHouseEventStore) StoreMatchBatch(ctx context.Context, matches []*models.PatternMatch) error {
	if len(matches) == 0 {
		return nil
	}
	for start := 0; start < len(matches); start += insertChunk {
		end := start + insertChunk
		if end > len(matches) {
			end = len(matches)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*9)
		for _, m := range matches[start:end] {
			if m == nil || m.Symbol == "" {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				m.DetectedAt,
				m.Symbol,
				m.VcoinID,
				string(m.PatternType),
				m.Confidence,
				string(m.Recommendation),
				m.AdvanceNoticeHours,
				m.Price,
				m.Volume,
			)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf(
			"INSERT INTO %s (detected_at, symbol, vcoin_id, pattern_type, confidence, recommendation, advance_notice_hours, price, volume) VALUES %s",
			matchesTable, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert matches: %w", err)
		}
	}
	return nil
}

// StoreTradeResult records one terminal trade outcome.
func (s *ClickHouseEventStore) StoreTradeResult(ctx context.Context, r *models.TradeResult) error {
	success := uint8(0)
	if r.Success {
		success = 1
	}
	q := fmt.Sprintf(
		"INSERT INTO %s (ts, symbol, side, success, order_id, executed_price, executed_qty, fees, attempts, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		tradesTable)
	_, err := s.db.ExecContext(ctx, q,
		r.Timestamp,
		r.Symbol,
		string(r.Side),
		success,
		r.OrderID,
		r.ExecutedPrice,
		r.ExecutedQty,
		r.Fees,
		uint8(r.Attempts),
		r.Error,
	)
	if err != nil {
		return fmt.Errorf("insert trade result: %w", err)
	}
	return nil
}

// QueryMatches returns the most recent matches for a symbol.
func (s *ClickHouseEventStore) QueryMatches(ctx context.Context, symbol string, limit int) ([]*models.PatternMatch, error) {
	q := fmt.Sprintf(
		"SELECT detected_at, symbol, vcoin_id, pattern_type, confidence, recommendation, advance_notice_hours, price, volume FROM %s WHERE symbol = ? ORDER BY detected_at DESC LIMIT ?",
		matchesTable)
	rows, err := s.db.QueryContext(ctx, q, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer rows.Close()

	var out []*models.PatternMatch
	for rows.Next() {
		var m models.PatternMatch
		var pt, rec string
		if err := rows.Scan(&m.DetectedAt, &m.Symbol, &m.VcoinID, &pt, &m.Confidence, &rec, &m.AdvanceNoticeHours, &m.Price, &m.Volume); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		m.PatternType = models.PatternType(pt)
		m.Recommendation = models.Recommendation(rec)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Health pings the pool.
func (s *ClickHouseEventStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pool is owned by the clickhouse client.
func (s *ClickHouseEventStore) Close() error {
	return nil
}

var _ domrepo.EventStore = (*ClickHouseEventStore)(nil)
