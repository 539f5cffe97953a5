package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Classification is one persisted sorting decision. ProcessingTimeMS covers
// capture through category resolution; ActuationLatencyMS is set with the
// diversion outcome and stays nil for objects that never reached a diverter.
type Classification struct {
	ID                 int64
	ObjectID           uint64
	Category           string
	CategoryIndex      int
	Confidence         float64
	Fallback           bool
	ProcessingTimeMS   float64
	DetectedAt         time.Time
	Diverted           *bool
	DiversionError     string
	DivertedAt         *time.Time
	ActuationLatencyMS *float64
}

// Event is one persisted system event.
type Event struct {
	ID        int64
	EventType string
	Component string
	Severity  string
	Message   string
	CreatedAt time.Time
}

// RecordClassification inserts a classification and returns its row id.
// Only the decision fields of record are stored; ID and the diversion
// outcome fields are ignored.
func (s *Store) RecordClassification(ctx context.Context, record Classification) (int64, error) {
	if s == nil {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO classifications (object_id, category, category_index, confidence, fallback, processing_time_ms, detected_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ObjectID, record.Category, record.CategoryIndex, record.Confidence,
		boolToInt(record.Fallback), record.ProcessingTimeMS, timestamp(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("insert classification: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// UpdateDiversionOutcome records the result of a diversion at most once.
// A second call for the same record is a silent no-op, so a retried
// completion path can never overwrite the first outcome. A non-positive
// latency means the diverter was never actuated and stores NULL.
func (s *Store) UpdateDiversionOutcome(ctx context.Context, recordID int64, diverted bool, diversionError string, latency time.Duration) error {
	if s == nil || recordID == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE classifications
         SET diverted = ?, diversion_error = ?, diverted_at = ?, actuation_latency_ms = ?
         WHERE id = ? AND diverted IS NULL`,
		boolToInt(diverted), nullableString(diversionError), timestamp(time.Now()),
		nullableLatency(latency), recordID,
	)
	if err != nil {
		return fmt.Errorf("update diversion outcome: %w", err)
	}
	return nil
}

// LogEvent inserts a system event row.
func (s *Store) LogEvent(ctx context.Context, eventType, component, severity, message string) error {
	if s == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO system_events (event_type, component, severity, message, created_at)
         VALUES (?, ?, ?, ?, ?)`,
		eventType, nullableString(component), severity, message, timestamp(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("insert system event: %w", err)
	}
	return nil
}

// RecentClassifications returns up to limit classifications, newest first.
func (s *Store) RecentClassifications(ctx context.Context, limit int) ([]Classification, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, object_id, category, category_index, confidence, fallback, processing_time_ms,
                detected_at, diverted, diversion_error, diverted_at, actuation_latency_ms
         FROM classifications ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query classifications: %w", err)
	}
	defer rows.Close()

	var out []Classification
	for rows.Next() {
		record, err := scanClassification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// GetClassification returns one record by row id.
func (s *Store) GetClassification(ctx context.Context, id int64) (*Classification, error) {
	if s == nil {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, object_id, category, category_index, confidence, fallback, processing_time_ms,
                detected_at, diverted, diversion_error, diverted_at, actuation_latency_ms
         FROM classifications WHERE id = ?`, id)
	record, err := scanClassification(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// CategoryTotals returns classification counts grouped by category.
func (s *Store) CategoryTotals(ctx context.Context) (map[string]int64, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, COUNT(1) FROM classifications GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("query category totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var category string
		var count int64
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("scan category total: %w", err)
		}
		totals[category] = count
	}
	return totals, rows.Err()
}

// RecentEvents returns up to limit system events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_type, COALESCE(component, ''), severity, message, created_at
         FROM system_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query system events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var event Event
		var createdAt string
		if err := rows.Scan(&event.ID, &event.EventType, &event.Component, &event.Severity, &event.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scan system event: %w", err)
		}
		event.CreatedAt = parseTimestamp(createdAt)
		out = append(out, event)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClassification(row rowScanner) (Classification, error) {
	var record Classification
	var fallback int
	var detectedAt string
	var diverted sql.NullInt64
	var diversionError sql.NullString
	var divertedAt sql.NullString
	var latency sql.NullFloat64

	if err := row.Scan(&record.ID, &record.ObjectID, &record.Category, &record.CategoryIndex,
		&record.Confidence, &fallback, &record.ProcessingTimeMS, &detectedAt,
		&diverted, &diversionError, &divertedAt, &latency); err != nil {
		if err == sql.ErrNoRows {
			return record, err
		}
		return record, fmt.Errorf("scan classification: %w", err)
	}

	record.Fallback = fallback != 0
	record.DetectedAt = parseTimestamp(detectedAt)
	if diverted.Valid {
		value := diverted.Int64 != 0
		record.Diverted = &value
	}
	if diversionError.Valid {
		record.DiversionError = diversionError.String
	}
	if divertedAt.Valid {
		at := parseTimestamp(divertedAt.String)
		record.DivertedAt = &at
	}
	if latency.Valid {
		value := latency.Float64
		record.ActuationLatencyMS = &value
	}
	return record, nil
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableLatency(latency time.Duration) any {
	if latency <= 0 {
		return nil
	}
	return float64(latency.Nanoseconds()) / 1e6
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
