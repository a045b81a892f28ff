// Package history persists point samples and alarm transitions to sqlite.
// Both tables are append-only.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"scada-core/internal/model"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Store{db: db}, nil
}

func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ApplySchema executes the schema file against the store.
func (s *Store) ApplySchema(path string) error {
	schema, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *Store) SaveSample(v model.PointValue) error {
	_, err := s.db.Exec(`INSERT INTO samples (point_id, value, at) VALUES (?, ?, ?)`,
		v.PointID, v.Value, v.At.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save sample for %s: %w", v.PointID, err)
	}
	return nil
}

func (s *Store) GetHistory(pointID string, from, to time.Time) ([]model.PointValue, error) {
	rows, err := s.db.Query(
		`SELECT point_id, value, at FROM samples WHERE point_id = ? AND at >= ? AND at <= ? ORDER BY at`,
		pointID, from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to query history for %s: %w", pointID, err)
	}
	defer rows.Close()

	var out []model.PointValue
	for rows.Next() {
		var v model.PointValue
		var at string
		if err := rows.Scan(&v.PointID, &v.Value, &at); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		v.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) AppendAlarmEvent(e model.AlarmEvent) error {
	_, err := s.db.Exec(
		`INSERT INTO alarm_events (id, alarm_id, point_id, at, active, log_text) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.AlarmID, e.PointID, e.At.UTC().Format(time.RFC3339Nano), e.Active, e.LogText)
	if err != nil {
		return fmt.Errorf("failed to append alarm event for alarm %s: %w", e.AlarmID, err)
	}
	return nil
}

// ListAlarmEvents returns alarm history in [from, to], optionally filtered to
// the given point ids, oldest first.
func (s *Store) ListAlarmEvents(from, to time.Time, pointIDs ...string) ([]model.AlarmEvent, error) {
	query := `SELECT id, alarm_id, point_id, at, active, log_text FROM alarm_events WHERE at >= ? AND at <= ?`
	args := []any{from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano)}

	if len(pointIDs) > 0 {
		query += ` AND point_id IN (?` + strings.Repeat(",?", len(pointIDs)-1) + `)`
		for _, id := range pointIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alarm events: %w", err)
	}
	defer rows.Close()

	var out []model.AlarmEvent
	for rows.Next() {
		var e model.AlarmEvent
		var at string
		if err := rows.Scan(&e.ID, &e.AlarmID, &e.PointID, &at, &e.Active, &e.LogText); err != nil {
			return nil, fmt.Errorf("failed to scan alarm event: %w", err)
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}
