// Package history keeps an append-only SQLite log of resource values the
// bridge has seen. It is an audit trail: nothing is rebuilt from it on
// restart.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-leshan/internal/leshan"
)

// Source records how a value reached the bridge.
type Source string

const (
	SourceNotify Source = "notify"
	SourcePoll   Source = "poll"
	SourceWrite  Source = "write"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	// timeLayout has a fixed width so recorded_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000Z"
)

// ErrEndpointRequired is returned when an endpoint name is empty.
var ErrEndpointRequired = errors.New("history: endpoint is required")

// Reading is one logged resource value.
type Reading struct {
	ID         int64
	Endpoint   string
	Instance   leshan.ObjectInstance
	Value      leshan.ResourceValue
	Source     Source
	RecordedAt time.Time
}

// MarshalJSON renders the reading with its resource path, e.g. "/3303/0/5700".
func (r Reading) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID         int64       `json:"id"`
		Endpoint   string      `json:"endpoint"`
		Path       string      `json:"path"`
		Kind       leshan.Kind `json:"kind"`
		Value      any         `json:"value"`
		Source     Source      `json:"source"`
		RecordedAt time.Time   `json:"recorded_at"`
	}{
		ID:         r.ID,
		Endpoint:   r.Endpoint,
		Path:       r.Instance.ResourcePath(r.Value.ID),
		Kind:       r.Value.Kind,
		Value:      r.Value.Value,
		Source:     r.Source,
		RecordedAt: r.RecordedAt,
	})
}

// Store reads and writes the resource_readings table.
//
// Thread Safety: Safe for concurrent use; serialisation is left to SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore returns a Store on an open database whose schema has been
// migrated.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Record appends one value.
func (s *Store) Record(ctx context.Context, endpoint string, oi leshan.ObjectInstance, v leshan.ResourceValue, source Source) error {
	if endpoint == "" {
		return ErrEndpointRequired
	}

	value, err := json.Marshal(v.Value)
	if err != nil {
		return fmt.Errorf("encoding value of %s%s: %w", endpoint, oi.ResourcePath(v.ID), err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO resource_readings
		 (endpoint, object_id, instance_id, resource_id, kind, value, source, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		endpoint,
		oi.ObjectID,
		oi.InstanceID,
		v.ID,
		string(v.Kind),
		string(value),
		string(source),
		s.now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}
	return nil
}

// ListRecent returns the newest readings for endpoint, newest first.
// limit defaults to 50 and is capped at 500.
func (s *Store) ListRecent(ctx context.Context, endpoint string, limit int) ([]Reading, error) {
	if endpoint == "" {
		return nil, ErrEndpointRequired
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, endpoint, object_id, instance_id, resource_id, kind, value, source, recorded_at
		 FROM resource_readings
		 WHERE endpoint = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		endpoint,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	readings := make([]Reading, 0, limit)
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}
	return readings, nil
}

// Prune deletes readings older than olderThan and returns how many went.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("history: olderThan must be positive")
	}

	cutoff := s.now().UTC().Add(-olderThan).Format(timeLayout)
	result, err := s.db.ExecContext(ctx, "DELETE FROM resource_readings WHERE recorded_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting readings: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func scanReading(rows *sql.Rows) (Reading, error) {
	var (
		r          Reading
		resourceID int
		kind       string
		value      string
		source     string
		recordedAt string
	)
	if err := rows.Scan(&r.ID, &r.Endpoint, &r.Instance.ObjectID, &r.Instance.InstanceID,
		&resourceID, &kind, &value, &source, &recordedAt); err != nil {
		return Reading{}, fmt.Errorf("scanning reading: %w", err)
	}

	v, err := leshan.DecodeResourceValue(resourceID, kind, json.RawMessage(value))
	if err != nil {
		return Reading{}, fmt.Errorf("decoding reading %d: %w", r.ID, err)
	}
	ts, err := time.Parse(timeLayout, recordedAt)
	if err != nil {
		return Reading{}, fmt.Errorf("parsing recorded_at of reading %d: %w", r.ID, err)
	}

	r.Value = v
	r.Source = Source(source)
	r.RecordedAt = ts
	return r, nil
}
