package history

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-leshan/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-leshan/internal/leshan"
	"github.com/nerrad567/gray-logic-leshan/migrations"
)

// newTestStore opens a migrated database in a temp dir with a controllable clock.
func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "history.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx, migrations.FS))

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	s := NewStore(db.DB)
	s.now = func() time.Time { return now }
	return s, &now
}

var tempInstance = leshan.ObjectInstance{ObjectID: 3303, InstanceID: 0}

func TestStore_RecordAndList(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, "sensor-01", tempInstance,
		leshan.ResourceValue{ID: 5700, Kind: leshan.KindFloat, Value: 20.5}, SourcePoll))
	*now = now.Add(time.Second)
	require.NoError(t, s.Record(ctx, "sensor-01", tempInstance,
		leshan.ResourceValue{ID: 5700, Kind: leshan.KindFloat, Value: 21.0}, SourceNotify))
	require.NoError(t, s.Record(ctx, "other", tempInstance,
		leshan.ResourceValue{ID: 5700, Kind: leshan.KindFloat, Value: 99.0}, SourcePoll))

	readings, err := s.ListRecent(ctx, "sensor-01", 10)
	require.NoError(t, err)
	require.Len(t, readings, 2)

	newest := readings[0]
	assert.Equal(t, "sensor-01", newest.Endpoint)
	assert.Equal(t, tempInstance, newest.Instance)
	assert.Equal(t, leshan.ResourceValue{ID: 5700, Kind: leshan.KindFloat, Value: 21.0}, newest.Value)
	assert.Equal(t, SourceNotify, newest.Source)
	assert.True(t, newest.RecordedAt.Equal(*now))
	assert.Equal(t, 20.5, readings[1].Value.Value)
}

func TestStore_RoundTripsKinds(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	oi := leshan.ObjectInstance{ObjectID: 3311, InstanceID: 1}

	values := []leshan.ResourceValue{
		{ID: 5850, Kind: leshan.KindBoolean, Value: true},
		{ID: 5851, Kind: leshan.KindInteger, Value: int64(75)},
		{ID: 5706, Kind: leshan.KindString, Value: "#FF0000"},
	}
	for _, v := range values {
		require.NoError(t, s.Record(ctx, "lamp-01", oi, v, SourceWrite))
	}

	readings, err := s.ListRecent(ctx, "lamp-01", 0)
	require.NoError(t, err)
	require.Len(t, readings, len(values))

	// Same timestamp: newest id first.
	for i, r := range readings {
		assert.Equal(t, values[len(values)-1-i], r.Value)
	}
}

func TestStore_ListLimit(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()

	for i := range 5 {
		*now = now.Add(time.Second)
		require.NoError(t, s.Record(ctx, "sensor-01", tempInstance,
			leshan.ResourceValue{ID: 5700, Kind: leshan.KindInteger, Value: int64(i)}, SourcePoll))
	}

	readings, err := s.ListRecent(ctx, "sensor-01", 2)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, int64(4), readings[0].Value.Value)
	assert.Equal(t, int64(3), readings[1].Value.Value)
}

func TestStore_EndpointRequired(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	err := s.Record(ctx, "", tempInstance, leshan.ResourceValue{ID: 1, Kind: leshan.KindString, Value: "x"}, SourcePoll)
	assert.True(t, errors.Is(err, ErrEndpointRequired))

	_, err = s.ListRecent(ctx, "", 10)
	assert.True(t, errors.Is(err, ErrEndpointRequired))
}

func TestStore_Prune(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()
	v := leshan.ResourceValue{ID: 5700, Kind: leshan.KindFloat, Value: 1.5}

	require.NoError(t, s.Record(ctx, "sensor-01", tempInstance, v, SourcePoll))
	*now = now.Add(48 * time.Hour)
	require.NoError(t, s.Record(ctx, "sensor-01", tempInstance, v, SourcePoll))

	deleted, err := s.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	readings, err := s.ListRecent(ctx, "sensor-01", 10)
	require.NoError(t, err)
	assert.Len(t, readings, 1)

	_, err = s.Prune(ctx, 0)
	assert.Error(t, err)
}

func TestReading_MarshalJSON(t *testing.T) {
	r := Reading{
		ID:         7,
		Endpoint:   "sensor-01",
		Instance:   tempInstance,
		Value:      leshan.ResourceValue{ID: 5700, Kind: leshan.KindFloat, Value: 21.5},
		Source:     SourceNotify,
		RecordedAt: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": 7,
		"endpoint": "sensor-01",
		"path": "/3303/0/5700",
		"kind": "float",
		"value": 21.5,
		"source": "notify",
		"recorded_at": "2026-10-19T12:00:00Z"
	}`, string(data))
}
