package journal_test

import (
	"testing"
	"time"

	"github.com/randalmurphal/causalbus/pkg/causalbus/event"
	"github.com/randalmurphal/causalbus/pkg/causalbus/hlc"
	"github.com/randalmurphal/causalbus/pkg/causalbus/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stores lists every Store implementation under the same behavioral
// suite.
var stores = []struct {
	name string
	open func(t *testing.T) journal.Store
}{
	{"memory", func(t *testing.T) journal.Store {
		return journal.NewMemoryStore()
	}},
	{"sqlite", func(t *testing.T) journal.Store {
		s, err := journal.NewSQLiteStore(":memory:")
		require.NoError(t, err)
		return s
	}},
}

func record(id, channel string, wall int64, logical uint32, deliveredAt time.Time) journal.Record {
	return journal.Record{
		EventID:     id,
		Channel:     channel,
		Payload:     []byte("payload-" + id),
		Timestamp:   hlc.Timestamp{WallMillis: wall, Logical: logical},
		Origin:      "node-a",
		DeliveredAt: deliveredAt,
	}
}

func TestAppendAndGet(t *testing.T) {
	for _, tc := range stores {
		t.Run(tc.name, func(t *testing.T) {
			store := tc.open(t)
			defer store.Close()

			rec := record("ev1", "telemetry", 100, 2, time.Now())
			rec.Meta = event.DeliveryMetadata{Reordered: true, CompressedCount: 3}
			require.NoError(t, store.Append(rec))

			got, err := store.Get("ev1")
			require.NoError(t, err)
			assert.Equal(t, "telemetry", got.Channel)
			assert.Equal(t, []byte("payload-ev1"), got.Payload)
			assert.Equal(t, int64(100), got.Timestamp.WallMillis)
			assert.Equal(t, uint32(2), got.Timestamp.Logical)
			assert.True(t, got.Meta.Reordered)
			assert.Equal(t, 3, got.Meta.CompressedCount)
		})
	}
}

func TestGetMissing(t *testing.T) {
	for _, tc := range stores {
		t.Run(tc.name, func(t *testing.T) {
			store := tc.open(t)
			defer store.Close()

			_, err := store.Get("absent")
			assert.ErrorIs(t, err, journal.ErrNotFound)
		})
	}
}

func TestAppendOverwrites(t *testing.T) {
	for _, tc := range stores {
		t.Run(tc.name, func(t *testing.T) {
			store := tc.open(t)
			defer store.Close()

			require.NoError(t, store.Append(record("ev1", "telemetry", 100, 0, time.Now())))
			updated := record("ev1", "telemetry", 100, 0, time.Now())
			updated.Meta.ForcedFlush = true
			require.NoError(t, store.Append(updated))

			got, err := store.Get("ev1")
			require.NoError(t, err)
			assert.True(t, got.Meta.ForcedFlush)
		})
	}
}

func TestRecentOrderAndLimit(t *testing.T) {
	for _, tc := range stores {
		t.Run(tc.name, func(t *testing.T) {
			store := tc.open(t)
			defer store.Close()

			now := time.Now()
			require.NoError(t, store.Append(record("ev1", "telemetry", 100, 0, now)))
			require.NoError(t, store.Append(record("ev2", "telemetry", 100, 1, now)))
			require.NoError(t, store.Append(record("ev3", "telemetry", 200, 0, now)))
			require.NoError(t, store.Append(record("other", "alerts", 300, 0, now)))

			recent, err := store.Recent("telemetry", 2)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			assert.Equal(t, "ev3", recent[0].EventID)
			assert.Equal(t, "ev2", recent[1].EventID)

			all, err := store.Recent("telemetry", 0)
			require.NoError(t, err)
			assert.Len(t, all, 3)

			empty, err := store.Recent("unknown", 10)
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}

func TestPruneBefore(t *testing.T) {
	for _, tc := range stores {
		t.Run(tc.name, func(t *testing.T) {
			store := tc.open(t)
			defer store.Close()

			old := time.Now().Add(-time.Hour)
			require.NoError(t, store.Append(record("old1", "telemetry", 50, 0, old)))
			require.NoError(t, store.Append(record("old2", "telemetry", 60, 0, old)))
			require.NoError(t, store.Append(record("fresh", "telemetry", 100, 0, time.Now())))

			removed, err := store.PruneBefore(time.Now().Add(-time.Minute))
			require.NoError(t, err)
			assert.Equal(t, 2, removed)

			_, err = store.Get("old1")
			assert.ErrorIs(t, err, journal.ErrNotFound)
			_, err = store.Get("fresh")
			assert.NoError(t, err)
		})
	}
}

func TestClosedStore(t *testing.T) {
	for _, tc := range stores {
		t.Run(tc.name, func(t *testing.T) {
			store := tc.open(t)
			require.NoError(t, store.Close())

			err := store.Append(record("ev1", "telemetry", 100, 0, time.Now()))
			assert.ErrorIs(t, err, journal.ErrStoreClosed)
			_, err = store.Get("ev1")
			assert.ErrorIs(t, err, journal.ErrStoreClosed)
			_, err = store.Recent("telemetry", 1)
			assert.ErrorIs(t, err, journal.ErrStoreClosed)
			_, err = store.PruneBefore(time.Now())
			assert.ErrorIs(t, err, journal.ErrStoreClosed)
		})
	}
}

// TestMemoryStoreCopiesPayload guards against callers mutating stored
// slices.
func TestMemoryStoreCopiesPayload(t *testing.T) {
	store := journal.NewMemoryStore()
	defer store.Close()

	payload := []byte("original")
	rec := record("ev1", "telemetry", 100, 0, time.Now())
	rec.Payload = payload
	require.NoError(t, store.Append(rec))

	payload[0] = 'X'

	got, err := store.Get("ev1")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got.Payload)
}
