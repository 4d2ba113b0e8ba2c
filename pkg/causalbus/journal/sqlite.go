package journal

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/causalbus/pkg/causalbus/event"
)

// SQLiteStore persists the delivery journal to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite journal.
// The path should be a file path (e.g., "./journal.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS deliveries (
			event_id TEXT NOT NULL PRIMARY KEY,
			channel TEXT NOT NULL,
			payload BLOB NOT NULL,
			wall_millis INTEGER NOT NULL,
			logical INTEGER NOT NULL,
			origin TEXT NOT NULL,
			reordered INTEGER NOT NULL,
			forced_flush INTEGER NOT NULL,
			suspect_causality INTEGER NOT NULL,
			compressed_count INTEGER NOT NULL,
			delivered_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_deliveries_channel
		ON deliveries(channel, wall_millis, logical)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Append implements Store.
func (s *SQLiteStore) Append(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO deliveries (
			event_id, channel, payload, wall_millis, logical, origin,
			reordered, forced_flush, suspect_causality, compressed_count,
			delivered_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.EventID, rec.Channel, rec.Payload,
		rec.Timestamp.WallMillis, rec.Timestamp.Logical, rec.Origin,
		boolInt(rec.Meta.Reordered), boolInt(rec.Meta.ForcedFlush),
		boolInt(rec.Meta.SuspectCausality), rec.Meta.CompressedCount,
		rec.DeliveredAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(eventID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Record{}, ErrStoreClosed
	}

	row := s.db.QueryRow(`
		SELECT event_id, channel, payload, wall_millis, logical, origin,
		       reordered, forced_flush, suspect_causality, compressed_count,
		       delivered_at
		FROM deliveries
		WHERE event_id = ?
	`, eventID)

	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// Recent implements Store.
func (s *SQLiteStore) Recent(channel string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = -1 // no LIMIT
	}

	rows, err := s.db.Query(`
		SELECT event_id, channel, payload, wall_millis, logical, origin,
		       reordered, forced_flush, suspect_causality, compressed_count,
		       delivered_at
		FROM deliveries
		WHERE channel = ?
		ORDER BY wall_millis DESC, logical DESC, origin DESC
		LIMIT ?
	`, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// PruneBefore implements Store.
func (s *SQLiteStore) PruneBefore(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	res, err := s.db.Exec(`
		DELETE FROM deliveries WHERE delivered_at < ?
	`, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune records: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return int(n), nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

func scanRecord(scan func(dest ...any) error) (Record, error) {
	var (
		rec        Record
		reordered  int
		forced     int
		suspect    int
		compressed int
		delivered  string
		wallMillis int64
		logical    uint32
	)
	err := scan(
		&rec.EventID, &rec.Channel, &rec.Payload, &wallMillis, &logical,
		&rec.Origin, &reordered, &forced, &suspect,
		&compressed, &delivered,
	)
	if err != nil {
		return Record{}, err
	}
	rec.Timestamp.WallMillis = wallMillis
	rec.Timestamp.Logical = logical
	rec.Meta = event.DeliveryMetadata{
		Reordered:        reordered != 0,
		ForcedFlush:      forced != 0,
		SuspectCausality: suspect != 0,
		CompressedCount:  compressed,
	}
	rec.DeliveredAt, _ = time.Parse(time.RFC3339Nano, delivered)
	return rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
