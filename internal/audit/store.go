// Package audit persists a metadata-only log of session lifecycle
// events — connects, subscribes, disconnects — to SQLite for
// operational visibility. It never stores message payloads or retained
// state: the in-memory subscription registry remains the sole source
// of subscription truth (SPEC_FULL.md §4.10), so this store does not
// contradict the no-retained-messages Non-goal.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// Event names recorded in the session_events table.
const (
	EventConnected    = "connected"
	EventSubscribed   = "subscribed"
	EventDisconnected = "disconnected"
)

// Store wraps the SQLite database connection and schema lifecycle.
type Store struct {
	db *sql.DB
}

// Open initializes the database connection, creating directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures the session_events table exists.
func (s *Store) InitSchema(ctx context.Context) error {
	const stmt = `CREATE TABLE IF NOT EXISTS session_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		event TEXT NOT NULL,
		topic TEXT,
		occurred_at TEXT NOT NULL
	);`

	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	_, err := s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events(session_id, occurred_at);`)
	if err != nil {
		return fmt.Errorf("init schema index: %w", err)
	}
	return nil
}

// Record appends one lifecycle event. topic may be empty for events not
// associated with a specific subscription.
func (s *Store) Record(ctx context.Context, sessionID uuid.UUID, clientID, event, topic string) error {
	if s.db == nil {
		return fmt.Errorf("audit store not initialized")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_events (session_id, client_id, event, topic, occurred_at) VALUES (?, ?, ?, ?, ?);`,
		sessionID.String(), clientID, event, topic, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert session event: %w", err)
	}
	return nil
}

// RecentEvents returns the most recent events ordered by time descending,
// at most limit of them (25 when limit is not positive).
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 25
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, client_id, event, topic, occurred_at FROM session_events ORDER BY occurred_at DESC LIMIT ?;`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query session events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			sessionID string
			clientID  string
			event     string
			topic     sql.NullString
			occurred  string
		)
		if err := rows.Scan(&sessionID, &clientID, &event, &topic, &occurred); err != nil {
			return nil, fmt.Errorf("scan session event: %w", err)
		}
		occurredAt, err := time.Parse(time.RFC3339Nano, occurred)
		if err != nil {
			occurredAt = time.Time{}
		}
		events = append(events, Event{
			SessionID:  sessionID,
			ClientID:   clientID,
			Event:      event,
			Topic:      topic.String,
			OccurredAt: occurredAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session events: %w", err)
	}
	return events, nil
}

// Event is one row of the session_events audit trail.
type Event struct {
	SessionID  string
	ClientID   string
	Event      string
	Topic      string
	OccurredAt time.Time
}
