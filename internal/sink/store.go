// CLAUDE:SUMMARY SQLite event store sink: one row per message, UUIDv7 ids, queryable by kind, session and time.
package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/shadowtap/dbopen"
	"github.com/hazyhaar/shadowtap/event"
	"github.com/hazyhaar/shadowtap/idgen"
)

// StoreSchema creates the events table.
const StoreSchema = `
CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL,
	ts         INTEGER NOT NULL,
	payload    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS events_type_ts ON events(type, ts);
CREATE INDEX IF NOT EXISTS events_session ON events(session_id, ts);
`

// Store writes every message to an SQLite events table.
type Store struct {
	db      *sql.DB
	owned   bool
	session string
	newID   idgen.Generator
	now     func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreSession tags stored rows with a session id.
func WithStoreSession(id string) StoreOption {
	return func(s *Store) { s.session = id }
}

// WithStoreIDs replaces the row id generator (UUIDv7 by default).
func WithStoreIDs(gen idgen.Generator) StoreOption {
	return func(s *Store) { s.newID = gen }
}

// OpenStore opens (or creates) the database file at path.
func OpenStore(path string, opts ...StoreOption) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(StoreSchema))
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	s := newStore(db, opts)
	s.owned = true
	return s, nil
}

// NewStore uses an already open database, creating the table if needed.
// Close leaves db open.
func NewStore(ctx context.Context, db *sql.DB, opts ...StoreOption) (*Store, error) {
	if _, err := dbopen.Exec(ctx, db, StoreSchema); err != nil {
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	return newStore(db, opts), nil
}

func newStore(db *sql.DB, opts []StoreOption) *Store {
	s := &Store{db: db, newID: idgen.Default, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Send(ctx context.Context, msg event.Message) error {
	payload, err := event.MarshalMessage(msg)
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}
	now := s.now().UnixMilli()
	ts := timestampOf(msg)
	if ts == 0 {
		ts = now
	}
	_, err = dbopen.Exec(ctx, s.db,
		`INSERT INTO events (id, session_id, type, ts, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		s.newID(), s.session, string(msg.Type), ts, string(payload), now)
	if err != nil {
		return fmt.Errorf("store: insert: %w", err)
	}
	return nil
}

// Query selects stored messages.
type Query struct {
	Session string       // empty: any session
	Kinds   []event.Kind // empty: every kind
	Since   int64        // epoch ms, inclusive
	Limit   int          // 0: no limit
}

// Stored is one row of the events table.
type Stored struct {
	ID        string
	Session   string
	Timestamp int64
	Message   event.Message
}

// List returns matching messages ordered by timestamp, then id.
func (s *Store) List(ctx context.Context, q Query) ([]Stored, error) {
	query := `SELECT id, session_id, ts, payload FROM events WHERE ts >= ?`
	args := []any{q.Since}
	if q.Session != "" {
		query += ` AND session_id = ?`
		args = append(args, q.Session)
	}
	if len(q.Kinds) > 0 {
		query += ` AND type IN (?` + strings.Repeat(",?", len(q.Kinds)-1) + `)`
		for _, k := range q.Kinds {
			args = append(args, string(k))
		}
	}
	query += ` ORDER BY ts, id`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var out []Stored
	for rows.Next() {
		var (
			st      Stored
			payload string
		)
		if err := rows.Scan(&st.ID, &st.Session, &st.Timestamp, &payload); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		st.Message, err = event.UnmarshalMessage([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("store: decode %s: %w", st.ID, err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Prune deletes rows older than before (epoch ms) and returns how many.
func (s *Store) Prune(ctx context.Context, before int64) (int64, error) {
	res, err := dbopen.Exec(ctx, s.db, `DELETE FROM events WHERE ts < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func timestampOf(msg event.Message) int64 {
	switch p := msg.Payload.(type) {
	case event.Click:
		return p.Timestamp
	case event.Input:
		return p.Timestamp
	case event.SelectChange:
		return p.Timestamp
	case event.Key:
		return p.Timestamp
	case event.RecorderEvent:
		return p.Timestamp
	}
	return 0
}
