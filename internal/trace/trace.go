// Package trace persists per-tool-call records to a local SQLite
// database so sessions can be audited after the fact. Conversation
// content itself is not stored, only the mechanics of each invocation.
package trace

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS tool_calls (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session    TEXT NOT NULL,
	hop        INTEGER NOT NULL,
	tool       TEXT NOT NULL,
	arguments  TEXT NOT NULL,
	ok         INTEGER NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session);
`

// Record is one tool invocation made during a session.
type Record struct {
	Session   string
	Hop       int
	Tool      string
	Arguments map[string]any
	OK        bool
	Error     string
	Duration  time.Duration
	CreatedAt time.Time
}

// Store is an append-only tool-call journal backed by SQLite. A nil
// *Store discards writes, mirroring the rpclog convention.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open trace db: %w", err)
	}
	// SQLite serializes writers; one connection avoids lock churn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init trace schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Append writes one record in a single INSERT.
func (s *Store) Append(ctx context.Context, rec Record) error {
	if s == nil {
		return nil
	}
	args, err := json.Marshal(rec.Arguments)
	if err != nil {
		args = []byte(fmt.Sprintf("%q", fmt.Sprintf("<unencodable: %v>", err)))
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tool_calls (session, hop, tool, arguments, ok, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Session, rec.Hop, rec.Tool, string(args), boolInt(rec.OK), rec.Error,
		rec.Duration.Milliseconds(), created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append trace record: %w", err)
	}
	return nil
}

// BySession returns all records for one session in insertion order.
func (s *Store) BySession(ctx context.Context, session string) ([]Record, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session, hop, tool, arguments, ok, error, duration_ms, created_at
		 FROM tool_calls WHERE session = ? ORDER BY id`,
		session,
	)
	if err != nil {
		return nil, fmt.Errorf("query trace records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec     Record
			args    string
			ok      int
			millis  int64
			created string
		)
		if err := rows.Scan(&rec.Session, &rec.Hop, &rec.Tool, &args, &ok, &rec.Error, &millis, &created); err != nil {
			return nil, fmt.Errorf("scan trace record: %w", err)
		}
		if err := json.Unmarshal([]byte(args), &rec.Arguments); err != nil {
			rec.Arguments = map[string]any{"_raw": args}
		}
		rec.OK = ok != 0
		rec.Duration = time.Duration(millis) * time.Millisecond
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			rec.CreatedAt = t
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace records: %w", err)
	}
	return out, nil
}

// Close closes the database. Safe on nil.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
