// Package archive persists chat events to SQLite.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pkg/errors"

	"github.com/you/rumble-actor/internal/core"
)

const schema = `CREATE TABLE IF NOT EXISTS messages (
  id TEXT NOT NULL PRIMARY KEY,
  ts TEXT NOT NULL,
  username TEXT NOT NULL,
  text TEXT NOT NULL,
  badges_json TEXT NOT NULL DEFAULT '[]',
  amount_cents INTEGER NOT NULL DEFAULT 0,
  is_rant INTEGER NOT NULL DEFAULT 0
);`

type Store struct {
	db *sql.DB
}

const defaultListLimit = 100

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping() error { return s.db.Ping() }

func (s *Store) String() string { return fmt.Sprintf("archive.Store{%p}", s.db) }

func (s *Store) Write(ev core.ChatEvent) error {
	const q = `INSERT INTO messages (id, ts, username, text, badges_json, amount_cents, is_rant)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;`
	badges, err := json.Marshal(ev.User.Badges)
	if err != nil {
		badges = []byte("[]")
	}
	ts := ev.Ts.UTC().Format(time.RFC3339Nano)
	rant := 0
	if ev.IsRant {
		rant = 1
	}
	_, err = s.db.Exec(q, ev.ID, ts, ev.User.Username, ev.Text, string(badges), ev.AmountCents, rant)
	return errors.Wrap(err, "insert message")
}

// Filters narrows List and Count results. The zero value matches everything.
type Filters struct {
	Username string
	Since    *time.Time
	Limit    int
}

func (s *Store) Count(ctx context.Context, filters Filters) (int64, error) {
	query, args := buildQuery(filters, true)
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count")
	}
	return n, nil
}

func (s *Store) List(ctx context.Context, filters Filters) ([]core.ChatEvent, error) {
	query, args := buildQuery(filters, false)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list messages")
	}
	defer rows.Close()

	var out []core.ChatEvent
	for rows.Next() {
		var (
			ev     core.ChatEvent
			ts     string
			badges string
			rant   int
		)
		if err := rows.Scan(&ev.ID, &ts, &ev.User.Username, &ev.Text, &badges, &ev.AmountCents, &rant); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			ev.Ts = t
		}
		_ = json.Unmarshal([]byte(badges), &ev.User.Badges)
		ev.IsRant = rant != 0
		out = append(out, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate messages")
	}
	return out, nil
}

func buildQuery(filters Filters, count bool) (string, []any) {
	var builder strings.Builder
	if count {
		builder.WriteString("SELECT COUNT(*) FROM messages")
	} else {
		builder.WriteString("SELECT id, ts, username, text, badges_json, amount_cents, is_rant FROM messages")
	}

	var (
		conditions []string
		args       []any
	)

	if filters.Username != "" {
		conditions = append(conditions, "LOWER(username) LIKE '%' || ? || '%'")
		args = append(args, strings.ToLower(filters.Username))
	}
	if filters.Since != nil {
		conditions = append(conditions, "ts >= ?")
		args = append(args, filters.Since.UTC().Format(time.RFC3339Nano))
	}

	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}

	if !count {
		builder.WriteString(" ORDER BY ts DESC LIMIT ?")
		limit := filters.Limit
		if limit <= 0 {
			limit = defaultListLimit
		}
		args = append(args, limit)
	}

	builder.WriteString(";")
	return builder.String(), args
}
