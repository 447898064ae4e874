package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_sessions (
    user_email   TEXT    NOT NULL,
    id           TEXT    NOT NULL,
    title        TEXT    NOT NULL,
    last_message TEXT    NOT NULL DEFAULT '',
    created_ms   INTEGER NOT NULL,
    persistent   INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (user_email, id)
);

CREATE INDEX IF NOT EXISTS idx_chat_sessions_user_created
    ON chat_sessions (user_email, created_ms DESC);`

type sessionRow struct {
	UserEmail   string `db:"user_email"`
	ID          string `db:"id"`
	Title       string `db:"title"`
	LastMessage string `db:"last_message"`
	CreatedMs   int64  `db:"created_ms"`
	Persistent  bool   `db:"persistent"`
}

func (r sessionRow) summary() chat.SessionSummary {
	return chat.SessionSummary{
		ID:          r.ID,
		Title:       r.Title,
		LastMessage: r.LastMessage,
		Timestamp:   time.UnixMilli(r.CreatedMs).UTC(),
		Persistent:  r.Persistent,
	}
}

// SQLStore implements Store on SQLite.
type SQLStore struct {
	db *sqlx.DB
}

// OpenSQLStore opens (and creates if needed) the SQLite database at path.
func OpenSQLStore(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create session schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// List returns the user's sessions, newest first.
func (s *SQLStore) List(ctx context.Context, email string) ([]chat.SessionSummary, error) {
	var rows []sessionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT user_email, id, title, last_message, created_ms, persistent
		   FROM chat_sessions
		  WHERE user_email = ?
		  ORDER BY created_ms DESC, id DESC`, email)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]chat.SessionSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.summary())
	}
	return out, nil
}

// Get looks up one session.
func (s *SQLStore) Get(ctx context.Context, email, id string) (chat.SessionSummary, bool, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT user_email, id, title, last_message, created_ms, persistent
		   FROM chat_sessions
		  WHERE user_email = ? AND id = ?`, email, id)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.SessionSummary{}, false, nil
	}
	if err != nil {
		return chat.SessionSummary{}, false, fmt.Errorf("get session: %w", err)
	}
	return row.summary(), true, nil
}

// Put inserts or replaces a session. The creation time of an existing row is kept.
func (s *SQLStore) Put(ctx context.Context, email string, summary chat.SessionSummary) error {
	row := sessionRow{
		UserEmail:   email,
		ID:          summary.ID,
		Title:       summary.Title,
		LastMessage: summary.LastMessage,
		CreatedMs:   summary.Timestamp.UnixMilli(),
		Persistent:  summary.Persistent,
	}

	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO chat_sessions (user_email, id, title, last_message, created_ms, persistent)
		 VALUES (:user_email, :id, :title, :last_message, :created_ms, :persistent)
		 ON CONFLICT (user_email, id) DO UPDATE SET
		     title = excluded.title,
		     last_message = excluded.last_message,
		     persistent = excluded.persistent`, row)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// Delete removes a session and reports whether it existed.
func (s *SQLStore) Delete(ctx context.Context, email, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_sessions WHERE user_email = ? AND id = ?`, email, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return n > 0, nil
}
