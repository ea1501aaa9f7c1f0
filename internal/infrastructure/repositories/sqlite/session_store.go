package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"camlink/internal/core/domain"
	"camlink/internal/core/ports"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	identity     TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	session_id   TEXT NOT NULL UNIQUE,
	spectator_id TEXT NOT NULL UNIQUE,
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL
);
`

type SQLiteSessionStore struct {
	db *sql.DB
}

// NewSQLiteSessionStore opens (creating if needed) the session database at
// path. Pass ":memory:" for an ephemeral store.
func NewSQLiteSessionStore(path string) (*SQLiteSessionStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sessions table: %w", err)
	}
	return &SQLiteSessionStore{db: db}, nil
}

func (s *SQLiteSessionStore) Close() error {
	return s.db.Close()
}

var _ ports.SessionStore = (*SQLiteSessionStore)(nil)

func (s *SQLiteSessionStore) Get(ctx context.Context, identity string) (*domain.StoredSession, error) {
	return s.getWhere(ctx, "identity = ?", identity)
}

func (s *SQLiteSessionStore) Put(ctx context.Context, session *domain.StoredSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (identity, display_name, session_id, spectator_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		session.Identity, session.DisplayName, session.SessionID, session.SpectatorID,
		session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrIdentityExists
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (s *SQLiteSessionStore) Replace(ctx context.Context, session *domain.StoredSession) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET display_name = ?, session_id = ?, spectator_id = ?, updated_at = ?
		 WHERE identity = ?`,
		session.DisplayName, session.SessionID, session.SpectatorID, session.UpdatedAt,
		session.Identity,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteSessionStore) SessionIDExists(ctx context.Context, sessionID string) (bool, error) {
	return s.existsWhere(ctx, "session_id = ?", sessionID)
}

func (s *SQLiteSessionStore) SpectatorIDExists(ctx context.Context, spectatorID string) (bool, error) {
	return s.existsWhere(ctx, "spectator_id = ?", spectatorID)
}

func (s *SQLiteSessionStore) GetBySpectatorID(ctx context.Context, spectatorID string) (*domain.StoredSession, error) {
	return s.getWhere(ctx, "spectator_id = ?", spectatorID)
}

func (s *SQLiteSessionStore) getWhere(ctx context.Context, where string, arg any) (*domain.StoredSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT identity, display_name, session_id, spectator_id, created_at, updated_at
		 FROM sessions WHERE `+where, arg)

	var session domain.StoredSession
	err := row.Scan(&session.Identity, &session.DisplayName, &session.SessionID,
		&session.SpectatorID, &session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session row: %w", err)
	}
	return &session, nil
}

func (s *SQLiteSessionStore) existsWhere(ctx context.Context, where string, arg any) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE `+where, arg).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check session row: %w", err)
	}
	return true, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
