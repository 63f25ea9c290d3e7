// Package sqlite provides a SQLite-backed session.Store.
package sqlite

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/luciancaetano/authoritative/internal/session"
	"github.com/luciancaetano/authoritative/internal/session/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists users and sessions in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

var _ session.Store = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

const sessionColumns = `id, user_id, access_token, refresh_token, expires_at, refresh_expires_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (session.Session, error) {
	var (
		out              session.Session
		expiresAt        int64
		refreshExpiresAt int64
	)
	if err := row.Scan(&out.ID, &out.UserID, &out.AccessToken, &out.RefreshToken, &expiresAt, &refreshExpiresAt); err != nil {
		return session.Session{}, err
	}
	out.ExpiresAt = fromMillis(expiresAt)
	out.RefreshExpiresAt = fromMillis(refreshExpiresAt)
	return out, nil
}

// SessionByAccessToken returns the session owning token.
func (s *Store) SessionByAccessToken(ctx context.Context, token string) (session.Session, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE access_token = ?`, token)
	out, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, session.ErrNotFound
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("get session by token: %w", err)
	}
	return out, nil
}

// SessionsByUser returns every session of userID ordered by id.
func (s *Store) SessionsByUser(ctx context.Context, userID int64) ([]session.Session, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []session.Session
	for rows.Next() {
		item, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func (s *Store) userWhere(ctx context.Context, clause string, arg any) (session.User, error) {
	var (
		out       session.User
		onboarded int
	)
	err := s.sqlDB.QueryRowContext(ctx, `SELECT id, name, onboarded FROM users WHERE `+clause, arg).
		Scan(&out.ID, &out.Name, &onboarded)
	if errors.Is(err, sql.ErrNoRows) {
		return session.User{}, session.ErrNotFound
	}
	if err != nil {
		return session.User{}, fmt.Errorf("get user: %w", err)
	}
	out.Onboarded = onboarded != 0
	return out, nil
}

// UserByID returns the user with id.
func (s *Store) UserByID(ctx context.Context, id int64) (session.User, error) {
	return s.userWhere(ctx, "id = ?", id)
}

// UserByName returns the user with name.
func (s *Store) UserByName(ctx context.Context, name string) (session.User, error) {
	return s.userWhere(ctx, "name = ?", name)
}

// CreateUser inserts a new, not yet onboarded user.
func (s *Store) CreateUser(ctx context.Context, name string) (session.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return session.User{}, fmt.Errorf("user name is required")
	}

	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO users (name, onboarded, created_at) VALUES (?, 0, ?)`,
		name, toMillis(s.now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return session.User{}, session.ErrAlreadyExists
		}
		return session.User{}, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return session.User{}, fmt.Errorf("create user id: %w", err)
	}
	return session.User{ID: id, Name: name}, nil
}

// SetOnboarded marks a user as having finished the intro.
func (s *Store) SetOnboarded(ctx context.Context, userID int64, onboarded bool) error {
	value := 0
	if onboarded {
		value = 1
	}
	res, err := s.sqlDB.ExecContext(ctx, `UPDATE users SET onboarded = ? WHERE id = ?`, value, userID)
	if err != nil {
		return fmt.Errorf("set onboarded: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return session.ErrNotFound
	}
	return nil
}

// ReplaceSessions deletes every session of in.UserID and inserts in, in one
// transaction. It returns the inserted session and the deleted ones.
func (s *Store) ReplaceSessions(ctx context.Context, in session.Session) (session.Session, []session.Session, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return session.Session{}, nil, fmt.Errorf("begin replace sessions: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	replaced, err := deleteUserSessions(ctx, tx, in.UserID)
	if err != nil {
		return session.Session{}, nil, err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (user_id, access_token, refresh_token, expires_at, refresh_expires_at) VALUES (?, ?, ?, ?, ?)`,
		in.UserID, in.AccessToken, in.RefreshToken, toMillis(in.ExpiresAt), toMillis(in.RefreshExpiresAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return session.Session{}, nil, session.ErrNotFound
		}
		return session.Session{}, nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return session.Session{}, nil, fmt.Errorf("insert session id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return session.Session{}, nil, fmt.Errorf("commit replace sessions: %w", err)
	}

	in.ID = id
	in.ExpiresAt = fromMillis(toMillis(in.ExpiresAt))
	in.RefreshExpiresAt = fromMillis(toMillis(in.RefreshExpiresAt))
	return in, replaced, nil
}

// deleteUserSessions removes the sessions of userID and returns them ordered by id.
func deleteUserSessions(ctx context.Context, tx *sql.Tx, userID int64) ([]session.Session, error) {
	rows, err := tx.QueryContext(ctx, `DELETE FROM sessions WHERE user_id = ? RETURNING `+sessionColumns, userID)
	if err != nil {
		return nil, fmt.Errorf("delete sessions: %w", err)
	}
	defer rows.Close()

	var out []session.Session
	for rows.Next() {
		item, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deleted session: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("delete sessions: %w", err)
	}
	slices.SortFunc(out, func(a, b session.Session) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "foreign key constraint failed")
}
