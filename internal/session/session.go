// Package session holds the users and sessions the connection layer
// authenticates against.
package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a user or session does not exist.
	ErrNotFound = errors.New("session: not found")
	// ErrAlreadyExists is returned when creating a user whose name is taken.
	ErrAlreadyExists = errors.New("session: already exists")
)

// User is a player account.
type User struct {
	ID        int64
	Name      string
	Onboarded bool
}

// Session is an authentication grant for one user.
type Session struct {
	ID               int64
	UserID           int64
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
}

// Expired reports whether the access token is no longer valid at now.
func (s Session) Expired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}

// Store persists users and sessions.
type Store interface {
	SessionByAccessToken(ctx context.Context, token string) (Session, error)
	SessionsByUser(ctx context.Context, userID int64) ([]Session, error)
	UserByID(ctx context.Context, id int64) (User, error)
	UserByName(ctx context.Context, name string) (User, error)
	CreateUser(ctx context.Context, name string) (User, error)
	// ReplaceSessions atomically deletes every session of s.UserID and
	// inserts s. It returns s with its assigned ID and the deleted
	// sessions, read in the same atomic step.
	ReplaceSessions(ctx context.Context, s Session) (created Session, replaced []Session, err error)
}
