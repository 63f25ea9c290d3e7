package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/luciancaetano/authoritative/internal/pubsub"
)

const (
	AccessTokenTTL  = 30 * 24 * time.Hour
	RefreshTokenTTL = 90 * 24 * time.Hour
)

// Issuer creates sessions and keeps at most one live session per user by
// invalidating the previous ones on the bus.
type Issuer struct {
	store  Store
	bus    *pubsub.Bus
	logger *slog.Logger
	now    func() time.Time
}

// NewIssuer creates an issuer. A nil now uses time.Now.
func NewIssuer(store Store, bus *pubsub.Bus, logger *slog.Logger, now func() time.Time) *Issuer {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Issuer{store: store, bus: bus, logger: logger, now: now}
}

// Issue replaces every session of userID with a fresh one. Connections
// holding a replaced session are told through the invalidation bus.
func (i *Issuer) Issue(ctx context.Context, userID int64) (Session, error) {
	access, err := NewToken()
	if err != nil {
		return Session{}, err
	}
	refresh, err := NewToken()
	if err != nil {
		return Session{}, err
	}

	now := i.now()
	created, replaced, err := i.store.ReplaceSessions(ctx, Session{
		UserID:           userID,
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresAt:        now.Add(AccessTokenTTL),
		RefreshExpiresAt: now.Add(RefreshTokenTTL),
	})
	if err != nil {
		return Session{}, fmt.Errorf("replace sessions: %w", err)
	}

	// Only the sessions this call deleted. A concurrent Issue announces its own.
	for _, s := range replaced {
		if err := pubsub.PublishAuthInvalidated(ctx, i.bus, userID, s.ID); err != nil {
			i.logger.Error("failed to publish session invalidation", "userID", userID, "sessionID", s.ID, "error", err)
		}
	}
	return created, nil
}

// IssueFor issues a session for the user called name, creating the user
// first if needed.
func (i *Issuer) IssueFor(ctx context.Context, name string) (User, Session, error) {
	user, err := i.store.UserByName(ctx, name)
	if errors.Is(err, ErrNotFound) {
		user, err = i.store.CreateUser(ctx, name)
		if errors.Is(err, ErrAlreadyExists) {
			user, err = i.store.UserByName(ctx, name)
		}
	}
	if err != nil {
		return User{}, Session{}, fmt.Errorf("user %s: %w", name, err)
	}

	s, err := i.Issue(ctx, user.ID)
	if err != nil {
		return User{}, Session{}, err
	}
	return user, s, nil
}
