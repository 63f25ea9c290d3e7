// Package memory provides an in-process session.Store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/luciancaetano/authoritative/internal/session"
)

// Store keeps users and sessions in maps guarded by a mutex.
type Store struct {
	mu       sync.RWMutex
	users    map[int64]session.User
	sessions map[int64]session.Session
	nextUser int64
	nextSess int64
}

var _ session.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:    make(map[int64]session.User),
		sessions: make(map[int64]session.Session),
	}
}

func (s *Store) SessionByAccessToken(ctx context.Context, token string) (session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, item := range s.sessions {
		if item.AccessToken == token {
			return item, nil
		}
	}
	return session.Session{}, session.ErrNotFound
}

func (s *Store) SessionsByUser(ctx context.Context, userID int64) ([]session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []session.Session
	for _, item := range s.sessions {
		if item.UserID == userID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UserByID(ctx context.Context, id int64) (session.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return session.User{}, session.ErrNotFound
	}
	return user, nil
}

func (s *Store) UserByName(ctx context.Context, name string) (session.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.Name == name {
			return user, nil
		}
	}
	return session.User{}, session.ErrNotFound
}

func (s *Store) CreateUser(ctx context.Context, name string) (session.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return session.User{}, fmt.Errorf("user name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if user.Name == name {
			return session.User{}, session.ErrAlreadyExists
		}
	}
	s.nextUser++
	user := session.User{ID: s.nextUser, Name: name}
	s.users[user.ID] = user
	return user, nil
}

// SetOnboarded marks a user as having finished the intro.
func (s *Store) SetOnboarded(ctx context.Context, userID int64, onboarded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return session.ErrNotFound
	}
	user.Onboarded = onboarded
	s.users[userID] = user
	return nil
}

// ReplaceSessions swaps every session of in.UserID for in and returns the
// removed ones.
func (s *Store) ReplaceSessions(ctx context.Context, in session.Session) (session.Session, []session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[in.UserID]; !ok {
		return session.Session{}, nil, session.ErrNotFound
	}
	var replaced []session.Session
	for id, item := range s.sessions {
		if item.UserID == in.UserID {
			replaced = append(replaced, item)
			delete(s.sessions, id)
		}
	}
	sort.Slice(replaced, func(i, j int) bool { return replaced[i].ID < replaced[j].ID })

	s.nextSess++
	in.ID = s.nextSess
	s.sessions[in.ID] = in
	return in, replaced, nil
}
