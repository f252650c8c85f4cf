// Package memory is an in-process store used for development and tests.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/core"
	"fintrack/internal/store"
)

type Store struct {
	mu    sync.Mutex
	users map[string]store.User // by lowercased email
	items []core.Transaction
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{users: make(map[string]store.User)}
}

// List returns a copy of the owner's transactions, newest first.
func (s *Store) List(_ context.Context, owner string) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Transaction, 0)
	for _, t := range s.items {
		if t.Owner == owner {
			out = append(out, t)
		}
	}
	store.SortNewestFirst(out)
	return out, nil
}

// Insert stores the transaction under a fresh UUID.
func (s *Store) Insert(_ context.Context, owner string, n core.NewTransaction) (core.Transaction, error) {
	if err := n.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if owner == "" {
		return core.Transaction{}, core.WrapStore("insert", core.ErrMissingOwner)
	}
	t := n.Materialize(uuid.NewString(), owner)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, t)
	return t, nil
}

func (s *Store) Delete(_ context.Context, owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.items {
		if t.ID == id && t.Owner == owner {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return nil
		}
	}
	return core.WrapStore("delete", core.ErrNotFound)
}

func (s *Store) CreateUser(_ context.Context, email, passwordHash string) (store.User, error) {
	key := strings.ToLower(strings.TrimSpace(email))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[key]; ok {
		return store.User{}, core.WrapStore("create user", core.ErrConflict)
	}
	u := store.User{
		ID:           uuid.NewString(),
		Email:        key,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	s.users[key] = u
	return u, nil
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (store.User, error) {
	key := strings.ToLower(strings.TrimSpace(email))
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[key]
	if !ok {
		return store.User{}, core.WrapStore("find user", core.ErrNotFound)
	}
	return u, nil
}
