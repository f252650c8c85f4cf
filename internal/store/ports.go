// Package store declares the persistence ports shared by every backend.
package store

import (
	"context"
	"sort"
	"time"

	"fintrack/internal/core"
)

type (
	// User is a stored credential record.
	User struct {
		ID           string
		Email        string
		PasswordHash string
		CreatedAt    time.Time
	}

	// TransactionStore persists transactions scoped to a single owner.
	TransactionStore interface {
		// List returns the owner's transactions, newest first.
		List(ctx context.Context, owner string) ([]core.Transaction, error)
		// Insert validates and stores t, assigning its ID.
		Insert(ctx context.Context, owner string, t core.NewTransaction) (core.Transaction, error)
		// Delete removes one transaction. core.ErrNotFound when the id is
		// absent or belongs to someone else.
		Delete(ctx context.Context, owner, id string) error
	}

	// UserStore persists credentials for the identity provider.
	UserStore interface {
		// CreateUser fails with core.ErrConflict on a duplicate email.
		CreateUser(ctx context.Context, email, passwordHash string) (User, error)
		// FindUserByEmail fails with core.ErrNotFound when absent.
		FindUserByEmail(ctx context.Context, email string) (User, error)
	}

	// Store is what a backend provides.
	Store interface {
		TransactionStore
		UserStore
	}

	// SyncTracker is implemented by durable backends that remember which
	// rows have been mirrored to the spreadsheet.
	SyncTracker interface {
		ListUnsynced(ctx context.Context, limit int) ([]core.Transaction, error)
		MarkSynced(ctx context.Context, id string) error
	}

	// Pinger reports backend reachability for readiness checks.
	Pinger interface {
		Ping(ctx context.Context) error
	}
)

// SortNewestFirst orders txs by date descending, ties broken by id so the
// order is stable across backends.
func SortNewestFirst(txs []core.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].Date.Equal(txs[j].Date) {
			return txs[i].Date.After(txs[j].Date)
		}
		return txs[i].ID < txs[j].ID
	})
}
