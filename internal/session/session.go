// Package session holds each signed-in user's transaction list in memory
// and derives dashboards from it after every change.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/identity"
	"fintrack/internal/log"
	"fintrack/internal/store"
)

// Order selects how month buckets are sequenced on a dashboard.
type Order string

const (
	// OrderFirstSeen keeps buckets in the order of the newest-first list.
	OrderFirstSeen Order = "first_seen"
	// OrderChronological sorts buckets oldest first.
	OrderChronological Order = "chronological"
)

// ParseOrder maps a query value to an Order, defaulting to first seen.
func ParseOrder(s string) Order {
	if Order(s) == OrderChronological {
		return OrderChronological
	}
	return OrderFirstSeen
}

// EventPublisher receives notifications about persisted changes.
type EventPublisher interface {
	PublishCreated(ctx context.Context, t core.Transaction) error
	PublishDeleted(ctx context.Context, owner, id string) error
}

type Dashboard struct {
	Count  int
	Totals core.Totals
	Months []core.MonthlyBalance
	Chart  core.Chart
	Order  Order
}

type Options struct {
	CacheSize int
	CacheTTL  time.Duration
	Publisher EventPublisher
	Logger    *log.Logger
}

type Manager struct {
	store     store.TransactionStore
	lists     *cache.LRUCache[[]core.Transaction]
	group     singleflight.Group
	publisher EventPublisher
	logger    *log.Logger
	events    *log.StructuredLogger

	mu   sync.Mutex
	gens map[string]uint64
}

func NewManager(st store.TransactionStore, opts Options) *Manager {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 500
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 15 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentSession)
	return &Manager{
		store:     st,
		lists:     cache.NewLRUCache[[]core.Transaction](opts.CacheSize, opts.CacheTTL),
		publisher: opts.Publisher,
		logger:    logger,
		events:    log.NewStructuredLogger(logger),
		gens:      make(map[string]uint64),
	}
}

// Cache exposes the list cache so it can be registered for cleanup.
func (m *Manager) Cache() cache.Cleaner {
	return m.lists
}

// OnAuthEvent loads the list on sign-in and drops it on sign-out.
func (m *Manager) OnAuthEvent(ev identity.Event) {
	switch ev.Type {
	case identity.SignedIn:
		ctx, cancel := context.WithTimeout(context.Background(), 7*time.Second)
		defer cancel()
		// errors are logged by load
		_, _ = m.load(ctx, ev.UserID)
	case identity.SignedOut:
		m.invalidate(ev.UserID)
		m.logger.Debug("Session cleared", log.FieldOwner, ev.UserID)
	}
}

// Transactions returns a copy of the owner's list, newest first.
func (m *Manager) Transactions(ctx context.Context, owner string) ([]core.Transaction, error) {
	if owner == "" {
		return nil, core.WrapStore("list", core.ErrMissingOwner)
	}
	if txs, ok := m.lists.Get(owner); ok {
		return clone(txs), nil
	}
	txs, err := m.load(ctx, owner)
	if err != nil {
		return []core.Transaction{}, err
	}
	return clone(txs), nil
}

// Add persists n and prepends the stored row to the cached list.
func (m *Manager) Add(ctx context.Context, owner string, n core.NewTransaction) (core.Transaction, error) {
	if err := n.Validate(); err != nil {
		return core.Transaction{}, err
	}
	created, err := m.store.Insert(ctx, owner, n)
	if err != nil {
		m.events.LogError(ctx, "Failed to add transaction", err, log.ComponentSession, log.OpCreate,
			log.NewFields().WithOwner(owner))
		return core.Transaction{}, err
	}

	m.bump(owner)
	m.lists.Update(owner, func(cur []core.Transaction) ([]core.Transaction, bool) {
		// A load that raced the insert may already hold the row.
		for _, t := range cur {
			if t.ID == created.ID {
				return cur, false
			}
		}
		next := make([]core.Transaction, 0, len(cur)+1)
		next = append(next, created)
		return append(next, cur...), true
	})

	m.events.LogTransactionEvent(ctx, log.OpCreate, owner, created.ID,
		created.Kind.String(), created.Amount.String(), created.Category)
	if m.publisher != nil {
		if err := m.publisher.PublishCreated(ctx, created); err != nil {
			m.logger.WarnContext(ctx, "Failed to publish transaction event",
				log.FieldTransactionID, created.ID, log.FieldError, err)
		}
	}
	return created, nil
}

// Delete removes id from the store and from the cached list.
func (m *Manager) Delete(ctx context.Context, owner, id string) error {
	if err := m.store.Delete(ctx, owner, id); err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			m.events.LogError(ctx, "Failed to delete transaction", err, log.ComponentSession, log.OpDelete,
				log.NewFields().WithOwner(owner))
		}
		return err
	}

	m.bump(owner)
	m.lists.Update(owner, func(cur []core.Transaction) ([]core.Transaction, bool) {
		next := make([]core.Transaction, 0, len(cur))
		for _, t := range cur {
			if t.ID != id {
				next = append(next, t)
			}
		}
		return next, true
	})

	m.events.LogTransactionEvent(ctx, log.OpDelete, owner, id, "", "", "")
	if m.publisher != nil {
		if err := m.publisher.PublishDeleted(ctx, owner, id); err != nil {
			m.logger.WarnContext(ctx, "Failed to publish transaction event",
				log.FieldTransactionID, id, log.FieldError, err)
		}
	}
	return nil
}

// Dashboard recomputes totals, month breakdown and chart from the current
// snapshot.
func (m *Manager) Dashboard(ctx context.Context, owner string, order Order) (Dashboard, error) {
	txs, err := m.Transactions(ctx, owner)
	if err != nil {
		return Dashboard{Order: order}, err
	}
	return BuildDashboard(txs, order), nil
}

// BuildDashboard derives every view model from txs.
func BuildDashboard(txs []core.Transaction, order Order) Dashboard {
	var months []core.MonthlyBalance
	if order == OrderChronological {
		months = core.ComputeMonthlyBreakdownChronological(txs)
	} else {
		order = OrderFirstSeen
		months = core.ComputeMonthlyBreakdown(txs)
	}
	return Dashboard{
		Count:  len(txs),
		Totals: core.ComputeTotals(txs),
		Months: months,
		Chart:  core.ChartSeries(months),
		Order:  order,
	}
}

// load fetches the owner's list once even under concurrent callers. A
// failed load leaves the owner with no cached state.
func (m *Manager) load(ctx context.Context, owner string) ([]core.Transaction, error) {
	v, err, _ := m.group.Do(owner, func() (interface{}, error) {
		gen := m.generation(owner)
		txs, err := m.store.List(ctx, owner)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		if m.gens[owner] == gen {
			m.lists.Set(owner, txs)
		}
		m.mu.Unlock()
		return txs, nil
	})
	if err != nil {
		m.invalidate(owner)
		m.events.LogError(ctx, "Failed to load transactions", err, log.ComponentSession, log.OpLoad,
			log.NewFields().WithOwner(owner))
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	m.logger.DebugContext(ctx, "Transactions loaded", log.FieldOwner, owner, log.FieldCount, len(v.([]core.Transaction)))
	return v.([]core.Transaction), nil
}

func (m *Manager) generation(owner string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gens[owner]
}

// bump marks any in-flight load for owner as stale.
func (m *Manager) bump(owner string) {
	m.mu.Lock()
	m.gens[owner]++
	m.mu.Unlock()
}

func (m *Manager) invalidate(owner string) {
	m.bump(owner)
	m.lists.Delete(owner)
}

func clone(txs []core.Transaction) []core.Transaction {
	out := make([]core.Transaction, len(txs))
	copy(out, txs)
	return out
}
