package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/identity"
	"fintrack/internal/store"
	"fintrack/internal/store/memory"
)

type countingStore struct {
	*memory.Store
	lists   atomic.Int32
	failing atomic.Bool
	gate    chan struct{}
}

func (s *countingStore) List(ctx context.Context, owner string) ([]core.Transaction, error) {
	s.lists.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if s.failing.Load() {
		return nil, core.WrapStore("list", errors.New("connection refused"))
	}
	return s.Store.List(ctx, owner)
}

var _ store.TransactionStore = (*countingStore)(nil)

type recordingPublisher struct {
	mu      sync.Mutex
	created []string
	deleted []string
	err     error
}

func (p *recordingPublisher) PublishCreated(_ context.Context, t core.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, t.ID)
	return p.err
}

func (p *recordingPublisher) PublishDeleted(_ context.Context, _, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, id)
	return p.err
}

func newTx(desc, amount string, kind core.Kind, date string) core.NewTransaction {
	d, _ := time.Parse("2006-01-02", date)
	return core.NewTransaction{
		Description: desc,
		Amount:      decimal.RequireFromString(amount),
		Kind:        kind,
		Date:        d,
		Category:    "General",
	}
}

func newManager(t *testing.T) (*Manager, *countingStore, *recordingPublisher) {
	t.Helper()
	st := &countingStore{Store: memory.New()}
	pub := &recordingPublisher{}
	return NewManager(st, Options{CacheSize: 10, CacheTTL: time.Minute, Publisher: pub}), st, pub
}

func TestManagerLoadsOnceAndCaches(t *testing.T) {
	m, st, _ := newManager(t)
	ctx := context.Background()
	_, _ = st.Store.Insert(ctx, "alice", newTx("Salary", "100", core.Income, "2024-01-15"))

	for i := 0; i < 3; i++ {
		txs, err := m.Transactions(ctx, "alice")
		if err != nil || len(txs) != 1 {
			t.Fatalf("transactions: %v %v", txs, err)
		}
	}
	if n := st.lists.Load(); n != 1 {
		t.Fatalf("expected one store load, got %d", n)
	}
}

func TestManagerConcurrentLoadsCollapse(t *testing.T) {
	st := &countingStore{Store: memory.New(), gate: make(chan struct{})}
	m := NewManager(st, Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Transactions(ctx, "alice"); err != nil {
				t.Errorf("transactions: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(st.gate)
	wg.Wait()

	if n := st.lists.Load(); n < 1 || n > 5 {
		t.Fatalf("unexpected load count %d", n)
	}
	if _, ok := m.lists.Get("alice"); !ok {
		t.Fatal("expected list cached after load")
	}
}

func TestManagerAddPrependsAndPublishes(t *testing.T) {
	m, st, pub := newManager(t)
	ctx := context.Background()
	_, _ = st.Store.Insert(ctx, "alice", newTx("Newest", "10", core.Expense, "2024-05-01"))
	if _, err := m.Transactions(ctx, "alice"); err != nil {
		t.Fatalf("load: %v", err)
	}

	created, err := m.Add(ctx, "alice", newTx("Backdated", "5", core.Income, "2023-01-01"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	txs, _ := m.Transactions(ctx, "alice")
	if len(txs) != 2 || txs[0].ID != created.ID {
		t.Fatalf("expected new row prepended, got %+v", txs)
	}
	if st.lists.Load() != 1 {
		t.Fatalf("add must not reload the list")
	}
	if len(pub.created) != 1 || pub.created[0] != created.ID {
		t.Fatalf("expected created event, got %v", pub.created)
	}
}

// racingStore runs afterInsert once the row is stored, standing in for a
// load that lands between the insert and the cache update.
type racingStore struct {
	*memory.Store
	afterInsert func(owner string)
}

func (s *racingStore) Insert(ctx context.Context, owner string, n core.NewTransaction) (core.Transaction, error) {
	created, err := s.Store.Insert(ctx, owner, n)
	if err == nil && s.afterInsert != nil {
		s.afterInsert(owner)
	}
	return created, err
}

func TestManagerAddAfterRacingLoadKeepsOneCopy(t *testing.T) {
	st := &racingStore{Store: memory.New()}
	m := NewManager(st, Options{})
	ctx := context.Background()
	st.afterInsert = func(owner string) {
		txs, _ := st.Store.List(ctx, owner)
		m.lists.Set(owner, txs)
	}

	created, err := m.Add(ctx, "alice", newTx("Coffee", "3", core.Expense, "2024-05-01"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	txs, err := m.Transactions(ctx, "alice")
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) != 1 || txs[0].ID != created.ID {
		t.Fatalf("expected exactly one copy of %s, got %+v", created.ID, txs)
	}
}

func TestManagerAddRejectsInvalid(t *testing.T) {
	m, _, pub := newManager(t)
	_, err := m.Add(context.Background(), "alice", newTx("", "10", core.Expense, "2024-05-01"))
	if !errors.Is(err, core.ErrEmptyDescription) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(pub.created) != 0 {
		t.Fatal("nothing should be published")
	}
}

func TestManagerPublishFailureDoesNotFailAdd(t *testing.T) {
	m, _, pub := newManager(t)
	pub.err = errors.New("broker down")
	if _, err := m.Add(context.Background(), "alice", newTx("x", "1", core.Income, "2024-01-01")); err != nil {
		t.Fatalf("add should succeed, got %v", err)
	}
}

func TestManagerDelete(t *testing.T) {
	m, _, pub := newManager(t)
	ctx := context.Background()
	a, _ := m.Add(ctx, "alice", newTx("a", "1", core.Income, "2024-01-01"))
	b, _ := m.Add(ctx, "alice", newTx("b", "2", core.Income, "2024-01-02"))
	if _, err := m.Transactions(ctx, "alice"); err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := m.Delete(ctx, "alice", a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	txs, _ := m.Transactions(ctx, "alice")
	if len(txs) != 1 || txs[0].ID != b.ID {
		t.Fatalf("expected only b left, got %+v", txs)
	}
	if err := m.Delete(ctx, "alice", a.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(pub.deleted) != 1 {
		t.Fatalf("expected one deleted event, got %v", pub.deleted)
	}
}

func TestManagerLoadFailureResetsToEmpty(t *testing.T) {
	m, st, _ := newManager(t)
	ctx := context.Background()
	st.failing.Store(true)

	txs, err := m.Transactions(ctx, "alice")
	var se *core.StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if txs == nil || len(txs) != 0 {
		t.Fatalf("expected empty list, got %v", txs)
	}

	st.failing.Store(false)
	if _, err := m.Transactions(ctx, "alice"); err != nil {
		t.Fatalf("expected retry on next call to succeed: %v", err)
	}
}

func TestManagerAuthEvents(t *testing.T) {
	m, st, _ := newManager(t)
	ctx := context.Background()
	_, _ = st.Store.Insert(ctx, "alice", newTx("a", "1", core.Income, "2024-01-01"))

	m.OnAuthEvent(identity.Event{Type: identity.SignedIn, UserID: "alice"})
	if _, ok := m.lists.Get("alice"); !ok {
		t.Fatal("expected list loaded on sign-in")
	}
	m.OnAuthEvent(identity.Event{Type: identity.SignedOut, UserID: "alice"})
	if _, ok := m.lists.Get("alice"); ok {
		t.Fatal("expected list cleared on sign-out")
	}
}

func TestManagerDashboard(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()
	_, _ = m.Add(ctx, "alice", newTx("jan", "100", core.Income, "2024-01-01"))
	_, _ = m.Add(ctx, "alice", newTx("feb", "50", core.Income, "2024-02-01"))

	d, err := m.Dashboard(ctx, "alice", OrderFirstSeen)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if d.Count != 2 || !d.Totals.Balance.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("unexpected totals %+v", d.Totals)
	}
	if len(d.Months) != 2 || d.Months[0].Month.String() != "2024-02" {
		t.Fatalf("expected newest bucket first, got %+v", d.Months)
	}
	if !d.Months[1].RunningBalance.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("unexpected running balance %s", d.Months[1].RunningBalance)
	}

	chrono, _ := m.Dashboard(ctx, "alice", ParseOrder("chronological"))
	if chrono.Order != OrderChronological || chrono.Months[0].Month.String() != "2024-01" {
		t.Fatalf("expected chronological buckets, got %+v", chrono.Months)
	}
	if !chrono.Months[0].RunningBalance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected chronological running balance %s", chrono.Months[0].RunningBalance)
	}
	if len(chrono.Chart.Months) != 2 {
		t.Fatalf("expected chart series, got %+v", chrono.Chart)
	}

	if ParseOrder("bogus") != OrderFirstSeen {
		t.Fatal("unknown order must default to first seen")
	}
}
