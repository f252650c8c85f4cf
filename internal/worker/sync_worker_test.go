package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
)

type fakeMirror struct {
	mu        sync.Mutex
	rows      map[string]core.Transaction
	appendErr error
	deleteErr error
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{rows: map[string]core.Transaction{}}
}

func (m *fakeMirror) Append(_ context.Context, tx core.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.rows[tx.ID] = tx
	return nil
}

func (m *fakeMirror) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.rows, id)
	return nil
}

func (m *fakeMirror) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type fakeTracker struct {
	mu       sync.Mutex
	unsynced []core.Transaction
	marked   []string
	listErr  error
}

func (f *fakeTracker) ListUnsynced(_ context.Context, limit int) ([]core.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	n := len(f.unsynced)
	if limit < n {
		n = limit
	}
	return append([]core.Transaction(nil), f.unsynced[:n]...), nil
}

func (f *fakeTracker) MarkSynced(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, id)
	kept := f.unsynced[:0]
	for _, tx := range f.unsynced {
		if tx.ID != id {
			kept = append(kept, tx)
		}
	}
	f.unsynced = kept
	return nil
}

func sample(id string) core.Transaction {
	return core.Transaction{
		ID:          id,
		Owner:       "alice",
		Description: "Coffee",
		Amount:      decimal.RequireFromString("3.50"),
		Kind:        core.Expense,
		Date:        time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		Category:    "Food",
	}
}

func TestSyncWorker_HandleEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("created event appends and marks", func(t *testing.T) {
		mirror, tracker := newFakeMirror(), &fakeTracker{}
		w := NewSyncWorker(mirror, tracker, 10)

		if err := w.HandleEvent(ctx, amqp.NewCreatedEvent(sample("a"))); err != nil {
			t.Fatalf("HandleEvent: %v", err)
		}
		if mirror.count() != 1 {
			t.Fatalf("expected 1 mirrored row, got %d", mirror.count())
		}
		if len(tracker.marked) != 1 || tracker.marked[0] != "a" {
			t.Fatalf("expected a marked, got %v", tracker.marked)
		}
	})

	t.Run("deleted event removes row", func(t *testing.T) {
		mirror := newFakeMirror()
		mirror.rows["a"] = sample("a")
		w := NewSyncWorker(mirror, nil, 10)

		if err := w.HandleEvent(ctx, amqp.NewDeletedEvent("alice", "a")); err != nil {
			t.Fatalf("HandleEvent: %v", err)
		}
		if mirror.count() != 0 {
			t.Fatalf("expected row removed")
		}
	})

	t.Run("mirror failure is returned for requeue", func(t *testing.T) {
		mirror, tracker := newFakeMirror(), &fakeTracker{}
		mirror.appendErr = errors.New("quota exceeded")
		w := NewSyncWorker(mirror, tracker, 10)

		if err := w.HandleEvent(ctx, amqp.NewCreatedEvent(sample("a"))); err == nil {
			t.Fatal("expected error")
		}
		if len(tracker.marked) != 0 {
			t.Fatalf("failed append must not be marked, got %v", tracker.marked)
		}
	})

	t.Run("bad payload kind", func(t *testing.T) {
		ev := amqp.NewCreatedEvent(sample("a"))
		ev.Transaction.Type = "transfer"
		if err := NewSyncWorker(newFakeMirror(), nil, 10).HandleEvent(ctx, ev); err == nil {
			t.Fatal("expected decode error")
		}
	})
}

func TestSyncWorker_ProcessPending(t *testing.T) {
	ctx := context.Background()

	t.Run("exports up to limit", func(t *testing.T) {
		mirror := newFakeMirror()
		tracker := &fakeTracker{unsynced: []core.Transaction{sample("a"), sample("b"), sample("c")}}
		w := NewSyncWorker(mirror, tracker, 2)

		n, err := w.ProcessPending(ctx, 2)
		if err != nil || n != 2 {
			t.Fatalf("expected 2 synced, got %d (%v)", n, err)
		}
		if len(tracker.unsynced) != 1 {
			t.Fatalf("expected 1 left, got %d", len(tracker.unsynced))
		}
	})

	t.Run("failures are left for the next sweep", func(t *testing.T) {
		mirror := newFakeMirror()
		mirror.appendErr = errors.New("down")
		tracker := &fakeTracker{unsynced: []core.Transaction{sample("a")}}
		w := NewSyncWorker(mirror, tracker, 10)

		n, err := w.ProcessPending(ctx, 10)
		if err != nil || n != 0 {
			t.Fatalf("expected 0 synced without error, got %d (%v)", n, err)
		}
		if len(tracker.unsynced) != 1 {
			t.Fatal("row should still be pending")
		}
	})

	t.Run("list error", func(t *testing.T) {
		tracker := &fakeTracker{listErr: errors.New("db locked")}
		if _, err := NewSyncWorker(newFakeMirror(), tracker, 10).ProcessPending(ctx, 10); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("no tracker", func(t *testing.T) {
		n, err := NewSyncWorker(newFakeMirror(), nil, 10).ProcessPending(ctx, 10)
		if err != nil || n != 0 {
			t.Fatalf("expected no-op, got %d (%v)", n, err)
		}
	})
}

func TestSyncWorker_StartupSyncCheck(t *testing.T) {
	mirror := newFakeMirror()
	tracker := &fakeTracker{unsynced: []core.Transaction{sample("a"), sample("b")}}
	w := NewSyncWorker(mirror, tracker, 1)

	if err := w.StartupSyncCheck(context.Background()); err != nil {
		t.Fatalf("StartupSyncCheck: %v", err)
	}
	if mirror.count() != 2 {
		t.Fatalf("startup check should use a larger batch, mirrored %d", mirror.count())
	}
}

func TestSyncWorker_StartSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid schedule", func(t *testing.T) {
		w := NewSyncWorker(newFakeMirror(), &fakeTracker{}, 10)
		if err := w.StartSweep(ctx, "not a schedule"); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("runs on schedule", func(t *testing.T) {
		mirror := newFakeMirror()
		tracker := &fakeTracker{unsynced: []core.Transaction{sample("a")}}
		w := NewSyncWorker(mirror, tracker, 10)

		if err := w.StartSweep(ctx, "@every 1s"); err != nil {
			t.Fatalf("StartSweep: %v", err)
		}
		defer w.Stop()
		if err := w.StartSweep(ctx, "@every 1s"); err == nil {
			t.Fatal("second start should fail")
		}

		deadline := time.Now().Add(5 * time.Second)
		for mirror.count() == 0 && time.Now().Before(deadline) {
			time.Sleep(50 * time.Millisecond)
		}
		if mirror.count() != 1 {
			t.Fatal("sweep did not export the pending row")
		}
	})

	t.Run("stop without start", func(t *testing.T) {
		NewSyncWorker(newFakeMirror(), nil, 10).Stop()
	})
}

// appendOnlyMirror behaves like the sheet: Append looks for the id, then
// writes a new row, and the two steps are not atomic.
type appendOnlyMirror struct {
	mu   sync.Mutex
	rows []string
	gap  time.Duration
}

func (m *appendOnlyMirror) Append(_ context.Context, tx core.Transaction) error {
	m.mu.Lock()
	for _, id := range m.rows {
		if id == tx.ID {
			m.mu.Unlock()
			return nil
		}
	}
	m.mu.Unlock()

	time.Sleep(m.gap)

	m.mu.Lock()
	m.rows = append(m.rows, tx.ID)
	m.mu.Unlock()
	return nil
}

func (m *appendOnlyMirror) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, row := range m.rows {
		if row == id {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *appendOnlyMirror) copies(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, row := range m.rows {
		if row == id {
			n++
		}
	}
	return n
}

func TestSyncWorker_EventAndSweepDoNotDuplicate(t *testing.T) {
	ctx := context.Background()
	tx := sample("tx-1")
	mirror := &appendOnlyMirror{gap: 20 * time.Millisecond}
	tracker := &fakeTracker{unsynced: []core.Transaction{tx}}
	w := NewSyncWorker(mirror, tracker, 10)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 2; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- w.HandleEvent(ctx, amqp.NewCreatedEvent(tx))
		}()
		go func() {
			defer wg.Done()
			_, err := w.ProcessPending(ctx, 10)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("sync error: %v", err)
		}
	}

	if got := mirror.copies(tx.ID); got != 1 {
		t.Fatalf("rows with id %s = %d, want 1", tx.ID, got)
	}

	if err := w.HandleEvent(ctx, amqp.NewDeletedEvent(tx.Owner, tx.ID)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := mirror.copies(tx.ID); got != 0 {
		t.Fatalf("rows left after delete = %d", got)
	}
}
