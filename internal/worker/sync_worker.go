package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/store"
)

// Mirror is the spreadsheet side of the sync.
type Mirror interface {
	Append(ctx context.Context, tx core.Transaction) error
	DeleteByID(ctx context.Context, id string) error
}

// SyncWorker keeps the spreadsheet mirror in step with the transaction store.
// Events from AMQP are applied as they arrive; a cron sweep exports whatever
// the store still reports as unsynced.
type SyncWorker struct {
	mirror    Mirror
	tracker   store.SyncTracker
	batchSize int

	// writeMu serializes mirror writes. Append checks for the id before
	// writing, so the event path and the sweep must not interleave.
	writeMu sync.Mutex

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSyncWorker builds a worker. tracker may be nil, in which case created
// rows are mirrored but never marked and the sweep is a no-op.
func NewSyncWorker(mirror Mirror, tracker store.SyncTracker, batchSize int) *SyncWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &SyncWorker{
		mirror:    mirror,
		tracker:   tracker,
		batchSize: batchSize,
	}
}

// HandleEvent applies one transaction event to the mirror. A returned error
// makes the consumer requeue the message.
func (w *SyncWorker) HandleEvent(ctx context.Context, ev *amqp.TransactionEvent) error {
	slog.InfoContext(ctx, "Processing transaction event",
		"component", "worker",
		"event", ev.Event,
		"transaction_id", ev.ID,
		"owner", ev.Owner)

	switch ev.Event {
	case amqp.EventCreated:
		tx, err := ev.Transaction.ToTransaction()
		if err != nil {
			return fmt.Errorf("decode transaction %s: %w", ev.ID, err)
		}
		return w.syncTransaction(ctx, tx)
	case amqp.EventDeleted:
		w.writeMu.Lock()
		err := w.mirror.DeleteByID(ctx, ev.ID)
		w.writeMu.Unlock()
		if err != nil {
			return fmt.Errorf("delete %s from mirror: %w", ev.ID, err)
		}
		slog.InfoContext(ctx, "Removed transaction from mirror", "component", "worker", "transaction_id", ev.ID)
		return nil
	default:
		return fmt.Errorf("unknown event %q", ev.Event)
	}
}

// ProcessPending exports up to limit unsynced transactions and returns how
// many made it to the mirror. Individual failures are logged and left for
// the next sweep.
func (w *SyncWorker) ProcessPending(ctx context.Context, limit int) (int, error) {
	if w.tracker == nil {
		return 0, nil
	}
	pending, err := w.tracker.ListUnsynced(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("get pending transactions: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	slog.InfoContext(ctx, "Processing pending transactions", "component", "worker", "count", len(pending))

	synced := 0
	for _, tx := range pending {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}
		if err := w.syncTransaction(ctx, tx); err != nil {
			slog.ErrorContext(ctx, "Failed to sync transaction", "component", "worker", "transaction_id", tx.ID, "error", err)
			continue
		}
		synced++
	}
	return synced, nil
}

// StartupSyncCheck runs a larger sweep once, to catch up on events missed
// while the worker was down.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	synced, err := w.ProcessPending(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("startup sync: %w", err)
	}
	slog.InfoContext(ctx, "Startup sync completed", "component", "worker", "synced", synced)
	return nil
}

// StartSweep schedules ProcessPending on a cron schedule such as "@every 5m"
// or "*/10 * * * *". Runs never overlap.
func (w *SyncWorker) StartSweep(ctx context.Context, schedule string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		return errors.New("sweep already started")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(schedule, func() {
		if _, err := w.ProcessPending(ctx, w.batchSize); err != nil {
			slog.ErrorContext(ctx, "Sweep failed", "component", "worker", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweep %q: %w", schedule, err)
	}
	c.Start()
	w.cron = c
	slog.InfoContext(ctx, "Sync sweep scheduled", "component", "worker", "schedule", schedule, "batch_size", w.batchSize)
	return nil
}

// Stop halts the sweep and waits for a running export to finish.
func (w *SyncWorker) Stop() {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (w *SyncWorker) syncTransaction(ctx context.Context, tx core.Transaction) error {
	w.writeMu.Lock()
	err := w.mirror.Append(ctx, tx)
	w.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("append to sheets: %w", err)
	}

	if w.tracker != nil {
		// Don't fail here: the row is in the sheet and Append skips known ids.
		if err := w.tracker.MarkSynced(ctx, tx.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to mark as synced", "component", "worker", "transaction_id", tx.ID, "error", err)
		}
	}

	slog.InfoContext(ctx, "Successfully synced transaction",
		"component", "worker",
		"transaction_id", tx.ID,
		"kind", tx.Kind,
		"amount", tx.Amount.String())
	return nil
}
