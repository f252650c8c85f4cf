package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"fintrack/internal/core"
	"fintrack/internal/store"
)

// timeLayout is fixed width so ORDER BY on the text column sorts by time.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

var (
	_ store.Store       = (*SQLiteRepository)(nil)
	_ store.SyncTracker = (*SQLiteRepository)(nil)
	_ store.Pinger      = (*SQLiteRepository)(nil)
)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, queries: New(db)}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return core.WrapStore("ping", r.db.PingContext(ctx))
}

// List implements store.TransactionStore.
func (r *SQLiteRepository) List(ctx context.Context, owner string) ([]core.Transaction, error) {
	rows, err := r.queries.ListTransactionsByOwner(ctx, owner)
	if err != nil {
		return nil, core.WrapStore("list", err)
	}
	return toTransactions(ctx, rows), nil
}

// Insert implements store.TransactionStore.
func (r *SQLiteRepository) Insert(ctx context.Context, owner string, n core.NewTransaction) (core.Transaction, error) {
	if err := n.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if owner == "" {
		return core.Transaction{}, core.WrapStore("insert", core.ErrMissingOwner)
	}
	t := n.Materialize(uuid.NewString(), owner)

	err := r.queries.CreateTransaction(ctx, CreateTransactionParams{
		ID:          t.ID,
		Owner:       t.Owner,
		Description: t.Description,
		Amount:      t.Amount,
		Kind:        string(t.Kind),
		OccurredAt:  t.Date.Format(timeLayout),
		Category:    t.Category,
		CreatedAt:   time.Now().UTC().Format(timeLayout),
	})
	if err != nil {
		return core.Transaction{}, core.WrapStore("insert", err)
	}

	slog.DebugContext(ctx, "Transaction saved to SQLite",
		"id", t.ID,
		"owner", t.Owner,
		"kind", t.Kind,
		"amount", t.Amount.String())

	return t, nil
}

// Delete implements store.TransactionStore.
func (r *SQLiteRepository) Delete(ctx context.Context, owner, id string) error {
	n, err := r.queries.DeleteTransaction(ctx, id, owner)
	if err != nil {
		return core.WrapStore("delete", err)
	}
	if n == 0 {
		return core.WrapStore("delete", core.ErrNotFound)
	}
	return nil
}

// ListUnsynced returns rows not yet mirrored, oldest first.
func (r *SQLiteRepository) ListUnsynced(ctx context.Context, limit int) ([]core.Transaction, error) {
	rows, err := r.queries.ListUnsyncedTransactions(ctx, int64(limit))
	if err != nil {
		return nil, core.WrapStore("list unsynced", err)
	}
	return toTransactions(ctx, rows), nil
}

func (r *SQLiteRepository) MarkSynced(ctx context.Context, id string) error {
	if err := r.queries.MarkTransactionSynced(ctx, id, time.Now().UTC().Format(timeLayout)); err != nil {
		return core.WrapStore("mark synced", err)
	}
	slog.DebugContext(ctx, "Transaction marked as synced", "id", id)
	return nil
}

// CreateUser implements store.UserStore.
func (r *SQLiteRepository) CreateUser(ctx context.Context, email, passwordHash string) (store.User, error) {
	now := time.Now().UTC()
	u := store.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: passwordHash,
		CreatedAt:    now,
	}
	err := r.queries.CreateUser(ctx, UserRow{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    now.Format(timeLayout),
	})
	if isUniqueViolation(err) {
		return store.User{}, core.WrapStore("create user", core.ErrConflict)
	}
	if err != nil {
		return store.User{}, core.WrapStore("create user", err)
	}
	return u, nil
}

// FindUserByEmail implements store.UserStore.
func (r *SQLiteRepository) FindUserByEmail(ctx context.Context, email string) (store.User, error) {
	row, err := r.queries.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, core.WrapStore("find user", core.ErrNotFound)
	}
	if err != nil {
		return store.User{}, core.WrapStore("find user", err)
	}
	created, _ := time.Parse(timeLayout, row.CreatedAt)
	return store.User{
		ID:           row.ID,
		Email:        row.Email,
		PasswordHash: row.PasswordHash,
		CreatedAt:    created,
	}, nil
}

// toTransactions maps rows to domain values. An unreadable date or amount
// becomes a zero value so one bad row contributes nothing instead of
// failing the list.
func toTransactions(ctx context.Context, rows []TransactionRow) []core.Transaction {
	out := make([]core.Transaction, 0, len(rows))
	for _, row := range rows {
		date, err := time.Parse(timeLayout, row.OccurredAt)
		if err != nil {
			slog.WarnContext(ctx, "Unreadable transaction date", "id", row.ID, "value", row.OccurredAt, "error", err)
			date = time.Time{}
		}
		amount, err := decimal.NewFromString(row.Amount)
		if err != nil {
			slog.WarnContext(ctx, "Unreadable transaction amount", "id", row.ID, "value", row.Amount, "error", err)
			amount = decimal.Zero
		}
		out = append(out, core.Transaction{
			ID:          row.ID,
			Description: row.Description,
			Amount:      amount,
			Kind:        core.Kind(row.Kind),
			Date:        date,
			Category:    row.Category,
			Owner:       row.Owner,
		})
	}
	return out
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
