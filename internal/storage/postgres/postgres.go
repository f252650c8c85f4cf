// Package postgres stores transactions and users in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"fintrack/internal/core"
	"fintrack/internal/storage"
	"fintrack/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const uniqueViolation = "23505"

type Repository struct {
	db *sql.DB
}

var (
	_ store.Store       = (*Repository)(nil)
	_ store.SyncTracker = (*Repository)(nil)
	_ store.Pinger      = (*Repository)(nil)
)

// Open connects to dsn and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Repository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Repository{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}
	return storage.Migrate(migrationsFS, "postgres", driver)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) Ping(ctx context.Context) error {
	return core.WrapStore("ping", r.db.PingContext(ctx))
}

const selectColumns = `id, owner, description, amount, kind, occurred_at, category`

func (r *Repository) List(ctx context.Context, owner string) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM transactions WHERE owner = $1 ORDER BY occurred_at DESC, id ASC`,
		owner)
	if err != nil {
		return nil, core.WrapStore("list", err)
	}
	out, err := scanTransactions(rows)
	return out, core.WrapStore("list", err)
}

func (r *Repository) Insert(ctx context.Context, owner string, n core.NewTransaction) (core.Transaction, error) {
	if err := n.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if owner == "" {
		return core.Transaction{}, core.WrapStore("insert", core.ErrMissingOwner)
	}
	t := n.Materialize(uuid.NewString(), owner)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (id, owner, description, amount, kind, occurred_at, category)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Owner, t.Description, t.Amount, string(t.Kind), t.Date, t.Category)
	if err != nil {
		return core.Transaction{}, core.WrapStore("insert", err)
	}
	slog.DebugContext(ctx, "Transaction saved to Postgres", "id", t.ID, "owner", t.Owner)
	return t, nil
}

func (r *Repository) Delete(ctx context.Context, owner, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return core.WrapStore("delete", core.ErrNotFound)
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1 AND owner = $2`, id, owner)
	if err != nil {
		return core.WrapStore("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.WrapStore("delete", err)
	}
	if n == 0 {
		return core.WrapStore("delete", core.ErrNotFound)
	}
	return nil
}

func (r *Repository) ListUnsynced(ctx context.Context, limit int) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM transactions WHERE synced_at IS NULL ORDER BY created_at ASC LIMIT $1`,
		limit)
	if err != nil {
		return nil, core.WrapStore("list unsynced", err)
	}
	out, err := scanTransactions(rows)
	return out, core.WrapStore("list unsynced", err)
}

func (r *Repository) MarkSynced(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE transactions SET synced_at = now() WHERE id = $1`, id)
	return core.WrapStore("mark synced", err)
}

func (r *Repository) CreateUser(ctx context.Context, email, passwordHash string) (store.User, error) {
	u := store.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
		u.ID, u.Email, u.PasswordHash, u.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return store.User{}, core.WrapStore("create user", core.ErrConflict)
	}
	if err != nil {
		return store.User{}, core.WrapStore("create user", err)
	}
	return u, nil
}

func (r *Repository) FindUserByEmail(ctx context.Context, email string) (store.User, error) {
	var u store.User
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, core.WrapStore("find user", core.ErrNotFound)
	}
	if err != nil {
		return store.User{}, core.WrapStore("find user", err)
	}
	return u, nil
}

func scanTransactions(rows *sql.Rows) ([]core.Transaction, error) {
	defer rows.Close()
	out := []core.Transaction{}
	for rows.Next() {
		var (
			t    core.Transaction
			kind string
		)
		if err := rows.Scan(&t.ID, &t.Owner, &t.Description, &t.Amount, &kind, &t.Date, &t.Category); err != nil {
			return nil, err
		}
		t.Kind = core.Kind(kind)
		t.Date = t.Date.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}
