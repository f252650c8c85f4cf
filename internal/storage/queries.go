package storage

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// TransactionRow mirrors the transactions table. Dates are fixed-width
// UTC text so lexical order equals time order. Amount stays text until
// toTransactions parses it.
type TransactionRow struct {
	ID          string
	Owner       string
	Description string
	Amount      string
	Kind        string
	OccurredAt  string
	Category    string
	CreatedAt   string
	SyncedAt    sql.NullString
}

type UserRow struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    string
}

const createTransaction = `
INSERT INTO transactions (id, owner, description, amount, kind, occurred_at, category, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

type CreateTransactionParams struct {
	ID          string
	Owner       string
	Description string
	Amount      decimal.Decimal
	Kind        string
	OccurredAt  string
	Category    string
	CreatedAt   string
}

func (q *Queries) CreateTransaction(ctx context.Context, arg CreateTransactionParams) error {
	_, err := q.db.ExecContext(ctx, createTransaction,
		arg.ID,
		arg.Owner,
		arg.Description,
		arg.Amount.String(),
		arg.Kind,
		arg.OccurredAt,
		arg.Category,
		arg.CreatedAt,
	)
	return err
}

const transactionColumns = `id, owner, description, amount, kind, occurred_at, category, created_at, synced_at`

const listTransactionsByOwner = `
SELECT ` + transactionColumns + `
FROM transactions
WHERE owner = ?
ORDER BY occurred_at DESC, id ASC`

func (q *Queries) ListTransactionsByOwner(ctx context.Context, owner string) ([]TransactionRow, error) {
	rows, err := q.db.QueryContext(ctx, listTransactionsByOwner, owner)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

const listUnsyncedTransactions = `
SELECT ` + transactionColumns + `
FROM transactions
WHERE synced_at IS NULL
ORDER BY created_at ASC
LIMIT ?`

func (q *Queries) ListUnsyncedTransactions(ctx context.Context, limit int64) ([]TransactionRow, error) {
	rows, err := q.db.QueryContext(ctx, listUnsyncedTransactions, limit)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

const deleteTransaction = `DELETE FROM transactions WHERE id = ? AND owner = ?`

// DeleteTransaction returns the number of rows removed.
func (q *Queries) DeleteTransaction(ctx context.Context, id, owner string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteTransaction, id, owner)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const markTransactionSynced = `UPDATE transactions SET synced_at = ? WHERE id = ?`

func (q *Queries) MarkTransactionSynced(ctx context.Context, id, at string) error {
	_, err := q.db.ExecContext(ctx, markTransactionSynced, at, id)
	return err
}

const createUser = `
INSERT INTO users (id, email, password_hash, created_at)
VALUES (?, ?, ?, ?)`

func (q *Queries) CreateUser(ctx context.Context, arg UserRow) error {
	_, err := q.db.ExecContext(ctx, createUser, arg.ID, arg.Email, arg.PasswordHash, arg.CreatedAt)
	return err
}

const getUserByEmail = `
SELECT id, email, password_hash, created_at
FROM users
WHERE email = ?`

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (UserRow, error) {
	row := q.db.QueryRowContext(ctx, getUserByEmail, email)
	var u UserRow
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	return u, err
}

func scanTransactions(rows *sql.Rows) ([]TransactionRow, error) {
	defer rows.Close()
	items := []TransactionRow{}
	for rows.Next() {
		var i TransactionRow
		if err := rows.Scan(
			&i.ID,
			&i.Owner,
			&i.Description,
			&i.Amount,
			&i.Kind,
			&i.OccurredAt,
			&i.Category,
			&i.CreatedAt,
			&i.SyncedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
