package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	Income  Kind = "income"
	Expense Kind = "expense"
)

const maxDescriptionLen = 200

type (
	// Kind decides whether an amount adds to or subtracts from a balance.
	Kind string

	// Transaction is a persisted income or expense owned by one user.
	Transaction struct {
		ID          string
		Description string
		Amount      decimal.Decimal
		Kind        Kind
		Date        time.Time
		Category    string
		Owner       string
	}

	// NewTransaction is the input of an add intent. ID and Owner are
	// assigned by the store.
	NewTransaction struct {
		Description string
		Amount      decimal.Decimal
		Kind        Kind
		Date        time.Time
		Category    string
	}

	// MonthKey identifies a calendar month bucket.
	MonthKey struct {
		Year  int
		Month time.Month
	}
)

// ParseKind accepts the canonical values and the legacy entrada/saida labels.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "income", "entrada":
		return Income, nil
	case "expense", "saida", "saída":
		return Expense, nil
	default:
		return "", ErrInvalidKind
	}
}

// Valid reports whether k is one of the two known kinds.
func (k Kind) Valid() bool {
	return k == Income || k == Expense
}

func (k Kind) String() string {
	return string(k)
}

// Validate checks an add intent before it reaches the store.
func (n NewTransaction) Validate() error {
	desc := strings.TrimSpace(n.Description)
	if desc == "" {
		return ErrEmptyDescription
	}
	if utf8.RuneCountInString(desc) > maxDescriptionLen {
		return fmt.Errorf("%w: max %d characters", ErrDescriptionTooLong, maxDescriptionLen)
	}
	if !n.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !n.Kind.Valid() {
		return ErrInvalidKind
	}
	if n.Date.IsZero() {
		return ErrInvalidDate
	}
	if strings.TrimSpace(n.Category) == "" {
		return ErrEmptyCategory
	}
	return nil
}

// Materialize builds the stored form of n once the store has picked an id.
func (n NewTransaction) Materialize(id, owner string) Transaction {
	return Transaction{
		ID:          id,
		Description: strings.TrimSpace(n.Description),
		Amount:      n.Amount,
		Kind:        n.Kind,
		Date:        n.Date.UTC(),
		Category:    strings.TrimSpace(n.Category),
		Owner:       owner,
	}
}

// MonthKeyOf returns the UTC calendar month of t.
func MonthKeyOf(t time.Time) MonthKey {
	u := t.UTC()
	return MonthKey{Year: u.Year(), Month: u.Month()}
}

// Before reports whether k is an earlier calendar month than o.
func (k MonthKey) Before(o MonthKey) bool {
	if k.Year != o.Year {
		return k.Year < o.Year
	}
	return k.Month < o.Month
}

// String renders the key as YYYY-MM.
func (k MonthKey) String() string {
	return fmt.Sprintf("%04d-%02d", k.Year, int(k.Month))
}

// ParseMonthKey is the inverse of MonthKey.String.
func ParseMonthKey(s string) (MonthKey, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return MonthKey{}, errors.Join(ErrInvalidDate, err)
	}
	return MonthKey{Year: t.Year(), Month: t.Month()}, nil
}
