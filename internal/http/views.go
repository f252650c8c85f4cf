package http

import (
	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/identity"
	"fintrack/internal/present"
	"fintrack/internal/session"
)

// JSON view models. Raw amounts are exact decimal strings; *_formatted
// fields are rounded for display in the requested locale.

type transactionView struct {
	ID              string `json:"id"`
	Description     string `json:"description"`
	Amount          string `json:"amount"`
	AmountFormatted string `json:"amount_formatted"`
	Type            string `json:"type"`
	Category        string `json:"category"`
	Date            string `json:"date"`
	DateFormatted   string `json:"date_formatted"`
}

type moneyView struct {
	Value     string `json:"value"`
	Formatted string `json:"formatted"`
}

type totalsView struct {
	Income   moneyView `json:"income"`
	Expenses moneyView `json:"expenses"`
	Balance  moneyView `json:"balance"`
}

type monthView struct {
	Month          string    `json:"month"`
	Label          string    `json:"label"`
	Income         moneyView `json:"income"`
	Expenses       moneyView `json:"expenses"`
	Balance        moneyView `json:"balance"`
	RunningBalance moneyView `json:"running_balance"`
}

type chartView struct {
	Labels   []string `json:"labels"`
	Income   []string `json:"income"`
	Expenses []string `json:"expenses"`
}

type dashboardView struct {
	Locale string      `json:"locale"`
	Order  string      `json:"order"`
	Count  int         `json:"count"`
	Empty  bool        `json:"empty"`
	Totals totalsView  `json:"totals"`
	Months []monthView `json:"months"`
	Chart  chartView   `json:"chart"`
}

type userView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type sessionView struct {
	Token     string   `json:"token"`
	ExpiresAt string   `json:"expires_at"`
	User      userView `json:"user"`
}

func newTransactionView(t core.Transaction, loc present.Locale) transactionView {
	date := ""
	if !t.Date.IsZero() {
		date = t.Date.UTC().Format("2006-01-02")
	}
	return transactionView{
		ID:              t.ID,
		Description:     t.Description,
		Amount:          t.Amount.String(),
		AmountFormatted: loc.Money(t.Amount),
		Type:            t.Kind.String(),
		Category:        t.Category,
		Date:            date,
		DateFormatted:   loc.Date(t.Date),
	}
}

func newTransactionViews(txs []core.Transaction, loc present.Locale) []transactionView {
	out := make([]transactionView, 0, len(txs))
	for _, t := range txs {
		out = append(out, newTransactionView(t, loc))
	}
	return out
}

func newMoneyView(d decimal.Decimal, loc present.Locale) moneyView {
	return moneyView{Value: d.String(), Formatted: loc.Money(d)}
}

func newDashboardView(d session.Dashboard, loc present.Locale) dashboardView {
	v := dashboardView{
		Locale: loc.Tag.String(),
		Order:  string(d.Order),
		Count:  d.Count,
		Empty:  d.Count == 0,
		Totals: totalsView{
			Income:   newMoneyView(d.Totals.TotalIncome, loc),
			Expenses: newMoneyView(d.Totals.TotalExpenses, loc),
			Balance:  newMoneyView(d.Totals.Balance, loc),
		},
		Months: make([]monthView, 0, len(d.Months)),
		Chart: chartView{
			Labels:   make([]string, 0, len(d.Chart.Months)),
			Income:   make([]string, 0, len(d.Chart.Income)),
			Expenses: make([]string, 0, len(d.Chart.Expenses)),
		},
	}
	for _, m := range d.Months {
		v.Months = append(v.Months, monthView{
			Month:          m.Month.String(),
			Label:          loc.MonthLabel(m.Month),
			Income:         newMoneyView(m.Income, loc),
			Expenses:       newMoneyView(m.Expenses, loc),
			Balance:        newMoneyView(m.Balance, loc),
			RunningBalance: newMoneyView(m.RunningBalance, loc),
		})
	}
	for i, k := range d.Chart.Months {
		v.Chart.Labels = append(v.Chart.Labels, loc.MonthLabel(k))
		v.Chart.Income = append(v.Chart.Income, d.Chart.Income[i].StringFixed(2))
		v.Chart.Expenses = append(v.Chart.Expenses, d.Chart.Expenses[i].StringFixed(2))
	}
	return v
}

func newSessionView(s identity.Session) sessionView {
	return sessionView{
		Token:     s.Token,
		ExpiresAt: s.Identity.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		User:      userView{ID: s.Identity.UserID, Email: s.Identity.Email},
	}
}
