package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

type (
	// Totals is the all-time summary of a transaction list.
	Totals struct {
		TotalIncome   decimal.Decimal
		TotalExpenses decimal.Decimal
		Balance       decimal.Decimal
	}

	// MonthlyBalance is one month bucket of the breakdown. RunningBalance
	// is the cumulative balance after this bucket in iteration order.
	MonthlyBalance struct {
		Month          MonthKey
		Income         decimal.Decimal
		Expenses       decimal.Decimal
		Balance        decimal.Decimal
		RunningBalance decimal.Decimal
	}

	// Chart holds the income and expense series of a bar chart, one point
	// per month bucket.
	Chart struct {
		Months   []MonthKey
		Income   []decimal.Decimal
		Expenses []decimal.Decimal
	}
)

// ComputeTotals sums income and expenses over txs. The result does not
// depend on the order of txs.
func ComputeTotals(txs []Transaction) Totals {
	income, expenses := decimal.Zero, decimal.Zero
	for _, t := range txs {
		switch t.Kind {
		case Income:
			income = income.Add(contribution(t))
		case Expense:
			expenses = expenses.Add(contribution(t))
		}
	}
	return Totals{
		TotalIncome:   income,
		TotalExpenses: expenses,
		Balance:       income.Sub(expenses),
	}
}

// ComputeMonthlyBreakdown groups txs by calendar month. Buckets appear in
// the order their month is first seen in txs, so a newest-first list yields
// newest-first buckets and a running balance that accumulates backwards in
// time. Transactions without a date are left out of every bucket.
func ComputeMonthlyBreakdown(txs []Transaction) []MonthlyBalance {
	out := bucketize(txs)
	accumulate(out)
	return out
}

// ComputeMonthlyBreakdownChronological is ComputeMonthlyBreakdown with the
// buckets sorted oldest first before the running balance is accumulated.
func ComputeMonthlyBreakdownChronological(txs []Transaction) []MonthlyBalance {
	out := bucketize(txs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Month.Before(out[j].Month)
	})
	accumulate(out)
	return out
}

// ChartSeries projects a breakdown onto parallel chart series.
func ChartSeries(months []MonthlyBalance) Chart {
	c := Chart{
		Months:   make([]MonthKey, 0, len(months)),
		Income:   make([]decimal.Decimal, 0, len(months)),
		Expenses: make([]decimal.Decimal, 0, len(months)),
	}
	for _, m := range months {
		c.Months = append(c.Months, m.Month)
		c.Income = append(c.Income, m.Income)
		c.Expenses = append(c.Expenses, m.Expenses)
	}
	return c
}

func bucketize(txs []Transaction) []MonthlyBalance {
	out := make([]MonthlyBalance, 0)
	index := make(map[MonthKey]int)
	for _, t := range txs {
		if t.Date.IsZero() {
			continue
		}
		key := MonthKeyOf(t.Date)
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, MonthlyBalance{
				Month:    key,
				Income:   decimal.Zero,
				Expenses: decimal.Zero,
			})
		}
		switch t.Kind {
		case Income:
			out[i].Income = out[i].Income.Add(contribution(t))
		case Expense:
			out[i].Expenses = out[i].Expenses.Add(contribution(t))
		}
	}
	for i := range out {
		out[i].Balance = out[i].Income.Sub(out[i].Expenses)
	}
	return out
}

func accumulate(months []MonthlyBalance) {
	running := decimal.Zero
	for i := range months {
		running = running.Add(months[i].Balance)
		months[i].RunningBalance = running
	}
}
