package services

import (
	"github.com/shopspring/decimal"

	"saldo/internal/core"
)

// CalculatorInput carries everything ComputeMonth needs. Transactions must
// already be scoped to the month's date range; Projected holds the virtual
// recurring entries produced by the projector for the same month.
type CalculatorInput struct {
	UserID                string
	Month                 core.YearMonth
	PreviousEndingBalance decimal.Decimal
	Transactions          []core.TransactionRecord
	Projected             []core.TransactionRecord
	// DailySpending holds the manually entered per-day spending carried
	// over from the previously stored ledger, keyed by day of month.
	DailySpending map[int]decimal.Decimal
}

// ComputeMonth deterministically builds one monthly ledger from its inputs.
// It is pure: no I/O, no clock, and identical inputs always yield an
// identical ledger.
//
// Every derived monetary value is rounded to two places at the point of
// computation, matching the rounding points of the stored data so repeated
// recalculation is byte-stable.
func ComputeMonth(in CalculatorInput) core.MonthlyLedger {
	daysInMonth := in.Month.DaysIn()

	byDay := make(map[int][]core.TransactionRecord, daysInMonth)
	for _, tx := range in.Transactions {
		byDay[tx.Day()] = append(byDay[tx.Day()], tx)
	}
	for _, tx := range in.Projected {
		byDay[tx.Day()] = append(byDay[tx.Day()], tx)
	}

	days := make([]core.DayRecord, 0, daysInMonth)
	cumulative := in.PreviousEndingBalance

	for day := 1; day <= daysInMonth; day++ {
		income := dayIncome(byDay[day])
		expenses := dayExpenses(byDay[day])

		spending := decimal.Zero
		if s, ok := in.DailySpending[day]; ok {
			spending = core.Round(s)
		}

		netFlow := core.Round(income.Sub(expenses).Sub(spending))
		cumulative = core.Round(cumulative.Add(netFlow))

		days = append(days, core.DayRecord{
			Day:               day,
			Income:            income,
			Expenses:          expenses,
			DailySpending:     spending,
			Balance:           netFlow,
			CalculatedBalance: cumulative,
		})
	}

	return core.MonthlyLedger{
		UserID:  in.UserID,
		Month:   in.Month,
		Days:    days,
		Summary: summarize(days, cumulative),
	}
}

func dayIncome(txs []core.TransactionRecord) decimal.Decimal {
	sum := decimal.Zero
	for _, tx := range txs {
		if tx.IsIncome() {
			sum = sum.Add(tx.Amount.Abs())
		}
	}
	return core.Round(sum)
}

func dayExpenses(txs []core.TransactionRecord) decimal.Decimal {
	sum := decimal.Zero
	for _, tx := range txs {
		if tx.IsExpense() {
			sum = sum.Add(tx.Amount.Abs())
		}
	}
	return core.Round(sum)
}

func summarize(days []core.DayRecord, finalBalance decimal.Decimal) core.MonthSummary {
	totalIncome := decimal.Zero
	totalExpenses := decimal.Zero
	for _, d := range days {
		totalIncome = totalIncome.Add(d.Income)
		totalExpenses = totalExpenses.Add(d.Expenses).Add(d.DailySpending)
	}
	totalIncome = core.Round(totalIncome)
	totalExpenses = core.Round(totalExpenses)

	return core.MonthSummary{
		TotalIncome:      totalIncome,
		TotalExpenses:    totalExpenses,
		NetBalance:       core.Round(totalIncome.Sub(totalExpenses)),
		ProjectedBalance: core.Round(finalBalance),
	}
}
