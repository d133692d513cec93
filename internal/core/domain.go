package core

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types. Manual entries use the generic income/expense pair;
// transactions ingested from the open-banking aggregator arrive with
// CREDIT/DEBIT codes and are consumed as-is.
const (
	TypeIncome  = "income"
	TypeExpense = "expense"
	TypeCredit  = "CREDIT"
	TypeDebit   = "DEBIT"
)

// CategoryCreditCardPayment is treated as an outflow regardless of the
// transaction's nominal type: banks often report card payments credit-typed.
const CategoryCreditCardPayment = "Credit card payment"

// Transaction sources.
const (
	SourceManual      = "manual"
	SourceProjected   = "projected"
	SourceSpreadsheet = "spreadsheet"
)

// Frequency is the repetition schedule of a recurring transaction.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

var (
	ErrMonthNotFound = errors.New("monthly ledger not found")
	ErrInvalidDate   = errors.New("invalid date")
	ErrInvalidDay    = errors.New("invalid day of month")
	ErrInvalidMonth  = errors.New("invalid month")
	ErrInvalidAmount = errors.New("invalid amount")
)

// RecurringPattern describes how a recurring transaction repeats.
type RecurringPattern struct {
	Frequency  Frequency `json:"frequency"`
	DayOfMonth int       `json:"dayOfMonth,omitempty"`
	DayOfWeek  int       `json:"dayOfWeek,omitempty"`
	IsActive   bool      `json:"isActive"`
}

// TransactionRecord is one income/expense movement. The engine only reads
// transactions; they are written by the transaction module, the banking
// ingestion pipeline, or the day-edit companion path.
type TransactionRecord struct {
	ID          string
	UserID      string
	Type        string
	Category    string
	Amount      decimal.Decimal
	Date        time.Time // UTC, start of day
	Description string
	IsRecurring bool
	Recurring   *RecurringPattern
	ParentID    string // id of the recurring definition this instance came from
	Source      string
}

// IsIncome reports whether the transaction counts toward a day's income.
// Credit-typed card payments are excluded: they are outflows in disguise.
func (t TransactionRecord) IsIncome() bool {
	if t.Type == TypeIncome {
		return true
	}
	return t.Type == TypeCredit && t.Category != CategoryCreditCardPayment
}

// IsExpense reports whether the transaction counts toward a day's expenses.
func (t TransactionRecord) IsExpense() bool {
	return t.Type == TypeExpense || t.Type == TypeDebit || t.Category == CategoryCreditCardPayment
}

// Day returns the transaction's day of month.
func (t TransactionRecord) Day() int {
	return t.Date.Day()
}

// DayRecord is one calendar day inside a monthly ledger. Balance is the
// day's net flow; CalculatedBalance is the running balance from day 1,
// seeded by the previous month's final CalculatedBalance.
type DayRecord struct {
	Day               int             `json:"day"`
	Income            decimal.Decimal `json:"income"`
	Expenses          decimal.Decimal `json:"expenses"`
	DailySpending     decimal.Decimal `json:"dailySpending"`
	Balance           decimal.Decimal `json:"balance"`
	CalculatedBalance decimal.Decimal `json:"calculatedBalance"`
}

// MonthSummary aggregates a finished month. ProjectedBalance is the last
// day's running balance and seeds the following month.
type MonthSummary struct {
	TotalIncome      decimal.Decimal `json:"totalIncome"`
	TotalExpenses    decimal.Decimal `json:"totalExpenses"`
	NetBalance       decimal.Decimal `json:"netBalance"`
	ProjectedBalance decimal.Decimal `json:"projectedBalance"`
}

// MonthlyLedger is the day-by-day record for one user-month. Days is always
// fully populated, one entry per calendar day, never sparse.
type MonthlyLedger struct {
	UserID  string
	Month   YearMonth
	Days    []DayRecord
	Summary MonthSummary
}

// NewEmptyLedger returns an all-zero ledger for the given user-month.
func NewEmptyLedger(userID string, ym YearMonth) MonthlyLedger {
	days := make([]DayRecord, ym.DaysIn())
	for i := range days {
		days[i] = DayRecord{
			Day:               i + 1,
			Income:            decimal.Zero,
			Expenses:          decimal.Zero,
			DailySpending:     decimal.Zero,
			Balance:           decimal.Zero,
			CalculatedBalance: decimal.Zero,
		}
	}
	return MonthlyLedger{
		UserID: userID,
		Month:  ym,
		Days:   days,
		Summary: MonthSummary{
			TotalIncome:      decimal.Zero,
			TotalExpenses:    decimal.Zero,
			NetBalance:       decimal.Zero,
			ProjectedBalance: decimal.Zero,
		},
	}
}

// DailySpendingByDay extracts the manually entered daily-spending values,
// keyed by day of month. Zero values are omitted.
func (l MonthlyLedger) DailySpendingByDay() map[int]decimal.Decimal {
	out := make(map[int]decimal.Decimal, len(l.Days))
	for _, d := range l.Days {
		if !d.DailySpending.IsZero() {
			out[d.Day] = d.DailySpending
		}
	}
	return out
}
