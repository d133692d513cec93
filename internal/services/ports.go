package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
)

// LedgerStore is the persistence boundary for monthly ledgers. A month is
// keyed by (userID, year, month); UpsertMonth replaces day records and
// summary together, atomically from the caller's perspective.
type LedgerStore interface {
	// GetMonth returns core.ErrMonthNotFound when no ledger exists yet.
	GetMonth(ctx context.Context, userID string, ym core.YearMonth) (core.MonthlyLedger, error)
	UpsertMonth(ctx context.Context, ledger core.MonthlyLedger) error
	// ListMonths returns every stored month for the user in ascending
	// chronological order.
	ListMonths(ctx context.Context, userID string) ([]core.YearMonth, error)
	// ListMonthsAfter returns stored months strictly after the given one,
	// ascending.
	ListMonthsAfter(ctx context.Context, userID string, ym core.YearMonth) ([]core.YearMonth, error)
	// LatestMonth returns core.ErrMonthNotFound when the user has no
	// ledgers at all.
	LatestMonth(ctx context.Context, userID string) (core.YearMonth, error)
	ListLedgersByYear(ctx context.Context, userID string, year int) ([]core.MonthlyLedger, error)
}

// TransactionSource is the read-only view of the transaction ledger the
// engine consumes. Writing transactions belongs to the transaction module.
type TransactionSource interface {
	// ListNonRecurring returns non-recurring transactions dated within
	// [start, end], ascending by date.
	ListNonRecurring(ctx context.Context, userID string, start, end time.Time) ([]core.TransactionRecord, error)
	// ListActiveRecurring returns recurring definitions whose pattern is
	// active.
	ListActiveRecurring(ctx context.Context, userID string) ([]core.TransactionRecord, error)
	// FindMaterializedInstance returns the real transaction spawned from
	// the given recurring definition on the given day, or nil.
	FindMaterializedInstance(ctx context.Context, userID, parentID string, day time.Time) (*core.TransactionRecord, error)
}

// TransactionRecorder persists the companion transactions created by
// direct spreadsheet edits of a day's income or expenses.
type TransactionRecorder interface {
	RecordTransaction(ctx context.Context, tx core.TransactionRecord) (string, error)
}

// AnalyticsSource provides the aggregate expense queries behind the
// dashboard-style metrics.
type AnalyticsSource interface {
	ExpenseTotalInRange(ctx context.Context, userID string, start, end time.Time) (decimal.Decimal, error)
	ExpenseTotalsByCategory(ctx context.Context, userID string, start, end time.Time) ([]core.CategoryTotal, error)
}

// UserDirectory lists the users known to the ledger, used by the monthly
// rollover job.
type UserDirectory interface {
	ListUserIDs(ctx context.Context) ([]string, error)
}
