package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
)

// DefaultAverageMonths is the trailing window for the monthly expense
// average when the caller does not specify one.
const DefaultAverageMonths = 6

// Analytics exposes the aggregate expense metrics consumed by the
// dashboard and the emergency-reserve sizing logic.
type Analytics struct {
	src AnalyticsSource
	now func() time.Time
}

func NewAnalytics(src AnalyticsSource) *Analytics {
	return &Analytics{src: src, now: time.Now}
}

// MonthlyExpenseAverage returns the average monthly expense total over the
// trailing window ending at the current month.
func (a *Analytics) MonthlyExpenseAverage(ctx context.Context, userID string, months int) (decimal.Decimal, error) {
	if months <= 0 {
		months = DefaultAverageMonths
	}

	now := a.now().UTC()
	startTime := now.AddDate(0, -months, 0)
	_, endTime := core.YearMonthOf(now).Range()

	total, err := a.src.ExpenseTotalInRange(ctx, userID, startTime, endTime)
	if err != nil {
		return decimal.Zero, fmt.Errorf("expense total: %w", err)
	}
	if total.IsZero() {
		return decimal.Zero, nil
	}
	return core.Round(total.Div(decimal.NewFromInt(int64(months)))), nil
}

// ExpensesByCategory returns the expense totals of one month grouped by
// category, largest first.
func (a *Analytics) ExpensesByCategory(ctx context.Context, userID string, ym core.YearMonth) ([]core.CategoryTotal, error) {
	if err := ym.Validate(); err != nil {
		return nil, err
	}
	start, end := ym.Range()
	totals, err := a.src.ExpenseTotalsByCategory(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("expense totals by category: %w", err)
	}
	return totals, nil
}
