package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"saldo/internal/core"
)

// MaterializedLookup answers whether a recurring definition already has a
// real transaction on a given day, typically because a background job
// materialized the instance.
type MaterializedLookup interface {
	FindMaterializedInstance(ctx context.Context, userID, parentID string, day time.Time) (*core.TransactionRecord, error)
}

// RecurringProjector expands active recurring definitions into virtual
// per-day transactions for a target month. Projections are never persisted;
// they only feed the month calculation.
//
// Only monthly definitions with a day-of-month are projected. Daily, weekly
// and yearly frequencies are accepted but produce no projections yet.
type RecurringProjector struct {
	lookup MaterializedLookup
}

func NewRecurringProjector(lookup MaterializedLookup) *RecurringProjector {
	return &RecurringProjector{lookup: lookup}
}

// ProjectForMonth emits one virtual transaction per applicable definition.
// A definition whose day-of-month exceeds the target month's day count is
// skipped for that month (a day-31 charge does not fire in February), and a
// definition shadowed by a materialized instance on the same day is
// suppressed so the amount is never counted twice.
func (p *RecurringProjector) ProjectForMonth(ctx context.Context, defs []core.TransactionRecord, ym core.YearMonth) ([]core.TransactionRecord, error) {
	var projected []core.TransactionRecord

	for _, def := range defs {
		if def.Recurring == nil || !def.Recurring.IsActive {
			continue
		}
		if def.Recurring.Frequency != core.Monthly || def.Recurring.DayOfMonth == 0 {
			continue
		}

		day := def.Recurring.DayOfMonth
		if day < 1 || day > ym.DaysIn() {
			continue
		}

		date := ym.Date(day)
		existing, err := p.lookup.FindMaterializedInstance(ctx, def.UserID, def.ID, date)
		if err != nil {
			return nil, fmt.Errorf("find materialized instance for %s on %s: %w", def.ID, date.Format("2006-01-02"), err)
		}
		if existing != nil {
			continue
		}

		projected = append(projected, core.TransactionRecord{
			UserID:      def.UserID,
			Type:        def.Type,
			Category:    def.Category,
			Amount:      def.Amount,
			Date:        date,
			Description: strings.TrimSpace(def.Description + " (projected)"),
			ParentID:    def.ID,
			Source:      core.SourceProjected,
		})
	}

	return projected, nil
}
