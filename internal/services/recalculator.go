// Package services contains the balance-projection engine: the pure month
// calculator, the recurring projector, and the cascade recalculator that
// keeps each user's chain of monthly ledgers consistent.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
	"saldo/internal/log"
)

// DayEdit is a partial direct edit of one day cell. Nil fields are left
// untouched. Income and Expenses edits are recorded as companion
// transactions so they survive recalculation; DailySpending lives only on
// the ledger row.
type DayEdit struct {
	Income        *decimal.Decimal
	Expenses      *decimal.Decimal
	DailySpending *decimal.Decimal
}

// Recalculator owns the consistency of the per-user month chain. It is the
// only component that runs the month calculator and persists its output.
//
// Cascades for the same user are serialized through a per-user mutex so two
// concurrent mutations can never both read a stale previous-month balance.
// Different users share nothing and run concurrently.
type Recalculator struct {
	store            LedgerStore
	txs              TransactionSource
	recorder         TransactionRecorder
	projector        *RecurringProjector
	logger           *log.Logger
	projectionMonths int
	now              func() time.Time

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

func NewRecalculator(store LedgerStore, txs TransactionSource, recorder TransactionRecorder, logger *log.Logger, projectionMonths int) *Recalculator {
	if projectionMonths < 1 {
		projectionMonths = 10
	}
	return &Recalculator{
		store:            store,
		txs:              txs,
		recorder:         recorder,
		projector:        NewRecurringProjector(txs),
		logger:           logger.WithComponent(log.ComponentEngine),
		projectionMonths: projectionMonths,
		now:              time.Now,
		userLocks:        make(map[string]*sync.Mutex),
	}
}

func (r *Recalculator) lockUser(userID string) func() {
	r.mu.Lock()
	l, ok := r.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		r.userLocks[userID] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// RecalculateMonth recomputes exactly one month from its inputs and
// persists it.
func (r *Recalculator) RecalculateMonth(ctx context.Context, userID string, ym core.YearMonth) error {
	defer r.lockUser(userID)()
	return r.recalcMonth(ctx, userID, ym)
}

// RecalculateFromMonthForward recomputes the given month, then every stored
// month after it in strictly ascending chronological order. Order matters:
// each month's seed is its predecessor's freshly computed projected balance.
func (r *Recalculator) RecalculateFromMonthForward(ctx context.Context, userID string, ym core.YearMonth) error {
	defer r.lockUser(userID)()
	return r.recalcForward(ctx, userID, ym)
}

// RecalculateAll recomputes every stored month for the user, oldest first.
// Used for structural changes, e.g. a transaction deleted without a known
// date.
func (r *Recalculator) RecalculateAll(ctx context.Context, userID string) error {
	defer r.lockUser(userID)()
	return r.recalcAll(ctx, userID)
}

// ExtendHorizon ensures monthsAhead consecutive months exist starting from
// the current month, creating and calculating any that are missing so
// already-registered recurring definitions show up immediately.
func (r *Recalculator) ExtendHorizon(ctx context.Context, userID string, monthsAhead int) error {
	if monthsAhead <= 0 {
		monthsAhead = r.projectionMonths
	}
	defer r.lockUser(userID)()

	base := core.YearMonthOf(r.now().UTC())
	created := 0
	for offset := 0; offset < monthsAhead; offset++ {
		ym := base.AddMonths(offset)
		_, err := r.store.GetMonth(ctx, userID, ym)
		switch {
		case err == nil:
			continue
		case errors.Is(err, core.ErrMonthNotFound):
			if err := r.recalcMonth(ctx, userID, ym); err != nil {
				return err
			}
			created++
		default:
			return fmt.Errorf("get month %s: %w", ym, err)
		}
	}

	r.logger.InfoContext(ctx, "Projection horizon extended",
		log.FieldUserID, userID,
		log.FieldMonthsAhead, monthsAhead,
		"months_created", created)
	return nil
}

// HandleTransactionCreated reacts to a new transaction: forward cascade
// from its month, plus a horizon pass over the following projection months
// when the transaction is an active recurring definition, because its
// projections ripple into every future month.
func (r *Recalculator) HandleTransactionCreated(ctx context.Context, userID string, date time.Time, isRecurring, isActive bool) error {
	defer r.lockUser(userID)()

	base := core.YearMonthOf(date.UTC())
	if err := r.recalcForward(ctx, userID, base); err != nil {
		return err
	}

	if isRecurring && isActive {
		for offset := 1; offset <= r.projectionMonths; offset++ {
			if err := r.recalcMonth(ctx, userID, base.AddMonths(offset)); err != nil {
				return err
			}
		}
	}
	return nil
}

// HandleTransactionUpdated reacts to an updated transaction. When the edit
// moved the transaction across a month boundary the old month changed too.
func (r *Recalculator) HandleTransactionUpdated(ctx context.Context, userID string, date time.Time, previousDate *time.Time) error {
	defer r.lockUser(userID)()

	if err := r.recalcForward(ctx, userID, core.YearMonthOf(date.UTC())); err != nil {
		return err
	}

	if previousDate != nil {
		prev := core.YearMonthOf(previousDate.UTC())
		if prev != core.YearMonthOf(date.UTC()) {
			return r.recalcForward(ctx, userID, prev)
		}
	}
	return nil
}

// HandleTransactionDeleted reacts to a deleted transaction. Without a known
// former date the affected month is unknown and the whole chain is rebuilt.
func (r *Recalculator) HandleTransactionDeleted(ctx context.Context, userID string, date *time.Time) error {
	defer r.lockUser(userID)()

	if date == nil {
		return r.recalcAll(ctx, userID)
	}
	return r.recalcForward(ctx, userID, core.YearMonthOf(date.UTC()))
}

// ApplyDayEdit applies a direct edit to one day cell and cascades forward,
// since the edited day changes the month's ending balance and with it every
// later month's seed. The edited month is provisioned first when missing.
func (r *Recalculator) ApplyDayEdit(ctx context.Context, userID string, ym core.YearMonth, day int, edit DayEdit) (core.MonthlyLedger, error) {
	if err := ym.Validate(); err != nil {
		return core.MonthlyLedger{}, err
	}
	if day < 1 || day > ym.DaysIn() {
		return core.MonthlyLedger{}, fmt.Errorf("%w: day %d in %s", core.ErrInvalidDay, day, ym)
	}

	defer r.lockUser(userID)()

	ledger, err := r.store.GetMonth(ctx, userID, ym)
	if errors.Is(err, core.ErrMonthNotFound) {
		ledger = core.NewEmptyLedger(userID, ym)
	} else if err != nil {
		return core.MonthlyLedger{}, fmt.Errorf("get month %s: %w", ym, err)
	}

	if edit.DailySpending != nil {
		ledger.Days[day-1].DailySpending = core.Round(*edit.DailySpending)
		if err := r.store.UpsertMonth(ctx, ledger); err != nil {
			return core.MonthlyLedger{}, fmt.Errorf("upsert month %s: %w", ym, err)
		}
	}

	// Direct income/expense edits become ordinary transactions; the
	// calculator would otherwise erase them on the next recalculation.
	if err := r.recordCompanions(ctx, userID, ym, day, edit); err != nil {
		return core.MonthlyLedger{}, err
	}

	if err := r.recalcForward(ctx, userID, ym); err != nil {
		return core.MonthlyLedger{}, err
	}

	updated, err := r.store.GetMonth(ctx, userID, ym)
	if err != nil {
		return core.MonthlyLedger{}, fmt.Errorf("get month %s: %w", ym, err)
	}

	r.logger.InfoContext(ctx, "Day cell edited",
		log.FieldUserID, userID,
		log.FieldYear, ym.Year,
		log.FieldMonth, ym.Month,
		log.FieldDay, day,
		log.FieldOperation, log.OpDayEdit)
	return updated, nil
}

func (r *Recalculator) recordCompanions(ctx context.Context, userID string, ym core.YearMonth, day int, edit DayEdit) error {
	record := func(txType string, amount decimal.Decimal) error {
		amount = core.Round(amount)
		if !amount.IsPositive() {
			return nil
		}
		_, err := r.recorder.RecordTransaction(ctx, core.TransactionRecord{
			UserID:      userID,
			Type:        txType,
			Category:    "other",
			Amount:      amount,
			Date:        ym.Date(day),
			Description: "Created by spreadsheet edit",
			Source:      core.SourceSpreadsheet,
		})
		if err != nil {
			return fmt.Errorf("record %s companion transaction: %w", txType, err)
		}
		return nil
	}

	if edit.Income != nil {
		if err := record(core.TypeIncome, *edit.Income); err != nil {
			return err
		}
	}
	if edit.Expenses != nil {
		if err := record(core.TypeExpense, *edit.Expenses); err != nil {
			return err
		}
	}
	return nil
}

// recalcMonth is the single place a month gets computed and persisted.
// Callers must hold the user lock.
func (r *Recalculator) recalcMonth(ctx context.Context, userID string, ym core.YearMonth) error {
	if err := ym.Validate(); err != nil {
		return err
	}

	previous, err := r.previousEndingBalance(ctx, userID, ym)
	if err != nil {
		return r.failMonth(ctx, userID, ym, "read previous balance", err)
	}

	start, end := ym.Range()
	real, err := r.txs.ListNonRecurring(ctx, userID, start, end)
	if err != nil {
		return r.failMonth(ctx, userID, ym, "list transactions", err)
	}

	defs, err := r.txs.ListActiveRecurring(ctx, userID)
	if err != nil {
		return r.failMonth(ctx, userID, ym, "list recurring definitions", err)
	}

	projected, err := r.projector.ProjectForMonth(ctx, defs, ym)
	if err != nil {
		return r.failMonth(ctx, userID, ym, "project recurring", err)
	}

	spending := map[int]decimal.Decimal{}
	existing, err := r.store.GetMonth(ctx, userID, ym)
	switch {
	case err == nil:
		spending = existing.DailySpendingByDay()
	case errors.Is(err, core.ErrMonthNotFound):
		// First calculation of this month.
	default:
		return r.failMonth(ctx, userID, ym, "read existing ledger", err)
	}

	ledger := ComputeMonth(CalculatorInput{
		UserID:                userID,
		Month:                 ym,
		PreviousEndingBalance: previous,
		Transactions:          real,
		Projected:             projected,
		DailySpending:         spending,
	})

	if err := r.store.UpsertMonth(ctx, ledger); err != nil {
		return r.failMonth(ctx, userID, ym, "persist ledger", err)
	}

	r.logger.DebugContext(ctx, "Month recalculated",
		log.FieldUserID, userID,
		log.FieldYear, ym.Year,
		log.FieldMonth, ym.Month,
		"projected_balance", ledger.Summary.ProjectedBalance.String())
	return nil
}

// recalcForward processes the starting month, then every stored month after
// it, oldest first. A failure stops the cascade at the failing month;
// earlier months keep their freshly persisted, individually valid state,
// and re-invoking the same call resumes idempotently.
func (r *Recalculator) recalcForward(ctx context.Context, userID string, ym core.YearMonth) error {
	if err := r.recalcMonth(ctx, userID, ym); err != nil {
		return err
	}

	subsequent, err := r.store.ListMonthsAfter(ctx, userID, ym)
	if err != nil {
		return fmt.Errorf("list months after %s: %w", ym, err)
	}

	for _, next := range subsequent {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.recalcMonth(ctx, userID, next); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recalculator) recalcAll(ctx context.Context, userID string) error {
	months, err := r.store.ListMonths(ctx, userID)
	if err != nil {
		return fmt.Errorf("list months: %w", err)
	}

	for _, ym := range months {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.recalcMonth(ctx, userID, ym); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recalculator) previousEndingBalance(ctx context.Context, userID string, ym core.YearMonth) (decimal.Decimal, error) {
	prev, err := r.store.GetMonth(ctx, userID, ym.Prev())
	if errors.Is(err, core.ErrMonthNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return prev.Summary.ProjectedBalance, nil
}

func (r *Recalculator) failMonth(ctx context.Context, userID string, ym core.YearMonth, op string, err error) error {
	r.logger.ErrorContext(ctx, "Month recalculation failed",
		log.FieldUserID, userID,
		log.FieldYear, ym.Year,
		log.FieldMonth, ym.Month,
		log.FieldOperation, op,
		log.FieldError, err)
	return fmt.Errorf("%s for %s: %w", op, ym, err)
}
