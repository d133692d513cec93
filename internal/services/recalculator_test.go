package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saldo/internal/core"
	"saldo/internal/log"
)

// memStore is an in-memory LedgerStore.
type memStore struct {
	mu      sync.Mutex
	ledgers map[string]map[core.YearMonth]core.MonthlyLedger
	// failUpsert injects an error when persisting the given month.
	failUpsert map[core.YearMonth]error
}

func newMemStore() *memStore {
	return &memStore{
		ledgers:    make(map[string]map[core.YearMonth]core.MonthlyLedger),
		failUpsert: make(map[core.YearMonth]error),
	}
}

func (s *memStore) GetMonth(_ context.Context, userID string, ym core.YearMonth) (core.MonthlyLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.ledgers[userID][ym]
	if !ok {
		return core.MonthlyLedger{}, core.ErrMonthNotFound
	}
	return l, nil
}

func (s *memStore) UpsertMonth(_ context.Context, ledger core.MonthlyLedger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failUpsert[ledger.Month]; ok {
		return err
	}
	if s.ledgers[ledger.UserID] == nil {
		s.ledgers[ledger.UserID] = make(map[core.YearMonth]core.MonthlyLedger)
	}
	s.ledgers[ledger.UserID][ledger.Month] = ledger
	return nil
}

func (s *memStore) ListMonths(_ context.Context, userID string) ([]core.YearMonth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var months []core.YearMonth
	for ym := range s.ledgers[userID] {
		months = append(months, ym)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })
	return months, nil
}

func (s *memStore) ListMonthsAfter(ctx context.Context, userID string, ym core.YearMonth) ([]core.YearMonth, error) {
	all, _ := s.ListMonths(ctx, userID)
	var after []core.YearMonth
	for _, m := range all {
		if ym.Before(m) {
			after = append(after, m)
		}
	}
	return after, nil
}

func (s *memStore) LatestMonth(ctx context.Context, userID string) (core.YearMonth, error) {
	all, _ := s.ListMonths(ctx, userID)
	if len(all) == 0 {
		return core.YearMonth{}, core.ErrMonthNotFound
	}
	return all[len(all)-1], nil
}

func (s *memStore) ListLedgersByYear(ctx context.Context, userID string, year int) ([]core.MonthlyLedger, error) {
	all, _ := s.ListMonths(ctx, userID)
	var out []core.MonthlyLedger
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ym := range all {
		if ym.Year == year {
			out = append(out, s.ledgers[userID][ym])
		}
	}
	return out, nil
}

// memTxSource is an in-memory TransactionSource and TransactionRecorder.
type memTxSource struct {
	mu   sync.Mutex
	txs  []core.TransactionRecord
	next int
}

func (s *memTxSource) add(tx core.TransactionRecord) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	tx.ID = fmt.Sprintf("tx-%d", s.next)
	s.txs = append(s.txs, tx)
	return tx.ID
}

func (s *memTxSource) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, tx := range s.txs {
		if tx.ID == id {
			s.txs = append(s.txs[:i], s.txs[i+1:]...)
			return
		}
	}
}

func (s *memTxSource) ListNonRecurring(_ context.Context, userID string, start, end time.Time) ([]core.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.TransactionRecord
	for _, tx := range s.txs {
		if tx.UserID != userID || tx.IsRecurring {
			continue
		}
		if tx.Date.Before(start) || tx.Date.After(end) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (s *memTxSource) ListActiveRecurring(_ context.Context, userID string) ([]core.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.TransactionRecord
	for _, tx := range s.txs {
		if tx.UserID == userID && tx.IsRecurring && tx.Recurring != nil && tx.Recurring.IsActive {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *memTxSource) FindMaterializedInstance(_ context.Context, userID, parentID string, day time.Time) (*core.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.txs {
		if tx.UserID == userID && tx.ParentID == parentID && tx.Date.Equal(day) && !tx.IsRecurring {
			found := tx
			return &found, nil
		}
	}
	return nil, nil
}

func (s *memTxSource) RecordTransaction(_ context.Context, tx core.TransactionRecord) (string, error) {
	return s.add(tx), nil
}

func newTestEngine(t *testing.T) (*Recalculator, *memStore, *memTxSource) {
	t.Helper()
	store := newMemStore()
	txs := &memTxSource{}
	logger := log.New(log.DefaultConfig())
	engine := NewRecalculator(store, txs, txs, logger, 10)
	engine.now = func() time.Time { return time.Date(2025, 4, 15, 12, 0, 0, 0, time.UTC) }
	return engine, store, txs
}

func TestRecalculateMonth_Idempotent(t *testing.T) {
	engine, store, txs := newTestEngine(t)
	ctx := context.Background()
	ym := core.YM(2025, 4)

	txs.add(tx(core.TypeIncome, "salary", "500.00", ym.Date(3)))
	txs.add(tx(core.TypeExpense, "bills", "200.00", ym.Date(10)))

	require.NoError(t, engine.RecalculateMonth(ctx, "user-1", ym))
	first, err := store.GetMonth(ctx, "user-1", ym)
	require.NoError(t, err)

	require.NoError(t, engine.RecalculateMonth(ctx, "user-1", ym))
	second, err := store.GetMonth(ctx, "user-1", ym)
	require.NoError(t, err)

	require.Len(t, second.Days, len(first.Days))
	for i := range first.Days {
		assert.Equal(t, first.Days[i].CalculatedBalance.String(), second.Days[i].CalculatedBalance.String())
	}
	assert.Equal(t, first.Summary, second.Summary)
}

func TestRecalculateFromMonthForward_ChainInvariant(t *testing.T) {
	engine, store, txs := newTestEngine(t)
	ctx := context.Background()

	txs.add(tx(core.TypeIncome, "salary", "500.00", core.YM(2025, 4).Date(3)))
	txs.add(tx(core.TypeExpense, "bills", "123.45", core.YM(2025, 5).Date(7)))

	for _, ym := range []core.YearMonth{core.YM(2025, 4), core.YM(2025, 5), core.YM(2025, 6)} {
		require.NoError(t, engine.RecalculateMonth(ctx, "user-1", ym))
	}
	require.NoError(t, engine.RecalculateFromMonthForward(ctx, "user-1", core.YM(2025, 4)))

	months, err := store.ListMonths(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, months, 3)

	for i := 1; i < len(months); i++ {
		prev, err := store.GetMonth(ctx, "user-1", months[i-1])
		require.NoError(t, err)
		curr, err := store.GetMonth(ctx, "user-1", months[i])
		require.NoError(t, err)

		seed := curr.Days[0].CalculatedBalance.Sub(curr.Days[0].Balance)
		assert.True(t, seed.Equal(prev.Summary.ProjectedBalance),
			"month %s seed %s != predecessor projected balance %s", months[i], seed, prev.Summary.ProjectedBalance)
	}
}

func TestApplyDayEdit_DailySpendingPropagates(t *testing.T) {
	// Scenario C: spending on day 15 must ripple into the next month's seed.
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()
	april, may := core.YM(2025, 4), core.YM(2025, 5)

	require.NoError(t, engine.RecalculateMonth(ctx, "user-1", april))
	require.NoError(t, engine.RecalculateMonth(ctx, "user-1", may))

	spending := dec("50.00")
	edited, err := engine.ApplyDayEdit(ctx, "user-1", april, 15, DayEdit{DailySpending: &spending})
	require.NoError(t, err)

	assert.True(t, edited.Days[14].Balance.Equal(dec("-50")))
	assert.True(t, edited.Days[13].CalculatedBalance.IsZero())
	assert.True(t, edited.Days[29].CalculatedBalance.Equal(dec("-50")))
	assert.True(t, edited.Summary.ProjectedBalance.Equal(dec("-50")))

	next, err := store.GetMonth(ctx, "user-1", may)
	require.NoError(t, err)
	assert.True(t, next.Days[0].CalculatedBalance.Equal(dec("-50")),
		"May day 1 should start from April's -50, got %s", next.Days[0].CalculatedBalance)
}

func TestApplyDayEdit_IncomeCreatesCompanionTransaction(t *testing.T) {
	engine, store, txs := newTestEngine(t)
	ctx := context.Background()
	april := core.YM(2025, 4)

	income := dec("300.00")
	edited, err := engine.ApplyDayEdit(ctx, "user-1", april, 10, DayEdit{Income: &income})
	require.NoError(t, err)

	assert.True(t, edited.Days[9].Income.Equal(dec("300")))

	// The companion transaction keeps the edit alive across recalculation.
	require.NoError(t, engine.RecalculateMonth(ctx, "user-1", april))
	after, err := store.GetMonth(ctx, "user-1", april)
	require.NoError(t, err)
	assert.True(t, after.Days[9].Income.Equal(dec("300")))

	listed, err := txs.ListNonRecurring(ctx, "user-1", april.Date(1), april.Date(30))
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, core.SourceSpreadsheet, listed[0].Source)
	assert.Equal(t, "other", listed[0].Category)
}

func TestApplyDayEdit_InvalidDay(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	spending := dec("1.00")

	_, err := engine.ApplyDayEdit(context.Background(), "user-1", core.YM(2025, 2), 30, DayEdit{DailySpending: &spending})
	require.ErrorIs(t, err, core.ErrInvalidDay)
}

func TestHandleTransactionDeleted_ScenarioD(t *testing.T) {
	engine, store, txs := newTestEngine(t)
	ctx := context.Background()
	march, april, may := core.YM(2025, 3), core.YM(2025, 4), core.YM(2025, 5)

	id := txs.add(tx(core.TypeIncome, "salary", "500.00", april.Date(3)))
	for _, ym := range []core.YearMonth{march, april, may} {
		require.NoError(t, engine.RecalculateMonth(ctx, "user-1", ym))
	}

	beforeMarch, err := store.GetMonth(ctx, "user-1", march)
	require.NoError(t, err)
	beforeMay, err := store.GetMonth(ctx, "user-1", may)
	require.NoError(t, err)
	require.True(t, beforeMay.Summary.ProjectedBalance.Equal(dec("500")))

	txs.remove(id)
	date := april.Date(3)
	require.NoError(t, engine.HandleTransactionDeleted(ctx, "user-1", &date))

	afterMarch, err := store.GetMonth(ctx, "user-1", march)
	require.NoError(t, err)
	assert.Equal(t, beforeMarch.Summary, afterMarch.Summary, "earlier month must be untouched")

	afterMay, err := store.GetMonth(ctx, "user-1", may)
	require.NoError(t, err)
	assert.True(t, afterMay.Summary.ProjectedBalance.IsZero(),
		"later month projected balance should drop to 0, got %s", afterMay.Summary.ProjectedBalance)
}

func TestHandleTransactionDeleted_UnknownDateRecalculatesAll(t *testing.T) {
	engine, store, txs := newTestEngine(t)
	ctx := context.Background()
	april := core.YM(2025, 4)

	id := txs.add(tx(core.TypeIncome, "salary", "500.00", april.Date(3)))
	require.NoError(t, engine.RecalculateMonth(ctx, "user-1", april))

	txs.remove(id)
	require.NoError(t, engine.HandleTransactionDeleted(ctx, "user-1", nil))

	after, err := store.GetMonth(ctx, "user-1", april)
	require.NoError(t, err)
	assert.True(t, after.Summary.TotalIncome.IsZero())
}

func TestHandleTransactionCreated_RecurringProvisionsHorizon(t *testing.T) {
	engine, store, txs := newTestEngine(t)
	ctx := context.Background()
	april := core.YM(2025, 4)

	txs.add(core.TransactionRecord{
		UserID:      "user-1",
		Type:        core.TypeIncome,
		Category:    "salary",
		Amount:      dec("1000.00"),
		Date:        april.Date(1),
		IsRecurring: true,
		Recurring:   &core.RecurringPattern{Frequency: core.Monthly, DayOfMonth: 1, IsActive: true},
	})

	require.NoError(t, engine.HandleTransactionCreated(ctx, "user-1", april.Date(1), true, true))

	months, err := store.ListMonths(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, months, 11, "base month plus 10 projection months")

	// Scenario B: a later month shows the projected income on day 1.
	feb2026, err := store.GetMonth(ctx, "user-1", core.YM(2026, 2))
	require.NoError(t, err)
	assert.True(t, feb2026.Days[0].Income.Equal(dec("1000")))
}

func TestHandleTransactionUpdated_CrossMonthRecalculatesBoth(t *testing.T) {
	engine, store, txs := newTestEngine(t)
	ctx := context.Background()
	april, may := core.YM(2025, 4), core.YM(2025, 5)

	// Transaction originally in April, later moved to May.
	id := txs.add(tx(core.TypeIncome, "salary", "500.00", april.Date(3)))
	for _, ym := range []core.YearMonth{april, may} {
		require.NoError(t, engine.RecalculateMonth(ctx, "user-1", ym))
	}

	txs.remove(id)
	txs.add(tx(core.TypeIncome, "salary", "500.00", may.Date(3)))

	prevDate := april.Date(3)
	require.NoError(t, engine.HandleTransactionUpdated(ctx, "user-1", may.Date(3), &prevDate))

	aprilLedger, err := store.GetMonth(ctx, "user-1", april)
	require.NoError(t, err)
	assert.True(t, aprilLedger.Summary.TotalIncome.IsZero())

	mayLedger, err := store.GetMonth(ctx, "user-1", may)
	require.NoError(t, err)
	assert.True(t, mayLedger.Summary.TotalIncome.Equal(dec("500")))
}

func TestExtendHorizon(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.ExtendHorizon(ctx, "user-1", 3))

	months, err := store.ListMonths(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []core.YearMonth{core.YM(2025, 4), core.YM(2025, 5), core.YM(2025, 6)}, months)

	// Idempotent: a second call creates nothing new.
	require.NoError(t, engine.ExtendHorizon(ctx, "user-1", 3))
	months, err = store.ListMonths(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, months, 3)
}

func TestRecalcForward_FailureLeavesEarlierMonthsValid(t *testing.T) {
	engine, store, txs := newTestEngine(t)
	ctx := context.Background()
	april, may := core.YM(2025, 4), core.YM(2025, 5)

	for _, ym := range []core.YearMonth{april, may} {
		require.NoError(t, engine.RecalculateMonth(ctx, "user-1", ym))
	}

	txs.add(tx(core.TypeIncome, "salary", "500.00", april.Date(3)))
	store.failUpsert[may] = fmt.Errorf("disk full")

	err := engine.RecalculateFromMonthForward(ctx, "user-1", april)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	// April was persisted before the cascade halted.
	aprilLedger, err := store.GetMonth(ctx, "user-1", april)
	require.NoError(t, err)
	assert.True(t, aprilLedger.Summary.TotalIncome.Equal(dec("500")))

	// Retrying the same cascade after the fault clears is enough.
	delete(store.failUpsert, may)
	require.NoError(t, engine.RecalculateFromMonthForward(ctx, "user-1", april))
	mayLedger, err := store.GetMonth(ctx, "user-1", may)
	require.NoError(t, err)
	assert.True(t, mayLedger.Days[0].CalculatedBalance.Equal(dec("500").Add(mayLedger.Days[0].Balance)))
}

func TestConcurrentMutations_SameUserSerialized(t *testing.T) {
	engine, store, txs := newTestEngine(t)
	ctx := context.Background()
	april, may := core.YM(2025, 4), core.YM(2025, 5)

	for _, ym := range []core.YearMonth{april, may} {
		require.NoError(t, engine.RecalculateMonth(ctx, "user-1", ym))
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(day int) {
			defer wg.Done()
			txs.add(tx(core.TypeIncome, "salary", "100.00", april.Date(day)))
			_ = engine.RecalculateFromMonthForward(ctx, "user-1", april)
		}(i + 1)
	}
	wg.Wait()

	// One final pass so the chain reflects all eight transactions, then
	// the invariant must hold regardless of interleaving.
	require.NoError(t, engine.RecalculateFromMonthForward(ctx, "user-1", april))

	aprilLedger, err := store.GetMonth(ctx, "user-1", april)
	require.NoError(t, err)
	require.True(t, aprilLedger.Summary.ProjectedBalance.Equal(dec("800")))

	mayLedger, err := store.GetMonth(ctx, "user-1", may)
	require.NoError(t, err)
	seed := mayLedger.Days[0].CalculatedBalance.Sub(mayLedger.Days[0].Balance)
	assert.True(t, seed.Equal(aprilLedger.Summary.ProjectedBalance))
}
