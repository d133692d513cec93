package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
	"saldo/internal/log"
)

// LedgerService is the read/provisioning surface over stored ledgers used
// by dashboard-style consumers. All mutation flows through the
// Recalculator.
type LedgerService struct {
	store  LedgerStore
	engine *Recalculator
	logger *log.Logger
}

func NewLedgerService(store LedgerStore, engine *Recalculator, logger *log.Logger) *LedgerService {
	return &LedgerService{
		store:  store,
		engine: engine,
		logger: logger.WithComponent(log.ComponentApp),
	}
}

// GetMonth returns the stored ledger for one user-month.
// core.ErrMonthNotFound distinguishes a missing ledger from a stored
// all-zero one, which is valid.
func (s *LedgerService) GetMonth(ctx context.Context, userID string, ym core.YearMonth) (core.MonthlyLedger, error) {
	if err := ym.Validate(); err != nil {
		return core.MonthlyLedger{}, err
	}
	return s.store.GetMonth(ctx, userID, ym)
}

// ListMonths returns every stored month for the user, oldest first.
func (s *LedgerService) ListMonths(ctx context.Context, userID string) ([]core.YearMonth, error) {
	return s.store.ListMonths(ctx, userID)
}

// InitializeUser provisions the default projection horizon for a new user.
func (s *LedgerService) InitializeUser(ctx context.Context, userID string) error {
	return s.engine.ExtendHorizon(ctx, userID, 0)
}

// AddNextMonth provisions the month after the latest stored one, or the
// current month when the user has no ledgers yet, and calculates it.
func (s *LedgerService) AddNextMonth(ctx context.Context, userID string) (core.YearMonth, error) {
	latest, err := s.store.LatestMonth(ctx, userID)
	var next core.YearMonth
	switch {
	case err == nil:
		next = latest.Next()
	case errors.Is(err, core.ErrMonthNotFound):
		next = core.YearMonthOf(s.engine.now().UTC())
	default:
		return core.YearMonth{}, fmt.Errorf("latest month: %w", err)
	}

	if _, err := s.store.GetMonth(ctx, userID, next); err == nil {
		return next, nil
	} else if !errors.Is(err, core.ErrMonthNotFound) {
		return core.YearMonth{}, fmt.Errorf("get month %s: %w", next, err)
	}

	if err := s.engine.RecalculateMonth(ctx, userID, next); err != nil {
		return core.YearMonth{}, err
	}
	s.logger.InfoContext(ctx, "Month provisioned",
		log.FieldUserID, userID,
		log.FieldYear, next.Year,
		log.FieldMonth, next.Month)
	return next, nil
}

// YearlyOverview aggregates the stored summaries of one calendar year.
func (s *LedgerService) YearlyOverview(ctx context.Context, userID string, year int) (core.YearlyOverview, error) {
	ledgers, err := s.store.ListLedgersByYear(ctx, userID, year)
	if err != nil {
		return core.YearlyOverview{}, fmt.Errorf("list ledgers for %d: %w", year, err)
	}

	overview := core.YearlyOverview{
		Year:                   year,
		TotalIncome:            decimal.Zero,
		TotalExpenses:          decimal.Zero,
		AverageMonthlyIncome:   decimal.Zero,
		AverageMonthlyExpenses: decimal.Zero,
	}

	for _, l := range ledgers {
		overview.Months = append(overview.Months, core.MonthTotals{
			Month:         l.Month.Month,
			TotalIncome:   l.Summary.TotalIncome,
			TotalExpenses: l.Summary.TotalExpenses,
			NetBalance:    l.Summary.NetBalance,
		})
		overview.TotalIncome = overview.TotalIncome.Add(l.Summary.TotalIncome)
		overview.TotalExpenses = overview.TotalExpenses.Add(l.Summary.TotalExpenses)
	}

	if n := len(overview.Months); n > 0 {
		count := decimal.NewFromInt(int64(n))
		overview.AverageMonthlyIncome = core.Round(overview.TotalIncome.Div(count))
		overview.AverageMonthlyExpenses = core.Round(overview.TotalExpenses.Div(count))
	}
	overview.TotalIncome = core.Round(overview.TotalIncome)
	overview.TotalExpenses = core.Round(overview.TotalExpenses)

	return overview, nil
}
