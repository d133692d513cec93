// Package storage persists ledgers and transactions in SQLite and backs
// every engine port: LedgerStore, TransactionSource, TransactionRecorder,
// AnalyticsSource and UserDirectory.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"saldo/internal/core"
)

const dateLayout = "2006-01-02"

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// GetMonth implements services.LedgerStore.
func (r *SQLiteRepository) GetMonth(ctx context.Context, userID string, ym core.YearMonth) (core.MonthlyLedger, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT day_records, total_income, total_expenses, net_balance, projected_balance
		FROM monthly_ledgers
		WHERE user_id = ? AND year = ? AND month = ?`,
		userID, ym.Year, ym.Month)

	var (
		dayJSON                                                string
		totalIncome, totalExpenses, netBalance, projectedValue string
	)
	err := row.Scan(&dayJSON, &totalIncome, &totalExpenses, &netBalance, &projectedValue)
	if errors.Is(err, sql.ErrNoRows) {
		return core.MonthlyLedger{}, core.ErrMonthNotFound
	}
	if err != nil {
		return core.MonthlyLedger{}, fmt.Errorf("get month %s: %w", ym, err)
	}

	var days []core.DayRecord
	if err := json.Unmarshal([]byte(dayJSON), &days); err != nil {
		return core.MonthlyLedger{}, fmt.Errorf("decode day records for %s: %w", ym, err)
	}

	summary := core.MonthSummary{}
	for _, pair := range []struct {
		raw  string
		dest *decimal.Decimal
	}{
		{totalIncome, &summary.TotalIncome},
		{totalExpenses, &summary.TotalExpenses},
		{netBalance, &summary.NetBalance},
		{projectedValue, &summary.ProjectedBalance},
	} {
		d, err := core.ParseAmount(pair.raw)
		if err != nil {
			return core.MonthlyLedger{}, fmt.Errorf("decode summary value %q for %s: %w", pair.raw, ym, err)
		}
		*pair.dest = d
	}

	return core.MonthlyLedger{
		UserID:  userID,
		Month:   ym,
		Days:    days,
		Summary: summary,
	}, nil
}

// UpsertMonth implements services.LedgerStore. Day records and summary are
// replaced together in one statement; the unique key on
// (user_id, year, month) prevents duplicate ledgers.
func (r *SQLiteRepository) UpsertMonth(ctx context.Context, ledger core.MonthlyLedger) error {
	dayJSON, err := json.Marshal(ledger.Days)
	if err != nil {
		return fmt.Errorf("encode day records for %s: %w", ledger.Month, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO monthly_ledgers (user_id, year, month, day_records, total_income, total_expenses, net_balance, projected_balance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, year, month) DO UPDATE SET
			day_records = excluded.day_records,
			total_income = excluded.total_income,
			total_expenses = excluded.total_expenses,
			net_balance = excluded.net_balance,
			projected_balance = excluded.projected_balance,
			updated_at = CURRENT_TIMESTAMP`,
		ledger.UserID, ledger.Month.Year, ledger.Month.Month, string(dayJSON),
		ledger.Summary.TotalIncome.String(), ledger.Summary.TotalExpenses.String(),
		ledger.Summary.NetBalance.String(), ledger.Summary.ProjectedBalance.String())
	if err != nil {
		return fmt.Errorf("upsert month %s: %w", ledger.Month, err)
	}

	slog.DebugContext(ctx, "Monthly ledger persisted",
		"user_id", ledger.UserID,
		"year", ledger.Month.Year,
		"month", ledger.Month.Month,
		"projected_balance", ledger.Summary.ProjectedBalance.String())
	return nil
}

// ListMonths implements services.LedgerStore.
func (r *SQLiteRepository) ListMonths(ctx context.Context, userID string) ([]core.YearMonth, error) {
	return r.listMonths(ctx, `
		SELECT year, month FROM monthly_ledgers
		WHERE user_id = ?
		ORDER BY year, month`, userID)
}

// ListMonthsAfter implements services.LedgerStore.
func (r *SQLiteRepository) ListMonthsAfter(ctx context.Context, userID string, ym core.YearMonth) ([]core.YearMonth, error) {
	return r.listMonths(ctx, `
		SELECT year, month FROM monthly_ledgers
		WHERE user_id = ? AND (year > ? OR (year = ? AND month > ?))
		ORDER BY year, month`, userID, ym.Year, ym.Year, ym.Month)
}

func (r *SQLiteRepository) listMonths(ctx context.Context, query string, args ...any) ([]core.YearMonth, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list months: %w", err)
	}
	defer rows.Close()

	var months []core.YearMonth
	for rows.Next() {
		var ym core.YearMonth
		if err := rows.Scan(&ym.Year, &ym.Month); err != nil {
			return nil, fmt.Errorf("scan month row: %w", err)
		}
		months = append(months, ym)
	}
	return months, rows.Err()
}

// LatestMonth implements services.LedgerStore.
func (r *SQLiteRepository) LatestMonth(ctx context.Context, userID string) (core.YearMonth, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT year, month FROM monthly_ledgers
		WHERE user_id = ?
		ORDER BY year DESC, month DESC
		LIMIT 1`, userID)

	var ym core.YearMonth
	err := row.Scan(&ym.Year, &ym.Month)
	if errors.Is(err, sql.ErrNoRows) {
		return core.YearMonth{}, core.ErrMonthNotFound
	}
	if err != nil {
		return core.YearMonth{}, fmt.Errorf("latest month: %w", err)
	}
	return ym, nil
}

// ListLedgersByYear implements services.LedgerStore.
func (r *SQLiteRepository) ListLedgersByYear(ctx context.Context, userID string, year int) ([]core.MonthlyLedger, error) {
	months, err := r.listMonths(ctx, `
		SELECT year, month FROM monthly_ledgers
		WHERE user_id = ? AND year = ?
		ORDER BY month`, userID, year)
	if err != nil {
		return nil, err
	}

	ledgers := make([]core.MonthlyLedger, 0, len(months))
	for _, ym := range months {
		l, err := r.GetMonth(ctx, userID, ym)
		if err != nil {
			return nil, err
		}
		ledgers = append(ledgers, l)
	}
	return ledgers, nil
}

// ListNonRecurring implements services.TransactionSource.
func (r *SQLiteRepository) ListNonRecurring(ctx context.Context, userID string, start, end time.Time) ([]core.TransactionRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, type, category, amount, date, description,
		       is_recurring, frequency, day_of_month, day_of_week, is_active,
		       parent_transaction_id, source
		FROM transactions
		WHERE user_id = ? AND is_recurring = 0 AND date >= ? AND date <= ?
		ORDER BY date`,
		userID, start.UTC().Format(dateLayout), end.UTC().Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// ListActiveRecurring implements services.TransactionSource.
func (r *SQLiteRepository) ListActiveRecurring(ctx context.Context, userID string) ([]core.TransactionRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, type, category, amount, date, description,
		       is_recurring, frequency, day_of_month, day_of_week, is_active,
		       parent_transaction_id, source
		FROM transactions
		WHERE user_id = ? AND is_recurring = 1 AND is_active = 1
		ORDER BY date`, userID)
	if err != nil {
		return nil, fmt.Errorf("list recurring definitions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// FindMaterializedInstance implements services.TransactionSource.
func (r *SQLiteRepository) FindMaterializedInstance(ctx context.Context, userID, parentID string, day time.Time) (*core.TransactionRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, type, category, amount, date, description,
		       is_recurring, frequency, day_of_month, day_of_week, is_active,
		       parent_transaction_id, source
		FROM transactions
		WHERE user_id = ? AND parent_transaction_id = ? AND is_recurring = 0 AND date = ?
		LIMIT 1`,
		userID, parentID, day.UTC().Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("find materialized instance: %w", err)
	}
	defer rows.Close()

	txs, err := scanTransactions(rows)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

// RecordTransaction implements services.TransactionRecorder.
func (r *SQLiteRepository) RecordTransaction(ctx context.Context, tx core.TransactionRecord) (string, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Source == "" {
		tx.Source = core.SourceManual
	}

	var (
		frequency  sql.NullString
		dayOfMonth sql.NullInt64
		dayOfWeek  sql.NullInt64
		isActive   = 1
	)
	if tx.Recurring != nil {
		frequency = sql.NullString{String: string(tx.Recurring.Frequency), Valid: true}
		if tx.Recurring.DayOfMonth > 0 {
			dayOfMonth = sql.NullInt64{Int64: int64(tx.Recurring.DayOfMonth), Valid: true}
		}
		if tx.Recurring.DayOfWeek > 0 {
			dayOfWeek = sql.NullInt64{Int64: int64(tx.Recurring.DayOfWeek), Valid: true}
		}
		if !tx.Recurring.IsActive {
			isActive = 0
		}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, type, category, amount, date, description,
		                          is_recurring, frequency, day_of_month, day_of_week, is_active,
		                          parent_transaction_id, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.Type, tx.Category, tx.Amount.String(),
		tx.Date.UTC().Format(dateLayout), tx.Description,
		boolToInt(tx.IsRecurring), frequency, dayOfMonth, dayOfWeek, isActive,
		nullString(tx.ParentID), tx.Source)
	if err != nil {
		return "", fmt.Errorf("insert transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction recorded",
		"transaction_id", tx.ID,
		"user_id", tx.UserID,
		"type", tx.Type,
		"amount", tx.Amount.String(),
		"source", tx.Source)
	return tx.ID, nil
}

// ExpenseTotalInRange implements services.AnalyticsSource. Amounts are
// summed in Go as decimals; SQLite would coerce the TEXT column to float.
func (r *SQLiteRepository) ExpenseTotalInRange(ctx context.Context, userID string, start, end time.Time) (decimal.Decimal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT amount FROM transactions
		WHERE user_id = ? AND type IN (?, ?) AND is_recurring = 0 AND date >= ? AND date <= ?`,
		userID, core.TypeExpense, core.TypeDebit,
		start.UTC().Format(dateLayout), end.UTC().Format(dateLayout))
	if err != nil {
		return decimal.Zero, fmt.Errorf("expense total: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, fmt.Errorf("scan amount: %w", err)
		}
		d, err := core.ParseAmount(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("decode amount %q: %w", raw, err)
		}
		total = total.Add(d.Abs())
	}
	return core.Round(total), rows.Err()
}

// ExpenseTotalsByCategory implements services.AnalyticsSource.
func (r *SQLiteRepository) ExpenseTotalsByCategory(ctx context.Context, userID string, start, end time.Time) ([]core.CategoryTotal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT category, amount FROM transactions
		WHERE user_id = ? AND type IN (?, ?) AND is_recurring = 0 AND date >= ? AND date <= ?`,
		userID, core.TypeExpense, core.TypeDebit,
		start.UTC().Format(dateLayout), end.UTC().Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("expense totals by category: %w", err)
	}
	defer rows.Close()

	byCategory := make(map[string]decimal.Decimal)
	for rows.Next() {
		var category, raw string
		if err := rows.Scan(&category, &raw); err != nil {
			return nil, fmt.Errorf("scan category row: %w", err)
		}
		d, err := core.ParseAmount(raw)
		if err != nil {
			return nil, fmt.Errorf("decode amount %q: %w", raw, err)
		}
		byCategory[category] = byCategory[category].Add(d.Abs())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	totals := make([]core.CategoryTotal, 0, len(byCategory))
	for category, total := range byCategory {
		totals = append(totals, core.CategoryTotal{Category: category, Total: core.Round(total)})
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].Total.GreaterThan(totals[j].Total) })
	return totals, nil
}

// ListUserIDs implements services.UserDirectory: every user with a ledger
// or a transaction on record.
func (r *SQLiteRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id FROM monthly_ledgers
		UNION
		SELECT user_id FROM transactions
		ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanTransactions(rows *sql.Rows) ([]core.TransactionRecord, error) {
	var txs []core.TransactionRecord
	for rows.Next() {
		var (
			tx          core.TransactionRecord
			amount      string
			date        string
			isRecurring int
			frequency   sql.NullString
			dayOfMonth  sql.NullInt64
			dayOfWeek   sql.NullInt64
			isActive    int
			parentID    sql.NullString
		)
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Type, &tx.Category, &amount, &date,
			&tx.Description, &isRecurring, &frequency, &dayOfMonth, &dayOfWeek, &isActive,
			&parentID, &tx.Source); err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}

		d, err := core.ParseAmount(amount)
		if err != nil {
			return nil, fmt.Errorf("decode amount %q: %w", amount, err)
		}
		tx.Amount = d

		parsed, err := time.ParseInLocation(dateLayout, date, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("decode date %q: %w", date, err)
		}
		tx.Date = parsed

		tx.IsRecurring = isRecurring == 1
		if tx.IsRecurring {
			tx.Recurring = &core.RecurringPattern{
				Frequency:  core.Frequency(frequency.String),
				DayOfMonth: int(dayOfMonth.Int64),
				DayOfWeek:  int(dayOfWeek.Int64),
				IsActive:   isActive == 1,
			}
		}
		tx.ParentID = parentID.String

		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
