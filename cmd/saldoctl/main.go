// saldoctl is the operational CLI for the projection engine: inspect
// ledgers, trigger recalculations, and provision projection horizons
// without going through the message queue.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"saldo/internal/config"
	"saldo/internal/core"
	"saldo/internal/log"
	"saldo/internal/services"
	"saldo/internal/storage"
)

type app struct {
	repo      *storage.SQLiteRepository
	engine    *services.Recalculator
	ledgers   *services.LedgerService
	analytics *services.Analytics
}

func newApp() (*app, error) {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	logger := log.New(log.DefaultConfig()).WithComponent(log.ComponentCLI)
	engine := services.NewRecalculator(repo, repo, repo, logger, cfg.ProjectionMonths)
	return &app{
		repo:      repo,
		engine:    engine,
		ledgers:   services.NewLedgerService(repo, engine, logger),
		analytics: services.NewAnalytics(repo),
	}, nil
}

func (a *app) close() {
	if a.repo != nil {
		a.repo.Close()
	}
}

func parseYearMonth(yearArg, monthArg string) (core.YearMonth, error) {
	year, err := strconv.Atoi(yearArg)
	if err != nil {
		return core.YearMonth{}, fmt.Errorf("invalid year %q", yearArg)
	}
	month, err := strconv.Atoi(monthArg)
	if err != nil {
		return core.YearMonth{}, fmt.Errorf("invalid month %q", monthArg)
	}
	ym := core.YM(year, month)
	if err := ym.Validate(); err != nil {
		return core.YearMonth{}, err
	}
	return ym, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// run opens the repository, executes fn against it, and closes it again.
func run(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
		defer cancel()
		return fn(ctx, a, args)
	}
}

func main() {
	root := &cobra.Command{
		Use:           "saldoctl",
		Short:         "Inspect and recalculate monthly balance projections",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "get-month <user-id> <year> <month>",
		Short: "Print one stored monthly ledger as JSON",
		Args:  cobra.ExactArgs(3),
		RunE: run(func(ctx context.Context, a *app, args []string) error {
			ym, err := parseYearMonth(args[1], args[2])
			if err != nil {
				return err
			}
			ledger, err := a.ledgers.GetMonth(ctx, args[0], ym)
			if err != nil {
				return err
			}
			return printJSON(ledger)
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "list-months <user-id>",
		Short: "List every stored month for a user",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, a *app, args []string) error {
			months, err := a.ledgers.ListMonths(ctx, args[0])
			if err != nil {
				return err
			}
			for _, ym := range months {
				fmt.Println(ym)
			}
			return nil
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "recalc <user-id> <year> <month>",
		Short: "Recalculate one month and cascade through every later month",
		Args:  cobra.ExactArgs(3),
		RunE: run(func(ctx context.Context, a *app, args []string) error {
			ym, err := parseYearMonth(args[1], args[2])
			if err != nil {
				return err
			}
			if err := a.engine.RecalculateFromMonthForward(ctx, args[0], ym); err != nil {
				return err
			}
			fmt.Printf("recalculated %s onwards for %s\n", ym, args[0])
			return nil
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "recalc-all <user-id>",
		Short: "Rebuild every stored month for a user, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, a *app, args []string) error {
			if err := a.engine.RecalculateAll(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("recalculated all months for %s\n", args[0])
			return nil
		}),
	})

	extendMonths := 0
	extendCmd := &cobra.Command{
		Use:   "extend-horizon <user-id>",
		Short: "Ensure the projection horizon exists from the current month",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, a *app, args []string) error {
			if err := a.engine.ExtendHorizon(ctx, args[0], extendMonths); err != nil {
				return err
			}
			fmt.Printf("horizon extended for %s\n", args[0])
			return nil
		}),
	}
	extendCmd.Flags().IntVar(&extendMonths, "months", 0, "months ahead (0 uses the configured default)")
	root.AddCommand(extendCmd)

	root.AddCommand(&cobra.Command{
		Use:   "add-next-month <user-id>",
		Short: "Provision and calculate the month after the latest stored one",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, a *app, args []string) error {
			ym, err := a.ledgers.AddNextMonth(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("provisioned %s for %s\n", ym, args[0])
			return nil
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "overview <user-id> <year>",
		Short: "Print the yearly totals and monthly averages as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: run(func(ctx context.Context, a *app, args []string) error {
			year, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid year %q", args[1])
			}
			overview, err := a.ledgers.YearlyOverview(ctx, args[0], year)
			if err != nil {
				return err
			}
			return printJSON(overview)
		}),
	})

	avgMonths := 0
	avgCmd := &cobra.Command{
		Use:   "expense-average <user-id>",
		Short: "Print the trailing monthly expense average",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, a *app, args []string) error {
			avg, err := a.analytics.MonthlyExpenseAverage(ctx, args[0], avgMonths)
			if err != nil {
				return err
			}
			fmt.Println(avg.StringFixed(2))
			return nil
		}),
	}
	avgCmd.Flags().IntVar(&avgMonths, "months", 0, "trailing window in months (0 uses the default)")
	root.AddCommand(avgCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
