// rawfeed ingests end-of-day market data, dividends, splits, and company
// metadata into the raw postgres tables.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/finbase/rawfeed/internal/app"
	"github.com/finbase/rawfeed/internal/common"
	"github.com/finbase/rawfeed/internal/interfaces"
	"github.com/finbase/rawfeed/internal/models"
)

const (
	exitOK       = 0
	exitPartial  = 1
	exitConfig   = 2
	exitCanceled = 130
)

var (
	configPath string

	fromDate      string
	pricesOnly    bool
	dividendsOnly bool
	companiesOnly bool
	force         bool
	limit         int
	reportFile    string
	daysAhead     int
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := exitOK
	root := newRootCommand(ctx, &code)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return exitCanceled
		}
		if code == exitOK {
			return exitConfig
		}
	}
	if ctx.Err() != nil {
		return exitCanceled
	}
	return code
}

func newRootCommand(ctx context.Context, code *int) *cobra.Command {
	root := &cobra.Command{
		Use:           "rawfeed",
		Short:         "Incremental market-data ingestion pipeline",
		Version:       fmt.Sprintf("%s (build %s, commit %s)", common.GetVersion(), common.GetBuild(), common.GetGitCommit()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "rawfeed.toml", "path to the TOML config file")

	root.AddCommand(newUpdateCommand(ctx, code))
	root.AddCommand(newDiscoverCommand(ctx, code))
	root.AddCommand(newRefreshCompaniesCommand(ctx, code))
	root.AddCommand(newFutureDividendsCommand(ctx, code))
	return root
}

func newUpdateCommand(ctx context.Context, code *int) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Run the daily ingestion (prices, dividends, companies)",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := interfaces.UpdateOptions{
				PricesOnly:    pricesOnly,
				DividendsOnly: dividendsOnly,
				CompaniesOnly: companiesOnly,
				Force:         force,
				Limit:         limit,
			}
			if fromDate != "" {
				d, err := time.Parse("2006-01-02", fromDate)
				if err != nil {
					return fmt.Errorf("--from-date %q is not YYYY-MM-DD", fromDate)
				}
				opts.FromDate = d
			}

			return withApp(ctx, code, func(a *app.App) (*models.RunReport, error) {
				return a.Ingest.Update(ctx, opts)
			})
		},
	}
	cmd.Flags().StringVar(&fromDate, "from-date", "", "override the planner's per-symbol from-date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&pricesOnly, "prices-only", false, "run only the price phase")
	cmd.Flags().BoolVar(&dividendsOnly, "dividends-only", false, "run only the dividend phase")
	cmd.Flags().BoolVar(&companiesOnly, "companies-only", false, "run only the company phase")
	cmd.Flags().BoolVar(&force, "force", false, "ignore the staleness skip and market-hours gate")
	cmd.Flags().IntVar(&limit, "limit", 0, "cap the work list size (0 = unlimited)")
	cmd.Flags().StringVar(&reportFile, "report-file", "", "write the run report as JSON to this path")
	return cmd
}

func newDiscoverCommand(ctx context.Context, code *int) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Enumerate, filter, and validate the symbol universe",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(ctx, code, func(a *app.App) (*models.RunReport, error) {
				report := models.NewRunReport("discover")
				phase, err := a.Discovery.Discover(ctx)
				if err != nil {
					report.Fatal = err.Error()
					return report.Finish(), err
				}
				report.Add(phase)
				return report.Finish(), nil
			})
		},
	}
}

func newRefreshCompaniesCommand(ctx context.Context, code *int) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh-companies",
		Short: "Re-fetch company metadata for symbols missing a name",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(ctx, code, func(a *app.App) (*models.RunReport, error) {
				return a.Ingest.RefreshCompanies(ctx, limit)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "cap the work list size (0 = unlimited)")
	return cmd
}

func newFutureDividendsCommand(ctx context.Context, code *int) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "future-dividends",
		Short: "Populate announced dividend events ahead of their ex-dates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(ctx, code, func(a *app.App) (*models.RunReport, error) {
				return a.Ingest.FutureDividends(ctx, daysAhead)
			})
		},
	}
	cmd.Flags().IntVar(&daysAhead, "days-ahead", 0, "calendar window in days (0 = configured default)")
	return cmd
}

// withApp assembles the pipeline, runs one mode, and maps the outcome to the
// process exit code.
func withApp(ctx context.Context, code *int, fn func(a *app.App) (*models.RunReport, error)) error {
	a, err := app.New(ctx, configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rawfeed:", err)
		*code = exitConfig
		return err
	}
	defer a.Close()

	report, err := fn(a)
	if report != nil {
		summarize(a, report)
		if reportFile != "" {
			if werr := writeReport(report, reportFile); werr != nil {
				a.Logger.Error().Err(werr).Str("path", reportFile).Msg("Failed to write run report")
			}
		}
		*code = report.ExitCode()
	}
	if err != nil && *code == exitOK {
		*code = exitPartial
	}
	return err
}

func summarize(a *app.App, report *models.RunReport) {
	if report.Skipped {
		a.Logger.Info().Str("run_id", report.RunID).Str("reason", report.Reason).Msg("Run skipped")
		return
	}
	for _, phase := range report.Phases {
		a.Logger.Info().
			Str("run_id", report.RunID).
			Str("phase", string(phase.Phase)).
			Int("inputs", phase.Inputs).
			Int("skipped_staleness", phase.SkippedStaleness).
			Int("skipped_ledger", phase.SkippedLedger).
			Int("skipped_unchanged", phase.SkippedUnchanged).
			Int("processed", phase.Processed).
			Int("succeeded", phase.Succeeded).
			Int("failed", phase.Failed).
			Int("rows_written", phase.RowsWritten).
			Dur("elapsed", phase.Elapsed).
			Msg("Phase complete")
	}
}

func writeReport(report *models.RunReport, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
