package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arxiv-stars/config"
	"arxiv-stars/models"
	"arxiv-stars/services"
	"arxiv-stars/storage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	debug bool

	runCategory      string
	runStart         string
	runEnd           string
	runSkipDiscovery bool
	runSkipResolve   bool
	runSkipPoll      bool

	rankDate       string
	rankSort       string
	rankAscending  bool
	rankGrowthDays int
	rankLimit      int
)

var rootCmd = &cobra.Command{
	Use:           "arxiv-stars",
	Short:         "Track GitHub stars of arXiv papers",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run discovery, repository resolution and star polling once",
	Long: `Fetches new papers of the configured category, resolves the repository
of every unresolved paper and records today's star count for every paper with
a repository. Without --start/--end the configured window is used.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := services.RunOptions{
			Category:      runCategory,
			SkipDiscovery: runSkipDiscovery,
			SkipResolve:   runSkipResolve,
			SkipPoll:      runSkipPoll,
		}
		var err error
		if opts.Start, err = parseDay(runStart); err != nil {
			return fmt.Errorf("--start: %w", err)
		}
		if opts.End, err = parseDay(runEnd); err != nil {
			return fmt.Errorf("--end: %w", err)
		}
		if !opts.Start.IsZero() && !opts.End.IsZero() && opts.Start.After(opts.End) {
			return fmt.Errorf("--start must not be after --end")
		}

		cfg, logger, store, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer store.Close()

		gen, err := services.NewGenerator(cfg, logger)
		if err != nil {
			return err
		}
		pipeline := services.NewPipeline(cfg, logger, store, gen)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		summary, err := pipeline.Run(ctx, opts)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, logger, store, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer store.Close()

		if err := store.Migrate(cmd.Context()); err != nil {
			return err
		}
		logger.Info("Schema is up to date.")
		return nil
	},
}

var rankingsCmd = &cobra.Command{
	Use:   "rankings",
	Short: "Print the ranking for an observation date",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, logger, store, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer store.Close()

		ctx := cmd.Context()
		date := rankDate
		if date == "" {
			dates, err := store.ListDistinctDates(ctx)
			if err != nil {
				return err
			}
			if len(dates) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no star counts recorded yet")
				return nil
			}
			date = dates[0]
		}

		page, err := store.Rankings(ctx, storage.RankingQuery{
			Date:       date,
			GrowthDays: rankGrowthDays,
			SortBy:     rankSort,
			Ascending:  rankAscending,
			PerPage:    rankLimit,
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s  (growth over %d days, %d papers)\n", page.Date, page.GrowthDays, page.Total)
		for i, row := range page.Items {
			fmt.Fprintf(out, "%3d. %7d stars  %+6d  %-12s  %s\n", i+1, row.Stars, row.Growth, row.ArxivID, row.GithubLink)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	runCmd.Flags().StringVar(&runCategory, "category", "", "arXiv category (default ARXIV_CATEGORY)")
	runCmd.Flags().StringVar(&runStart, "start", "", "First submission day, YYYY-MM-DD")
	runCmd.Flags().StringVar(&runEnd, "end", "", "Last submission day, YYYY-MM-DD")
	runCmd.Flags().BoolVar(&runSkipDiscovery, "skip-discovery", false, "Do not fetch new papers")
	runCmd.Flags().BoolVar(&runSkipResolve, "skip-resolve", false, "Do not resolve repositories")
	runCmd.Flags().BoolVar(&runSkipPoll, "skip-poll", false, "Do not record star counts")

	rankingsCmd.Flags().StringVar(&rankDate, "date", "", "Observation day, YYYY-MM-DD (default latest)")
	rankingsCmd.Flags().StringVar(&rankSort, "sort", storage.SortByGrowth, "Sort by 'growth' or 'stars'")
	rankingsCmd.Flags().BoolVar(&rankAscending, "asc", false, "Sort ascending")
	rankingsCmd.Flags().IntVar(&rankGrowthDays, "growth-days", storage.DefaultGrowthDays, "Growth lookback in days")
	rankingsCmd.Flags().IntVar(&rankLimit, "limit", 20, "Number of rows")

	rootCmd.AddCommand(runCmd, migrateCmd, rankingsCmd)
}

func setup() (*config.Config, *zap.Logger, *storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger()
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := storage.Open(cfg, logger)
	if err != nil {
		logger.Sync()
		return nil, nil, nil, err
	}
	return cfg, logger, store, nil
}

func newLogger() (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(models.DateLayout, s)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
