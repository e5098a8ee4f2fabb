package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/city-events/internal/config"
	"github.com/pfrederiksen/city-events/internal/event"
	"github.com/pfrederiksen/city-events/internal/ingest"
	"github.com/pfrederiksen/city-events/internal/logger"
	"github.com/pfrederiksen/city-events/internal/metrics"
	"github.com/pfrederiksen/city-events/internal/runlock"
	"github.com/pfrederiksen/city-events/internal/scraper"
	"github.com/pfrederiksen/city-events/internal/server"
	"github.com/pfrederiksen/city-events/internal/storage"
)

const (
	ExitSuccess = 0
	ExitError   = 1
)

// ErrScrapersFailed is returned by scrape when at least one source failed
var ErrScrapersFailed = errors.New("one or more scrapers failed")

// ErrRunInProgress is returned by scrape when another run holds the lock
var ErrRunInProgress = errors.New("another scrape run is in progress")

// app carries state shared by all subcommands
type app struct {
	configPath  string
	verbose     bool
	autoMigrate bool

	cfg *config.Config
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "city-events",
		Short: "Scrape city event listings into a database",
		Long: `A tool that scrapes event listing pages for configured cities,
normalizes their dates and stores new events, skipping ones already stored.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to a YAML config file")
	cmd.PersistentFlags().BoolVar(&a.verbose, "verbose", false, "Enable verbose logging")
	cmd.PersistentFlags().BoolVar(&a.autoMigrate, "auto-migrate", true, "Create the schema before using the store")

	cmd.AddCommand(
		a.newScrapeCmd(),
		a.newTestScraperCmd(),
		a.newMigrateCmd(),
		a.newServeCmd(),
	)

	return cmd
}

// setup loads and validates configuration and configures logging
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	level := logger.ParseLevel(cfg.Log.Level)
	if a.verbose {
		level = logger.LevelDebug
	}
	logger.SetDefault(logger.NewWithFormat(level, logger.Format(cfg.Log.Format), cmd.ErrOrStderr()))

	return nil
}

func (a *app) openStore(ctx context.Context) (storage.Store, error) {
	store, err := storage.Open(ctx, a.cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	if a.autoMigrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("migrating storage: %w", err)
		}
	}
	return store, nil
}

// acquireRunLock takes the configured run lock. With no Redis configured the
// lock is process-local and always free.
func (a *app) acquireRunLock(ctx context.Context) (func(), error) {
	lock, closeLock, err := runlock.Open(ctx, a.cfg.Lock)
	if err != nil {
		return nil, err
	}

	release, ok, err := lock.TryLock(ctx)
	if err != nil {
		closeLock()
		return nil, err
	}
	if !ok {
		closeLock()
		return nil, ErrRunInProgress
	}

	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to release run lock", logger.Fields{"error": err.Error()})
		}
		closeLock()
	}, nil
}

func (a *app) scrapers() []scraper.Scraper {
	return scraper.NewAll(a.cfg.Sources, a.cfg.ScraperOptions()...)
}

func (a *app) newScrapeCmd() *cobra.Command {
	var flagFormat string

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Run one ingestion pass over every configured source",
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := ParseFormat(flagFormat)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			release, err := a.acquireRunLock(ctx)
			if err != nil {
				return err
			}
			defer release()

			runner := ingest.NewRunner(a.scrapers(), store)
			summary := ingest.Summarize(runner.Run(ctx))

			out := &ScrapeOutput{CheckedAt: time.Now().UTC(), Summary: summary}
			if err := WriteScrape(cmd.OutOrStdout(), out, format, a.verbose); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}

			if !summary.AllSucceeded() {
				return ErrScrapersFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flagFormat, "format", "text", "Output format: text, json or yaml")
	return cmd
}

func (a *app) newTestScraperCmd() *cobra.Command {
	var (
		flagFormat string
		flagSort   string
	)

	cmd := &cobra.Command{
		Use:   "test-scraper",
		Short: "Fetch every source and print the events without storing them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := ParseFormat(flagFormat)
			if err != nil {
				return err
			}
			order, ok := ParseSortOrder(flagSort)
			if !ok {
				return fmt.Errorf("invalid sort: %s (must be 'page', 'date', 'city' or 'title')", flagSort)
			}

			out := &TestScraperOutput{CheckedAt: time.Now().UTC(), Sources: []SourceEvents{}}
			failed := false

			for _, sc := range a.scrapers() {
				src := SourceEvents{Source: sc.SourceName(), City: sc.City(), Events: []*event.Event{}}

				events, err := sc.FetchEvents(cmd.Context())
				if err != nil {
					failed = true
					src.Error = err.Error()
				} else {
					sortEvents(events, order)
					src.Events = events
					out.EventCount += len(events)
				}
				out.Sources = append(out.Sources, src)
			}

			if err := WriteTestScraper(cmd.OutOrStdout(), out, format, a.verbose); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}
			if failed {
				return ErrScrapersFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flagFormat, "format", "text", "Output format: text, json or yaml")
	cmd.Flags().StringVar(&flagSort, "sort", string(SortNone), "Sort events by: page, date, city or title")
	return cmd
}

func (a *app) newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the events table and indexes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := storage.Open(ctx, a.cfg.Store)
			if err != nil {
				return fmt.Errorf("initializing storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(ctx); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Schema is up to date (%s).\n", a.cfg.Store.Driver)
			return nil
		},
	}
}

func (a *app) newServeCmd() *cobra.Command {
	var flagAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the events HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			lock, closeLock, err := runlock.Open(ctx, a.cfg.Lock)
			if err != nil {
				return err
			}
			defer closeLock()

			m := metrics.New()
			runner := ingest.NewRunner(a.scrapers(), store, ingest.WithMetrics(m))
			srv := server.New(store, runner,
				server.WithConfig(a.cfg),
				server.WithMetrics(m),
				server.WithRunLock(lock),
			)

			addr := a.cfg.Server.Addr
			if flagAddr != "" {
				addr = flagAddr
			}
			return srv.ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

// Execute runs the CLI
func Execute() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, ErrScrapersFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(ExitError)
	}
}
