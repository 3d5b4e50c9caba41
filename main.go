package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"newhome-tracker/api"
	"newhome-tracker/config"
	"newhome-tracker/models"
	"newhome-tracker/reasoning"
	"newhome-tracker/scheduler"
	"newhome-tracker/services"
	"newhome-tracker/storage"
	"newhome-tracker/utils"
)

// app holds the wired components shared by every command.
type app struct {
	cfg   *config.Config
	log   zerolog.Logger
	store *storage.SQLStore
	locks *utils.KeyedMutex
}

func main() {
	cfg, envLoaded := config.Load()
	a := &app{cfg: cfg, locks: utils.NewKeyedMutex()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "newhome-tracker",
		Short:         "Track new-construction home listings, their prices and market value",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.log = utils.NewLogger(cfg.LogLevel, cfg.LogPretty)
			if !envLoaded {
				a.log.Debug().Msg("No .env file found, using environment only")
			}
			return a.open(cmd.Context())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&cfg.DatabaseDriver, "db", cfg.DatabaseDriver, "database driver: postgres or sqlite")

	root.AddCommand(a.ingestCommand(), a.evaluateCommand(), a.sweepCommand(), a.serveCommand())

	if err := root.ExecuteContext(ctx); err != nil {
		a.close()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (a *app) open(ctx context.Context) error {
	var err error
	switch a.cfg.DatabaseDriver {
	case "sqlite":
		a.store, err = storage.OpenSQLite(ctx, a.cfg.SQLitePath)
	case "postgres":
		a.store, err = storage.OpenPostgres(ctx, a.cfg.DSN(), &utils.RetryConfig{
			MaxAttempts: a.cfg.MaxRetries,
			BaseDelay:   a.cfg.RetryBaseDelay(),
			MaxDelay:    30 * time.Second,
			Logger:      a.log,
		})
	default:
		return fmt.Errorf("unknown database driver %q", a.cfg.DatabaseDriver)
	}
	if err != nil {
		return err
	}
	a.log.Info().Str("dialect", string(a.store.Dialect())).Msg("Store ready")
	return nil
}

func (a *app) close() {
	if a.store != nil {
		_ = a.store.Close()
		a.store = nil
	}
}

func (a *app) ingestor() (*services.Ingestor, error) {
	archive, err := storage.NewCSVArchive(a.cfg.ArchiveDir)
	if err != nil {
		return nil, err
	}
	ledger := services.NewLedgerWriter(a.store, a.log)
	in := services.NewIngestor(a.store, ledger, a.locks, archive, a.cfg.MaxConcurrency, a.log)
	if a.cfg.SweepAfterIngest {
		in.WithSweeper(a.collector())
	}
	return in, nil
}

func (a *app) collector() *services.GarbageCollector {
	return services.NewGarbageCollector(a.store, a.locks, a.cfg.AbsentBatchesBeforeRemoval, a.log)
}

func (a *app) orchestrator(ctx context.Context) (*services.Orchestrator, error) {
	gemini, err := reasoning.NewGeminiClient(ctx, a.cfg.GeminiAPIKey, a.cfg.GeminiModel, a.log)
	if err != nil {
		return nil, err
	}

	scope := models.ListingFilter{BuilderIDs: a.cfg.EvalBuilders}
	for _, s := range a.cfg.EvalStatuses {
		st := models.ParseStatus(s)
		if st == models.StatusUnknown {
			return nil, fmt.Errorf("EVAL_STATUSES: unknown status %q", s)
		}
		scope.Statuses = append(scope.Statuses, st)
	}

	selector := services.NewComparableSelector(services.ComparableCriteria{
		MinCount:      a.cfg.ComparableMinCount,
		MaxCount:      a.cfg.ComparableMaxCount,
		BedroomDelta:  a.cfg.ComparableBedroomDelta,
		SqftTolerance: a.cfg.ComparableSqftTolerance,
	})
	return services.NewOrchestrator(a.store, gemini, selector, services.EvaluationConfig{
		MinSpacing:        a.cfg.EvalMinSpacing(),
		Timeout:           a.cfg.EvalTimeout(),
		MaxAttempts:       a.cfg.EvalMaxAttempts,
		MaxAttemptsPerRun: a.cfg.EvalMaxAttemptsPerRun,
		Scope:             scope,
		Backoff:           utils.RetryConfig{BaseDelay: a.cfg.RetryBaseDelay(), MaxDelay: 5 * time.Minute},
	}, a.log), nil
}

func (a *app) ingestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [batch.json...]",
		Short: "Reconcile scraped batches; without arguments drains the inbox directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := a.ingestor()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				return scheduler.NewIngestJob(cmd.Context(), a.cfg.InboxDir, in, a.log).Run()
			}
			for _, path := range args {
				batch, err := scheduler.LoadBatch(path)
				if err != nil {
					return err
				}
				if _, err := in.Ingest(cmd.Context(), batch); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (a *app) evaluateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Classify listings against comparable homes in their market",
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := a.orchestrator(cmd.Context())
			if err != nil {
				return err
			}
			_, err = o.Run(cmd.Context())
			return err
		},
	}
}

func (a *app) sweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove long-absent listings and orphaned history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := a.collector().Sweep(cmd.Context())
			return err
		},
	}
}

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduled jobs and the read-only HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			in, err := a.ingestor()
			if err != nil {
				return err
			}
			sched := scheduler.New(a.log)
			if err := sched.AddJob(a.cfg.IngestSchedule, scheduler.NewIngestJob(ctx, a.cfg.InboxDir, in, a.log)); err != nil {
				return fmt.Errorf("ingest schedule: %w", err)
			}
			if err := sched.AddJob(a.cfg.SweepSchedule, scheduler.NewSweepJob(ctx, a.collector(), a.log)); err != nil {
				return fmt.Errorf("sweep schedule: %w", err)
			}
			if o, err := a.orchestrator(ctx); err != nil {
				a.log.Warn().Err(err).Msg("Market evaluation disabled")
			} else if err := sched.AddJob(a.cfg.EvaluateSchedule, scheduler.NewEvaluateJob(ctx, o, a.log)); err != nil {
				return fmt.Errorf("evaluate schedule: %w", err)
			}

			srv := api.New(api.Config{Port: a.cfg.HTTPPort, Log: a.log, Store: a.store})
			errCh := make(chan error, 1)
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()
			sched.Start()

			select {
			case <-ctx.Done():
			case err = <-errCh:
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
				a.log.Error().Err(shutdownErr).Msg("HTTP shutdown failed")
			}
			sched.Stop()
			return err
		},
	}
}
