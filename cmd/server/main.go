package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nadmax/fieldpay/internal/api"
	"github.com/nadmax/fieldpay/internal/config"
	"github.com/nadmax/fieldpay/internal/currency"
	"github.com/nadmax/fieldpay/internal/dashboard"
	"github.com/nadmax/fieldpay/internal/location"
	"github.com/nadmax/fieldpay/internal/logger"
	"github.com/nadmax/fieldpay/internal/queue"
	"github.com/nadmax/fieldpay/internal/repository/postgres"
	"github.com/nadmax/fieldpay/internal/session"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	configPath     string
	originPatterns []string
	summaryWorker  string
)

var rootCmd = &cobra.Command{
	Use:   "fieldpay-server",
	Short: "Fieldpay API server",
	Long:  `Serves the worker dashboard, task lifecycle and live location endpoints.`,
	RunE:  runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE:  runMigrate,
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print a worker's earnings summary",
	RunE:  runSummary,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigFile, "Path to the YAML config file")
	rootCmd.PersistentFlags().StringSliceVar(&originPatterns, "origin", nil, "Allowed websocket origin patterns")
	summaryCmd.Flags().StringVar(&summaryWorker, "worker", "", "Worker ID")
	_ = summaryCmd.MarkFlagRequired("worker")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(summaryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() (*config.Config, *postgres.Repository, error) {
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return nil, nil, err
	}

	slog.SetDefault(logger.New(cfg.Logging))

	repo, err := postgres.NewRepository(cfg.Postgres.DSN, postgres.Options{
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}

	return cfg, repo, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, repo, err := setup()
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			slog.Error("failed to close Postgres repository", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := repo.Migrate(ctx); err != nil {
		return err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	q, err := queue.NewQueue(ctx, client)
	if err != nil {
		return err
	}
	defer func() {
		if err := q.Close(); err != nil {
			slog.Error("failed to close redis client", "error", err)
		}
	}()

	sessions, err := session.NewStore(client, session.Options{
		TTL:          cfg.Session.TTL,
		CacheTTL:     cfg.Session.CacheTTL,
		CacheMaxCost: cfg.Session.CacheMaxCost,
	})
	if err != nil {
		return err
	}
	defer sessions.Close()

	tracker := location.NewTracker(client, repo, cfg.Location.StaleAfter)

	handler := api.NewAPI(api.Deps{
		Tasks:          repo,
		Workers:        repo,
		Sessions:       sessions,
		Dashboard:      dashboard.NewService(repo, tracker, cfg.Digest.CurrencySymbol),
		Locations:      tracker,
		Jobs:           q,
		AdminAPIKey:    cfg.Admin.APIKey,
		CurrencySymbol: cfg.Digest.CurrencySymbol,
		OriginPatterns: originPatterns,
	})

	if cfg.Admin.APIKey == "" {
		slog.Warn("admin api key not set, admin routes will reject every request")
	}

	go startMetricsCollector(ctx, repo, q, cfg.Metrics.CollectInterval)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.Server.Addr, "redis", cfg.Redis.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	_, repo, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()

	if err := repo.Migrate(cmd.Context()); err != nil {
		return err
	}

	slog.Info("schema applied")
	return nil
}

func runSummary(cmd *cobra.Command, args []string) error {
	cfg, repo, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()

	summary, err := dashboard.NewService(repo, nil, cfg.Digest.CurrencySymbol).Load(cmd.Context(), summaryWorker)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Total earnings:          %s\n", currency.FormatWith(cfg.Digest.CurrencySymbol, summary.TotalEarnings))
	fmt.Fprintf(out, "Completed tasks:         %d\n", summary.CompletedTasks)
	fmt.Fprintf(out, "Average completion time: %sh\n", strconv.FormatFloat(summary.AverageCompletionTime, 'f', -1, 64))
	if summary.ActiveTask != nil {
		fmt.Fprintf(out, "Current status:          Active Task (%s)\n", summary.ActiveTask.Title)
	} else {
		fmt.Fprintln(out, "Current status:          No Active Task")
	}

	return nil
}
