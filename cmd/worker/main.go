package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nadmax/fieldpay/internal/config"
	"github.com/nadmax/fieldpay/internal/digest"
	"github.com/nadmax/fieldpay/internal/logger"
	"github.com/nadmax/fieldpay/internal/queue"
	"github.com/nadmax/fieldpay/internal/repository/postgres"
	"github.com/nadmax/fieldpay/internal/worker"
	"github.com/nadmax/fieldpay/internal/worker/handlers"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	noScheduler bool
)

var rootCmd = &cobra.Command{
	Use:   "fieldpay-worker",
	Short: "Fieldpay background worker",
	Long:  `Processes queued emails and earnings digests, and schedules the periodic digest.`,
	RunE:  runWorker,
}

var digestNowCmd = &cobra.Command{
	Use:   "digest-now",
	Short: "Enqueue an earnings digest for every worker immediately",
	RunE:  runDigestNow,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigFile, "Path to the YAML config file")
	rootCmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "Process jobs without scheduling digests")

	rootCmd.AddCommand(digestNowCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type deps struct {
	cfg   *config.Config
	repo  *postgres.Repository
	queue *queue.Queue
}

func (d *deps) close() {
	if err := d.queue.Close(); err != nil {
		slog.Error("failed to close worker queue", "error", err)
	}
	if err := d.repo.Close(); err != nil {
		slog.Error("failed to close Postgres repository", "error", err)
	}
}

func setup(ctx context.Context) (*deps, error) {
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger.New(cfg.Logging))

	repo, err := postgres.NewRepository(cfg.Postgres.DSN, postgres.Options{
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	q, err := queue.NewQueue(ctx, client)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	return &deps{cfg: cfg, repo: repo, queue: q}, nil
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := setup(ctx)
	if err != nil {
		return err
	}
	defer d.close()

	cfg := d.cfg
	if cfg.Digest.APIKey == "" {
		slog.Warn("sendgrid api key not set, email jobs will fail")
	}

	mailer := handlers.NewSendGridMailer(cfg.Digest.APIKey, cfg.Digest.FromName, cfg.Digest.FromAddress)
	digests := handlers.NewDigestSender(d.repo, d.repo, mailer, cfg.Digest.CurrencySymbol)

	workerID := cfg.Worker.ID
	if workerID == "" {
		workerID = fmt.Sprintf("worker-%d", time.Now().Unix())
	}

	w := worker.NewWorker(workerID, d.queue)
	w.SetPollInterval(cfg.Worker.PollInterval)
	w.RegisterHandler(handlers.SendEmailJob, handlers.SendEmailHandler(mailer))
	w.RegisterHandler(handlers.EarningsDigestJob, digests.Handle)

	if !noScheduler {
		sched, err := digest.NewScheduler(cfg.Digest.Cron, d.repo, d.queue)
		if err != nil {
			return err
		}
		sched.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			sched.Stop(stopCtx)
		}()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Start(ctx)
	}()

	<-ctx.Done()
	slog.Info("shutting down worker", "worker_id", workerID)
	wg.Wait()

	return nil
}

func runDigestNow(cmd *cobra.Command, args []string) error {
	d, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer d.close()

	sched, err := digest.NewScheduler(d.cfg.Digest.Cron, d.repo, d.queue)
	if err != nil {
		return err
	}

	queued, err := sched.EnqueueAll(cmd.Context())
	fmt.Fprintf(cmd.OutOrStdout(), "queued %d digest jobs\n", queued)
	return err
}
