package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	auditpg "github.com/frahmantamala/charge-orchestrator/internal/audit/postgres"
	collectionpg "github.com/frahmantamala/charge-orchestrator/internal/collection/postgres"
	"github.com/frahmantamala/charge-orchestrator/internal/core/events"
	"github.com/frahmantamala/charge-orchestrator/internal/processor"
	"github.com/frahmantamala/charge-orchestrator/internal/reconciler"
	"github.com/frahmantamala/charge-orchestrator/pkg/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start background workers such as the charge reconciler.`,
}

var reconcileWorkerCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Start the charge reconciler",
	Long:  `Poll processors for attempts stuck in created, pending or unknown and record their final status`,
	Run: func(cmd *cobra.Command, args []string) {
		startReconcileWorker()
	},
}

var (
	maxWorkers    int
	jobQueueSize  int
	batchSize     int
	reconcileOnce bool
)

func startReconcileWorker() {
	config, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	lg := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	gormDB, err := initGorm(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize gorm: %v\n", err)
		os.Exit(1)
	}

	reconcilerConfig := reconciler.ConfigFrom(config.Reconciler)
	reconcilerConfig.BatchSize = getIntFlag(batchSize, reconcilerConfig.BatchSize)
	reconcilerConfig.Pool.MaxWorkers = getIntFlag(maxWorkers, reconcilerConfig.Pool.MaxWorkers)
	reconcilerConfig.Pool.JobQueueSize = getIntFlag(jobQueueSize, reconcilerConfig.Pool.JobQueueSize)

	bus := events.NewEventBus(lg)
	bus.SubscribeAll(events.ChargeEventTypes, events.LoggingHandler(lg))

	clients := []reconciler.StatusClient{
		processor.NewClient(processor.ConfigFrom(config.Processors.DebitCard), lg),
		processor.NewClient(processor.ConfigFrom(config.Processors.BankAccount), lg),
	}

	service := reconciler.NewService(
		collectionpg.NewAttemptRepository(gormDB),
		clients,
		auditpg.NewWriter(gormDB),
		bus,
		reconcilerConfig,
		lg,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if reconcileOnce {
		summary, err := service.RunOnce(ctx)
		if err != nil {
			lg.Error("reconcile pass failed", "error", err)
			os.Exit(1)
		}
		_ = json.NewEncoder(os.Stdout).Encode(summary)
		return
	}

	lg.Info("starting reconcile worker",
		"interval", reconcilerConfig.Interval,
		"batch_size", reconcilerConfig.BatchSize,
		"max_workers", reconcilerConfig.Pool.MaxWorkers,
		"job_queue_size", reconcilerConfig.Pool.JobQueueSize)

	if err := service.Run(ctx); err != nil && err != context.Canceled {
		lg.Error("reconcile worker stopped", "error", err)
		os.Exit(1)
	}
	lg.Info("reconcile worker shutdown complete")
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	reconcileWorkerCmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "Maximum number of workers (overrides config)")
	reconcileWorkerCmd.Flags().IntVar(&jobQueueSize, "job-queue-size", 0, "Job queue buffer size (overrides config)")
	reconcileWorkerCmd.Flags().IntVar(&batchSize, "batch-size", 0, "Attempts fetched per status per pass (overrides config)")
	reconcileWorkerCmd.Flags().BoolVar(&reconcileOnce, "once", false, "Run a single pass, print its summary and exit")

	workerCmd.AddCommand(reconcileWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
