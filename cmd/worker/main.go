package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/ledgerline/internal/app"
	"github.com/ledgerline/ledgerline/internal/close"
	jobmetrics "github.com/ledgerline/ledgerline/internal/jobs"
	"github.com/ledgerline/ledgerline/internal/ledger/accounts"
	"github.com/ledgerline/ledgerline/internal/ledger/balances"
	"github.com/ledgerline/ledgerline/internal/ledger/journals"
	"github.com/ledgerline/ledgerline/internal/ledger/periods"
	"github.com/ledgerline/ledgerline/internal/shared"
	"github.com/ledgerline/ledgerline/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	auditLogger := shared.NewAuditLogger(pool)

	accountService := accounts.NewService(accounts.NewRepository(pool))
	periodService := periods.NewService(periods.NewRepository(pool))
	journalService := journals.NewService(journals.NewRepository(pool), auditLogger)

	epsilon, err := decimal.NewFromString(cfg.ControlEpsilon)
	if err != nil {
		logger.Warn("invalid control epsilon, using default", slog.String("value", cfg.ControlEpsilon))
		epsilon = decimal.Zero
	}
	balanceService := balances.NewService(
		balances.NewRepository(pool),
		accountService,
		balances.NewPGSubsidiaryLedger(pool),
		epsilon,
	)

	closeService := close.NewService(close.Config{
		Journals:     journalService,
		Periods:      periodService,
		Balances:     balanceService,
		Recurring:    close.NewRecurringRepository(pool),
		Audit:        auditLogger,
		Logger:       logger,
		BaseCurrency: cfg.BaseCurrency,
	})

	metrics := jobmetrics.NewMetrics(nil)
	integrity := jobs.NewGLIntegrity(pool, logger, metrics)

	recurringTask, err := jobs.NewRecurringTask(jobs.RecurringPayload{})
	if err != nil {
		logger.Error("build recurring task", slog.Any("error", err))
		os.Exit(1)
	}
	integrityTask, err := jobs.NewIntegrityTask(time.Now().UTC())
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: jobs.Handlers{
			Closer:    closeService,
			Integrity: integrity,
			Logger:    logger,
			Metrics:   metrics,
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.RecurringCron, Task: recurringTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.IntegrityCron, Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
