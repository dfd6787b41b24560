package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/ledgerline/cmd/ledgerline/cli"
	"github.com/ledgerline/ledgerline/internal/app"
	"github.com/ledgerline/ledgerline/internal/close"
	"github.com/ledgerline/ledgerline/internal/ledger/accounts"
	"github.com/ledgerline/ledgerline/internal/ledger/balances"
	"github.com/ledgerline/ledgerline/internal/ledger/journals"
	"github.com/ledgerline/ledgerline/internal/ledger/periods"
	"github.com/ledgerline/ledgerline/internal/shared"
	"github.com/ledgerline/ledgerline/jobs"
)

const usage = `usage: ledgerline <command> [flags]

commands:
  close       run or enqueue a period close
  recurring   enqueue recurring entry generation
  integrity   run the trial-balance integrity scan
  queue       show background queue stats
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	var code int
	switch os.Args[1] {
	case "close":
		code = runClose(ctx, cfg, logger, os.Args[2:])
	case "recurring":
		code = runTrigger(ctx, cfg, logger, jobs.TaskRecurring)
	case "integrity":
		code = runIntegrity(ctx, cfg, logger)
	case "queue":
		code = runQueue(ctx, cfg)
	default:
		fmt.Fprint(os.Stderr, usage)
		code = 2
	}
	os.Exit(code)
}

func runClose(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("close", flag.ExitOnError)
	periodID := fs.Int64("period", 0, "period id to close")
	actorID := fs.Int64("actor", 0, "acting user id")
	permanent := fs.Bool("permanent", false, "permanently close the period")
	inline := fs.Bool("inline", false, "run the close in-process instead of enqueueing")
	_ = fs.Parse(args)
	if *periodID == 0 {
		fmt.Fprintln(os.Stderr, "close: -period is required")
		return 2
	}

	if !*inline {
		jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
		if err != nil {
			logger.Error("init jobs cli", slog.Any("error", err))
			return 1
		}
		defer jobsCLI.Close()
		info, err := jobsCLI.TriggerClose(ctx, *periodID, *actorID, *permanent)
		if err != nil {
			logger.Error("enqueue close", slog.Any("error", err))
			return 1
		}
		fmt.Printf("enqueued %s id=%s\n", info.Type, info.ID)
		return 0
	}

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	orchestrator := buildCloseService(pool, cfg, logger)
	result, err := orchestrator.Run(ctx, close.RunInput{
		PeriodID:  *periodID,
		ActorID:   *actorID,
		Permanent: *permanent,
	})
	for _, step := range result.Steps {
		fmt.Printf("ok   %-20s %s\n", step.Step, step.Detail)
	}
	for _, stepErr := range result.Errors {
		fmt.Printf("FAIL %-20s %v\n", stepErr.Step, stepErr.Err)
	}
	if err != nil {
		logger.Error("close run", slog.Any("error", err))
		return 1
	}
	fmt.Printf("period %d closed\n", result.PeriodID)
	return 0
}

func runTrigger(ctx context.Context, cfg *app.Config, logger *slog.Logger, task string) int {
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		logger.Error("init jobs cli", slog.Any("error", err))
		return 1
	}
	defer jobsCLI.Close()
	info, err := jobsCLI.Trigger(ctx, task)
	if err != nil {
		logger.Error("enqueue job", slog.String("task", task), slog.Any("error", err))
		return 1
	}
	fmt.Printf("enqueued %s id=%s\n", info.Type, info.ID)
	return 0
}

func runIntegrity(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()
	if err := jobs.NewGLIntegrity(pool, logger, nil).Scan(ctx); err != nil {
		logger.Error("integrity scan", slog.Any("error", err))
		return 1
	}
	fmt.Println("integrity scan clean")
	return 0
}

func runQueue(ctx context.Context, cfg *app.Config) int {
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer jobsCLI.Close()
	stats, err := jobsCLI.InspectQueue(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	return 0
}

func buildCloseService(pool *pgxpool.Pool, cfg *app.Config, logger *slog.Logger) *close.Service {
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

	return close.NewService(close.Config{
		Journals:     journalService,
		Periods:      periodService,
		Balances:     balanceService,
		Recurring:    close.NewRecurringRepository(pool),
		Audit:        auditLogger,
		Logger:       logger,
		BaseCurrency: cfg.BaseCurrency,
	})
}
