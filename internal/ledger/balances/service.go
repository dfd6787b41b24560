package balances

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ledgerline/ledgerline/internal/ledger/accounts"
)

// SubsidiaryLedger supplies externally computed subsidiary balances
// (AR, AP, inventory) for control-account reconciliation.
type SubsidiaryLedger interface {
	Balance(ctx context.Context, module string, accountID, periodID int64) (decimal.Decimal, error)
}

// ControlAccountSource lists the accounts flagged for control checks.
type ControlAccountSource interface {
	ListControlAccounts(ctx context.Context) ([]accounts.Account, error)
}

// Service exposes balance queries and control-account reconciliation.
type Service struct {
	repo       Repository
	controls   ControlAccountSource
	subsidiary SubsidiaryLedger
	// epsilon is the tolerated control-account difference.
	epsilon decimal.Decimal
}

// NewService constructs the balance aggregator service.
func NewService(repo Repository, controls ControlAccountSource, subsidiary SubsidiaryLedger, epsilon decimal.Decimal) *Service {
	if epsilon.IsZero() {
		epsilon = decimal.New(1, -2)
	}
	return &Service{repo: repo, controls: controls, subsidiary: subsidiary, epsilon: epsilon}
}

// Get returns the balance row for one (account, period, dimensions) key.
func (s *Service) Get(ctx context.Context, accountID, periodID int64, filter DimensionFilter) (AccountBalance, error) {
	return s.repo.Get(ctx, accountID, periodID, filter)
}

// AccountBalanceAsOf returns the account's signed balance from posted
// lines dated up to asOf.
func (s *Service) AccountBalanceAsOf(ctx context.Context, accountID int64, asOf time.Time) (decimal.Decimal, error) {
	return s.repo.AccountBalanceAsOf(ctx, accountID, asOf)
}

// TrialBalance sums balances per account for the period and appends a
// synthetic TOTAL row. Total debit equals total credit for a correctly
// posted ledger.
func (s *Service) TrialBalance(ctx context.Context, periodID int64, filter DimensionFilter) (TrialBalance, error) {
	rows, err := s.repo.TrialBalanceRows(ctx, periodID, filter)
	if err != nil {
		return TrialBalance{}, err
	}
	tb := TrialBalance{PeriodID: periodID, Rows: rows}
	for _, row := range rows {
		tb.TotalDebit = tb.TotalDebit.Add(row.Debit)
		tb.TotalCredit = tb.TotalCredit.Add(row.Credit)
	}
	tb.Rows = append(tb.Rows, TrialBalanceRow{
		Code:   "TOTAL",
		Name:   "Total",
		Debit:  tb.TotalDebit,
		Credit: tb.TotalCredit,
	})
	return tb, nil
}

// ControlAccountCheck compares the GL closing balance of one control
// account against its subsidiary ledger.
func (s *Service) ControlAccountCheck(ctx context.Context, account accounts.Account, periodID int64) (ControlCheck, error) {
	gl, err := s.repo.GLClosingBalance(ctx, account.ID, periodID)
	if err != nil {
		return ControlCheck{}, err
	}
	sub, err := s.subsidiary.Balance(ctx, account.ControlModule, account.ID, periodID)
	if err != nil {
		return ControlCheck{}, err
	}
	diff := gl.Sub(sub)
	return ControlCheck{
		AccountID:         account.ID,
		Code:              account.Code,
		ControlModule:     account.ControlModule,
		GLBalance:         gl,
		SubsidiaryBalance: sub,
		Difference:        diff,
		Reconciled:        diff.Abs().LessThan(s.epsilon),
	}, nil
}

// SweepControlAccounts checks every control account for the period
// concurrently and returns all results, reconciled or not. Callers decide
// whether unreconciled accounts block a close.
func (s *Service) SweepControlAccounts(ctx context.Context, periodID int64) ([]ControlCheck, error) {
	controls, err := s.controls.ListControlAccounts(ctx)
	if err != nil {
		return nil, err
	}
	var (
		mu     sync.Mutex
		checks []ControlCheck
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, account := range controls {
		g.Go(func() error {
			check, err := s.ControlAccountCheck(ctx, account, periodID)
			if err != nil {
				return err
			}
			mu.Lock()
			checks = append(checks, check)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(checks, func(i, j int) bool { return checks[i].Code < checks[j].Code })
	return checks, nil
}

// RollForward seeds the destination period's opening balances from the
// source period's closings.
func (s *Service) RollForward(ctx context.Context, fromPeriodID, toPeriodID int64) error {
	return s.repo.RollForward(ctx, fromPeriodID, toPeriodID)
}
