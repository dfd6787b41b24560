package balances

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/ledgerline/internal/ledger/accounts"
)

// ClosingBalance applies one period's activity to an opening balance,
// signed by the account's normal side. ApplyDelta and RollForward recompute
// the stored closing column with this same arithmetic in SQL.
func ClosingBalance(side accounts.BalanceSide, opening, periodDebit, periodCredit decimal.Decimal) decimal.Decimal {
	if side == accounts.BalanceSideDebit {
		return opening.Add(periodDebit).Sub(periodCredit)
	}
	return opening.Add(periodCredit).Sub(periodDebit)
}

// CarriesForward reports whether an account's closing balance seeds the
// next period's opening. Revenue and expense accounts reset to zero;
// RollForward applies the same rule when selecting rows to copy.
func CarriesForward(t accounts.AccountType) bool {
	switch t {
	case accounts.AccountTypeRevenue, accounts.AccountTypeExpense:
		return false
	default:
		return true
	}
}

// AccountBalance is the materialised aggregate keyed by
// (account, period, dimension tuple). Rows are written only by ApplyDelta
// and the roll-forward; callers never edit them directly.
type AccountBalance struct {
	ID           int64
	AccountID    int64
	PeriodID     int64
	DepartmentID *int64
	CostCenterID *int64
	ProjectID    *int64
	Opening      decimal.Decimal
	PeriodDebit  decimal.Decimal
	PeriodCredit decimal.Decimal
	Closing      decimal.Decimal
	UpdatedAt    time.Time
}

// Delta is one posted journal line's contribution to a balance row.
type Delta struct {
	AccountID    int64
	PeriodID     int64
	DepartmentID *int64
	CostCenterID *int64
	ProjectID    *int64
	Debit        decimal.Decimal
	Credit       decimal.Decimal
}

// DimensionFilter narrows balance queries to specific dimension values.
// Nil fields match any value.
type DimensionFilter struct {
	DepartmentID *int64
	CostCenterID *int64
	ProjectID    *int64
}

// TrialBalanceRow is one account's aggregated line in a trial balance.
type TrialBalanceRow struct {
	AccountID int64
	Code      string
	Name      string
	Type      string
	Opening   decimal.Decimal
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Closing   decimal.Decimal
}

// TrialBalance lists every account's balances for a period plus a
// synthetic TOTAL row. TotalDebit equals TotalCredit for a correctly
// posted ledger.
type TrialBalance struct {
	PeriodID    int64
	Rows        []TrialBalanceRow
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
}

// ControlCheck reports a control account against its subsidiary ledger.
type ControlCheck struct {
	AccountID         int64
	Code              string
	ControlModule     string
	GLBalance         decimal.Decimal
	SubsidiaryBalance decimal.Decimal
	Difference        decimal.Decimal
	Reconciled        bool
}
