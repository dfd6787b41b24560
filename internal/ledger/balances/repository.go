package balances

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/ledgerline/internal/ledger/shared"
)

// Repository exposes the read side of the balance aggregate.
type Repository interface {
	Get(ctx context.Context, accountID, periodID int64, filter DimensionFilter) (AccountBalance, error)
	TrialBalanceRows(ctx context.Context, periodID int64, filter DimensionFilter) ([]TrialBalanceRow, error)
	AccountBalanceAsOf(ctx context.Context, accountID int64, asOf time.Time) (decimal.Decimal, error)
	GLClosingBalance(ctx context.Context, accountID, periodID int64) (decimal.Decimal, error)
	RollForward(ctx context.Context, fromPeriodID, toPeriodID int64) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a pgx-backed balance repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func (r *repository) Get(ctx context.Context, accountID, periodID int64, filter DimensionFilter) (AccountBalance, error) {
	var b AccountBalance
	var opening, debit, credit, closing string
	err := r.db.QueryRow(ctx, `SELECT id, account_id, period_id, department_id, cost_center_id, project_id,
opening::text, period_debit::text, period_credit::text, closing::text, updated_at
FROM account_balances
WHERE account_id=$1 AND period_id=$2
AND department_id IS NOT DISTINCT FROM $3
AND cost_center_id IS NOT DISTINCT FROM $4
AND project_id IS NOT DISTINCT FROM $5`,
		accountID, periodID, filter.DepartmentID, filter.CostCenterID, filter.ProjectID).
		Scan(&b.ID, &b.AccountID, &b.PeriodID, &b.DepartmentID, &b.CostCenterID, &b.ProjectID,
			&opening, &debit, &credit, &closing, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountBalance{}, shared.ErrBalanceNotFound
		}
		return AccountBalance{}, err
	}
	if b.Opening, err = parseAmount(opening); err != nil {
		return AccountBalance{}, err
	}
	if b.PeriodDebit, err = parseAmount(debit); err != nil {
		return AccountBalance{}, err
	}
	if b.PeriodCredit, err = parseAmount(credit); err != nil {
		return AccountBalance{}, err
	}
	if b.Closing, err = parseAmount(closing); err != nil {
		return AccountBalance{}, err
	}
	return b, nil
}

// TrialBalanceRows sums balance rows per account for the period, applying
// optional dimension filters.
func (r *repository) TrialBalanceRows(ctx context.Context, periodID int64, filter DimensionFilter) ([]TrialBalanceRow, error) {
	conditions := []string{"ab.period_id = $1"}
	args := []any{periodID}
	if filter.DepartmentID != nil {
		args = append(args, *filter.DepartmentID)
		conditions = append(conditions, fmt.Sprintf("ab.department_id = $%d", len(args)))
	}
	if filter.CostCenterID != nil {
		args = append(args, *filter.CostCenterID)
		conditions = append(conditions, fmt.Sprintf("ab.cost_center_id = $%d", len(args)))
	}
	if filter.ProjectID != nil {
		args = append(args, *filter.ProjectID)
		conditions = append(conditions, fmt.Sprintf("ab.project_id = $%d", len(args)))
	}
	query := `SELECT a.id, a.code, a.name, a.type,
SUM(ab.opening)::text, SUM(ab.period_debit)::text, SUM(ab.period_credit)::text, SUM(ab.closing)::text
FROM account_balances ab
JOIN accounts a ON a.id = ab.account_id
WHERE ` + strings.Join(conditions, " AND ") + `
GROUP BY a.id, a.code, a.name, a.type
ORDER BY a.code`
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TrialBalanceRow
	for rows.Next() {
		var row TrialBalanceRow
		var opening, debit, credit, closing string
		if err := rows.Scan(&row.AccountID, &row.Code, &row.Name, &row.Type,
			&opening, &debit, &credit, &closing); err != nil {
			return nil, err
		}
		if row.Opening, err = parseAmount(opening); err != nil {
			return nil, err
		}
		if row.Debit, err = parseAmount(debit); err != nil {
			return nil, err
		}
		if row.Credit, err = parseAmount(credit); err != nil {
			return nil, err
		}
		if row.Closing, err = parseAmount(closing); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// AccountBalanceAsOf derives a balance from posted lines up to a date,
// signed by the account's normal side.
func (r *repository) AccountBalanceAsOf(ctx context.Context, accountID int64, asOf time.Time) (decimal.Decimal, error) {
	var raw string
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(
CASE a.normal_balance WHEN 'DEBIT' THEN l.debit - l.credit ELSE l.credit - l.debit END
), 0)::text
FROM journal_entry_lines l
JOIN journal_entries e ON e.id = l.entry_id
JOIN accounts a ON a.id = l.account_id
WHERE l.account_id = $1
AND e.status IN ('POSTED','REVERSED')
AND e.entry_date <= $2::date`, accountID, asOf).Scan(&raw)
	if err != nil {
		return decimal.Zero, err
	}
	return parseAmount(raw)
}

// GLClosingBalance sums the closing balance of every dimension row for
// the account in the period.
func (r *repository) GLClosingBalance(ctx context.Context, accountID, periodID int64) (decimal.Decimal, error) {
	var raw string
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(closing), 0)::text
FROM account_balances WHERE account_id=$1 AND period_id=$2`, accountID, periodID).Scan(&raw)
	if err != nil {
		return decimal.Zero, err
	}
	return parseAmount(raw)
}

// RollForward seeds the destination period's opening balances from the
// source period's closings. The type filter mirrors CarriesForward and the
// closing CASE mirrors ClosingBalance: balance-sheet accounts carry forward
// while revenue and expense accounts start the new period at zero.
func (r *repository) RollForward(ctx context.Context, fromPeriodID, toPeriodID int64) error {
	_, err := r.db.Exec(ctx, `INSERT INTO account_balances
(account_id, period_id, department_id, cost_center_id, project_id, opening, period_debit, period_credit, closing)
SELECT ab.account_id, $2, ab.department_id, ab.cost_center_id, ab.project_id, ab.closing, 0, 0, ab.closing
FROM account_balances ab
JOIN accounts a ON a.id = ab.account_id
WHERE ab.period_id = $1
AND a.type NOT IN ('REVENUE','EXPENSE')
ON CONFLICT (account_id, period_id, department_id, cost_center_id, project_id)
DO UPDATE SET opening = EXCLUDED.opening, updated_at = NOW()`,
		fromPeriodID, toPeriodID)
	if err != nil {
		return fmt.Errorf("balances: roll forward %d -> %d: %w", fromPeriodID, toPeriodID, err)
	}
	_, err = r.db.Exec(ctx, `UPDATE account_balances ab
SET closing = CASE a.normal_balance
	WHEN 'DEBIT' THEN ab.opening + ab.period_debit - ab.period_credit
	ELSE ab.opening + ab.period_credit - ab.period_debit
END
FROM accounts a
WHERE a.id = ab.account_id AND ab.period_id = $1`, toPeriodID)
	if err != nil {
		return fmt.Errorf("balances: roll forward closing %d: %w", toPeriodID, err)
	}
	return nil
}
