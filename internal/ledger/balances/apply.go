package balances

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Executor is the subset of pgx behaviour ApplyDelta needs; pgx.Tx and
// *pgxpool.Pool both satisfy it.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ApplyDelta is the sole writer of account_balances. It upserts the row
// keyed by (account, period, dimensions) and accumulates the period
// totals atomically; the unique constraint plus ON CONFLICT arithmetic
// make concurrent postings to the same key safe. It must run inside the
// same transaction that posts the journal entry, exactly once per line.
func ApplyDelta(ctx context.Context, tx Executor, d Delta) error {
	_, err := tx.Exec(ctx, `INSERT INTO account_balances
(account_id, period_id, department_id, cost_center_id, project_id, opening, period_debit, period_credit, closing)
VALUES ($1,$2,$3,$4,$5,0,$6::numeric,$7::numeric,0)
ON CONFLICT (account_id, period_id, department_id, cost_center_id, project_id)
DO UPDATE SET
	period_debit  = account_balances.period_debit + EXCLUDED.period_debit,
	period_credit = account_balances.period_credit + EXCLUDED.period_credit,
	updated_at    = NOW()`,
		d.AccountID, d.PeriodID, d.DepartmentID, d.CostCenterID, d.ProjectID,
		d.Debit.String(), d.Credit.String())
	if err != nil {
		return fmt.Errorf("balances: upsert delta: %w", err)
	}
	// Closing = opening + activity, signed by the account's normal side;
	// the CASE mirrors ClosingBalance.
	_, err = tx.Exec(ctx, `UPDATE account_balances ab
SET closing = CASE a.normal_balance
	WHEN 'DEBIT' THEN ab.opening + ab.period_debit - ab.period_credit
	ELSE ab.opening + ab.period_credit - ab.period_debit
END
FROM accounts a
WHERE a.id = ab.account_id
AND ab.account_id = $1 AND ab.period_id = $2
AND ab.department_id IS NOT DISTINCT FROM $3
AND ab.cost_center_id IS NOT DISTINCT FROM $4
AND ab.project_id IS NOT DISTINCT FROM $5`,
		d.AccountID, d.PeriodID, d.DepartmentID, d.CostCenterID, d.ProjectID)
	if err != nil {
		return fmt.Errorf("balances: recompute closing: %w", err)
	}
	return nil
}
