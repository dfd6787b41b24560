package balances

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PGSubsidiaryLedger reads subsidiary balances from the subsidiary_balances
// table, where source modules (AR, AP, inventory) publish their per-period
// totals. A module with no row reports zero.
type PGSubsidiaryLedger struct {
	db *pgxpool.Pool
}

// NewPGSubsidiaryLedger returns a table-backed SubsidiaryLedger.
func NewPGSubsidiaryLedger(db *pgxpool.Pool) *PGSubsidiaryLedger {
	return &PGSubsidiaryLedger{db: db}
}

func (s *PGSubsidiaryLedger) Balance(ctx context.Context, module string, accountID, periodID int64) (decimal.Decimal, error) {
	var text string
	err := s.db.QueryRow(ctx, `SELECT balance::text FROM subsidiary_balances
WHERE module=$1 AND account_id=$2 AND period_id=$3`, module, accountID, periodID).Scan(&text)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return decimal.NewFromString(text)
}

// Publish upserts one module's balance for an account and period. Exposed
// for integrations and fixtures.
func (s *PGSubsidiaryLedger) Publish(ctx context.Context, module string, accountID, periodID int64, balance decimal.Decimal) error {
	_, err := s.db.Exec(ctx, `INSERT INTO subsidiary_balances (module, account_id, period_id, balance)
VALUES ($1,$2,$3,$4::numeric)
ON CONFLICT (module, account_id, period_id)
DO UPDATE SET balance = EXCLUDED.balance, updated_at = NOW()`,
		module, accountID, periodID, balance.String())
	return err
}
