package accounts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerline/ledgerline/internal/ledger/shared"
)

// Repository encapsulates DB operations for the chart of accounts.
type Repository interface {
	Insert(ctx context.Context, a Account) (Account, error)
	Get(ctx context.Context, id int64) (Account, error)
	GetByCode(ctx context.Context, code string) (Account, error)
	List(ctx context.Context, activeOnly bool) ([]Account, error)
	ListChildren(ctx context.Context, parentID *int64) ([]Account, error)
	ListControlAccounts(ctx context.Context) ([]Account, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a pgx-backed account repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const accountColumns = `id, code, name, type, normal_balance, parent_id, is_active,
require_department, require_cost_center, require_project, is_control, control_module,
created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.NormalBalance, &a.ParentID,
		&a.IsActive, &a.RequireDepartment, &a.RequireCostCenter, &a.RequireProject,
		&a.IsControlAccount, &a.ControlModule, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *repository) Insert(ctx context.Context, a Account) (Account, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO accounts
(code, name, type, normal_balance, parent_id, is_active, require_department, require_cost_center, require_project, is_control, control_module)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING `+accountColumns,
		a.Code, a.Name, a.Type, a.NormalBalance, a.ParentID, a.IsActive,
		a.RequireDepartment, a.RequireCostCenter, a.RequireProject,
		a.IsControlAccount, a.ControlModule)
	inserted, err := scanAccount(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_accounts_code" {
			return Account{}, shared.ErrDuplicateCode
		}
		return Account{}, err
	}
	return inserted, nil
}

func (r *repository) Get(ctx context.Context, id int64) (Account, error) {
	a, err := scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (r *repository) GetByCode(ctx context.Context, code string) (Account, error) {
	a, err := scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE code=$1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (r *repository) List(ctx context.Context, activeOnly bool) ([]Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY code`
	if activeOnly {
		query = `SELECT ` + accountColumns + ` FROM accounts WHERE is_active ORDER BY code`
	}
	return r.collect(ctx, query)
}

func (r *repository) ListChildren(ctx context.Context, parentID *int64) ([]Account, error) {
	if parentID == nil {
		return r.collect(ctx, `SELECT `+accountColumns+` FROM accounts WHERE parent_id IS NULL ORDER BY code`)
	}
	return r.collect(ctx, `SELECT `+accountColumns+` FROM accounts WHERE parent_id=$1 ORDER BY code`, *parentID)
}

func (r *repository) ListControlAccounts(ctx context.Context) ([]Account, error) {
	return r.collect(ctx, `SELECT `+accountColumns+` FROM accounts WHERE is_control AND is_active ORDER BY code`)
}

func (r *repository) SetActive(ctx context.Context, id int64, active bool) error {
	cmd, err := r.db.Exec(ctx, `UPDATE accounts SET is_active=$2, updated_at=NOW() WHERE id=$1`, id, active)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrAccountNotFound
	}
	return nil
}

func (r *repository) collect(ctx context.Context, query string, args ...any) ([]Account, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
