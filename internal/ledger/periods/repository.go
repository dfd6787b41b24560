package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerline/ledgerline/internal/ledger/shared"
)

// Repository encapsulates DB operations for fiscal periods.
type Repository interface {
	Get(ctx context.Context, id int64) (Period, error)
	FindByDate(ctx context.Context, date time.Time) (Period, error)
	List(ctx context.Context, fiscalYear int) ([]Period, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes period mutations available within a transaction.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (Period, error)
	RangeConflict(ctx context.Context, start, end time.Time) (bool, error)
	Insert(ctx context.Context, p Period) (Period, error)
	UpdateStatus(ctx context.Context, id int64, status Status, closedAt *time.Time, closedBy *int64) error
	CountEntriesInRange(ctx context.Context, start, end time.Time, status string) (int64, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a pgx-backed period repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const periodColumns = `id, name, fiscal_year, period_number, start_date, end_date, status, parent_id, closed_at, closed_by, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.Name, &p.FiscalYear, &p.PeriodNumber, &p.StartDate, &p.EndDate,
		&p.Status, &p.ParentID, &p.ClosedAt, &p.ClosedBy, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *repository) Get(ctx context.Context, id int64) (Period, error) {
	p, err := scanPeriod(r.db.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, shared.ErrPeriodNotFound
		}
		return Period{}, err
	}
	return p, nil
}

// FindByDate returns the period covering the supplied date.
func (r *repository) FindByDate(ctx context.Context, date time.Time) (Period, error) {
	p, err := scanPeriod(r.db.QueryRow(ctx, `SELECT `+periodColumns+`
FROM periods WHERE $1::date BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1`, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, shared.ErrPeriodNotFound
		}
		return Period{}, err
	}
	return p, nil
}

func (r *repository) List(ctx context.Context, fiscalYear int) ([]Period, error) {
	query := `SELECT ` + periodColumns + ` FROM periods ORDER BY start_date`
	args := []any{}
	if fiscalYear > 0 {
		query = `SELECT ` + periodColumns + ` FROM periods WHERE fiscal_year=$1 ORDER BY start_date`
		args = append(args, fiscalYear)
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Period, error) {
	p, err := scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, shared.ErrPeriodNotFound
		}
		return Period{}, err
	}
	return p, nil
}

// RangeConflict reports whether [start, end] intersects any period that is
// not permanently closed.
func (r *txRepository) RangeConflict(ctx context.Context, start, end time.Time) (bool, error) {
	var conflict bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM periods
WHERE status <> 'PERMANENTLY_CLOSED'
AND start_date <= $2::date AND end_date >= $1::date)`, start, end).Scan(&conflict)
	return conflict, err
}

func (r *txRepository) Insert(ctx context.Context, p Period) (Period, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO periods (name, fiscal_year, period_number, start_date, end_date, status, parent_id)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING `+periodColumns,
		p.Name, p.FiscalYear, p.PeriodNumber, p.StartDate, p.EndDate, p.Status, p.ParentID)
	return scanPeriod(row)
}

func (r *txRepository) UpdateStatus(ctx context.Context, id int64, status Status, closedAt *time.Time, closedBy *int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE periods SET status=$2, closed_at=$3, closed_by=$4, updated_at=NOW() WHERE id=$1`,
		id, status, closedAt, closedBy)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrPeriodNotFound
	}
	return nil
}

// CountEntriesInRange counts journal entries with the given status dated
// inside the window, used to block closes over unposted drafts.
func (r *txRepository) CountEntriesInRange(ctx context.Context, start, end time.Time, status string) (int64, error) {
	var count int64
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM journal_entries
WHERE entry_date BETWEEN $1::date AND $2::date AND status=$3`, start, end, status).Scan(&count)
	return count, err
}
