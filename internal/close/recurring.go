package close

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrRecurringNotFound indicates no template exists for the id.
var ErrRecurringNotFound = errors.New("close: recurring entry not found")

// RecurringEntry is a journal template generated on a fixed cadence, such
// as monthly rent or insurance amortisation.
type RecurringEntry struct {
	ID             int64
	Name           string
	Description    string
	Currency       string
	IntervalMonths int
	NextRunDate    time.Time
	Active         bool
	Lines          []RecurringLine
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RecurringLine is one template line; amounts are fixed per run.
type RecurringLine struct {
	LineNo       int
	AccountID    int64
	Debit        decimal.Decimal
	Credit       decimal.Decimal
	DepartmentID *int64
	CostCenterID *int64
	ProjectID    *int64
	Memo         string
}

// NextAfter returns the run date following run for this template's cadence.
func (r RecurringEntry) NextAfter(run time.Time) time.Time {
	months := r.IntervalMonths
	if months <= 0 {
		months = 1
	}
	return run.AddDate(0, months, 0)
}

// RecurringRepository stores recurring templates and their schedule cursor.
type RecurringRepository interface {
	Insert(ctx context.Context, entry RecurringEntry) (RecurringEntry, error)
	Get(ctx context.Context, id int64) (RecurringEntry, error)
	ListDue(ctx context.Context, through time.Time) ([]RecurringEntry, error)
	Advance(ctx context.Context, id int64, next time.Time) error
	SetActive(ctx context.Context, id int64, active bool) error
}

type recurringRepository struct {
	db *pgxpool.Pool
}

// NewRecurringRepository returns a pgx-backed template store.
func NewRecurringRepository(db *pgxpool.Pool) RecurringRepository {
	return &recurringRepository{db: db}
}

func (r *recurringRepository) Insert(ctx context.Context, entry RecurringEntry) (RecurringEntry, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return RecurringEntry{}, err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `INSERT INTO recurring_entries
(name, description, currency, interval_months, next_run_date, active)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING id, created_at, updated_at`,
		entry.Name, entry.Description, entry.Currency, entry.IntervalMonths,
		entry.NextRunDate, entry.Active).
		Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return RecurringEntry{}, err
	}
	for _, line := range entry.Lines {
		if _, err := tx.Exec(ctx, `INSERT INTO recurring_entry_lines
(recurring_id, line_no, account_id, debit, credit, department_id, cost_center_id, project_id, memo)
VALUES ($1,$2,$3,$4::numeric,$5::numeric,$6,$7,$8,$9)`,
			entry.ID, line.LineNo, line.AccountID, line.Debit.String(), line.Credit.String(),
			line.DepartmentID, line.CostCenterID, line.ProjectID, line.Memo); err != nil {
			return RecurringEntry{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return RecurringEntry{}, err
	}
	return entry, nil
}

const recurringColumns = `id, name, description, currency, interval_months, next_run_date, active, created_at, updated_at`

func (r *recurringRepository) Get(ctx context.Context, id int64) (RecurringEntry, error) {
	var entry RecurringEntry
	err := r.db.QueryRow(ctx, `SELECT `+recurringColumns+` FROM recurring_entries WHERE id=$1`, id).
		Scan(&entry.ID, &entry.Name, &entry.Description, &entry.Currency, &entry.IntervalMonths,
			&entry.NextRunDate, &entry.Active, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RecurringEntry{}, ErrRecurringNotFound
		}
		return RecurringEntry{}, err
	}
	lines, err := r.lines(ctx, entry.ID)
	if err != nil {
		return RecurringEntry{}, err
	}
	entry.Lines = lines
	return entry, nil
}

func (r *recurringRepository) ListDue(ctx context.Context, through time.Time) ([]RecurringEntry, error) {
	rows, err := r.db.Query(ctx, `SELECT `+recurringColumns+`
FROM recurring_entries WHERE active AND next_run_date <= $1 ORDER BY id`, through)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RecurringEntry
	for rows.Next() {
		var entry RecurringEntry
		if err := rows.Scan(&entry.ID, &entry.Name, &entry.Description, &entry.Currency,
			&entry.IntervalMonths, &entry.NextRunDate, &entry.Active,
			&entry.CreatedAt, &entry.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		lines, err := r.lines(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Lines = lines
	}
	return out, nil
}

func (r *recurringRepository) Advance(ctx context.Context, id int64, next time.Time) error {
	cmd, err := r.db.Exec(ctx, `UPDATE recurring_entries
SET next_run_date=$2, updated_at=NOW() WHERE id=$1`, id, next)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrRecurringNotFound
	}
	return nil
}

func (r *recurringRepository) SetActive(ctx context.Context, id int64, active bool) error {
	cmd, err := r.db.Exec(ctx, `UPDATE recurring_entries
SET active=$2, updated_at=NOW() WHERE id=$1`, id, active)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrRecurringNotFound
	}
	return nil
}

func (r *recurringRepository) lines(ctx context.Context, recurringID int64) ([]RecurringLine, error) {
	rows, err := r.db.Query(ctx, `SELECT line_no, account_id, debit::text, credit::text,
department_id, cost_center_id, project_id, memo
FROM recurring_entry_lines WHERE recurring_id=$1 ORDER BY line_no`, recurringID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []RecurringLine
	for rows.Next() {
		var line RecurringLine
		var debit, credit string
		if err := rows.Scan(&line.LineNo, &line.AccountID, &debit, &credit,
			&line.DepartmentID, &line.CostCenterID, &line.ProjectID, &line.Memo); err != nil {
			return nil, err
		}
		if line.Debit, err = decimal.NewFromString(debit); err != nil {
			return nil, err
		}
		if line.Credit, err = decimal.NewFromString(credit); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}
