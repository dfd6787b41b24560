package journals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/ledgerline/internal/ledger/accounts"
	"github.com/ledgerline/ledgerline/internal/ledger/balances"
	"github.com/ledgerline/ledgerline/internal/ledger/periods"
	"github.com/ledgerline/ledgerline/internal/ledger/shared"
)

// Repository encapsulates DB operations for journal entries. Period and
// account lookups are exposed on the transaction so posting can lock and
// re-validate inside one commit boundary.
type Repository interface {
	GetWithLines(ctx context.Context, entryID int64) (JournalEntry, error)
	GetBySource(ctx context.Context, module string, sourceID uuid.UUID) (JournalEntry, error)
	List(ctx context.Context, filter ListFilter) ([]JournalEntry, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// ListFilter narrows entry listings.
type ListFilter struct {
	PeriodID int64
	Status   EntryStatus
	Limit    int
}

// TxRepository exposes methods available within a posting transaction.
type TxRepository interface {
	NextEntryNumber(ctx context.Context, t EntryType, date time.Time) (string, error)
	InsertEntry(ctx context.Context, e JournalEntry) (JournalEntry, error)
	InsertLines(ctx context.Context, entryID int64, lines []JournalEntryLine) error
	GetEntryForUpdate(ctx context.Context, entryID int64) (JournalEntry, error)
	GetLines(ctx context.Context, entryID int64) ([]JournalEntryLine, error)
	MarkPosted(ctx context.Context, entryID int64, at time.Time, by int64) error
	MarkReversed(ctx context.Context, originalID, reversingID int64, at time.Time) error
	UpdateStatus(ctx context.Context, entryID int64, status EntryStatus) error

	GetAccount(ctx context.Context, accountID int64) (accounts.Account, error)
	GetPeriodForUpdate(ctx context.Context, periodID int64) (periods.Period, error)
	FindPeriodByDate(ctx context.Context, date time.Time) (periods.Period, error)

	// ApplyBalance feeds one posted line into the balance aggregator
	// within the same transaction.
	ApplyBalance(ctx context.Context, d balances.Delta) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a pgx-backed journal repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const entryColumns = `id, number, type, status, entry_date, period_id, description, currency,
total_debit::text, total_credit::text, source_module, source_id,
reversed_entry_id, reversing_entry_id, reversed_at, posted_at, posted_by,
created_by, created_at, updated_at`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	var debit, credit string
	err := row.Scan(&e.ID, &e.Number, &e.Type, &e.Status, &e.EntryDate, &e.PeriodID,
		&e.Description, &e.Currency, &debit, &credit, &e.SourceModule, &e.SourceID,
		&e.ReversedEntryID, &e.ReversingEntryID, &e.ReversedAt, &e.PostedAt, &e.PostedBy,
		&e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return JournalEntry{}, err
	}
	if e.TotalDebit, err = decimal.NewFromString(debit); err != nil {
		return JournalEntry{}, err
	}
	if e.TotalCredit, err = decimal.NewFromString(credit); err != nil {
		return JournalEntry{}, err
	}
	return e, nil
}

func (r *repository) GetWithLines(ctx context.Context, entryID int64) (JournalEntry, error) {
	entry, err := scanEntry(r.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=$1`, entryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, shared.ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	lines, err := collectLines(ctx, r.db, entryID)
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines = lines
	return entry, nil
}

// GetBySource returns the entry holding the (module, source id) link. The
// unique constraint on the pair guarantees at most one row.
func (r *repository) GetBySource(ctx context.Context, module string, sourceID uuid.UUID) (JournalEntry, error) {
	entry, err := scanEntry(r.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries
WHERE source_module=$1 AND source_id=$2`, module, sourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, shared.ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]JournalEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM journal_entries`
	var conds []string
	var args []any
	if filter.PeriodID > 0 {
		args = append(args, filter.PeriodID)
		conds = append(conds, fmt.Sprintf("period_id=$%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status=$%d", len(args)))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
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

// NextEntryNumber allocates the next sequential number for the type/day
// pair under a row lock on journal_sequences.
func (r *txRepository) NextEntryNumber(ctx context.Context, t EntryType, date time.Time) (string, error) {
	var n int64
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_sequences (prefix, seq_date, last_value)
VALUES ($1, $2::date, 1)
ON CONFLICT (prefix, seq_date)
DO UPDATE SET last_value = journal_sequences.last_value + 1
RETURNING last_value`, t.numberPrefix(), date).Scan(&n)
	if err != nil {
		return "", fmt.Errorf("journals: allocate number: %w", err)
	}
	return fmt.Sprintf("JE-%s-%s-%04d", t.numberPrefix(), date.Format("20060102"), n), nil
}

func (r *txRepository) InsertEntry(ctx context.Context, e JournalEntry) (JournalEntry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries
(number, type, status, entry_date, period_id, description, currency, total_debit, total_credit,
source_module, source_id, reversed_entry_id, posted_at, posted_by, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8::numeric,$9::numeric,$10,$11,$12,$13,$14,$15)
RETURNING `+entryColumns,
		e.Number, e.Type, e.Status, e.EntryDate, e.PeriodID, e.Description, e.Currency,
		e.TotalDebit.String(), e.TotalCredit.String(), e.SourceModule, e.SourceID,
		e.ReversedEntryID, e.PostedAt, e.PostedBy, e.CreatedBy)
	out, err := scanEntry(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_journal_entries_source" {
			return JournalEntry{}, shared.ErrSourceAlreadyLinked
		}
		return JournalEntry{}, err
	}
	return out, nil
}

func (r *txRepository) InsertLines(ctx context.Context, entryID int64, lines []JournalEntryLine) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO journal_entry_lines
(entry_id, line_no, account_id, debit, credit, department_id, cost_center_id, project_id, memo)
VALUES ($1,$2,$3,$4::numeric,$5::numeric,$6,$7,$8,$9)`,
			entryID, line.LineNo, line.AccountID, line.Debit.String(), line.Credit.String(),
			line.DepartmentID, line.CostCenterID, line.ProjectID, line.Memo); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetEntryForUpdate(ctx context.Context, entryID int64) (JournalEntry, error) {
	entry, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=$1 FOR UPDATE`, entryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, shared.ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) GetLines(ctx context.Context, entryID int64) ([]JournalEntryLine, error) {
	return collectLines(ctx, r.tx, entryID)
}

func (r *txRepository) MarkPosted(ctx context.Context, entryID int64, at time.Time, by int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries
SET status='POSTED', posted_at=$2, posted_by=$3, updated_at=NOW() WHERE id=$1`, entryID, at, by)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrJournalNotFound
	}
	return nil
}

// MarkReversed annotates the original entry; its lines are never touched.
func (r *txRepository) MarkReversed(ctx context.Context, originalID, reversingID int64, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries
SET status='REVERSED', reversing_entry_id=$2, reversed_at=$3, updated_at=NOW() WHERE id=$1`,
		originalID, reversingID, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrJournalNotFound
	}
	return nil
}

func (r *txRepository) UpdateStatus(ctx context.Context, entryID int64, status EntryStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status=$2, updated_at=NOW() WHERE id=$1`, entryID, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrJournalNotFound
	}
	return nil
}

func (r *txRepository) GetAccount(ctx context.Context, accountID int64) (accounts.Account, error) {
	var a accounts.Account
	err := r.tx.QueryRow(ctx, `SELECT id, code, name, type, normal_balance, parent_id, is_active,
require_department, require_cost_center, require_project, is_control, control_module, created_at, updated_at
FROM accounts WHERE id=$1`, accountID).
		Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.NormalBalance, &a.ParentID, &a.IsActive,
			&a.RequireDepartment, &a.RequireCostCenter, &a.RequireProject,
			&a.IsControlAccount, &a.ControlModule, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return accounts.Account{}, shared.ErrAccountNotFound
		}
		return accounts.Account{}, err
	}
	return a, nil
}

func (r *txRepository) GetPeriodForUpdate(ctx context.Context, periodID int64) (periods.Period, error) {
	return scanPeriodRow(r.tx.QueryRow(ctx, `SELECT id, name, fiscal_year, period_number, start_date, end_date, status, parent_id, closed_at, closed_by, created_at, updated_at
FROM periods WHERE id=$1 FOR UPDATE`, periodID))
}

func (r *txRepository) FindPeriodByDate(ctx context.Context, date time.Time) (periods.Period, error) {
	return scanPeriodRow(r.tx.QueryRow(ctx, `SELECT id, name, fiscal_year, period_number, start_date, end_date, status, parent_id, closed_at, closed_by, created_at, updated_at
FROM periods WHERE $1::date BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1 FOR UPDATE`, date))
}

func scanPeriodRow(row pgx.Row) (periods.Period, error) {
	var p periods.Period
	err := row.Scan(&p.ID, &p.Name, &p.FiscalYear, &p.PeriodNumber, &p.StartDate, &p.EndDate,
		&p.Status, &p.ParentID, &p.ClosedAt, &p.ClosedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return periods.Period{}, shared.ErrPeriodNotFound
		}
		return periods.Period{}, err
	}
	return p, nil
}

func (r *txRepository) ApplyBalance(ctx context.Context, d balances.Delta) error {
	return balances.ApplyDelta(ctx, r.tx, d)
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func collectLines(ctx context.Context, q queryer, entryID int64) ([]JournalEntryLine, error) {
	rows, err := q.Query(ctx, `SELECT id, entry_id, line_no, account_id, debit::text, credit::text,
department_id, cost_center_id, project_id, memo
FROM journal_entry_lines WHERE entry_id=$1 ORDER BY line_no`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []JournalEntryLine
	for rows.Next() {
		var line JournalEntryLine
		var debit, credit string
		if err := rows.Scan(&line.ID, &line.EntryID, &line.LineNo, &line.AccountID,
			&debit, &credit, &line.DepartmentID, &line.CostCenterID, &line.ProjectID, &line.Memo); err != nil {
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
