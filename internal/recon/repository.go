package recon

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository encapsulates DB operations for reconciliations.
type Repository interface {
	Get(ctx context.Context, id int64) (Reconciliation, error)
	GetWithItems(ctx context.Context, id int64) (Reconciliation, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes mutations available within a transaction.
type TxRepository interface {
	Insert(ctx context.Context, r Reconciliation) (Reconciliation, error)
	GetForUpdate(ctx context.Context, id int64) (Reconciliation, error)
	InsertItem(ctx context.Context, item Item) (Item, error)
	GetItemForUpdate(ctx context.Context, itemID int64) (Item, error)
	SetItemMatch(ctx context.Context, itemID int64, lineID *int64, at *time.Time) error
	CountUnmatched(ctx context.Context, reconciliationID int64) (int64, error)
	ListUnmatchedItems(ctx context.Context, reconciliationID int64) ([]Item, error)
	ListCandidateLines(ctx context.Context, accountID int64, from, to time.Time) ([]CandidateLine, error)
	Complete(ctx context.Context, id, actorID int64, at time.Time) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a pgx-backed reconciliation repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const reconColumns = `id, account_id, statement_date, statement_balance::text, status, completed_by, completed_at, created_at, updated_at`

func scanRecon(row pgx.Row) (Reconciliation, error) {
	var r Reconciliation
	var balance string
	err := row.Scan(&r.ID, &r.AccountID, &r.StatementDate, &balance, &r.Status,
		&r.CompletedBy, &r.CompletedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Reconciliation{}, err
	}
	if r.StatementBalance, err = decimal.NewFromString(balance); err != nil {
		return Reconciliation{}, err
	}
	return r, nil
}

func (r *repository) Get(ctx context.Context, id int64) (Reconciliation, error) {
	rec, err := scanRecon(r.db.QueryRow(ctx, `SELECT `+reconColumns+` FROM reconciliations WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reconciliation{}, ErrNotFound
		}
		return Reconciliation{}, err
	}
	return rec, nil
}

func (r *repository) GetWithItems(ctx context.Context, id int64) (Reconciliation, error) {
	rec, err := r.Get(ctx, id)
	if err != nil {
		return Reconciliation{}, err
	}
	rows, err := r.db.Query(ctx, `SELECT id, reconciliation_id, transaction_date, amount::text, description, matched, matched_line_id, matched_at, created_at
FROM reconciliation_items WHERE reconciliation_id=$1 ORDER BY id`, id)
	if err != nil {
		return Reconciliation{}, err
	}
	defer rows.Close()
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return Reconciliation{}, err
		}
		rec.Items = append(rec.Items, item)
	}
	return rec, rows.Err()
}

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	var amount string
	err := row.Scan(&item.ID, &item.ReconciliationID, &item.TransactionDate, &amount,
		&item.Description, &item.Matched, &item.MatchedEntryLineID, &item.MatchedAt, &item.CreatedAt)
	if err != nil {
		return Item{}, err
	}
	if item.Amount, err = decimal.NewFromString(amount); err != nil {
		return Item{}, err
	}
	return item, nil
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

func (r *txRepository) Insert(ctx context.Context, rec Reconciliation) (Reconciliation, error) {
	return scanRecon(r.tx.QueryRow(ctx, `INSERT INTO reconciliations (account_id, statement_date, statement_balance, status)
VALUES ($1,$2,$3::numeric,$4) RETURNING `+reconColumns,
		rec.AccountID, rec.StatementDate, rec.StatementBalance.String(), rec.Status))
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Reconciliation, error) {
	rec, err := scanRecon(r.tx.QueryRow(ctx, `SELECT `+reconColumns+` FROM reconciliations WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reconciliation{}, ErrNotFound
		}
		return Reconciliation{}, err
	}
	return rec, nil
}

func (r *txRepository) InsertItem(ctx context.Context, item Item) (Item, error) {
	return scanItem(r.tx.QueryRow(ctx, `INSERT INTO reconciliation_items
(reconciliation_id, transaction_date, amount, description, matched)
VALUES ($1,$2,$3::numeric,$4,false)
RETURNING id, reconciliation_id, transaction_date, amount::text, description, matched, matched_line_id, matched_at, created_at`,
		item.ReconciliationID, item.TransactionDate, item.Amount.String(), item.Description))
}

func (r *txRepository) GetItemForUpdate(ctx context.Context, itemID int64) (Item, error) {
	item, err := scanItem(r.tx.QueryRow(ctx, `SELECT id, reconciliation_id, transaction_date, amount::text, description, matched, matched_line_id, matched_at, created_at
FROM reconciliation_items WHERE id=$1 FOR UPDATE`, itemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, err
	}
	return item, nil
}

func (r *txRepository) SetItemMatch(ctx context.Context, itemID int64, lineID *int64, at *time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE reconciliation_items
SET matched=$2, matched_line_id=$3, matched_at=$4 WHERE id=$1`, itemID, lineID != nil, lineID, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) CountUnmatched(ctx context.Context, reconciliationID int64) (int64, error) {
	var count int64
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM reconciliation_items
WHERE reconciliation_id=$1 AND NOT matched`, reconciliationID).Scan(&count)
	return count, err
}

func (r *txRepository) ListUnmatchedItems(ctx context.Context, reconciliationID int64) ([]Item, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, reconciliation_id, transaction_date, amount::text, description, matched, matched_line_id, matched_at, created_at
FROM reconciliation_items WHERE reconciliation_id=$1 AND NOT matched ORDER BY transaction_date, id`, reconciliationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ListCandidateLines returns posted lines for the account within the date
// window that no item has claimed yet. The signed amount is debit - credit.
func (r *txRepository) ListCandidateLines(ctx context.Context, accountID int64, from, to time.Time) ([]CandidateLine, error) {
	rows, err := r.tx.Query(ctx, `SELECT l.id, e.entry_date, (l.debit - l.credit)::text
FROM journal_entry_lines l
JOIN journal_entries e ON e.id = l.entry_id
WHERE l.account_id=$1
AND e.status IN ('POSTED','REVERSED')
AND e.entry_date BETWEEN $2::date AND $3::date
AND NOT EXISTS (SELECT 1 FROM reconciliation_items ri WHERE ri.matched_line_id = l.id)
ORDER BY e.entry_date, l.id`, accountID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CandidateLine
	for rows.Next() {
		var c CandidateLine
		var amount string
		if err := rows.Scan(&c.LineID, &c.EntryDate, &amount); err != nil {
			return nil, err
		}
		if c.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *txRepository) Complete(ctx context.Context, id, actorID int64, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE reconciliations
SET status='COMPLETED', completed_by=$2, completed_at=$3, updated_at=NOW() WHERE id=$1`, id, actorID, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
