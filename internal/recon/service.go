package recon

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// GLBalances supplies the GL side of a reconciliation difference.
type GLBalances interface {
	AccountBalanceAsOf(ctx context.Context, accountID int64, asOf time.Time) (decimal.Decimal, error)
}

// Service drives statement-vs-ledger reconciliations. Completion requires
// zero unmatched items and is one way.
type Service struct {
	repo Repository
	gl   GLBalances
	now  func() time.Time
}

// NewService constructs the reconciliation engine.
func NewService(repo Repository, gl GLBalances) *Service {
	return &Service{repo: repo, gl: gl, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create opens a DRAFT reconciliation for an account and statement date.
func (s *Service) Create(ctx context.Context, accountID int64, statementDate time.Time, statementBalance decimal.Decimal) (Reconciliation, error) {
	if accountID == 0 {
		return Reconciliation{}, errors.New("recon: account id required")
	}
	if statementDate.IsZero() {
		return Reconciliation{}, errors.New("recon: statement date required")
	}
	var rec Reconciliation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rec, err = tx.Insert(ctx, Reconciliation{
			AccountID:        accountID,
			StatementDate:    statementDate,
			StatementBalance: statementBalance,
			Status:           StatusDraft,
		})
		return err
	})
	if err != nil {
		return Reconciliation{}, err
	}
	return rec, nil
}

// AddItem records an external statement line. Only DRAFT reconciliations
// accept items.
func (s *Service) AddItem(ctx context.Context, in AddItemInput) (Item, error) {
	if in.ReconciliationID == 0 {
		return Item{}, errors.New("recon: reconciliation id required")
	}
	var item Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.GetForUpdate(ctx, in.ReconciliationID)
		if err != nil {
			return err
		}
		if rec.Status != StatusDraft {
			return ErrNotDraft
		}
		item, err = tx.InsertItem(ctx, Item{
			ReconciliationID: in.ReconciliationID,
			TransactionDate:  in.TransactionDate,
			Amount:           in.Amount,
			Description:      in.Description,
		})
		return err
	})
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

// MatchItem claims one posted GL line for a statement item.
func (s *Service) MatchItem(ctx context.Context, itemID, lineID int64) (Item, error) {
	var item Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetItemForUpdate(ctx, itemID)
		if err != nil {
			return err
		}
		rec, err := tx.GetForUpdate(ctx, current.ReconciliationID)
		if err != nil {
			return err
		}
		if rec.Status != StatusDraft {
			return ErrNotDraft
		}
		if current.Matched {
			return ErrAlreadyMatched
		}
		at := s.now()
		if err := tx.SetItemMatch(ctx, itemID, &lineID, &at); err != nil {
			return err
		}
		current.Matched = true
		current.MatchedEntryLineID = &lineID
		current.MatchedAt = &at
		item = current
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

// UnmatchItem releases a previously matched item.
func (s *Service) UnmatchItem(ctx context.Context, itemID int64) (Item, error) {
	var item Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetItemForUpdate(ctx, itemID)
		if err != nil {
			return err
		}
		rec, err := tx.GetForUpdate(ctx, current.ReconciliationID)
		if err != nil {
			return err
		}
		if rec.Status != StatusDraft {
			return ErrNotDraft
		}
		if !current.Matched {
			return ErrNotMatched
		}
		if err := tx.SetItemMatch(ctx, itemID, nil, nil); err != nil {
			return err
		}
		current.Matched = false
		current.MatchedEntryLineID = nil
		current.MatchedAt = nil
		item = current
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

// defaultMatchWindow bounds auto-matching when the caller passes no window.
const defaultMatchWindow = 7 * 24 * time.Hour

// AutoMatch pairs unmatched items with unclaimed posted lines on exact
// amount within a date window around each item's transaction date. A
// non-positive window falls back to defaultMatchWindow. Returns the number
// of items matched.
func (s *Service) AutoMatch(ctx context.Context, reconciliationID int64, window time.Duration) (int, error) {
	if window <= 0 {
		window = defaultMatchWindow
	}
	matched := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.GetForUpdate(ctx, reconciliationID)
		if err != nil {
			return err
		}
		if rec.Status != StatusDraft {
			return ErrNotDraft
		}
		items, err := tx.ListUnmatchedItems(ctx, reconciliationID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		from, to := itemDateRange(items, window)
		candidates, err := tx.ListCandidateLines(ctx, rec.AccountID, from, to)
		if err != nil {
			return err
		}
		claimed := map[int64]bool{}
		for _, item := range items {
			for _, cand := range candidates {
				if claimed[cand.LineID] {
					continue
				}
				if !cand.Amount.Equal(item.Amount) {
					continue
				}
				gap := cand.EntryDate.Sub(item.TransactionDate)
				if gap < 0 {
					gap = -gap
				}
				if gap > window {
					continue
				}
				at := s.now()
				lineID := cand.LineID
				if err := tx.SetItemMatch(ctx, item.ID, &lineID, &at); err != nil {
					return err
				}
				claimed[cand.LineID] = true
				matched++
				break
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return matched, nil
}

// itemDateRange spans the items' transaction dates padded by the match
// window, so candidate fetching covers every item however old it is.
func itemDateRange(items []Item, window time.Duration) (time.Time, time.Time) {
	from, to := items[0].TransactionDate, items[0].TransactionDate
	for _, item := range items[1:] {
		if item.TransactionDate.Before(from) {
			from = item.TransactionDate
		}
		if item.TransactionDate.After(to) {
			to = item.TransactionDate
		}
	}
	return from.Add(-window), to.Add(window)
}

// Status reports progress and the difference between the statement
// balance and the GL balance as of the statement date.
func (s *Service) Status(ctx context.Context, id int64) (Result, error) {
	rec, err := s.repo.GetWithItems(ctx, id)
	if err != nil {
		return Result{}, err
	}
	result := Result{Reconciliation: rec}
	for _, item := range rec.Items {
		if item.Matched {
			result.MatchedCount++
		} else {
			result.UnmatchedCount++
		}
	}
	gl, err := s.gl.AccountBalanceAsOf(ctx, rec.AccountID, rec.StatementDate)
	if err != nil {
		return Result{}, err
	}
	result.GLBalance = gl
	result.Difference = rec.StatementBalance.Sub(gl)
	return result, nil
}

// Difference returns statement balance minus the GL balance as of the
// statement date.
func (s *Service) Difference(ctx context.Context, id int64) (decimal.Decimal, error) {
	result, err := s.Status(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return result.Difference, nil
}

// Complete transitions DRAFT -> COMPLETED when no unmatched items remain.
func (s *Service) Complete(ctx context.Context, id, actorID int64) (Reconciliation, error) {
	var rec Reconciliation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != StatusDraft {
			return ErrNotDraft
		}
		unmatched, err := tx.CountUnmatched(ctx, id)
		if err != nil {
			return err
		}
		if unmatched > 0 {
			return ErrUnmatchedItems
		}
		at := s.now()
		if err := tx.Complete(ctx, id, actorID, at); err != nil {
			return err
		}
		current.Status = StatusCompleted
		current.CompletedBy = &actorID
		current.CompletedAt = &at
		rec = current
		return nil
	})
	if err != nil {
		return Reconciliation{}, err
	}
	return rec, nil
}
