package recon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/ledgerline/internal/ledger/money"
)

type memReconRepo struct {
	recs       map[int64]*Reconciliation
	items      map[int64]*Item
	candidates []CandidateLine
	nextID     int64
}

func newMemReconRepo() *memReconRepo {
	return &memReconRepo{recs: map[int64]*Reconciliation{}, items: map[int64]*Item{}, nextID: 1}
}

func (r *memReconRepo) Get(ctx context.Context, id int64) (Reconciliation, error) {
	rec, ok := r.recs[id]
	if !ok {
		return Reconciliation{}, ErrNotFound
	}
	return *rec, nil
}

func (r *memReconRepo) GetWithItems(ctx context.Context, id int64) (Reconciliation, error) {
	rec, err := r.Get(ctx, id)
	if err != nil {
		return Reconciliation{}, err
	}
	for _, item := range r.items {
		if item.ReconciliationID == id {
			rec.Items = append(rec.Items, *item)
		}
	}
	return rec, nil
}

func (r *memReconRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memReconRepo) Insert(ctx context.Context, rec Reconciliation) (Reconciliation, error) {
	rec.ID = r.nextID
	r.nextID++
	stored := rec
	r.recs[rec.ID] = &stored
	return rec, nil
}

func (r *memReconRepo) GetForUpdate(ctx context.Context, id int64) (Reconciliation, error) {
	return r.Get(ctx, id)
}

func (r *memReconRepo) InsertItem(ctx context.Context, item Item) (Item, error) {
	item.ID = r.nextID
	r.nextID++
	stored := item
	r.items[item.ID] = &stored
	return item, nil
}

func (r *memReconRepo) GetItemForUpdate(ctx context.Context, itemID int64) (Item, error) {
	item, ok := r.items[itemID]
	if !ok {
		return Item{}, ErrNotFound
	}
	return *item, nil
}

func (r *memReconRepo) SetItemMatch(ctx context.Context, itemID int64, lineID *int64, at *time.Time) error {
	item, ok := r.items[itemID]
	if !ok {
		return ErrNotFound
	}
	item.Matched = lineID != nil
	item.MatchedEntryLineID = lineID
	item.MatchedAt = at
	return nil
}

func (r *memReconRepo) CountUnmatched(ctx context.Context, reconciliationID int64) (int64, error) {
	var count int64
	for _, item := range r.items {
		if item.ReconciliationID == reconciliationID && !item.Matched {
			count++
		}
	}
	return count, nil
}

func (r *memReconRepo) ListUnmatchedItems(ctx context.Context, reconciliationID int64) ([]Item, error) {
	var out []Item
	for _, item := range r.items {
		if item.ReconciliationID == reconciliationID && !item.Matched {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (r *memReconRepo) ListCandidateLines(ctx context.Context, accountID int64, from, to time.Time) ([]CandidateLine, error) {
	var out []CandidateLine
	for _, c := range r.candidates {
		if c.EntryDate.Before(from) || c.EntryDate.After(to) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *memReconRepo) Complete(ctx context.Context, id, actorID int64, at time.Time) error {
	rec, ok := r.recs[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = StatusCompleted
	rec.CompletedBy = &actorID
	rec.CompletedAt = &at
	return nil
}

type fixedGL struct {
	balance decimal.Decimal
}

func (g fixedGL) AccountBalanceAsOf(ctx context.Context, accountID int64, asOf time.Time) (decimal.Decimal, error) {
	return g.balance, nil
}

func statementDate() time.Time {
	return time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC)
}

func draftWithItem(t *testing.T, svc *Service) (Reconciliation, Item) {
	t.Helper()
	rec, err := svc.Create(context.Background(), 1, statementDate(), money.MustParse("150.00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	item, err := svc.AddItem(context.Background(), AddItemInput{
		ReconciliationID: rec.ID,
		TransactionDate:  statementDate().AddDate(0, 0, -5),
		Amount:           money.MustParse("150.00"),
		Description:      "deposit",
	})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	return rec, item
}

func TestCompleteRequiresZeroUnmatched(t *testing.T) {
	repo := newMemReconRepo()
	svc := NewService(repo, fixedGL{balance: money.MustParse("150.00")})
	rec, item := draftWithItem(t, svc)

	if _, err := svc.Complete(context.Background(), rec.ID, 9); !errors.Is(err, ErrUnmatchedItems) {
		t.Fatalf("expected ErrUnmatchedItems, got %v", err)
	}
	if _, err := svc.MatchItem(context.Background(), item.ID, 77); err != nil {
		t.Fatalf("match: %v", err)
	}
	completed, err := svc.Complete(context.Background(), rec.ID, 9)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != StatusCompleted || completed.CompletedBy == nil || completed.CompletedAt == nil {
		t.Fatalf("completion metadata missing: %+v", completed)
	}
	// One way: a second complete fails.
	if _, err := svc.Complete(context.Background(), rec.ID, 9); !errors.Is(err, ErrNotDraft) {
		t.Fatalf("expected ErrNotDraft, got %v", err)
	}
}

func TestAddItemRejectedAfterCompletion(t *testing.T) {
	repo := newMemReconRepo()
	svc := NewService(repo, fixedGL{})
	rec, item := draftWithItem(t, svc)
	if _, err := svc.MatchItem(context.Background(), item.ID, 77); err != nil {
		t.Fatalf("match: %v", err)
	}
	if _, err := svc.Complete(context.Background(), rec.ID, 9); err != nil {
		t.Fatalf("complete: %v", err)
	}
	_, err := svc.AddItem(context.Background(), AddItemInput{
		ReconciliationID: rec.ID,
		TransactionDate:  statementDate(),
		Amount:           money.MustParse("10.00"),
	})
	if !errors.Is(err, ErrNotDraft) {
		t.Fatalf("expected ErrNotDraft, got %v", err)
	}
}

func TestMatchTwiceFails(t *testing.T) {
	repo := newMemReconRepo()
	svc := NewService(repo, fixedGL{})
	_, item := draftWithItem(t, svc)

	if _, err := svc.MatchItem(context.Background(), item.ID, 77); err != nil {
		t.Fatalf("match: %v", err)
	}
	if _, err := svc.MatchItem(context.Background(), item.ID, 78); !errors.Is(err, ErrAlreadyMatched) {
		t.Fatalf("expected ErrAlreadyMatched, got %v", err)
	}
	if _, err := svc.UnmatchItem(context.Background(), item.ID); err != nil {
		t.Fatalf("unmatch: %v", err)
	}
	if _, err := svc.UnmatchItem(context.Background(), item.ID); !errors.Is(err, ErrNotMatched) {
		t.Fatalf("expected ErrNotMatched, got %v", err)
	}
}

func TestAutoMatchPairsExactAmounts(t *testing.T) {
	repo := newMemReconRepo()
	svc := NewService(repo, fixedGL{})
	rec, _ := draftWithItem(t, svc)
	repo.candidates = []CandidateLine{
		{LineID: 500, EntryDate: statementDate().AddDate(0, 0, -5), Amount: money.MustParse("150.00")},
		{LineID: 501, EntryDate: statementDate().AddDate(0, 0, -5), Amount: money.MustParse("42.00")},
	}
	matched, err := svc.AutoMatch(context.Background(), rec.ID, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("automatch: %v", err)
	}
	if matched != 1 {
		t.Fatalf("expected 1 match, got %d", matched)
	}
	unmatched, _ := repo.CountUnmatched(context.Background(), rec.ID)
	if unmatched != 0 {
		t.Fatalf("expected zero unmatched, got %d", unmatched)
	}
}

func TestAutoMatchReachesOldItems(t *testing.T) {
	repo := newMemReconRepo()
	svc := NewService(repo, fixedGL{})
	rec, err := svc.Create(context.Background(), 1, statementDate(), money.MustParse("150.00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// An uncleared cheque from months before the statement date.
	staleDate := statementDate().AddDate(0, -3, 0)
	if _, err := svc.AddItem(context.Background(), AddItemInput{
		ReconciliationID: rec.ID,
		TransactionDate:  staleDate,
		Amount:           money.MustParse("150.00"),
		Description:      "cheque 1042",
	}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	repo.candidates = []CandidateLine{
		{LineID: 600, EntryDate: staleDate.AddDate(0, 0, 2), Amount: money.MustParse("150.00")},
	}

	matched, err := svc.AutoMatch(context.Background(), rec.ID, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("automatch: %v", err)
	}
	if matched != 1 {
		t.Fatalf("expected stale item to match, got %d", matched)
	}
}

func TestStatusReportsDifference(t *testing.T) {
	repo := newMemReconRepo()
	svc := NewService(repo, fixedGL{balance: money.MustParse("140.00")})
	rec, _ := draftWithItem(t, svc)

	result, err := svc.Status(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if result.UnmatchedCount != 1 || result.MatchedCount != 0 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if !result.Difference.Equal(money.MustParse("10.00")) {
		t.Fatalf("expected difference 10.00, got %s", result.Difference)
	}

	diff, err := svc.Difference(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("difference: %v", err)
	}
	if !diff.Equal(result.Difference) {
		t.Fatalf("expected %s, got %s", result.Difference, diff)
	}
}
