package journals

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/ledgerline/internal/ledger/accounts"
	"github.com/ledgerline/ledgerline/internal/ledger/balances"
	"github.com/ledgerline/ledgerline/internal/ledger/money"
	"github.com/ledgerline/ledgerline/internal/ledger/periods"
	"github.com/ledgerline/ledgerline/internal/ledger/shared"
)

// memRepo is an in-memory Repository/TxRepository used to exercise the
// service's transaction scripts.
type memRepo struct {
	accounts map[int64]accounts.Account
	periods  map[int64]*periods.Period
	entries  map[int64]*JournalEntry
	lines    map[int64][]JournalEntryLine
	balances map[string]*balances.Delta
	seq      map[string]int64
	nextID   int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		accounts: map[int64]accounts.Account{},
		periods:  map[int64]*periods.Period{},
		entries:  map[int64]*JournalEntry{},
		lines:    map[int64][]JournalEntryLine{},
		balances: map[string]*balances.Delta{},
		seq:      map[string]int64{},
		nextID:   1,
	}
}

func (r *memRepo) addAccount(id int64, typ accounts.AccountType, active bool) {
	r.accounts[id] = accounts.Account{
		ID: id, Code: fmt.Sprintf("%d", id), Name: fmt.Sprintf("acct %d", id),
		Type: typ, NormalBalance: accounts.NormalBalanceFor(typ), IsActive: active,
	}
}

func (r *memRepo) addPeriod(id int64, start, end time.Time, status periods.Status) {
	r.periods[id] = &periods.Period{ID: id, StartDate: start, EndDate: end, Status: status}
}

func (r *memRepo) GetWithLines(ctx context.Context, entryID int64) (JournalEntry, error) {
	e, ok := r.entries[entryID]
	if !ok {
		return JournalEntry{}, shared.ErrJournalNotFound
	}
	out := *e
	out.Lines = r.lines[entryID]
	return out, nil
}

func (r *memRepo) GetBySource(ctx context.Context, module string, sourceID uuid.UUID) (JournalEntry, error) {
	for _, e := range r.entries {
		if e.SourceModule == module && e.SourceID == sourceID {
			return *e, nil
		}
	}
	return JournalEntry{}, shared.ErrJournalNotFound
}

func (r *memRepo) List(ctx context.Context, filter ListFilter) ([]JournalEntry, error) {
	var out []JournalEntry
	for _, e := range r.entries {
		out = append(out, *e)
	}
	return out, nil
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memRepo) NextEntryNumber(ctx context.Context, t EntryType, date time.Time) (string, error) {
	key := string(t) + date.Format("20060102")
	r.seq[key]++
	return fmt.Sprintf("JE-%s-%s-%04d", t.numberPrefix(), date.Format("20060102"), r.seq[key]), nil
}

func (r *memRepo) InsertEntry(ctx context.Context, e JournalEntry) (JournalEntry, error) {
	e.ID = r.nextID
	r.nextID++
	stored := e
	r.entries[e.ID] = &stored
	return e, nil
}

func (r *memRepo) InsertLines(ctx context.Context, entryID int64, lines []JournalEntryLine) error {
	r.lines[entryID] = lines
	return nil
}

func (r *memRepo) GetEntryForUpdate(ctx context.Context, entryID int64) (JournalEntry, error) {
	e, ok := r.entries[entryID]
	if !ok {
		return JournalEntry{}, shared.ErrJournalNotFound
	}
	return *e, nil
}

func (r *memRepo) GetLines(ctx context.Context, entryID int64) ([]JournalEntryLine, error) {
	return r.lines[entryID], nil
}

func (r *memRepo) MarkPosted(ctx context.Context, entryID int64, at time.Time, by int64) error {
	e, ok := r.entries[entryID]
	if !ok {
		return shared.ErrJournalNotFound
	}
	e.Status = EntryStatusPosted
	e.PostedAt = &at
	e.PostedBy = &by
	return nil
}

func (r *memRepo) MarkReversed(ctx context.Context, originalID, reversingID int64, at time.Time) error {
	e, ok := r.entries[originalID]
	if !ok {
		return shared.ErrJournalNotFound
	}
	e.Status = EntryStatusReversed
	e.ReversingEntryID = &reversingID
	e.ReversedAt = &at
	return nil
}

func (r *memRepo) UpdateStatus(ctx context.Context, entryID int64, status EntryStatus) error {
	e, ok := r.entries[entryID]
	if !ok {
		return shared.ErrJournalNotFound
	}
	e.Status = status
	return nil
}

func (r *memRepo) GetAccount(ctx context.Context, accountID int64) (accounts.Account, error) {
	a, ok := r.accounts[accountID]
	if !ok {
		return accounts.Account{}, shared.ErrAccountNotFound
	}
	return a, nil
}

func (r *memRepo) GetPeriodForUpdate(ctx context.Context, periodID int64) (periods.Period, error) {
	p, ok := r.periods[periodID]
	if !ok {
		return periods.Period{}, shared.ErrPeriodNotFound
	}
	return *p, nil
}

func (r *memRepo) FindPeriodByDate(ctx context.Context, date time.Time) (periods.Period, error) {
	for _, p := range r.periods {
		if p.Contains(date) {
			return *p, nil
		}
	}
	return periods.Period{}, shared.ErrPeriodNotFound
}

func (r *memRepo) ApplyBalance(ctx context.Context, d balances.Delta) error {
	key := fmt.Sprintf("%d/%d", d.AccountID, d.PeriodID)
	row, ok := r.balances[key]
	if !ok {
		row = &balances.Delta{AccountID: d.AccountID, PeriodID: d.PeriodID}
		r.balances[key] = row
	}
	row.Debit = row.Debit.Add(d.Debit)
	row.Credit = row.Credit.Add(d.Credit)
	return nil
}

func (r *memRepo) balance(accountID, periodID int64) balances.Delta {
	row, ok := r.balances[fmt.Sprintf("%d/%d", accountID, periodID)]
	if !ok {
		return balances.Delta{}
	}
	return *row
}

const (
	cashAccount    = int64(1)
	revenueAccount = int64(2)
)

func fixedClock() time.Time {
	return time.Date(2024, time.January, 20, 12, 0, 0, 0, time.UTC)
}

func setupRepo() *memRepo {
	repo := newMemRepo()
	repo.addAccount(cashAccount, accounts.AccountTypeAsset, true)
	repo.addAccount(revenueAccount, accounts.AccountTypeRevenue, true)
	repo.addPeriod(1,
		time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC),
		periods.StatusOpen)
	return repo
}

func balancedInput() CreateInput {
	return CreateInput{
		EntryDate:    time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC),
		Type:         EntryTypeManual,
		Currency:     "USD",
		Description:  "cash sale",
		SourceModule: "TEST",
		SourceID:     uuid.New(),
		CreatedBy:    10,
		Lines: []LineInput{
			{AccountID: cashAccount, Debit: money.MustParse("100.00")},
			{AccountID: revenueAccount, Credit: money.MustParse("100.00")},
		},
	}
}

func TestCreatePersistsDraft(t *testing.T) {
	repo := setupRepo()
	svc := NewService(repo, nil)
	svc.WithNow(fixedClock)

	entry, err := svc.Create(context.Background(), balancedInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if entry.Status != EntryStatusDraft {
		t.Fatalf("expected DRAFT, got %s", entry.Status)
	}
	if entry.Number == "" || entry.PeriodID != 1 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if !entry.TotalDebit.Equal(entry.TotalCredit) {
		t.Fatalf("totals must match: %s vs %s", entry.TotalDebit, entry.TotalCredit)
	}
}

func TestCreateRejectsUnbalanced(t *testing.T) {
	svc := NewService(setupRepo(), nil)
	svc.WithNow(fixedClock)

	in := balancedInput()
	in.Lines[1].Credit = money.MustParse("99.99")
	_, err := svc.Create(context.Background(), in)
	if !errors.Is(err, shared.ErrUnbalanced) {
		t.Fatalf("expected ErrUnbalanced, got %v", err)
	}
}

func TestCreateRoundsBeforeBalanceCheck(t *testing.T) {
	svc := NewService(setupRepo(), nil)
	svc.WithNow(fixedClock)

	in := balancedInput()
	// 100.004 and 100.001 both round to 100.00 at 2dp.
	in.Lines[0].Debit = money.MustParse("100.004")
	in.Lines[1].Credit = money.MustParse("100.001")
	entry, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !entry.TotalDebit.Equal(money.MustParse("100.00")) {
		t.Fatalf("expected rounded total 100.00, got %s", entry.TotalDebit)
	}
}

func TestCreateRejectsFutureDateUnlessAdjusting(t *testing.T) {
	repo := setupRepo()
	svc := NewService(repo, nil)
	svc.WithNow(fixedClock)

	in := balancedInput()
	in.EntryDate = time.Date(2024, time.January, 25, 0, 0, 0, 0, time.UTC)
	if _, err := svc.Create(context.Background(), in); !errors.Is(err, shared.ErrFutureDate) {
		t.Fatalf("expected ErrFutureDate, got %v", err)
	}
	in.Type = EntryTypeAdjusting
	if _, err := svc.Create(context.Background(), in); err != nil {
		t.Fatalf("adjusting entry may be future dated: %v", err)
	}
}

func TestCreateRejectsBothSidesOnOneLine(t *testing.T) {
	svc := NewService(setupRepo(), nil)
	svc.WithNow(fixedClock)

	in := balancedInput()
	in.Lines[0].Credit = money.MustParse("1.00")
	_, err := svc.Create(context.Background(), in)
	if !errors.Is(err, shared.ErrLineBothSides) {
		t.Fatalf("expected ErrLineBothSides, got %v", err)
	}
}

func TestCreateRejectsInactiveAccount(t *testing.T) {
	repo := setupRepo()
	repo.addAccount(revenueAccount, accounts.AccountTypeRevenue, false)
	svc := NewService(repo, nil)
	svc.WithNow(fixedClock)

	_, err := svc.Create(context.Background(), balancedInput())
	if !errors.Is(err, shared.ErrInvalidAccount) {
		t.Fatalf("expected ErrInvalidAccount, got %v", err)
	}
}

func TestCreateEnforcesDimensionFlags(t *testing.T) {
	repo := setupRepo()
	acc := repo.accounts[cashAccount]
	acc.RequireDepartment = true
	repo.accounts[cashAccount] = acc
	svc := NewService(repo, nil)
	svc.WithNow(fixedClock)

	_, err := svc.Create(context.Background(), balancedInput())
	if !errors.Is(err, shared.ErrDimensionRequired) {
		t.Fatalf("expected ErrDimensionRequired, got %v", err)
	}

	in := balancedInput()
	dept := int64(5)
	in.Lines[0].DepartmentID = &dept
	if _, err := svc.Create(context.Background(), in); err != nil {
		t.Fatalf("tagged line should pass: %v", err)
	}
}

func TestCreateRejectsClosedPeriod(t *testing.T) {
	repo := setupRepo()
	repo.periods[1].Status = periods.StatusClosed
	svc := NewService(repo, nil)
	svc.WithNow(fixedClock)

	_, err := svc.Create(context.Background(), balancedInput())
	if !errors.Is(err, shared.ErrPeriodClosed) {
		t.Fatalf("expected ErrPeriodClosed, got %v", err)
	}
}

func TestPostAppliesBalancesOncePerLine(t *testing.T) {
	repo := setupRepo()
	svc := NewService(repo, nil)
	svc.WithNow(fixedClock)

	entry, err := svc.Create(context.Background(), balancedInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	posted, err := svc.Post(context.Background(), entry.ID, 10)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if posted.Status != EntryStatusPosted || posted.PostedAt == nil {
		t.Fatalf("post metadata missing: %+v", posted)
	}
	cash := repo.balance(cashAccount, 1)
	if !cash.Debit.Equal(money.MustParse("100.00")) || !cash.Credit.Equal(decimal.Zero) {
		t.Fatalf("cash balance wrong: %+v", cash)
	}
	revenue := repo.balance(revenueAccount, 1)
	if !revenue.Credit.Equal(money.MustParse("100.00")) {
		t.Fatalf("revenue balance wrong: %+v", revenue)
	}
}

func TestPostIsOneWay(t *testing.T) {
	repo := setupRepo()
	svc := NewService(repo, nil)
	svc.WithNow(fixedClock)

	entry, _ := svc.Create(context.Background(), balancedInput())
	if _, err := svc.Post(context.Background(), entry.ID, 10); err != nil {
		t.Fatalf("post: %v", err)
	}
	if _, err := svc.Post(context.Background(), entry.ID, 10); !errors.Is(err, shared.ErrAlreadyPosted) {
		t.Fatalf("expected ErrAlreadyPosted, got %v", err)
	}
	// No double counting from the failed second post.
	cash := repo.balance(cashAccount, 1)
	if !cash.Debit.Equal(money.MustParse("100.00")) {
		t.Fatalf("balance double counted: %+v", cash)
	}
}

func TestPostRechecksPeriodInsideTx(t *testing.T) {
	repo := setupRepo()
	svc := NewService(repo, nil)
	svc.WithNow(fixedClock)

	entry, err := svc.Create(context.Background(), balancedInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Period closes between draft creation and posting.
	repo.periods[1].Status = periods.StatusClosed
	if _, err := svc.Post(context.Background(), entry.ID, 10); !errors.Is(err, shared.ErrPeriodClosed) {
		t.Fatalf("expected ErrPeriodClosed, got %v", err)
	}
}

func TestReverseMirrorsLines(t *testing.T) {
	repo := setupRepo()
	svc := NewService(repo, nil)
	svc.WithNow(fixedClock)

	entry, _ := svc.Create(context.Background(), balancedInput())
	if _, err := svc.Post(context.Background(), entry.ID, 10); err != nil {
		t.Fatalf("post: %v", err)
	}
	reversal, err := svc.Reverse(context.Background(), ReverseInput{EntryID: entry.ID, ActorID: 10})
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if reversal.Type != EntryTypeReversing || reversal.Status != EntryStatusPosted {
		t.Fatalf("unexpected reversal: %+v", reversal)
	}
	if reversal.ReversedEntryID == nil || *reversal.ReversedEntryID != entry.ID {
		t.Fatal("reversal must reference the original")
	}
	if !reversal.Lines[0].Credit.Equal(money.MustParse("100.00")) || !reversal.Lines[1].Debit.Equal(money.MustParse("100.00")) {
		t.Fatalf("lines not mirrored: %+v", reversal.Lines)
	}
	original := repo.entries[entry.ID]
	if original.Status != EntryStatusReversed || original.ReversingEntryID == nil || original.ReversedAt == nil {
		t.Fatalf("original not annotated: %+v", original)
	}
	// Net effect on balances is zero.
	cash := repo.balance(cashAccount, 1)
	if !cash.Debit.Equal(cash.Credit) {
		t.Fatalf("reversal did not net out: %+v", cash)
	}
}

func TestReverseTwiceFails(t *testing.T) {
	repo := setupRepo()
	svc := NewService(repo, nil)
	svc.WithNow(fixedClock)

	entry, _ := svc.Create(context.Background(), balancedInput())
	if _, err := svc.Post(context.Background(), entry.ID, 10); err != nil {
		t.Fatalf("post: %v", err)
	}
	if _, err := svc.Reverse(context.Background(), ReverseInput{EntryID: entry.ID, ActorID: 10}); err != nil {
		t.Fatalf("first reverse: %v", err)
	}
	if _, err := svc.Reverse(context.Background(), ReverseInput{EntryID: entry.ID, ActorID: 10}); !errors.Is(err, shared.ErrAlreadyReversed) {
		t.Fatalf("expected ErrAlreadyReversed, got %v", err)
	}
}

func TestReverseUnpostedFails(t *testing.T) {
	repo := setupRepo()
	svc := NewService(repo, nil)
	svc.WithNow(fixedClock)

	entry, _ := svc.Create(context.Background(), balancedInput())
	if _, err := svc.Reverse(context.Background(), ReverseInput{EntryID: entry.ID, ActorID: 10}); !errors.Is(err, shared.ErrNotPosted) {
		t.Fatalf("expected ErrNotPosted, got %v", err)
	}
}

func TestVoidOnlyDrafts(t *testing.T) {
	repo := setupRepo()
	svc := NewService(repo, nil)
	svc.WithNow(fixedClock)

	entry, _ := svc.Create(context.Background(), balancedInput())
	voided, err := svc.Void(context.Background(), entry.ID, 10, "duplicate")
	if err != nil {
		t.Fatalf("void: %v", err)
	}
	if voided.Status != EntryStatusVoided {
		t.Fatalf("expected VOIDED, got %s", voided.Status)
	}

	second, _ := svc.Create(context.Background(), balancedInput())
	if _, err := svc.Post(context.Background(), second.ID, 10); err != nil {
		t.Fatalf("post: %v", err)
	}
	if _, err := svc.Void(context.Background(), second.ID, 10, "nope"); !errors.Is(err, shared.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestZeroDecimalCurrencyRounding(t *testing.T) {
	repo := setupRepo()
	svc := NewService(repo, nil)
	svc.WithNow(fixedClock)

	in := balancedInput()
	in.Currency = "JPY"
	in.Lines[0].Debit = money.MustParse("100.4")
	in.Lines[1].Credit = money.MustParse("99.6")
	// Both round to 100 at zero decimal places.
	entry, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !entry.TotalDebit.Equal(money.MustParse("100")) {
		t.Fatalf("expected JPY total 100, got %s", entry.TotalDebit)
	}
}
