package close

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/ledgerline/internal/ledger/balances"
	"github.com/ledgerline/ledgerline/internal/ledger/journals"
	"github.com/ledgerline/ledgerline/internal/ledger/periods"
	"github.com/ledgerline/ledgerline/internal/ledger/shared"
)

type stubJournals struct {
	nextID   int64
	entries  map[int64]*journals.JournalEntry
	bySource map[[16]byte]int64
	created  []journals.CreateInput
	posted   []int64
	postErr  error // returned by the next Post, then cleared
}

func newStubJournals() *stubJournals {
	return &stubJournals{entries: map[int64]*journals.JournalEntry{}, bySource: map[[16]byte]int64{}}
}

func (s *stubJournals) Create(_ context.Context, in journals.CreateInput) (journals.JournalEntry, error) {
	key := [16]byte(in.SourceID)
	if _, ok := s.bySource[key]; ok {
		return journals.JournalEntry{}, shared.ErrSourceAlreadyLinked
	}
	s.nextID++
	entry := journals.JournalEntry{
		ID: s.nextID, Type: in.Type, Status: journals.EntryStatusDraft,
		SourceModule: in.SourceModule, SourceID: in.SourceID,
	}
	s.entries[entry.ID] = &entry
	s.bySource[key] = entry.ID
	s.created = append(s.created, in)
	return entry, nil
}

func (s *stubJournals) Post(_ context.Context, entryID, _ int64) (journals.JournalEntry, error) {
	if s.postErr != nil {
		err := s.postErr
		s.postErr = nil
		return journals.JournalEntry{}, err
	}
	entry, ok := s.entries[entryID]
	if !ok {
		return journals.JournalEntry{}, shared.ErrJournalNotFound
	}
	entry.Status = journals.EntryStatusPosted
	s.posted = append(s.posted, entryID)
	return *entry, nil
}

func (s *stubJournals) FindBySource(_ context.Context, _ string, sourceID uuid.UUID) (journals.JournalEntry, error) {
	id, ok := s.bySource[[16]byte(sourceID)]
	if !ok {
		return journals.JournalEntry{}, shared.ErrJournalNotFound
	}
	return *s.entries[id], nil
}

type stubPeriods struct {
	byID map[int64]periods.Period
}

func (s *stubPeriods) Get(_ context.Context, id int64) (periods.Period, error) {
	p, ok := s.byID[id]
	if !ok {
		return periods.Period{}, shared.ErrPeriodNotFound
	}
	return p, nil
}

func (s *stubPeriods) FindByDate(_ context.Context, date time.Time) (periods.Period, error) {
	for _, p := range s.byID {
		if p.Contains(date) {
			return p, nil
		}
	}
	return periods.Period{}, shared.ErrPeriodNotFound
}

func (s *stubPeriods) Close(_ context.Context, in periods.CloseInput) (periods.Period, error) {
	p, ok := s.byID[in.PeriodID]
	if !ok {
		return periods.Period{}, shared.ErrPeriodNotFound
	}
	if p.Status == periods.StatusPermanentlyClosed {
		return periods.Period{}, shared.ErrPeriodAlreadyClosed
	}
	p.Status = periods.StatusClosed
	if in.Permanent {
		p.Status = periods.StatusPermanentlyClosed
	}
	s.byID[in.PeriodID] = p
	return p, nil
}

type stubBalances struct {
	checks      []balances.ControlCheck
	sweepErr    error
	rolledFrom  int64
	rolledTo    int64
	rollForward bool
}

func (s *stubBalances) SweepControlAccounts(_ context.Context, _ int64) ([]balances.ControlCheck, error) {
	if s.sweepErr != nil {
		return nil, s.sweepErr
	}
	return s.checks, nil
}

func (s *stubBalances) RollForward(_ context.Context, from, to int64) error {
	s.rollForward = true
	s.rolledFrom, s.rolledTo = from, to
	return nil
}

type stubRecurring struct {
	templates map[int64]RecurringEntry
}

func (s *stubRecurring) Insert(_ context.Context, e RecurringEntry) (RecurringEntry, error) {
	e.ID = int64(len(s.templates) + 1)
	s.templates[e.ID] = e
	return e, nil
}

func (s *stubRecurring) Get(_ context.Context, id int64) (RecurringEntry, error) {
	e, ok := s.templates[id]
	if !ok {
		return RecurringEntry{}, ErrRecurringNotFound
	}
	return e, nil
}

func (s *stubRecurring) ListDue(_ context.Context, through time.Time) ([]RecurringEntry, error) {
	var out []RecurringEntry
	for _, e := range s.templates {
		if e.Active && !e.NextRunDate.After(through) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *stubRecurring) Advance(_ context.Context, id int64, next time.Time) error {
	e, ok := s.templates[id]
	if !ok {
		return ErrRecurringNotFound
	}
	e.NextRunDate = next
	s.templates[id] = e
	return nil
}

func (s *stubRecurring) SetActive(_ context.Context, id int64, active bool) error {
	e, ok := s.templates[id]
	if !ok {
		return ErrRecurringNotFound
	}
	e.Active = active
	s.templates[id] = e
	return nil
}

type specFunc func(ctx context.Context, period periods.Period) ([]EntrySpec, error)

type depSource struct{ fn specFunc }

func (s depSource) DepreciationEntries(ctx context.Context, p periods.Period) ([]EntrySpec, error) {
	return s.fn(ctx, p)
}

type accrualSource struct{ fn specFunc }

func (s accrualSource) AccrualEntries(ctx context.Context, p periods.Period) ([]EntrySpec, error) {
	return s.fn(ctx, p)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func januaryFixture() *stubPeriods {
	return &stubPeriods{byID: map[int64]periods.Period{
		1: {ID: 1, Name: "2024-01", StartDate: date(2024, 1, 1), EndDate: date(2024, 1, 31), Status: periods.StatusOpen},
		2: {ID: 2, Name: "2024-02", StartDate: date(2024, 2, 1), EndDate: date(2024, 2, 29), Status: periods.StatusOpen},
	}}
}

func rentTemplate() RecurringEntry {
	return RecurringEntry{
		ID:             1,
		Name:           "office rent",
		Description:    "Monthly office rent",
		Currency:       "USD",
		IntervalMonths: 1,
		NextRunDate:    date(2024, 1, 31),
		Active:         true,
		Lines: []RecurringLine{
			{LineNo: 1, AccountID: 10, Debit: decimal.RequireFromString("1500.00")},
			{LineNo: 2, AccountID: 20, Credit: decimal.RequireFromString("1500.00")},
		},
	}
}

func TestRunClosesPeriodWhenAllStepsPass(t *testing.T) {
	jrn := newStubJournals()
	prd := januaryFixture()
	bal := &stubBalances{checks: []balances.ControlCheck{
		{Code: "1200", ControlModule: "AR", Reconciled: true},
	}}
	rec := &stubRecurring{templates: map[int64]RecurringEntry{1: rentTemplate()}}

	svc := NewService(Config{
		Journals: jrn, Periods: prd, Balances: bal, Recurring: rec,
		Depreciation: depSource{fn: func(_ context.Context, p periods.Period) ([]EntrySpec, error) {
			return []EntrySpec{{
				Description: "January depreciation",
				SourceKey:   "2024-01",
				Lines: []journals.LineInput{
					{AccountID: 30, Debit: decimal.RequireFromString("250.00")},
					{AccountID: 31, Credit: decimal.RequireFromString("250.00")},
				},
			}}, nil
		}},
		BaseCurrency: "USD",
	})

	result, err := svc.Run(context.Background(), RunInput{PeriodID: 1, ActorID: 7})
	require.NoError(t, err)
	require.True(t, result.Closed)
	require.Empty(t, result.Errors)

	require.Equal(t, periods.StatusClosed, prd.byID[1].Status)
	require.Len(t, jrn.created, 2) // rent + depreciation
	require.Len(t, jrn.posted, 2)

	var steps []string
	for _, s := range result.Steps {
		steps = append(steps, s.Step)
	}
	require.Contains(t, steps, StepRecurring)
	require.Contains(t, steps, StepDepreciation)
	require.Contains(t, steps, StepControlSweep)
	require.Contains(t, steps, StepCloseTransition)

	require.True(t, bal.rollForward)
	require.Equal(t, int64(1), bal.rolledFrom)
	require.Equal(t, int64(2), bal.rolledTo)
}

func TestRunCollectsAllBlockingIssues(t *testing.T) {
	jrn := newStubJournals()
	prd := januaryFixture()
	bal := &stubBalances{checks: []balances.ControlCheck{
		{Code: "1200", ControlModule: "AR", Difference: decimal.RequireFromString("12.50")},
		{Code: "2100", ControlModule: "AP", Difference: decimal.RequireFromString("-3.00")},
		{Code: "1300", ControlModule: "INV", Reconciled: true},
	}}
	rec := &stubRecurring{templates: map[int64]RecurringEntry{}}

	svc := NewService(Config{
		Journals: jrn, Periods: prd, Balances: bal, Recurring: rec,
		Accruals: accrualSource{fn: func(context.Context, periods.Period) ([]EntrySpec, error) {
			return nil, errors.New("accrual feed unavailable")
		}},
	})

	result, err := svc.Run(context.Background(), RunInput{PeriodID: 1, ActorID: 7})
	require.ErrorIs(t, err, ErrCloseBlocked)
	require.False(t, result.Closed)
	require.Len(t, result.Errors, 3) // accrual failure + two control accounts

	outOfBalance := 0
	for _, stepErr := range result.Errors {
		if errors.Is(stepErr.Err, ErrControlOutOfBalance) {
			outOfBalance++
		}
	}
	require.Equal(t, 2, outOfBalance)
	require.Equal(t, periods.StatusOpen, prd.byID[1].Status)
}

func TestRunDoesNotDoublePostAcrossRetries(t *testing.T) {
	jrn := newStubJournals()
	prd := januaryFixture()
	bal := &stubBalances{checks: []balances.ControlCheck{
		{Code: "1200", ControlModule: "AR", Difference: decimal.RequireFromString("12.50")},
	}}
	rec := &stubRecurring{templates: map[int64]RecurringEntry{1: rentTemplate()}}

	svc := NewService(Config{Journals: jrn, Periods: prd, Balances: bal, Recurring: rec})

	_, err := svc.Run(context.Background(), RunInput{PeriodID: 1, ActorID: 7})
	require.ErrorIs(t, err, ErrCloseBlocked)
	require.Len(t, jrn.created, 1)

	// Operator fixes the subsidiary drift, then retries. The template cursor
	// already advanced, and even a stale cursor could not double-post the
	// same run date thanks to the deterministic source id.
	bal.checks[0].Reconciled = true
	bal.checks[0].Difference = decimal.Zero
	result, err := svc.Run(context.Background(), RunInput{PeriodID: 1, ActorID: 7})
	require.NoError(t, err)
	require.True(t, result.Closed)
	require.Len(t, jrn.created, 1)
}

func TestRunPostsDraftStrandedByEarlierFailure(t *testing.T) {
	jrn := newStubJournals()
	prd := januaryFixture()
	rec := &stubRecurring{templates: map[int64]RecurringEntry{1: rentTemplate()}}

	svc := NewService(Config{Journals: jrn, Periods: prd, Balances: &stubBalances{}, Recurring: rec})

	// The first run creates the rent draft but dies before posting it.
	jrn.postErr = errors.New("connection reset")
	_, err := svc.Run(context.Background(), RunInput{PeriodID: 1, ActorID: 7})
	require.ErrorIs(t, err, ErrCloseBlocked)
	require.Len(t, jrn.created, 1)
	require.Equal(t, journals.EntryStatusDraft, jrn.entries[1].Status)

	// The retry must pick the stranded draft back up, not skip it.
	result, err := svc.Run(context.Background(), RunInput{PeriodID: 1, ActorID: 7})
	require.NoError(t, err)
	require.True(t, result.Closed)
	require.Len(t, jrn.created, 1)
	require.Equal(t, journals.EntryStatusPosted, jrn.entries[1].Status)
	require.Equal(t, []int64{1}, jrn.posted)
}

func TestSourcedEntriesNotFutureDatedOnEarlyClose(t *testing.T) {
	jrn := newStubJournals()
	prd := januaryFixture()
	rec := &stubRecurring{templates: map[int64]RecurringEntry{}}

	svc := NewService(Config{
		Journals: jrn, Periods: prd, Balances: &stubBalances{}, Recurring: rec,
		Depreciation: depSource{fn: func(_ context.Context, p periods.Period) ([]EntrySpec, error) {
			return []EntrySpec{{
				Description: "January depreciation",
				SourceKey:   "2024-01",
				Lines: []journals.LineInput{
					{AccountID: 30, Debit: decimal.RequireFromString("250.00")},
					{AccountID: 31, Credit: decimal.RequireFromString("250.00")},
				},
			}}, nil
		}},
	})
	// Closing mid-month: the generated entry must carry today's date, not
	// the period end, or posting would reject it as future dated.
	svc.WithNow(func() time.Time { return time.Date(2024, time.January, 20, 15, 30, 0, 0, time.UTC) })

	result, err := svc.Run(context.Background(), RunInput{PeriodID: 1, ActorID: 7})
	require.NoError(t, err)
	require.True(t, result.Closed)
	require.Len(t, jrn.created, 1)
	require.Equal(t, date(2024, 1, 20), jrn.created[0].EntryDate)
}

func TestRunRejectsNonOpenPeriod(t *testing.T) {
	prd := januaryFixture()
	p := prd.byID[1]
	p.Status = periods.StatusClosed
	prd.byID[1] = p

	svc := NewService(Config{Journals: newStubJournals(), Periods: prd, Balances: &stubBalances{}})

	_, err := svc.Run(context.Background(), RunInput{PeriodID: 1, ActorID: 7})
	require.ErrorIs(t, err, shared.ErrPeriodAlreadyClosed)

	// Permanent upgrade of an already-closed period skips the steps.
	result, err := svc.Run(context.Background(), RunInput{PeriodID: 1, ActorID: 7, Permanent: true})
	require.NoError(t, err)
	require.True(t, result.Closed)
	require.Equal(t, periods.StatusPermanentlyClosed, prd.byID[1].Status)
}

func TestGenerateRecurringCatchesUpMissedRuns(t *testing.T) {
	jrn := newStubJournals()
	template := rentTemplate()
	template.NextRunDate = date(2023, 11, 30)
	rec := &stubRecurring{templates: map[int64]RecurringEntry{1: template}}

	svc := NewService(Config{Journals: jrn, Periods: januaryFixture(), Balances: &stubBalances{}, Recurring: rec})

	posted, err := svc.GenerateRecurring(context.Background(), date(2024, 1, 31), 7)
	require.NoError(t, err)
	require.Equal(t, 3, posted) // Nov 30, Dec 30, Jan 30
	require.True(t, rec.templates[1].NextRunDate.After(date(2024, 1, 31)))
	for _, in := range jrn.created {
		require.Equal(t, journals.EntryTypeRecurring, in.Type)
		require.Equal(t, "RECURRING", in.SourceModule)
	}
}
