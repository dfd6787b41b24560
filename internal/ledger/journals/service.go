package journals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/ledgerline/internal/ledger/accounts"
	"github.com/ledgerline/ledgerline/internal/ledger/balances"
	"github.com/ledgerline/ledgerline/internal/ledger/money"
	"github.com/ledgerline/ledgerline/internal/ledger/periods"
	"github.com/ledgerline/ledgerline/internal/ledger/shared"
	internalShared "github.com/ledgerline/ledgerline/internal/shared"
)

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// Service coordinates creating, posting, reversing, and voiding journal
// entries. Every mutation runs as one transaction: header, lines, and
// balance updates commit together or not at all.
type Service struct {
	repo     Repository
	audit    AuditPort
	validate *validator.Validate
	now      func() time.Time
}

// NewService constructs the journal entry engine.
func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, validate: validator.New(), now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create validates and persists a new DRAFT entry with its lines.
func (s *Service) Create(ctx context.Context, in CreateInput) (JournalEntry, error) {
	if err := s.validate.Struct(in); err != nil {
		return JournalEntry{}, fmt.Errorf("journals: invalid input: %w", err)
	}
	if !ValidEntryType(in.Type) {
		return JournalEntry{}, fmt.Errorf("journals: unknown entry type %q", in.Type)
	}
	exp, err := money.MinorUnits(in.Currency)
	if err != nil {
		return JournalEntry{}, err
	}
	if in.Type != EntryTypeAdjusting && dateOnly(in.EntryDate).After(dateOnly(s.now())) {
		return JournalEntry{}, shared.ErrFutureDate
	}
	lines, totalDebit, totalCredit, err := buildLines(in.Lines, exp)
	if err != nil {
		return JournalEntry{}, err
	}
	if !totalDebit.Equal(totalCredit) {
		return JournalEntry{}, shared.ErrUnbalanced
	}

	var entry JournalEntry
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.FindPeriodByDate(ctx, in.EntryDate)
		if err != nil {
			return err
		}
		if period.Status != periods.StatusOpen {
			return shared.ErrPeriodClosed
		}
		for i, line := range lines {
			account, err := tx.GetAccount(ctx, line.AccountID)
			if err != nil {
				if errors.Is(err, shared.ErrAccountNotFound) {
					return fmt.Errorf("journals: line %d: %w", i+1, shared.ErrInvalidAccount)
				}
				return err
			}
			if !account.IsActive {
				return fmt.Errorf("journals: line %d account %s inactive: %w", i+1, account.Code, shared.ErrInvalidAccount)
			}
			if err := checkDimensions(account, line); err != nil {
				return fmt.Errorf("journals: line %d account %s: %w", i+1, account.Code, err)
			}
		}
		number, err := tx.NextEntryNumber(ctx, in.Type, in.EntryDate)
		if err != nil {
			return err
		}
		inserted, err := tx.InsertEntry(ctx, JournalEntry{
			Number:       number,
			Type:         in.Type,
			Status:       EntryStatusDraft,
			EntryDate:    in.EntryDate,
			PeriodID:     period.ID,
			Description:  in.Description,
			Currency:     in.Currency,
			TotalDebit:   totalDebit,
			TotalCredit:  totalCredit,
			SourceModule: in.SourceModule,
			SourceID:     in.SourceID,
			CreatedBy:    in.CreatedBy,
		})
		if err != nil {
			return err
		}
		if err := tx.InsertLines(ctx, inserted.ID, withEntryID(inserted.ID, lines)); err != nil {
			return err
		}
		inserted.Lines = withEntryID(inserted.ID, lines)
		entry = inserted
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.record(ctx, in.CreatedBy, "journal.create", entry.ID, map[string]any{
		"number": entry.Number,
		"type":   string(entry.Type),
	})
	return entry, nil
}

// Post applies a draft entry's financial effect. The covering period is
// re-checked under lock inside the posting transaction: it may have closed
// between draft creation and posting.
func (s *Service) Post(ctx context.Context, entryID, actorID int64) (JournalEntry, error) {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		switch current.Status {
		case EntryStatusPosted, EntryStatusReversed:
			return shared.ErrAlreadyPosted
		case EntryStatusVoided:
			return shared.ErrInvalidStatus
		}
		period, err := tx.GetPeriodForUpdate(ctx, current.PeriodID)
		if err != nil {
			return err
		}
		if period.Status != periods.StatusOpen {
			return shared.ErrPeriodClosed
		}
		lines, err := tx.GetLines(ctx, current.ID)
		if err != nil {
			return err
		}
		for _, line := range lines {
			if err := tx.ApplyBalance(ctx, balances.Delta{
				AccountID:    line.AccountID,
				PeriodID:     current.PeriodID,
				DepartmentID: line.DepartmentID,
				CostCenterID: line.CostCenterID,
				ProjectID:    line.ProjectID,
				Debit:        line.Debit,
				Credit:       line.Credit,
			}); err != nil {
				return err
			}
		}
		postedAt := s.now()
		if err := tx.MarkPosted(ctx, current.ID, postedAt, actorID); err != nil {
			return err
		}
		current.Status = EntryStatusPosted
		current.PostedAt = &postedAt
		current.PostedBy = &actorID
		current.Lines = lines
		entry = current
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.record(ctx, actorID, "journal.post", entry.ID, map[string]any{"number": entry.Number})
	return entry, nil
}

// Reverse creates and posts a mirrored REVERSING entry and annotates the
// original. The original's lines are never financially mutated.
func (s *Service) Reverse(ctx context.Context, in ReverseInput) (JournalEntry, error) {
	if in.EntryID == 0 {
		return JournalEntry{}, errors.New("journals: entry id required")
	}
	var reversal JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetEntryForUpdate(ctx, in.EntryID)
		if err != nil {
			return err
		}
		if original.Status == EntryStatusReversed || original.ReversingEntryID != nil {
			return shared.ErrAlreadyReversed
		}
		if original.Status != EntryStatusPosted {
			return shared.ErrNotPosted
		}
		reversalDate := dateOnly(s.now())
		if in.ReversalDate != nil {
			reversalDate = dateOnly(*in.ReversalDate)
		}
		period, err := tx.FindPeriodByDate(ctx, reversalDate)
		if err != nil {
			return err
		}
		if period.Status != periods.StatusOpen {
			return shared.ErrPeriodClosed
		}
		lines, err := tx.GetLines(ctx, original.ID)
		if err != nil {
			return err
		}
		number, err := tx.NextEntryNumber(ctx, EntryTypeReversing, reversalDate)
		if err != nil {
			return err
		}
		now := s.now()
		mirrored := mirrorLines(lines)
		inserted, err := tx.InsertEntry(ctx, JournalEntry{
			Number:          number,
			Type:            EntryTypeReversing,
			Status:          EntryStatusPosted,
			EntryDate:       reversalDate,
			PeriodID:        period.ID,
			Description:     reversalMemo(in.Memo, original.Number),
			Currency:        original.Currency,
			TotalDebit:      original.TotalCredit,
			TotalCredit:     original.TotalDebit,
			SourceModule:    original.SourceModule + ":REVERSAL",
			SourceID:        uuid.New(),
			ReversedEntryID: &original.ID,
			PostedAt:        &now,
			PostedBy:        &in.ActorID,
			CreatedBy:       in.ActorID,
		})
		if err != nil {
			return err
		}
		if err := tx.InsertLines(ctx, inserted.ID, mirrored); err != nil {
			return err
		}
		for _, line := range mirrored {
			if err := tx.ApplyBalance(ctx, balances.Delta{
				AccountID:    line.AccountID,
				PeriodID:     period.ID,
				DepartmentID: line.DepartmentID,
				CostCenterID: line.CostCenterID,
				ProjectID:    line.ProjectID,
				Debit:        line.Debit,
				Credit:       line.Credit,
			}); err != nil {
				return err
			}
		}
		if err := tx.MarkReversed(ctx, original.ID, inserted.ID, now); err != nil {
			return err
		}
		inserted.Lines = withEntryID(inserted.ID, mirrored)
		reversal = inserted
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.record(ctx, in.ActorID, "journal.reverse", in.EntryID, map[string]any{
		"reversal_id":     reversal.ID,
		"reversal_number": reversal.Number,
	})
	return reversal, nil
}

// Void marks a never-posted draft as VOIDED, a terminal state.
func (s *Service) Void(ctx context.Context, entryID, actorID int64, reason string) (JournalEntry, error) {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if current.Status != EntryStatusDraft {
			return shared.ErrInvalidStatus
		}
		if err := tx.UpdateStatus(ctx, current.ID, EntryStatusVoided); err != nil {
			return err
		}
		current.Status = EntryStatusVoided
		entry = current
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.record(ctx, actorID, "journal.void", entry.ID, map[string]any{"reason": reason})
	return entry, nil
}

// Get returns an entry with its lines.
func (s *Service) Get(ctx context.Context, entryID int64) (JournalEntry, error) {
	return s.repo.GetWithLines(ctx, entryID)
}

// FindBySource returns the entry linked to a source document, letting
// generating modules recover an entry they created on an earlier run.
func (s *Service) FindBySource(ctx context.Context, module string, sourceID uuid.UUID) (JournalEntry, error) {
	return s.repo.GetBySource(ctx, module, sourceID)
}

// List returns entries matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]JournalEntry, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, entryID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, internalShared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal_entry",
		EntityID: fmt.Sprintf("%d", entryID),
		Meta:     meta,
		At:       s.now(),
	})
}

// buildLines normalises requested lines: amounts rounded half-up to the
// currency's minor unit, exactly one nonzero side per line.
func buildLines(in []LineInput, exp int32) ([]JournalEntryLine, decimal.Decimal, decimal.Decimal, error) {
	if len(in) < 2 {
		return nil, decimal.Zero, decimal.Zero, shared.ErrTooFewLines
	}
	lines := make([]JournalEntryLine, 0, len(in))
	totalDebit, totalCredit := decimal.Zero, decimal.Zero
	for i, l := range in {
		if l.AccountID == 0 {
			return nil, decimal.Zero, decimal.Zero, fmt.Errorf("journals: line %d missing account: %w", i+1, shared.ErrInvalidAccount)
		}
		debit := money.RoundHalfUp(l.Debit, exp)
		credit := money.RoundHalfUp(l.Credit, exp)
		if debit.IsNegative() || credit.IsNegative() {
			return nil, decimal.Zero, decimal.Zero, fmt.Errorf("journals: line %d negative amount", i+1)
		}
		if debit.IsPositive() && credit.IsPositive() {
			return nil, decimal.Zero, decimal.Zero, fmt.Errorf("journals: line %d: %w", i+1, shared.ErrLineBothSides)
		}
		if debit.IsZero() && credit.IsZero() {
			return nil, decimal.Zero, decimal.Zero, fmt.Errorf("journals: line %d has no amount", i+1)
		}
		totalDebit = totalDebit.Add(debit)
		totalCredit = totalCredit.Add(credit)
		lines = append(lines, JournalEntryLine{
			LineNo:       i + 1,
			AccountID:    l.AccountID,
			Debit:        debit,
			Credit:       credit,
			DepartmentID: l.DepartmentID,
			CostCenterID: l.CostCenterID,
			ProjectID:    l.ProjectID,
			Memo:         l.Memo,
		})
	}
	return lines, totalDebit, totalCredit, nil
}

func checkDimensions(account accounts.Account, line JournalEntryLine) error {
	if account.RequireDepartment && line.DepartmentID == nil {
		return shared.ErrDimensionRequired
	}
	if account.RequireCostCenter && line.CostCenterID == nil {
		return shared.ErrDimensionRequired
	}
	if account.RequireProject && line.ProjectID == nil {
		return shared.ErrDimensionRequired
	}
	return nil
}

func mirrorLines(lines []JournalEntryLine) []JournalEntryLine {
	out := make([]JournalEntryLine, 0, len(lines))
	for i, line := range lines {
		out = append(out, JournalEntryLine{
			LineNo:       i + 1,
			AccountID:    line.AccountID,
			Debit:        line.Credit,
			Credit:       line.Debit,
			DepartmentID: line.DepartmentID,
			CostCenterID: line.CostCenterID,
			ProjectID:    line.ProjectID,
			Memo:         line.Memo,
		})
	}
	return out
}

func withEntryID(entryID int64, lines []JournalEntryLine) []JournalEntryLine {
	out := make([]JournalEntryLine, len(lines))
	for i, line := range lines {
		line.EntryID = entryID
		out[i] = line
	}
	return out
}

func reversalMemo(memo, originalNumber string) string {
	if memo != "" {
		return memo
	}
	return fmt.Sprintf("Reversal of %s", originalNumber)
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
