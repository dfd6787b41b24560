package close

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/ledgerline/internal/ledger/balances"
	"github.com/ledgerline/ledgerline/internal/ledger/journals"
	"github.com/ledgerline/ledgerline/internal/ledger/periods"
	"github.com/ledgerline/ledgerline/internal/ledger/shared"
	internalShared "github.com/ledgerline/ledgerline/internal/shared"
)

const (
	StepRecurring       = "recurring-entries"
	StepDepreciation    = "depreciation"
	StepAccruals        = "accruals"
	StepRevaluation     = "fx-revaluation"
	StepControlSweep    = "control-accounts"
	StepCloseTransition = "close-period"
)

// JournalEngine is the slice of the journal service the orchestrator needs.
type JournalEngine interface {
	Create(ctx context.Context, in journals.CreateInput) (journals.JournalEntry, error)
	Post(ctx context.Context, entryID, actorID int64) (journals.JournalEntry, error)
	FindBySource(ctx context.Context, module string, sourceID uuid.UUID) (journals.JournalEntry, error)
}

// PeriodRegistry is the slice of the period service the orchestrator needs.
type PeriodRegistry interface {
	Get(ctx context.Context, id int64) (periods.Period, error)
	FindByDate(ctx context.Context, date time.Time) (periods.Period, error)
	Close(ctx context.Context, in periods.CloseInput) (periods.Period, error)
}

// BalanceValidator validates control accounts and seeds the next period.
type BalanceValidator interface {
	SweepControlAccounts(ctx context.Context, periodID int64) ([]balances.ControlCheck, error)
	RollForward(ctx context.Context, fromPeriodID, toPeriodID int64) error
}

// AuditPort records close events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// Service orchestrates the period close: generate scheduled entries, pull
// adjustments from collaborator modules, validate control accounts, and
// only then flip the period status. A failed step never leaves the ledger
// half-closed; the period stays OPEN until every step passes in one run.
type Service struct {
	journals  JournalEngine
	periods   PeriodRegistry
	balances  BalanceValidator
	recurring RecurringRepository

	depreciation DepreciationSource
	accruals     AccrualSource
	revaluation  RevaluationSource

	audit        AuditPort
	log          *slog.Logger
	baseCurrency string
	now          func() time.Time
}

// Config wires the orchestrator's collaborators. Depreciation, Accruals,
// and Revaluation are optional; a nil source skips its step.
type Config struct {
	Journals  JournalEngine
	Periods   PeriodRegistry
	Balances  BalanceValidator
	Recurring RecurringRepository

	Depreciation DepreciationSource
	Accruals     AccrualSource
	Revaluation  RevaluationSource

	Audit        AuditPort
	Logger       *slog.Logger
	BaseCurrency string
}

// NewService constructs the close orchestrator.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	baseCurrency := cfg.BaseCurrency
	if baseCurrency == "" {
		baseCurrency = "USD"
	}
	return &Service{
		journals:     cfg.Journals,
		periods:      cfg.Periods,
		balances:     cfg.Balances,
		recurring:    cfg.Recurring,
		depreciation: cfg.Depreciation,
		accruals:     cfg.Accruals,
		revaluation:  cfg.Revaluation,
		audit:        cfg.Audit,
		log:          logger,
		baseCurrency: baseCurrency,
		now:          time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Run executes every close step for the period and, when all of them pass,
// transitions it to CLOSED. Steps keep running after a failure so one run
// reports everything blocking the close; any failure returns ErrCloseBlocked
// with the period left OPEN.
func (s *Service) Run(ctx context.Context, in RunInput) (CloseResult, error) {
	period, err := s.periods.Get(ctx, in.PeriodID)
	if err != nil {
		return CloseResult{}, err
	}
	result := CloseResult{PeriodID: in.PeriodID}

	switch period.Status {
	case periods.StatusOpen:
	case periods.StatusClosed:
		if !in.Permanent {
			return result, shared.ErrPeriodAlreadyClosed
		}
		// Upgrade only; the CLOSED state already passed a full run.
		if _, err := s.periods.Close(ctx, periods.CloseInput{
			PeriodID: in.PeriodID, ActorID: in.ActorID, Permanent: true,
		}); err != nil {
			return result, err
		}
		result.Closed = true
		result.Steps = append(result.Steps, StepResult{Step: StepCloseTransition, Detail: "upgraded to permanently closed"})
		return result, nil
	default:
		return result, shared.ErrPeriodAlreadyClosed
	}

	s.runGenerated(&result, StepRecurring, func() (int, error) {
		through := period.EndDate
		if today := dateOnly(s.now()); today.Before(through) {
			through = today
		}
		return s.GenerateRecurring(ctx, through, in.ActorID)
	})
	s.runSourced(ctx, &result, StepDepreciation, period, in.ActorID, s.depreciationSpecs)
	s.runSourced(ctx, &result, StepAccruals, period, in.ActorID, s.accrualSpecs)
	s.runSourced(ctx, &result, StepRevaluation, period, in.ActorID, s.revaluationSpecs)
	s.sweepControls(ctx, &result, period.ID)

	if len(result.Errors) > 0 {
		s.log.WarnContext(ctx, "period close blocked",
			slog.Int64("period_id", period.ID),
			slog.Int("errors", len(result.Errors)))
		return result, ErrCloseBlocked
	}

	closed, err := s.periods.Close(ctx, periods.CloseInput{
		PeriodID:  in.PeriodID,
		ActorID:   in.ActorID,
		Permanent: in.Permanent,
	})
	if err != nil {
		result.Errors = append(result.Errors, StepError{Step: StepCloseTransition, Err: err})
		return result, ErrCloseBlocked
	}
	result.Closed = true
	result.Steps = append(result.Steps, StepResult{Step: StepCloseTransition, Detail: string(closed.Status)})

	s.rollForward(ctx, &result, closed)
	s.record(ctx, in.ActorID, closed.ID, result)
	s.log.InfoContext(ctx, "period closed",
		slog.Int64("period_id", closed.ID),
		slog.String("status", string(closed.Status)))
	return result, nil
}

// GenerateRecurring posts entries for every active template whose next run
// is not after through, advancing each template's cursor. Re-running for
// the same dates is a no-op: generated entries carry a deterministic source
// id, so duplicates are rejected and skipped.
func (s *Service) GenerateRecurring(ctx context.Context, through time.Time, actorID int64) (int, error) {
	if s.recurring == nil {
		return 0, nil
	}
	templates, err := s.recurring.ListDue(ctx, through)
	if err != nil {
		return 0, err
	}
	posted := 0
	for _, template := range templates {
		run := template.NextRunDate
		for !run.After(through) {
			n, err := s.postSpec(ctx, journals.EntryTypeRecurring, "RECURRING", actorID, EntrySpec{
				EntryDate:   run,
				Currency:    template.Currency,
				Description: template.Description,
				SourceKey:   fmt.Sprintf("%d@%s", template.ID, run.Format("2006-01-02")),
				Lines:       recurringLines(template.Lines),
			})
			if err != nil {
				return posted, fmt.Errorf("close: recurring template %q: %w", template.Name, err)
			}
			posted += n
			next := template.NextAfter(run)
			if err := s.recurring.Advance(ctx, template.ID, next); err != nil {
				return posted, err
			}
			run = next
		}
	}
	return posted, nil
}

func (s *Service) depreciationSpecs(ctx context.Context, period periods.Period) ([]EntrySpec, error) {
	if s.depreciation == nil {
		return nil, nil
	}
	return s.depreciation.DepreciationEntries(ctx, period)
}

func (s *Service) accrualSpecs(ctx context.Context, period periods.Period) ([]EntrySpec, error) {
	if s.accruals == nil {
		return nil, nil
	}
	return s.accruals.AccrualEntries(ctx, period)
}

func (s *Service) revaluationSpecs(ctx context.Context, period periods.Period) ([]EntrySpec, error) {
	if s.revaluation == nil {
		return nil, nil
	}
	return s.revaluation.RevaluationEntries(ctx, period)
}

func (s *Service) runGenerated(result *CloseResult, step string, fn func() (int, error)) {
	n, err := fn()
	if err != nil {
		result.Errors = append(result.Errors, StepError{Step: step, Err: err})
		return
	}
	result.Steps = append(result.Steps, StepResult{Step: step, Detail: fmt.Sprintf("%d entries posted", n)})
}

func (s *Service) runSourced(ctx context.Context, result *CloseResult, step string, period periods.Period, actorID int64,
	fetch func(context.Context, periods.Period) ([]EntrySpec, error)) {
	specs, err := fetch(ctx, period)
	if err != nil {
		result.Errors = append(result.Errors, StepError{Step: step, Err: err})
		return
	}
	posted := 0
	for _, spec := range specs {
		if spec.EntryDate.IsZero() {
			spec.EntryDate = s.defaultEntryDate(period)
		}
		n, err := s.postSpec(ctx, journals.EntryTypeAutomatic, sourceModule(step), actorID, spec)
		if err != nil {
			result.Errors = append(result.Errors, StepError{Step: step, Err: err})
			return
		}
		posted += n
	}
	result.Steps = append(result.Steps, StepResult{Step: step, Detail: fmt.Sprintf("%d entries posted", posted)})
}

// postSpec creates and posts one generated entry. When the spec's source id
// already has an entry from a previous run, the entry is posted if that run
// crashed between create and post; an already posted one counts as done.
func (s *Service) postSpec(ctx context.Context, entryType journals.EntryType, module string, actorID int64, spec EntrySpec) (int, error) {
	currency := spec.Currency
	if currency == "" {
		currency = s.baseCurrency
	}
	entry, err := s.journals.Create(ctx, journals.CreateInput{
		EntryDate:    spec.EntryDate,
		Type:         entryType,
		Currency:     currency,
		Description:  spec.Description,
		SourceModule: module,
		SourceID:     sourceID(module, spec.SourceKey),
		CreatedBy:    actorID,
		Lines:        spec.Lines,
	})
	if err != nil {
		if errors.Is(err, shared.ErrSourceAlreadyLinked) {
			return s.resumeLinked(ctx, module, spec.SourceKey, actorID)
		}
		return 0, err
	}
	if _, err := s.journals.Post(ctx, entry.ID, actorID); err != nil {
		return 0, err
	}
	return 1, nil
}

// resumeLinked finishes a generated entry left behind by an interrupted run:
// still a draft means the earlier run crashed before posting, so post it now.
// Anything else already took effect (or was voided by an operator) and is
// skipped.
func (s *Service) resumeLinked(ctx context.Context, module, key string, actorID int64) (int, error) {
	existing, err := s.journals.FindBySource(ctx, module, sourceID(module, key))
	if err != nil {
		return 0, err
	}
	if existing.Status != journals.EntryStatusDraft {
		return 0, nil
	}
	s.log.InfoContext(ctx, "posting stranded generated entry",
		slog.Int64("entry_id", existing.ID),
		slog.String("source_module", module))
	if _, err := s.journals.Post(ctx, existing.ID, actorID); err != nil {
		return 0, err
	}
	return 1, nil
}

func (s *Service) sweepControls(ctx context.Context, result *CloseResult, periodID int64) {
	checks, err := s.balances.SweepControlAccounts(ctx, periodID)
	if err != nil {
		result.Errors = append(result.Errors, StepError{Step: StepControlSweep, Err: err})
		return
	}
	failed := 0
	for _, check := range checks {
		if check.Reconciled {
			continue
		}
		failed++
		result.Errors = append(result.Errors, StepError{
			Step: StepControlSweep,
			Err: fmt.Errorf("account %s (%s) differs from subsidiary by %s: %w",
				check.Code, check.ControlModule, check.Difference.String(), ErrControlOutOfBalance),
		})
	}
	if failed == 0 {
		result.Steps = append(result.Steps, StepResult{
			Step:   StepControlSweep,
			Detail: fmt.Sprintf("%d accounts reconciled", len(checks)),
		})
	}
}

// rollForward seeds the following period's opening balances. The close has
// already committed; a missing or failing successor is logged, not fatal.
func (s *Service) rollForward(ctx context.Context, result *CloseResult, closed periods.Period) {
	next, err := s.periods.FindByDate(ctx, closed.EndDate.AddDate(0, 0, 1))
	if err != nil {
		if !errors.Is(err, shared.ErrPeriodNotFound) {
			s.log.WarnContext(ctx, "roll-forward lookup failed", slog.Any("error", err))
		}
		return
	}
	if err := s.balances.RollForward(ctx, closed.ID, next.ID); err != nil {
		s.log.WarnContext(ctx, "roll-forward failed",
			slog.Int64("from_period_id", closed.ID),
			slog.Int64("to_period_id", next.ID),
			slog.Any("error", err))
		return
	}
	result.Steps = append(result.Steps, StepResult{
		Step:   "roll-forward",
		Detail: fmt.Sprintf("opening balances seeded for period %d", next.ID),
	})
}

func (s *Service) record(ctx context.Context, actorID, periodID int64, result CloseResult) {
	if s.audit == nil {
		return
	}
	steps := make([]string, 0, len(result.Steps))
	for _, step := range result.Steps {
		steps = append(steps, step.Step)
	}
	_ = s.audit.Record(ctx, internalShared.AuditLog{
		ActorID:  actorID,
		Action:   "period.close",
		Entity:   "period",
		EntityID: fmt.Sprintf("%d", periodID),
		Meta:     map[string]any{"steps": steps},
		At:       s.now(),
	})
}

func recurringLines(lines []RecurringLine) []journals.LineInput {
	out := make([]journals.LineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, journals.LineInput{
			AccountID:    line.AccountID,
			Debit:        line.Debit,
			Credit:       line.Credit,
			DepartmentID: line.DepartmentID,
			CostCenterID: line.CostCenterID,
			ProjectID:    line.ProjectID,
			Memo:         line.Memo,
		})
	}
	return out
}

// defaultEntryDate picks the date for a sourced entry that did not specify
// one. Closing a period early must not future-date the entry, which the
// journal engine rejects, so the date is capped at today while staying
// inside the period.
func (s *Service) defaultEntryDate(period periods.Period) time.Time {
	d := period.EndDate
	if today := dateOnly(s.now()); today.Before(d) && !today.Before(period.StartDate) {
		d = today
	}
	return d
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func sourceModule(step string) string {
	switch step {
	case StepDepreciation:
		return "DEPRECIATION"
	case StepAccruals:
		return "ACCRUAL"
	case StepRevaluation:
		return "FX_REVALUATION"
	default:
		return "CLOSE"
	}
}

// sourceID derives a stable uuid from the generating module and its key so
// repeated runs collide on the journal source uniqueness constraint instead
// of double-posting.
func sourceID(module, key string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(module+"/"+key))
}
