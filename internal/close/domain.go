package close

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ledgerline/ledgerline/internal/ledger/journals"
	"github.com/ledgerline/ledgerline/internal/ledger/periods"
)

// ErrCloseBlocked indicates one or more close steps failed and the period
// was left OPEN. The CloseResult carries the full error list.
var ErrCloseBlocked = errors.New("close: period close blocked")

// ErrControlOutOfBalance indicates a control account disagrees with its
// subsidiary ledger beyond tolerance.
var ErrControlOutOfBalance = errors.New("close: control account out of balance")

// RunInput identifies the period to close and who asked for it.
type RunInput struct {
	PeriodID int64
	ActorID  int64
	// Permanent upgrades the close to the terminal state.
	Permanent bool
}

// StepResult records one completed close step.
type StepResult struct {
	Step   string
	Detail string
}

// StepError records one failed close step. Steps keep running after a
// failure so a single run reports everything blocking the close.
type StepError struct {
	Step string
	Err  error
}

func (e StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e StepError) Unwrap() error { return e.Err }

// CloseResult summarises one orchestrator run.
type CloseResult struct {
	PeriodID int64
	Steps    []StepResult
	Errors   []StepError
	Closed   bool
}

// EntrySpec describes a journal entry a close step wants generated. The
// orchestrator turns specs into posted entries; SourceKey makes the
// generation idempotent across repeated runs.
type EntrySpec struct {
	EntryDate   time.Time
	Currency    string
	Description string
	SourceKey   string
	Lines       []journals.LineInput
}

// DepreciationSource supplies period depreciation entries. Fixed-asset
// bookkeeping lives outside the ledger; only its postings cross this port.
type DepreciationSource interface {
	DepreciationEntries(ctx context.Context, period periods.Period) ([]EntrySpec, error)
}

// AccrualSource supplies accrual and deferral entries due at period end.
type AccrualSource interface {
	AccrualEntries(ctx context.Context, period periods.Period) ([]EntrySpec, error)
}

// RevaluationSource supplies FX revaluation entries for monetary accounts
// held in foreign currency.
type RevaluationSource interface {
	RevaluationEntries(ctx context.Context, period periods.Period) ([]EntrySpec, error)
}
