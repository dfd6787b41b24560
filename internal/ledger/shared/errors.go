package shared

import "errors"

// Validation errors: rejected before anything is persisted.
var (
	// ErrUnbalanced indicates total debit != total credit.
	ErrUnbalanced = errors.New("ledger: journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("ledger: journal requires at least two lines")
	// ErrLineBothSides indicates a line carrying both a debit and a credit.
	ErrLineBothSides = errors.New("ledger: line cannot be both debit and credit")
	// ErrInvalidAccount indicates a missing or inactive account on a line.
	ErrInvalidAccount = errors.New("ledger: account missing or inactive")
	// ErrDimensionRequired indicates a line missing a dimension the account mandates.
	ErrDimensionRequired = errors.New("ledger: account requires dimension tags")
	// ErrDuplicateCode indicates an account code collision.
	ErrDuplicateCode = errors.New("ledger: account code already exists")
	// ErrInvalidPeriod indicates an incoherent period definition.
	ErrInvalidPeriod = errors.New("ledger: invalid period range")
	// ErrPeriodOverlap indicates the requested range intersects an existing period.
	ErrPeriodOverlap = errors.New("ledger: period overlaps existing range")
	// ErrFutureDate indicates an entry dated in the future for a non-adjusting type.
	ErrFutureDate = errors.New("ledger: entry date in the future")
)

// State-conflict errors: the caller must change state and retry explicitly.
var (
	// ErrPeriodClosed indicates the covering period is not open for posting.
	ErrPeriodClosed = errors.New("ledger: period is closed")
	// ErrPeriodAlreadyClosed indicates a close on an already closed period.
	ErrPeriodAlreadyClosed = errors.New("ledger: period already closed")
	// ErrPeriodNotClosed indicates a reopen on an open period.
	ErrPeriodNotClosed = errors.New("ledger: period is not closed")
	// ErrPeriodPermanentlyClosed indicates the terminal period state.
	ErrPeriodPermanentlyClosed = errors.New("ledger: period permanently closed")
	// ErrPeriodInUse indicates draft entries block the close.
	ErrPeriodInUse = errors.New("ledger: period has unposted journal entries")
	// ErrAlreadyPosted indicates a repeated post.
	ErrAlreadyPosted = errors.New("ledger: journal entry already posted")
	// ErrNotPosted indicates a reversal of an entry that never posted.
	ErrNotPosted = errors.New("ledger: journal entry not posted")
	// ErrAlreadyReversed indicates a second reversal attempt.
	ErrAlreadyReversed = errors.New("ledger: journal entry already reversed")
	// ErrInvalidStatus indicates the action cannot proceed from the current status.
	ErrInvalidStatus = errors.New("ledger: invalid status transition")
	// ErrSourceAlreadyLinked indicates an entry already exists for the
	// source document, the idempotency key for generated entries.
	ErrSourceAlreadyLinked = errors.New("ledger: source already linked to an entry")
)

// Not-found errors: distinct from validation failures.
var (
	// ErrAccountNotFound indicates an unknown account id or code.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrPeriodNotFound indicates no period covers the date or id.
	ErrPeriodNotFound = errors.New("ledger: period not found")
	// ErrJournalNotFound indicates a missing entry.
	ErrJournalNotFound = errors.New("ledger: journal entry not found")
	// ErrBalanceNotFound indicates no balance row for the requested key.
	ErrBalanceNotFound = errors.New("ledger: account balance not found")
)
