package journals

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryType enumerates journal entry origins.
type EntryType string

const (
	EntryTypeManual    EntryType = "MANUAL"
	EntryTypeAutomatic EntryType = "AUTOMATIC"
	EntryTypeRecurring EntryType = "RECURRING"
	EntryTypeReversing EntryType = "REVERSING"
	EntryTypeAdjusting EntryType = "ADJUSTING"
	EntryTypeClosing   EntryType = "CLOSING"
)

// numberPrefix returns the short code used in generated entry numbers.
func (t EntryType) numberPrefix() string {
	switch t {
	case EntryTypeManual:
		return "MN"
	case EntryTypeAutomatic:
		return "AU"
	case EntryTypeRecurring:
		return "RC"
	case EntryTypeReversing:
		return "RV"
	case EntryTypeAdjusting:
		return "AJ"
	case EntryTypeClosing:
		return "CL"
	default:
		return "JE"
	}
}

// ValidEntryType reports whether t is a known entry type.
func ValidEntryType(t EntryType) bool {
	switch t {
	case EntryTypeManual, EntryTypeAutomatic, EntryTypeRecurring,
		EntryTypeReversing, EntryTypeAdjusting, EntryTypeClosing:
		return true
	default:
		return false
	}
}

// EntryStatus enumerates the journal lifecycle.
// DRAFT -> POSTED -> REVERSED; VOIDED is terminal for drafts only.
type EntryStatus string

const (
	EntryStatusDraft    EntryStatus = "DRAFT"
	EntryStatusPosted   EntryStatus = "POSTED"
	EntryStatusReversed EntryStatus = "REVERSED"
	EntryStatusVoided   EntryStatus = "VOIDED"
)

// JournalEntry captures an entry header with its posting metadata.
type JournalEntry struct {
	ID               int64
	Number           string
	Type             EntryType
	Status           EntryStatus
	EntryDate        time.Time
	PeriodID         int64
	Description      string
	Currency         string
	TotalDebit       decimal.Decimal
	TotalCredit      decimal.Decimal
	SourceModule     string
	SourceID         uuid.UUID
	ReversedEntryID  *int64
	ReversingEntryID *int64
	ReversedAt       *time.Time
	PostedAt         *time.Time
	PostedBy         *int64
	CreatedBy        int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Lines            []JournalEntryLine
}

// JournalEntryLine stores a debit or credit amount for one account,
// never both, with optional dimension tags.
type JournalEntryLine struct {
	ID           int64
	EntryID      int64
	LineNo       int
	AccountID    int64
	Debit        decimal.Decimal
	Credit       decimal.Decimal
	DepartmentID *int64
	CostCenterID *int64
	ProjectID    *int64
	Memo         string
}

// LineInput describes a requested journal line.
type LineInput struct {
	AccountID    int64           `validate:"required"`
	Debit        decimal.Decimal `validate:"-"`
	Credit       decimal.Decimal `validate:"-"`
	DepartmentID *int64
	CostCenterID *int64
	ProjectID    *int64
	Memo         string
}

// CreateInput groups the fields required to create a draft entry.
type CreateInput struct {
	EntryDate    time.Time   `validate:"required"`
	Type         EntryType   `validate:"required"`
	Currency     string      `validate:"required,len=3"`
	Description  string      `validate:"max=1024"`
	SourceModule string      `validate:"required"`
	SourceID     uuid.UUID   `validate:"required"`
	CreatedBy    int64       `validate:"required"`
	Lines        []LineInput `validate:"required,min=2,dive"`
}

// ReverseInput wraps parameters for a reversal.
type ReverseInput struct {
	EntryID      int64
	ActorID      int64
	ReversalDate *time.Time
	Memo         string
}
