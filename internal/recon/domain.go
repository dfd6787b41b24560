package recon

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status captures the reconciliation lifecycle. DRAFT -> COMPLETED, one way.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusCompleted Status = "COMPLETED"
)

// Reconciliation matches external statement records against GL activity
// for one account and statement date.
type Reconciliation struct {
	ID               int64
	AccountID        int64
	StatementDate    time.Time
	StatementBalance decimal.Decimal
	Status           Status
	CompletedBy      *int64
	CompletedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Items            []Item
}

// Item is one external statement record. Matched state changes only
// through explicit matching operations.
type Item struct {
	ID                 int64
	ReconciliationID   int64
	TransactionDate    time.Time
	Amount             decimal.Decimal
	Description        string
	Matched            bool
	MatchedEntryLineID *int64
	MatchedAt          *time.Time
	CreatedAt          time.Time
}

// AddItemInput describes an external record to track.
type AddItemInput struct {
	ReconciliationID int64
	TransactionDate  time.Time
	Amount           decimal.Decimal
	Description      string
}

// Result summarises a reconciliation's progress and the difference
// against the GL balance.
type Result struct {
	Reconciliation Reconciliation
	MatchedCount   int
	UnmatchedCount int
	GLBalance      decimal.Decimal
	Difference     decimal.Decimal
}

// CandidateLine is an unmatched posted GL line offered to AutoMatch.
type CandidateLine struct {
	LineID    int64
	EntryDate time.Time
	Amount    decimal.Decimal
}

var (
	// ErrNotFound indicates a missing reconciliation or item.
	ErrNotFound = errors.New("recon: not found")
	// ErrNotDraft indicates a mutation on a completed reconciliation.
	ErrNotDraft = errors.New("recon: reconciliation is not in draft")
	// ErrUnmatchedItems blocks completion while unmatched items remain.
	ErrUnmatchedItems = errors.New("recon: unmatched items remain")
	// ErrAlreadyMatched indicates a second match on the same item.
	ErrAlreadyMatched = errors.New("recon: item already matched")
	// ErrNotMatched indicates an unmatch on an unmatched item.
	ErrNotMatched = errors.New("recon: item is not matched")
)
