package periods

import "time"

// Status enumerates valid period lifecycle states.
// OPEN -> CLOSED -> PERMANENTLY_CLOSED; CLOSED may reopen, the last is terminal.
type Status string

const (
	StatusOpen              Status = "OPEN"
	StatusClosed            Status = "CLOSED"
	StatusPermanentlyClosed Status = "PERMANENTLY_CLOSED"
)

// Period represents a fiscal period window.
type Period struct {
	ID           int64
	Name         string
	FiscalYear   int
	PeriodNumber int
	StartDate    time.Time
	EndDate      time.Time
	Status       Status
	ParentID     *int64
	ClosedAt     *time.Time
	ClosedBy     *int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Contains reports whether date falls inside the period window (inclusive).
func (p Period) Contains(date time.Time) bool {
	d := date.Truncate(24 * time.Hour)
	return !d.Before(p.StartDate) && !d.After(p.EndDate)
}
