package periods

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ledgerline/ledgerline/internal/ledger/shared"
)

// CreatePeriodInput carries the fields for a new fiscal period.
type CreatePeriodInput struct {
	Name         string
	FiscalYear   int
	PeriodNumber int
	StartDate    time.Time
	EndDate      time.Time
	ParentID     *int64
}

// CloseInput controls a period close.
type CloseInput struct {
	PeriodID int64
	ActorID  int64
	// Force closes even when draft entries remain inside the window.
	Force bool
	// Permanent upgrades the close to the terminal state.
	Permanent bool
}

// Service owns the period lifecycle. Periods are mutated only through
// Close and Reopen.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService constructs the period registry service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create inserts a new period after validating its range and overlap with
// every period not permanently closed.
func (s *Service) Create(ctx context.Context, in CreatePeriodInput) (Period, error) {
	if in.Name == "" {
		return Period{}, fmt.Errorf("periods: name required: %w", shared.ErrInvalidPeriod)
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() || !in.StartDate.Before(in.EndDate) {
		return Period{}, shared.ErrInvalidPeriod
	}
	if in.FiscalYear <= 0 || in.PeriodNumber <= 0 {
		return Period{}, fmt.Errorf("periods: fiscal year and number required: %w", shared.ErrInvalidPeriod)
	}
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		conflict, err := tx.RangeConflict(ctx, in.StartDate, in.EndDate)
		if err != nil {
			return err
		}
		if conflict {
			return shared.ErrPeriodOverlap
		}
		period, err = tx.Insert(ctx, Period{
			Name:         in.Name,
			FiscalYear:   in.FiscalYear,
			PeriodNumber: in.PeriodNumber,
			StartDate:    in.StartDate,
			EndDate:      in.EndDate,
			Status:       StatusOpen,
			ParentID:     in.ParentID,
		})
		return err
	})
	if err != nil {
		return Period{}, err
	}
	return period, nil
}

// Get returns a period by id.
func (s *Service) Get(ctx context.Context, id int64) (Period, error) {
	return s.repo.Get(ctx, id)
}

// List returns periods, optionally filtered by fiscal year.
func (s *Service) List(ctx context.Context, fiscalYear int) ([]Period, error) {
	return s.repo.List(ctx, fiscalYear)
}

// FindByDate returns the period containing the supplied date.
func (s *Service) FindByDate(ctx context.Context, date time.Time) (Period, error) {
	return s.repo.FindByDate(ctx, date)
}

// IsOpen reports whether the period covering date is OPEN. A date with no
// covering period is not open.
func (s *Service) IsOpen(ctx context.Context, date time.Time) (bool, error) {
	period, err := s.repo.FindByDate(ctx, date)
	if err != nil {
		if errors.Is(err, shared.ErrPeriodNotFound) {
			return false, nil
		}
		return false, err
	}
	return period.Status == StatusOpen, nil
}

// Close transitions a period to CLOSED, or to PERMANENTLY_CLOSED when
// Permanent is set. Draft entries inside the window block the close unless
// Force is set; forced drafts stay DRAFT and become unpostable.
func (s *Service) Close(ctx context.Context, in CloseInput) (Period, error) {
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, in.PeriodID)
		if err != nil {
			return err
		}
		switch current.Status {
		case StatusPermanentlyClosed:
			return shared.ErrPeriodAlreadyClosed
		case StatusClosed:
			if !in.Permanent {
				return shared.ErrPeriodAlreadyClosed
			}
		case StatusOpen:
			drafts, err := tx.CountEntriesInRange(ctx, current.StartDate, current.EndDate, "DRAFT")
			if err != nil {
				return err
			}
			if drafts > 0 && !in.Force {
				return shared.ErrPeriodInUse
			}
		}
		target := StatusClosed
		if in.Permanent {
			target = StatusPermanentlyClosed
		}
		closedAt := s.now()
		if err := tx.UpdateStatus(ctx, current.ID, target, &closedAt, &in.ActorID); err != nil {
			return err
		}
		period = current
		period.Status = target
		period.ClosedAt = &closedAt
		period.ClosedBy = &in.ActorID
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	return period, nil
}

// Reopen moves a CLOSED period back to OPEN. PERMANENTLY_CLOSED is terminal.
func (s *Service) Reopen(ctx context.Context, periodID, actorID int64) (Period, error) {
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		switch current.Status {
		case StatusOpen:
			return shared.ErrPeriodNotClosed
		case StatusPermanentlyClosed:
			return shared.ErrPeriodPermanentlyClosed
		}
		if err := tx.UpdateStatus(ctx, current.ID, StatusOpen, nil, nil); err != nil {
			return err
		}
		period = current
		period.Status = StatusOpen
		period.ClosedAt = nil
		period.ClosedBy = nil
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	return period, nil
}
