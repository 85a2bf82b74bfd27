package agenda

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (*Event, error)
	Range(ctx context.Context, from, to time.Time) ([]Event, error)
}

// Service manages agenda events and the periodic status sweep.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// CreateInput describes a new agenda event.
type CreateInput struct {
	Title          string
	InterventionID *int64
	EmployeeID     *int64
	StartsAt       time.Time
	EndsAt         time.Time
}

// Create stores a new event with its clock-derived initial status.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Event, error) {
	if input.Title == "" {
		return nil, ErrTitleRequired
	}
	if input.EndsAt.Before(input.StartsAt) {
		return nil, ErrInvalidRange
	}

	e := Event{
		Title:          input.Title,
		InterventionID: input.InterventionID,
		EmployeeID:     input.EmployeeID,
		StartsAt:       input.StartsAt,
		EndsAt:         input.EndsAt,
	}
	e.Status = StatusFor(e, s.now())

	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		id, err = tx.Create(ctx, e)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("agenda: create: %w", err)
	}
	return s.repo.Get(ctx, id)
}

// Cancel marks one event as cancelled. Cancelled events are ignored by
// the sweep.
func (s *Service) Cancel(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusCancelled)
	})
	if err != nil {
		return fmt.Errorf("agenda: cancel %d: %w", id, err)
	}
	return nil
}

// Sweep advances clock-driven statuses: events of the day move to
// "aujourd'hui", elapsed events to "terminé". Both updates run in one
// transaction; the returned count is the number of closed events.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	now := s.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	var closed int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.MarkToday(ctx, dayStart, dayEnd); err != nil {
			return err
		}
		n, err := tx.CloseElapsed(ctx, now)
		if err != nil {
			return err
		}
		closed = n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("agenda: sweep: %w", err)
	}
	if closed > 0 {
		s.logger.Info("événements d'agenda clôturés", "count", closed)
	}
	return closed, nil
}

// Range lists events overlapping the window.
func (s *Service) Range(ctx context.Context, from, to time.Time) ([]Event, error) {
	return s.repo.Range(ctx, from, to)
}

// Get loads one event.
func (s *Service) Get(ctx context.Context, id int64) (*Event, error) {
	return s.repo.Get(ctx, id)
}
