package timesheets

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gestix-erp/gestix/internal/interventions"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ForDay(ctx context.Context, employeeID int64, from, to time.Time) ([]Punch, error)
	LastPause(ctx context.Context, employeeID int64, before time.Time) (*Punch, error)
}

// HistoryPort mirrors punches into the intervention history.
type HistoryPort interface {
	RecordPunch(ctx context.Context, interventionID int64, kind interventions.PunchKind, durationMinutes *int, actor string)
}

// Service records punches and derives day summaries. Each punch that
// references an intervention is also written to that intervention's
// history from the same code path, so the two views cannot drift.
type Service struct {
	repo    RepositoryPort
	history HistoryPort
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs Service.
func NewService(repo RepositoryPort, history HistoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, history: history, logger: logger, now: time.Now}
}

// PunchInput describes one clock event.
type PunchInput struct {
	EmployeeID     int64
	InterventionID *int64
	Kind           interventions.PunchKind
	At             *time.Time
}

// RecordPunch stores the punch. Ending a pause also computes the pause
// duration for the history line.
func (s *Service) RecordPunch(ctx context.Context, input PunchInput, actor string) (*Punch, error) {
	if input.EmployeeID == 0 {
		return nil, ErrEmployeeRequired
	}
	if !interventions.KnownPunch(input.Kind) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, input.Kind)
	}

	at := s.now()
	if input.At != nil {
		at = *input.At
	}
	p := Punch{
		EmployeeID:     input.EmployeeID,
		InterventionID: input.InterventionID,
		Kind:           input.Kind,
		At:             at,
	}

	var duration *int
	if input.Kind == interventions.PunchEndPause {
		if start, err := s.repo.LastPause(ctx, input.EmployeeID, at); err == nil && start != nil {
			minutes := int(at.Sub(start.At).Minutes())
			if minutes >= 0 {
				duration = &minutes
			}
		}
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.Insert(ctx, p)
		if err != nil {
			return err
		}
		p.ID = id
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("timesheets: record punch: %w", err)
	}

	if s.history != nil && p.InterventionID != nil {
		s.history.RecordPunch(ctx, *p.InterventionID, p.Kind, duration, actor)
	}
	s.logger.Info("pointage enregistré", "employee_id", p.EmployeeID, "kind", p.Kind)
	return &p, nil
}

// Day returns the summary of one employee day. The day string uses the
// 2006-01-02 layout in the given location.
func (s *Service) Day(ctx context.Context, employeeID int64, day string, loc *time.Location) (*DaySummary, error) {
	if loc == nil {
		loc = time.Local
	}
	from, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return nil, fmt.Errorf("timesheets: invalid day %q: %w", day, err)
	}
	to := from.AddDate(0, 0, 1)

	punches, err := s.repo.ForDay(ctx, employeeID, from, to)
	if err != nil {
		return nil, fmt.Errorf("timesheets: load day: %w", err)
	}
	summary := Summarize(employeeID, day, punches)
	return &summary, nil
}
