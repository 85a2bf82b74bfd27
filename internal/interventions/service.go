package interventions

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (*Intervention, error)
	List(ctx context.Context, req ListRequest) ([]Intervention, int, error)
	HasConsumables(ctx context.Context, interventionID int64) (bool, error)
	Consumables(ctx context.Context, interventionID int64) ([]ConsumableRecord, error)
	Services(ctx context.Context, interventionID int64) ([]ServiceRecord, error)
}

// EventLogPort abstracts the append-only history.
type EventLogPort interface {
	RecordCreated(ctx context.Context, interventionID int64, title, actor string)
	RecordStatusChange(ctx context.Context, interventionID int64, from, to Status, actor string)
	RecordInvoiceLinked(ctx context.Context, interventionID int64, invoiceNumber string, totalTTC float64, actor string)
}

// Service coordinates intervention lifecycle operations.
type Service struct {
	repo RepositoryPort
	log  EventLogPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, log EventLogPort) *Service {
	return &Service{repo: repo, log: log}
}

// CreateInput describes a new intervention.
type CreateInput struct {
	ClientID    int64
	QuoteID     *int64
	Title       string
	Description *string
	ScheduledAt *time.Time
}

// Create opens a new intervention in the initial status.
func (s *Service) Create(ctx context.Context, input CreateInput, actor string) (*Intervention, error) {
	if input.ClientID == 0 {
		return nil, errors.New("interventions: client required")
	}
	if input.Title == "" {
		return nil, errors.New("interventions: title required")
	}

	iv := Intervention{
		ClientID:    input.ClientID,
		QuoteID:     input.QuoteID,
		Title:       input.Title,
		Description: input.Description,
		Status:      StatusToPlan,
		ScheduledAt: input.ScheduledAt,
	}

	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		id, err = tx.Create(ctx, iv)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create intervention: %w", err)
	}

	if s.log != nil {
		s.log.RecordCreated(ctx, id, input.Title, actor)
	}
	return s.repo.Get(ctx, id)
}

// ChangeStatus applies a transition after validating it against the
// registry. Terminée interventions are read-only by construction: the
// table lists no outgoing transition for them.
func (s *Service) ChangeStatus(ctx context.Context, id int64, target Status, actor string) (*Intervention, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get intervention: %w", err)
	}
	if err := ValidateTransition(existing.Status, target); err != nil {
		return nil, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, target)
	})
	if err != nil {
		return nil, fmt.Errorf("update intervention status: %w", err)
	}

	if s.log != nil {
		s.log.RecordStatusChange(ctx, id, existing.Status, target, actor)
	}
	return s.repo.Get(ctx, id)
}

// AttachQuoteLines inserts propagated consumable and service records. When
// the intervention already has consumable rows the whole call is skipped;
// the returned bool reports whether anything was written.
func (s *Service) AttachQuoteLines(ctx context.Context, interventionID int64, consumables []ConsumableRecord, services []ServiceRecord) (bool, error) {
	already, err := s.repo.HasConsumables(ctx, interventionID)
	if err != nil {
		return false, fmt.Errorf("check consumables: %w", err)
	}
	if already {
		return false, nil
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertConsumables(ctx, interventionID, consumables); err != nil {
			return err
		}
		return tx.InsertServices(ctx, interventionID, services)
	})
	if err != nil {
		return false, fmt.Errorf("attach quote lines: %w", err)
	}
	return true, nil
}

// LinkInvoice permanently ties a generated invoice to the intervention.
func (s *Service) LinkInvoice(ctx context.Context, interventionID, invoiceID int64, invoiceNumber string, totalTTC float64, actor string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.LinkInvoice(ctx, interventionID, invoiceID)
	})
	if err != nil {
		return err
	}
	if s.log != nil {
		s.log.RecordInvoiceLinked(ctx, interventionID, invoiceNumber, totalTTC, actor)
	}
	return nil
}

// Get loads one intervention.
func (s *Service) Get(ctx context.Context, id int64) (*Intervention, error) {
	return s.repo.Get(ctx, id)
}

// List returns interventions matching the filter.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Intervention, int, error) {
	return s.repo.List(ctx, req)
}

// Consumables lists the consumable records of one intervention.
func (s *Service) Consumables(ctx context.Context, id int64) ([]ConsumableRecord, error) {
	return s.repo.Consumables(ctx, id)
}

// Services lists the service records of one intervention.
func (s *Service) Services(ctx context.Context, id int64) ([]ServiceRecord, error) {
	return s.repo.Services(ctx, id)
}

// HasConsumables reports whether propagation already happened.
func (s *Service) HasConsumables(ctx context.Context, id int64) (bool, error) {
	return s.repo.HasConsumables(ctx, id)
}
