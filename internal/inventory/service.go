package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/gestix-erp/gestix/internal/shared"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ReservationsForQuote(ctx context.Context, quoteID int64) ([]Reservation, error)
	PlannedMovementsForQuote(ctx context.Context, quoteID int64) ([]Movement, error)
	Snapshot(ctx context.Context, q AvailabilityQuery) (onHand, reserved float64, err error)
}

// IdempotencyPort guards one-shot side effects across restarts.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service implements stock reservations, planned-movement synchronisation
// and availability checks.
type Service struct {
	repo     RepositoryPort
	idem     IdempotencyPort
	logger   *slog.Logger
	reserved prometheus.Counter

	group singleflight.Group
}

// NewService constructs Service.
func NewService(repo RepositoryPort, idem IdempotencyPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, idem: idem, logger: logger}
}

// SetReservationCounter wires the counter incremented per reservation
// batch. May stay unset.
func (s *Service) SetReservationCounter(c prometheus.Counter) {
	s.reserved = c
}

func reserveKey(quoteID int64) string {
	return fmt.Sprintf("reserve:%d", quoteID)
}

// ReserveForQuote creates one reservation per stock-referenced line of the
// quote. The whole operation is guarded by a persisted key, so a retried
// acceptance never doubles the holds. On failure the key is removed to
// keep the operation retryable.
func (s *Service) ReserveForQuote(ctx context.Context, quote QuoteRef, lines []Line) error {
	if quote.ID == 0 {
		return errors.New("inventory: quote id required")
	}
	for _, l := range lines {
		if l.ItemID == 0 {
			return ErrItemRequired
		}
		if l.Qty <= 0 {
			return ErrInvalidQuantity
		}
	}

	key := reserveKey(quote.ID)
	if err := s.idem.CheckAndInsert(ctx, key, "inventory"); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			s.logger.Info("réservation déjà effectuée", "quote_id", quote.ID)
			return nil
		}
		return fmt.Errorf("inventory: idempotency check: %w", err)
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, l := range lines {
			res := Reservation{ItemID: l.ItemID, Qty: l.Qty, QuoteID: quote.ID, QuoteNumber: quote.Number}
			if _, err := tx.InsertReservation(ctx, res); err != nil {
				return fmt.Errorf("insert reservation item %d: %w", l.ItemID, err)
			}
		}
		return nil
	})
	if err != nil {
		if delErr := s.idem.Delete(ctx, key); delErr != nil {
			s.logger.Error("suppression de la clé de réservation impossible", "quote_id", quote.ID, "error", delErr)
		}
		return fmt.Errorf("inventory: reserve quote %d: %w", quote.ID, err)
	}

	if s.reserved != nil {
		s.reserved.Inc()
	}
	s.logger.Info("stock réservé", "quote_id", quote.ID, "lines", len(lines))
	return nil
}

// ReleaseForQuote drops every reservation held by the quote and reopens
// the reserve key so a later re-acceptance can reserve again.
func (s *Service) ReleaseForQuote(ctx context.Context, quoteID int64) (int64, error) {
	var released int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n, err := tx.DeleteReservations(ctx, quoteID)
		if err != nil {
			return err
		}
		released = n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("inventory: release quote %d: %w", quoteID, err)
	}
	if err := s.idem.Delete(ctx, reserveKey(quoteID)); err != nil {
		s.logger.Error("suppression de la clé de réservation impossible", "quote_id", quoteID, "error", err)
	}
	if released > 0 {
		s.logger.Info("stock libéré", "quote_id", quoteID, "count", released)
	}
	return released, nil
}

// SyncQuotePlanning replaces the planned movements of a quote. The cancel
// and the inserts run in one transaction: a reader never observes the old
// and the new plan at the same time.
func (s *Service) SyncQuotePlanning(ctx context.Context, quote QuoteRef, lines []Line, scheduledAt time.Time) error {
	for _, l := range lines {
		if l.ItemID == 0 {
			return ErrItemRequired
		}
		if l.Qty <= 0 {
			return ErrInvalidQuantity
		}
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.CancelPlannedMovements(ctx, quote.ID); err != nil {
			return err
		}
		for _, l := range lines {
			mv := Movement{ItemID: l.ItemID, Qty: -l.Qty, QuoteID: &quote.ID, ScheduledAt: scheduledAt}
			if _, err := tx.InsertPlannedMovement(ctx, mv); err != nil {
				return fmt.Errorf("insert planned movement item %d: %w", l.ItemID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("inventory: sync planning quote %d: %w", quote.ID, err)
	}
	s.logger.Info("planification de stock synchronisée", "quote_id", quote.ID, "lines", len(lines))
	return nil
}

// CancelQuotePlannedMovements marks every still-planned movement of the
// quote as canceled.
func (s *Service) CancelQuotePlannedMovements(ctx context.Context, quoteID int64) (int64, error) {
	var canceled int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n, err := tx.CancelPlannedMovements(ctx, quoteID)
		if err != nil {
			return err
		}
		canceled = n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("inventory: cancel planning quote %d: %w", quoteID, err)
	}
	return canceled, nil
}

// CheckAvailability reports whether the requested quantity is free over
// the queried window. Concurrent checks for the same item and window
// collapse into one snapshot read.
func (s *Service) CheckAvailability(ctx context.Context, q AvailabilityQuery) (*Availability, error) {
	if q.ItemID == 0 {
		return nil, ErrItemRequired
	}
	flightKey := fmt.Sprintf("avail:%d:%d:%d", q.ItemID, q.From.Unix(), q.To.Unix())
	if q.ExcludeQuoteID != nil {
		flightKey += fmt.Sprintf(":x%d", *q.ExcludeQuoteID)
	}

	v, err, _ := s.group.Do(flightKey, func() (interface{}, error) {
		onHand, reserved, err := s.repo.Snapshot(ctx, q)
		if err != nil {
			return nil, err
		}
		return [2]float64{onHand, reserved}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("inventory: availability item %d: %w", q.ItemID, err)
	}
	snap := v.([2]float64)

	available := shared.RoundCents(snap[0] - snap[1])
	return &Availability{
		ItemID:      q.ItemID,
		OnHand:      snap[0],
		Reserved:    snap[1],
		Available:   available,
		IsAvailable: available >= q.QtyNeeded,
	}, nil
}

// ReservationsForQuote exposes the active holds of one quote.
func (s *Service) ReservationsForQuote(ctx context.Context, quoteID int64) ([]Reservation, error) {
	return s.repo.ReservationsForQuote(ctx, quoteID)
}

// PlannedMovementsForQuote exposes the still-planned movements of one quote.
func (s *Service) PlannedMovementsForQuote(ctx context.Context, quoteID int64) ([]Movement, error) {
	return s.repo.PlannedMovementsForQuote(ctx, quoteID)
}
