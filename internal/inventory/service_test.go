package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestix-erp/gestix/internal/shared"
)

// ============================================================================
// MOCKS
// ============================================================================

type mockRepository struct {
	reservations []Reservation
	movements    []Movement
	nextID       int64

	onHand   map[int64]float64
	txError  error
	snapshot func(q AvailabilityQuery) (float64, float64, error)
}

func newMockRepository() *mockRepository {
	return &mockRepository{nextID: 1, onHand: map[int64]float64{}}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if m.txError != nil {
		return m.txError
	}
	return fn(ctx, &mockTxRepo{mock: m})
}

func (m *mockRepository) ReservationsForQuote(ctx context.Context, quoteID int64) ([]Reservation, error) {
	out := []Reservation{}
	for _, r := range m.reservations {
		if r.QuoteID == quoteID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRepository) PlannedMovementsForQuote(ctx context.Context, quoteID int64) ([]Movement, error) {
	out := []Movement{}
	for _, mv := range m.movements {
		if mv.QuoteID != nil && *mv.QuoteID == quoteID && mv.Status == MovementPlanned {
			out = append(out, mv)
		}
	}
	return out, nil
}

func (m *mockRepository) Snapshot(ctx context.Context, q AvailabilityQuery) (float64, float64, error) {
	if m.snapshot != nil {
		return m.snapshot(q)
	}
	onHand, ok := m.onHand[q.ItemID]
	if !ok {
		return 0, 0, shared.ErrNotFound
	}
	var reserved float64
	held := map[int64]bool{}
	for _, r := range m.reservations {
		if r.ItemID != q.ItemID {
			continue
		}
		held[r.QuoteID] = true
		if q.ExcludeQuoteID != nil && r.QuoteID == *q.ExcludeQuoteID {
			continue
		}
		reserved += r.Qty
	}
	if !q.From.IsZero() || !q.To.IsZero() {
		for _, mv := range m.movements {
			if mv.ItemID != q.ItemID || mv.Status != MovementPlanned || mv.Qty >= 0 {
				continue
			}
			if !q.From.IsZero() && mv.ScheduledAt.Before(q.From) {
				continue
			}
			if !q.To.IsZero() && !mv.ScheduledAt.Before(q.To) {
				continue
			}
			if mv.QuoteID != nil {
				if held[*mv.QuoteID] {
					continue
				}
				if q.ExcludeQuoteID != nil && *mv.QuoteID == *q.ExcludeQuoteID {
					continue
				}
			}
			reserved += -mv.Qty
		}
	}
	return onHand, reserved, nil
}

type mockTxRepo struct {
	mock *mockRepository
}

func (tx *mockTxRepo) InsertReservation(ctx context.Context, res Reservation) (int64, error) {
	res.ID = tx.mock.nextID
	tx.mock.nextID++
	res.CreatedAt = time.Now()
	tx.mock.reservations = append(tx.mock.reservations, res)
	return res.ID, nil
}

func (tx *mockTxRepo) DeleteReservations(ctx context.Context, quoteID int64) (int64, error) {
	kept := tx.mock.reservations[:0]
	var removed int64
	for _, r := range tx.mock.reservations {
		if r.QuoteID == quoteID {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	tx.mock.reservations = kept
	return removed, nil
}

func (tx *mockTxRepo) CancelPlannedMovements(ctx context.Context, quoteID int64) (int64, error) {
	var n int64
	for i := range tx.mock.movements {
		mv := &tx.mock.movements[i]
		if mv.QuoteID != nil && *mv.QuoteID == quoteID && mv.Status == MovementPlanned {
			mv.Status = MovementCanceled
			n++
		}
	}
	return n, nil
}

func (tx *mockTxRepo) InsertPlannedMovement(ctx context.Context, mv Movement) (int64, error) {
	mv.ID = tx.mock.nextID
	tx.mock.nextID++
	mv.Status = MovementPlanned
	mv.CreatedAt = time.Now()
	tx.mock.movements = append(tx.mock.movements, mv)
	return mv.ID, nil
}

// mockIdem persists keys in memory with the same conflict semantics as the
// database-backed store.
type mockIdem struct {
	keys map[string]bool
}

func newMockIdem() *mockIdem {
	return &mockIdem{keys: map[string]bool{}}
}

func (m *mockIdem) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *mockIdem) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

// ============================================================================
// TESTS
// ============================================================================

func newTestService() (*Service, *mockRepository, *mockIdem) {
	repo := newMockRepository()
	idem := newMockIdem()
	return NewService(repo, idem, nil), repo, idem
}

func TestReserveForQuoteOnce(t *testing.T) {
	svc, repo, idem := newTestService()
	quote := QuoteRef{ID: 12, Number: "DEV-2025-0012"}
	lines := []Line{{ItemID: 1, Qty: 4}, {ItemID: 2, Qty: 1}}

	require.NoError(t, svc.ReserveForQuote(context.Background(), quote, lines))
	assert.Len(t, repo.reservations, 2)
	assert.True(t, idem.keys["reserve:12"])

	// A retried acceptance must not double the holds.
	require.NoError(t, svc.ReserveForQuote(context.Background(), quote, lines))
	assert.Len(t, repo.reservations, 2)
}

func TestReserveForQuoteFailureIsRetryable(t *testing.T) {
	svc, repo, idem := newTestService()
	repo.txError = errors.New("connection reset")

	quote := QuoteRef{ID: 5, Number: "DEV-2025-0005"}
	err := svc.ReserveForQuote(context.Background(), quote, []Line{{ItemID: 1, Qty: 2}})
	require.Error(t, err)
	// Key removed so the next attempt can go through.
	assert.False(t, idem.keys["reserve:5"])

	repo.txError = nil
	require.NoError(t, svc.ReserveForQuote(context.Background(), quote, []Line{{ItemID: 1, Qty: 2}}))
	assert.Len(t, repo.reservations, 1)
}

func TestReserveForQuoteValidatesLines(t *testing.T) {
	svc, _, _ := newTestService()
	quote := QuoteRef{ID: 3}

	err := svc.ReserveForQuote(context.Background(), quote, []Line{{ItemID: 0, Qty: 1}})
	assert.True(t, errors.Is(err, ErrItemRequired))

	err = svc.ReserveForQuote(context.Background(), quote, []Line{{ItemID: 1, Qty: 0}})
	assert.True(t, errors.Is(err, ErrInvalidQuantity))
}

func TestReleaseForQuoteReopensKey(t *testing.T) {
	svc, repo, idem := newTestService()
	quote := QuoteRef{ID: 8, Number: "DEV-2025-0008"}
	require.NoError(t, svc.ReserveForQuote(context.Background(), quote, []Line{{ItemID: 1, Qty: 3}}))

	released, err := svc.ReleaseForQuote(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)
	assert.Empty(t, repo.reservations)
	assert.False(t, idem.keys["reserve:8"])

	// Re-acceptance reserves again.
	require.NoError(t, svc.ReserveForQuote(context.Background(), quote, []Line{{ItemID: 1, Qty: 3}}))
	assert.Len(t, repo.reservations, 1)
}

func TestSyncQuotePlanningReplacesPlan(t *testing.T) {
	svc, repo, _ := newTestService()
	quote := QuoteRef{ID: 20, Number: "DEV-2025-0020"}
	when := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, svc.SyncQuotePlanning(context.Background(), quote, []Line{{ItemID: 1, Qty: 2}, {ItemID: 2, Qty: 5}}, when))
	planned, err := svc.PlannedMovementsForQuote(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, planned, 2)

	// Second sync: the first plan is canceled, only the new one stays planned.
	require.NoError(t, svc.SyncQuotePlanning(context.Background(), quote, []Line{{ItemID: 1, Qty: 7}}, when))
	planned, err = svc.PlannedMovementsForQuote(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, planned, 1)
	assert.Equal(t, int64(1), planned[0].ItemID)
	assert.Equal(t, -7.0, planned[0].Qty)

	var canceled int
	for _, mv := range repo.movements {
		if mv.Status == MovementCanceled {
			canceled++
		}
	}
	assert.Equal(t, 2, canceled)
}

func TestCancelQuotePlannedMovements(t *testing.T) {
	svc, _, _ := newTestService()
	quote := QuoteRef{ID: 30}
	require.NoError(t, svc.SyncQuotePlanning(context.Background(), quote, []Line{{ItemID: 4, Qty: 1}}, time.Now()))

	n, err := svc.CancelQuotePlannedMovements(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	planned, err := svc.PlannedMovementsForQuote(context.Background(), 30)
	require.NoError(t, err)
	assert.Empty(t, planned)
}

func TestCheckAvailability(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.onHand[7] = 10
	require.NoError(t, svc.ReserveForQuote(context.Background(), QuoteRef{ID: 1, Number: "DEV-2025-0001"}, []Line{{ItemID: 7, Qty: 4}}))

	avail, err := svc.CheckAvailability(context.Background(), AvailabilityQuery{ItemID: 7, QtyNeeded: 6})
	require.NoError(t, err)
	assert.Equal(t, 10.0, avail.OnHand)
	assert.Equal(t, 4.0, avail.Reserved)
	assert.Equal(t, 6.0, avail.Available)
	assert.True(t, avail.IsAvailable)

	avail, err = svc.CheckAvailability(context.Background(), AvailabilityQuery{ItemID: 7, QtyNeeded: 7})
	require.NoError(t, err)
	assert.False(t, avail.IsAvailable)

	// The holding quote checks itself without counting its own reservation.
	one := int64(1)
	avail, err = svc.CheckAvailability(context.Background(), AvailabilityQuery{ItemID: 7, QtyNeeded: 10, ExcludeQuoteID: &one})
	require.NoError(t, err)
	assert.True(t, avail.IsAvailable)
}

func TestCheckAvailabilityWindow(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.onHand[7] = 10
	when := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, svc.SyncQuotePlanning(context.Background(), QuoteRef{ID: 40, Number: "DEV-2025-0040"}, []Line{{ItemID: 7, Qty: 6}}, when))

	june := AvailabilityQuery{
		ItemID: 7, QtyNeeded: 5,
		From: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	avail, err := svc.CheckAvailability(context.Background(), june)
	require.NoError(t, err)
	assert.Equal(t, 6.0, avail.Reserved)
	assert.Equal(t, 4.0, avail.Available)
	assert.False(t, avail.IsAvailable)

	july := june
	july.From = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	july.To = time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	avail, err = svc.CheckAvailability(context.Background(), july)
	require.NoError(t, err)
	assert.Equal(t, 0.0, avail.Reserved)
	assert.True(t, avail.IsAvailable)

	// Without a window only the date-less holds count.
	avail, err = svc.CheckAvailability(context.Background(), AvailabilityQuery{ItemID: 7, QtyNeeded: 10})
	require.NoError(t, err)
	assert.Equal(t, 0.0, avail.Reserved)
}

func TestCheckAvailabilityWindowSkipsReservedQuotes(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.onHand[7] = 10
	quote := QuoteRef{ID: 41, Number: "DEV-2025-0041"}
	require.NoError(t, svc.ReserveForQuote(context.Background(), quote, []Line{{ItemID: 7, Qty: 4}}))
	when := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, svc.SyncQuotePlanning(context.Background(), quote, []Line{{ItemID: 7, Qty: 4}}, when))

	// The quote's planned movement must not stack on top of its hold.
	avail, err := svc.CheckAvailability(context.Background(), AvailabilityQuery{
		ItemID: 7, QtyNeeded: 6,
		From: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, 4.0, avail.Reserved)
	assert.True(t, avail.IsAvailable)
}

func TestCheckAvailabilityUnknownItem(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.CheckAvailability(context.Background(), AvailabilityQuery{ItemID: 99, QtyNeeded: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrNotFound))
}
