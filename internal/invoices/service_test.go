package invoices

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestix-erp/gestix/internal/interventions"
	"github.com/gestix-erp/gestix/internal/shared"
)

// ============================================================================
// MOCKS
// ============================================================================

type mockRepository struct {
	invoices map[int64]*Invoice
	lines    map[int64][]Line
	nextID   int64
	seq      map[int]int
}

func newMockRepository() *mockRepository {
	return &mockRepository{invoices: map[int64]*Invoice{}, lines: map[int64][]Line{}, nextID: 1, seq: map[int]int{}}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &mockTxRepo{mock: m})
}

func (m *mockRepository) Get(ctx context.Context, id int64) (*Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *inv
	copied.Lines = m.lines[id]
	return &copied, nil
}

func (m *mockRepository) List(ctx context.Context, req ListRequest) ([]Invoice, int, error) {
	out := []Invoice{}
	for _, inv := range m.invoices {
		out = append(out, *inv)
	}
	return out, len(out), nil
}

type mockTxRepo struct {
	mock *mockRepository
}

func (tx *mockTxRepo) NextNumber(ctx context.Context, year int) (int, error) {
	tx.mock.seq[year]++
	return tx.mock.seq[year], nil
}

func (tx *mockTxRepo) Create(ctx context.Context, inv Invoice) (int64, error) {
	id := tx.mock.nextID
	tx.mock.nextID++
	inv.ID = id
	tx.mock.invoices[id] = &inv
	return id, nil
}

func (tx *mockTxRepo) InsertLines(ctx context.Context, invoiceID int64, lines []Line) error {
	tx.mock.lines[invoiceID] = lines
	return nil
}

func (tx *mockTxRepo) Delete(ctx context.Context, id int64) error {
	delete(tx.mock.invoices, id)
	delete(tx.mock.lines, id)
	return nil
}

func (tx *mockTxRepo) UpdateStatus(ctx context.Context, id int64, status Status, paid bool) error {
	inv, ok := tx.mock.invoices[id]
	if !ok {
		return shared.ErrNotFound
	}
	inv.Status = status
	if paid {
		now := time.Now()
		inv.PaidAt = &now
	}
	return nil
}

type mockInterventions struct {
	interventions map[int64]*interventions.Intervention
	consumables   map[int64][]interventions.ConsumableRecord
	services      map[int64][]interventions.ServiceRecord
	linkErr       error
}

func newMockInterventions() *mockInterventions {
	return &mockInterventions{
		interventions: map[int64]*interventions.Intervention{},
		consumables:   map[int64][]interventions.ConsumableRecord{},
		services:      map[int64][]interventions.ServiceRecord{},
	}
}

func (m *mockInterventions) Get(ctx context.Context, id int64) (*interventions.Intervention, error) {
	iv, ok := m.interventions[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *iv
	return &copied, nil
}

func (m *mockInterventions) Consumables(ctx context.Context, id int64) ([]interventions.ConsumableRecord, error) {
	return m.consumables[id], nil
}

func (m *mockInterventions) Services(ctx context.Context, id int64) ([]interventions.ServiceRecord, error) {
	return m.services[id], nil
}

func (m *mockInterventions) LinkInvoice(ctx context.Context, interventionID, invoiceID int64, invoiceNumber string, totalTTC float64, actor string) error {
	if m.linkErr != nil {
		return m.linkErr
	}
	iv, ok := m.interventions[interventionID]
	if !ok {
		return shared.ErrNotFound
	}
	if iv.InvoiceID != nil {
		return interventions.ErrAlreadyLinked
	}
	iv.InvoiceID = &invoiceID
	return nil
}

// ============================================================================
// TESTS
// ============================================================================

func newTestService() (*Service, *mockRepository, *mockInterventions) {
	repo := newMockRepository()
	ivs := newMockInterventions()
	svc := NewService(repo, ivs, nil)
	svc.now = func() time.Time { return time.Date(2025, 5, 12, 10, 0, 0, 0, time.UTC) }
	return svc, repo, ivs
}

func doneIntervention(ivs *mockInterventions, id int64) {
	ivs.interventions[id] = &interventions.Intervention{ID: id, ClientID: 9, Title: "Entretien", Status: interventions.StatusDone}
	ivs.consumables[id] = []interventions.ConsumableRecord{
		{Label: "Filtre", Qty: 1, Unit: "pce", UnitPriceHT: 30, VATRate: 20, TotalHT: 30, TotalTTC: 36},
	}
	ivs.services[id] = []interventions.ServiceRecord{
		{Label: "Main d'oeuvre", Qty: 2, UnitPriceHT: 75, VATRate: 20, TotalHT: 150, TotalTTC: 180},
	}
}

func TestCreateFromInterventionFirstNumber(t *testing.T) {
	svc, _, ivs := newTestService()
	doneIntervention(ivs, 1)

	inv, err := svc.CreateFromIntervention(context.Background(), 1, "Marie")
	require.NoError(t, err)

	assert.Equal(t, "FAC-2025-0001", inv.Number)
	assert.Equal(t, StatusDraft, inv.Status)
	assert.Equal(t, 180.0, inv.TotalHT)
	assert.Equal(t, 36.0, inv.TotalVAT)
	assert.Equal(t, 216.0, inv.TotalTTC)
	assert.Equal(t, time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC), inv.DueAt)

	require.Len(t, inv.Lines, 2)
	assert.Equal(t, LineKindConsumable, inv.Lines[0].Kind)
	assert.Equal(t, LineKindService, inv.Lines[1].Kind)

	// The intervention now carries the invoice id.
	iv, err := ivs.Get(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, iv.InvoiceID)
	assert.Equal(t, inv.ID, *iv.InvoiceID)
}

func TestCreateFromInterventionSequenceAdvances(t *testing.T) {
	svc, repo, ivs := newTestService()
	repo.seq[2025] = 41

	doneIntervention(ivs, 1)
	inv, err := svc.CreateFromIntervention(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Equal(t, "FAC-2025-0042", inv.Number)
}

func TestCreateFromInterventionTwiceFails(t *testing.T) {
	svc, _, ivs := newTestService()
	doneIntervention(ivs, 1)

	_, err := svc.CreateFromIntervention(context.Background(), 1, "")
	require.NoError(t, err)

	_, err = svc.CreateFromIntervention(context.Background(), 1, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyInvoiced))
}

func TestCreateFromInterventionLinkRaceLeavesNoOrphan(t *testing.T) {
	svc, repo, ivs := newTestService()
	doneIntervention(ivs, 1)
	// A concurrent generation wins the conditional link update.
	ivs.linkErr = interventions.ErrAlreadyLinked

	_, err := svc.CreateFromIntervention(context.Background(), 1, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyInvoiced))
	assert.Empty(t, repo.invoices)
	assert.Empty(t, repo.lines)
}

func TestCreateFromInterventionRequiresDone(t *testing.T) {
	svc, _, ivs := newTestService()
	ivs.interventions[2] = &interventions.Intervention{ID: 2, ClientID: 9, Status: interventions.StatusInProgress}

	_, err := svc.CreateFromIntervention(context.Background(), 2, "")
	require.Error(t, err)
}

func TestCreateFromInterventionRequiresLines(t *testing.T) {
	svc, _, ivs := newTestService()
	ivs.interventions[3] = &interventions.Intervention{ID: 3, ClientID: 9, Status: interventions.StatusDone}

	_, err := svc.CreateFromIntervention(context.Background(), 3, "")
	require.Error(t, err)
}

func TestInvoiceStatusLifecycle(t *testing.T) {
	svc, _, ivs := newTestService()
	doneIntervention(ivs, 1)
	inv, err := svc.CreateFromIntervention(context.Background(), 1, "")
	require.NoError(t, err)

	inv, err = svc.ChangeStatus(context.Background(), inv.ID, StatusSent)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, inv.Status)

	inv, err = svc.ChangeStatus(context.Background(), inv.ID, StatusPaid)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, inv.Status)
	assert.NotNil(t, inv.PaidAt)

	// Paid is final.
	_, err = svc.ChangeStatus(context.Background(), inv.ID, StatusCancelled)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInvalidTransition))
}

func TestDraftCannotBePaidDirectly(t *testing.T) {
	svc, _, ivs := newTestService()
	doneIntervention(ivs, 1)
	inv, err := svc.CreateFromIntervention(context.Background(), 1, "")
	require.NoError(t, err)

	_, err = svc.ChangeStatus(context.Background(), inv.ID, StatusPaid)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInvalidTransition))
}
