package interventions

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
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	interventions map[int64]*Intervention
	consumables   map[int64][]ConsumableRecord
	services      map[int64][]ServiceRecord
	nextID        int64

	txError error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		interventions: make(map[int64]*Intervention),
		consumables:   make(map[int64][]ConsumableRecord),
		services:      make(map[int64][]ServiceRecord),
		nextID:        1,
	}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if m.txError != nil {
		return m.txError
	}
	return fn(ctx, &mockTxRepo{mock: m})
}

func (m *mockRepository) Get(ctx context.Context, id int64) (*Intervention, error) {
	iv, ok := m.interventions[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *iv
	return &copied, nil
}

func (m *mockRepository) List(ctx context.Context, req ListRequest) ([]Intervention, int, error) {
	result := []Intervention{}
	for _, iv := range m.interventions {
		if req.Status != nil && iv.Status != *req.Status {
			continue
		}
		if req.ClientID != nil && iv.ClientID != *req.ClientID {
			continue
		}
		result = append(result, *iv)
	}
	return result, len(result), nil
}

func (m *mockRepository) HasConsumables(ctx context.Context, interventionID int64) (bool, error) {
	return len(m.consumables[interventionID]) > 0, nil
}

func (m *mockRepository) Consumables(ctx context.Context, interventionID int64) ([]ConsumableRecord, error) {
	return m.consumables[interventionID], nil
}

func (m *mockRepository) Services(ctx context.Context, interventionID int64) ([]ServiceRecord, error) {
	return m.services[interventionID], nil
}

type mockTxRepo struct {
	mock *mockRepository
}

func (tx *mockTxRepo) Create(ctx context.Context, iv Intervention) (int64, error) {
	id := tx.mock.nextID
	tx.mock.nextID++
	iv.ID = id
	iv.CreatedAt = time.Now()
	iv.UpdatedAt = time.Now()
	tx.mock.interventions[id] = &iv
	return id, nil
}

func (tx *mockTxRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	iv, ok := tx.mock.interventions[id]
	if !ok {
		return shared.ErrNotFound
	}
	iv.Status = status
	iv.UpdatedAt = time.Now()
	return nil
}

func (tx *mockTxRepo) InsertConsumables(ctx context.Context, interventionID int64, rows []ConsumableRecord) error {
	tx.mock.consumables[interventionID] = append(tx.mock.consumables[interventionID], rows...)
	return nil
}

func (tx *mockTxRepo) InsertServices(ctx context.Context, interventionID int64, rows []ServiceRecord) error {
	tx.mock.services[interventionID] = append(tx.mock.services[interventionID], rows...)
	return nil
}

func (tx *mockTxRepo) LinkInvoice(ctx context.Context, interventionID, invoiceID int64) error {
	iv, ok := tx.mock.interventions[interventionID]
	if !ok {
		return shared.ErrNotFound
	}
	if iv.InvoiceID != nil {
		return ErrAlreadyLinked
	}
	iv.InvoiceID = &invoiceID
	return nil
}

// ============================================================================
// MOCK EVENT LOG
// ============================================================================

type mockEventLog struct {
	entries []LogEntry
}

func (m *mockEventLog) RecordCreated(ctx context.Context, interventionID int64, title, actor string) {
	m.entries = append(m.entries, LogEntry{InterventionID: interventionID, Action: "création", ActorName: actor})
}

func (m *mockEventLog) RecordStatusChange(ctx context.Context, interventionID int64, from, to Status, actor string) {
	m.entries = append(m.entries, LogEntry{InterventionID: interventionID, Action: "changement de statut", Details: string(from) + " → " + string(to), ActorName: actor})
}

func (m *mockEventLog) RecordInvoiceLinked(ctx context.Context, interventionID int64, invoiceNumber string, totalTTC float64, actor string) {
	m.entries = append(m.entries, LogEntry{InterventionID: interventionID, Action: "facturation", Details: invoiceNumber, ActorName: actor})
}

// ============================================================================
// TESTS
// ============================================================================

func newTestService() (*Service, *mockRepository, *mockEventLog) {
	repo := newMockRepository()
	log := &mockEventLog{}
	return NewService(repo, log), repo, log
}

func TestCreateStartsToPlan(t *testing.T) {
	svc, _, log := newTestService()

	iv, err := svc.Create(context.Background(), CreateInput{ClientID: 5, Title: "Remplacement chaudière"}, "Marie")
	require.NoError(t, err)
	assert.Equal(t, StatusToPlan, iv.Status)
	require.Len(t, log.entries, 1)
	assert.Equal(t, "création", log.entries[0].Action)
	assert.Equal(t, "Marie", log.entries[0].ActorName)
}

func TestCreateRequiresClientAndTitle(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Create(context.Background(), CreateInput{Title: "x"}, "")
	require.Error(t, err)
	_, err = svc.Create(context.Background(), CreateInput{ClientID: 1}, "")
	require.Error(t, err)
}

func TestChangeStatusFollowsRegistry(t *testing.T) {
	svc, _, log := newTestService()
	iv, err := svc.Create(context.Background(), CreateInput{ClientID: 1, Title: "Dépannage"}, "Marie")
	require.NoError(t, err)

	iv, err = svc.ChangeStatus(context.Background(), iv.ID, StatusTodo, "Marie")
	require.NoError(t, err)
	assert.Equal(t, StatusTodo, iv.Status)

	iv, err = svc.ChangeStatus(context.Background(), iv.ID, StatusInProgress, "Marie")
	require.NoError(t, err)
	iv, err = svc.ChangeStatus(context.Background(), iv.ID, StatusDone, "Marie")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, iv.Status)

	// One creation entry plus three status changes.
	assert.Len(t, log.entries, 4)
}

func TestChangeStatusRejectsUnlistedTransition(t *testing.T) {
	svc, _, _ := newTestService()
	iv, err := svc.Create(context.Background(), CreateInput{ClientID: 1, Title: "Dépannage"}, "")
	require.NoError(t, err)

	_, err = svc.ChangeStatus(context.Background(), iv.ID, StatusDone, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInvalidTransition))
}

func TestChangeStatusRejectsAfterDone(t *testing.T) {
	svc, repo, _ := newTestService()
	iv, err := svc.Create(context.Background(), CreateInput{ClientID: 1, Title: "Dépannage"}, "")
	require.NoError(t, err)
	repo.interventions[iv.ID].Status = StatusDone

	_, err = svc.ChangeStatus(context.Background(), iv.ID, StatusInProgress, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInvalidTransition))
}

func TestAttachQuoteLinesIdempotent(t *testing.T) {
	svc, repo, _ := newTestService()
	iv, err := svc.Create(context.Background(), CreateInput{ClientID: 1, Title: "Pose climatisation"}, "")
	require.NoError(t, err)

	consumables := []ConsumableRecord{{Label: "Gaine", Qty: 4, UnitPriceHT: 12, TotalHT: 48, TotalTTC: 57.6}}
	services := []ServiceRecord{{Label: "Pose", Qty: 2, UnitPriceHT: 60, TotalHT: 120, TotalTTC: 144}}

	attached, err := svc.AttachQuoteLines(context.Background(), iv.ID, consumables, services)
	require.NoError(t, err)
	assert.True(t, attached)
	assert.Len(t, repo.consumables[iv.ID], 1)
	assert.Len(t, repo.services[iv.ID], 1)

	// Second call must skip entirely.
	attached, err = svc.AttachQuoteLines(context.Background(), iv.ID, consumables, services)
	require.NoError(t, err)
	assert.False(t, attached)
	assert.Len(t, repo.consumables[iv.ID], 1)
	assert.Len(t, repo.services[iv.ID], 1)
}

func TestLinkInvoiceOnce(t *testing.T) {
	svc, _, log := newTestService()
	iv, err := svc.Create(context.Background(), CreateInput{ClientID: 1, Title: "Entretien"}, "")
	require.NoError(t, err)

	require.NoError(t, svc.LinkInvoice(context.Background(), iv.ID, 77, "FAC-2025-0001", 216.00, "Marie"))

	err = svc.LinkInvoice(context.Background(), iv.ID, 78, "FAC-2025-0002", 100.00, "Marie")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyLinked))

	got, err := svc.Get(context.Background(), iv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.InvoiceID)
	assert.Equal(t, int64(77), *got.InvoiceID)
	// Only the successful linkage is logged.
	assert.Len(t, log.entries, 2)
}
