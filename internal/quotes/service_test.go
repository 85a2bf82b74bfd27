package quotes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestix-erp/gestix/internal/interventions"
	"github.com/gestix-erp/gestix/internal/inventory"
	"github.com/gestix-erp/gestix/internal/shared"
)

// ============================================================================
// MOCKS
// ============================================================================

type mockRepository struct {
	quotes map[int64]*Quote
	nextID int64
	seq    map[int]int
}

func newMockRepository() *mockRepository {
	return &mockRepository{quotes: map[int64]*Quote{}, nextID: 1, seq: map[int]int{}}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &mockTxRepo{mock: m})
}

func (m *mockRepository) Get(ctx context.Context, id int64) (*Quote, error) {
	q, ok := m.quotes[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *q
	return &copied, nil
}

func (m *mockRepository) List(ctx context.Context, req ListRequest) ([]Quote, int, error) {
	out := []Quote{}
	for _, q := range m.quotes {
		out = append(out, *q)
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

func (tx *mockTxRepo) Create(ctx context.Context, q Quote) (int64, error) {
	id := tx.mock.nextID
	tx.mock.nextID++
	q.ID = id
	q.CreatedAt = time.Now()
	q.UpdatedAt = time.Now()
	tx.mock.quotes[id] = &q
	return id, nil
}

func (tx *mockTxRepo) UpdateHeader(ctx context.Context, q Quote) error {
	stored, ok := tx.mock.quotes[q.ID]
	if !ok {
		return shared.ErrNotFound
	}
	number, status, iv := stored.Number, stored.Status, stored.InterventionID
	q.Number, q.Status, q.InterventionID = number, status, iv
	q.Lines, q.Packages = stored.Lines, stored.Packages
	*stored = q
	return nil
}

func (tx *mockTxRepo) ReplaceLines(ctx context.Context, quoteID int64, lines []Line, packages []Package) error {
	q, ok := tx.mock.quotes[quoteID]
	if !ok {
		return shared.ErrNotFound
	}
	q.Lines = lines
	q.Packages = packages
	return nil
}

func (tx *mockTxRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	q, ok := tx.mock.quotes[id]
	if !ok {
		return shared.ErrNotFound
	}
	q.Status = status
	return nil
}

func (tx *mockTxRepo) SetIntervention(ctx context.Context, quoteID, interventionID int64) error {
	q, ok := tx.mock.quotes[quoteID]
	if !ok {
		return shared.ErrNotFound
	}
	if q.InterventionID != nil {
		return ErrAlreadyConverted
	}
	q.InterventionID = &interventionID
	return nil
}

type stockCall struct {
	op      string
	quoteID int64
	lines   []inventory.Line
	at      time.Time
}

type mockStock struct {
	calls []stockCall
}

func (m *mockStock) ReserveForQuote(ctx context.Context, quote inventory.QuoteRef, lines []inventory.Line) error {
	m.calls = append(m.calls, stockCall{op: "reserve", quoteID: quote.ID, lines: lines})
	return nil
}

func (m *mockStock) ReleaseForQuote(ctx context.Context, quoteID int64) (int64, error) {
	m.calls = append(m.calls, stockCall{op: "release", quoteID: quoteID})
	return 1, nil
}

func (m *mockStock) SyncQuotePlanning(ctx context.Context, quote inventory.QuoteRef, lines []inventory.Line, scheduledAt time.Time) error {
	m.calls = append(m.calls, stockCall{op: "sync", quoteID: quote.ID, lines: lines, at: scheduledAt})
	return nil
}

func (m *mockStock) CancelQuotePlannedMovements(ctx context.Context, quoteID int64) (int64, error) {
	m.calls = append(m.calls, stockCall{op: "cancel", quoteID: quoteID})
	return 1, nil
}

type mockInterventions struct {
	nextID      int64
	created     []interventions.CreateInput
	consumables map[int64][]interventions.ConsumableRecord
	services    map[int64][]interventions.ServiceRecord
}

func newMockInterventions() *mockInterventions {
	return &mockInterventions{
		nextID:      100,
		consumables: map[int64][]interventions.ConsumableRecord{},
		services:    map[int64][]interventions.ServiceRecord{},
	}
}

func (m *mockInterventions) Create(ctx context.Context, input interventions.CreateInput, actor string) (*interventions.Intervention, error) {
	id := m.nextID
	m.nextID++
	m.created = append(m.created, input)
	return &interventions.Intervention{ID: id, ClientID: input.ClientID, Title: input.Title, Status: interventions.StatusToPlan}, nil
}

func (m *mockInterventions) AttachQuoteLines(ctx context.Context, interventionID int64, consumables []interventions.ConsumableRecord, services []interventions.ServiceRecord) (bool, error) {
	if len(m.consumables[interventionID]) > 0 {
		return false, nil
	}
	m.consumables[interventionID] = consumables
	m.services[interventionID] = services
	return true, nil
}

// ============================================================================
// TESTS
// ============================================================================

func newTestService() (*Service, *mockRepository, *mockStock, *mockInterventions) {
	repo := newMockRepository()
	stock := &mockStock{}
	iv := newMockInterventions()
	svc := NewService(repo, stock, iv, PropagationPolicy{}, nil)
	svc.now = func() time.Time { return time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC) }
	return svc, repo, stock, iv
}

func supplyLine(itemID int64, qty, price float64) LineInput {
	return LineInput{Type: LineTypeSupply, ItemID: &itemID, Label: "Fourniture", Qty: qty, Unit: "pce", UnitPriceHT: price, VATRate: 20}
}

func TestCreateNumbersSequentially(t *testing.T) {
	svc, _, _, _ := newTestService()

	q1, err := svc.Create(context.Background(), SaveInput{ClientID: 1, Title: "Chantier A"})
	require.NoError(t, err)
	q2, err := svc.Create(context.Background(), SaveInput{ClientID: 1, Title: "Chantier B"})
	require.NoError(t, err)

	assert.Equal(t, "DEV-2025-0001", q1.Number)
	assert.Equal(t, "DEV-2025-0002", q2.Number)
	assert.Equal(t, StatusDraft, q1.Status)
}

func TestCreateStoresComputedTotals(t *testing.T) {
	svc, _, _, _ := newTestService()

	q, err := svc.Create(context.Background(), SaveInput{
		ClientID: 1, Title: "Salle de bain", GlobalDiscount: 10,
		Lines: []LineInput{{Type: LineTypeLabour, Label: "Pose", Qty: 2, UnitPriceHT: 100, DiscountPct: 10, VATRate: 20}},
	})
	require.NoError(t, err)
	assert.Equal(t, 162.0, q.TotalHT)
	assert.Equal(t, 32.4, q.TotalVAT)
	assert.Equal(t, 194.4, q.TotalTTC)
}

func TestUpdateRejectedAfterSend(t *testing.T) {
	svc, repo, _, _ := newTestService()
	q, err := svc.Create(context.Background(), SaveInput{ClientID: 1, Title: "Chantier"})
	require.NoError(t, err)
	repo.quotes[q.ID].Status = StatusSent

	_, err = svc.Update(context.Background(), q.ID, SaveInput{ClientID: 1, Title: "Chantier bis"})
	require.Error(t, err)
}

func TestAcceptanceReservesStock(t *testing.T) {
	svc, repo, stock, _ := newTestService()
	q, err := svc.Create(context.Background(), SaveInput{ClientID: 1, Title: "Chantier", Lines: []LineInput{supplyLine(7, 4, 10)}})
	require.NoError(t, err)
	repo.quotes[q.ID].Status = StatusSent

	updated, err := svc.ChangeStatus(context.Background(), q.ID, StatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, updated.Status)

	require.Len(t, stock.calls, 1)
	assert.Equal(t, "reserve", stock.calls[0].op)
	assert.Equal(t, q.ID, stock.calls[0].quoteID)
	require.Len(t, stock.calls[0].lines, 1)
	assert.Equal(t, int64(7), stock.calls[0].lines[0].ItemID)
	assert.Equal(t, 4.0, stock.calls[0].lines[0].Qty)
}

func TestAcceptanceWithoutStockLinesSkipsReserve(t *testing.T) {
	svc, repo, stock, _ := newTestService()
	q, err := svc.Create(context.Background(), SaveInput{ClientID: 1, Title: "Audit", Lines: []LineInput{{Type: LineTypeLabour, Label: "Visite", Qty: 1, UnitPriceHT: 80, VATRate: 20}}})
	require.NoError(t, err)
	repo.quotes[q.ID].Status = StatusSent

	_, err = svc.ChangeStatus(context.Background(), q.ID, StatusAccepted)
	require.NoError(t, err)
	assert.Empty(t, stock.calls)
}

func TestCancellationReleasesStock(t *testing.T) {
	svc, repo, stock, _ := newTestService()
	q, err := svc.Create(context.Background(), SaveInput{ClientID: 1, Title: "Chantier", Lines: []LineInput{supplyLine(7, 2, 10)}})
	require.NoError(t, err)
	repo.quotes[q.ID].Status = StatusAccepted

	_, err = svc.ChangeStatus(context.Background(), q.ID, StatusCancelled)
	require.NoError(t, err)

	require.Len(t, stock.calls, 2)
	assert.Equal(t, "release", stock.calls[0].op)
	assert.Equal(t, "cancel", stock.calls[1].op)
}

func TestRefusalAfterAcceptanceReleasesStock(t *testing.T) {
	svc, repo, stock, _ := newTestService()
	q, err := svc.Create(context.Background(), SaveInput{ClientID: 1, Title: "Chantier", Lines: []LineInput{supplyLine(7, 2, 10)}})
	require.NoError(t, err)
	repo.quotes[q.ID].Status = StatusAccepted

	updated, err := svc.ChangeStatus(context.Background(), q.ID, StatusRefused)
	require.NoError(t, err)
	assert.Equal(t, StatusRefused, updated.Status)

	require.Len(t, stock.calls, 2)
	assert.Equal(t, "release", stock.calls[0].op)
	assert.Equal(t, "cancel", stock.calls[1].op)
}

func TestInvalidTransitionLeavesStockAlone(t *testing.T) {
	svc, _, stock, _ := newTestService()
	q, err := svc.Create(context.Background(), SaveInput{ClientID: 1, Title: "Chantier", Lines: []LineInput{supplyLine(7, 2, 10)}})
	require.NoError(t, err)

	_, err = svc.ChangeStatus(context.Background(), q.ID, StatusAccepted)
	require.Error(t, err)
	assert.Empty(t, stock.calls)
}

func TestConvertPropagatesLines(t *testing.T) {
	svc, repo, _, iv := newTestService()
	q, err := svc.Create(context.Background(), SaveInput{
		ClientID: 1, Title: "Pose climatisation",
		Lines: []LineInput{
			supplyLine(3, 4, 12),
			{Type: LineTypeLabour, Label: "Pose", Qty: 2, UnitPriceHT: 60, VATRate: 20},
		},
	})
	require.NoError(t, err)
	repo.quotes[q.ID].Status = StatusAccepted

	ivID, err := svc.ConvertToIntervention(context.Background(), q.ID, nil, "Marie")
	require.NoError(t, err)
	require.Len(t, iv.created, 1)
	assert.Equal(t, q.ClientID, iv.created[0].ClientID)
	require.NotNil(t, iv.created[0].QuoteID)
	assert.Equal(t, q.ID, *iv.created[0].QuoteID)

	assert.Len(t, iv.consumables[ivID], 1)
	assert.Len(t, iv.services[ivID], 1)

	stored, err := svc.Get(context.Background(), q.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.InterventionID)
	assert.Equal(t, ivID, *stored.InterventionID)
}

func TestConvertIsIdempotent(t *testing.T) {
	svc, repo, _, iv := newTestService()
	q, err := svc.Create(context.Background(), SaveInput{ClientID: 1, Title: "Chantier", Lines: []LineInput{supplyLine(3, 1, 10)}})
	require.NoError(t, err)
	repo.quotes[q.ID].Status = StatusAccepted

	first, err := svc.ConvertToIntervention(context.Background(), q.ID, nil, "")
	require.NoError(t, err)
	second, err := svc.ConvertToIntervention(context.Background(), q.ID, nil, "")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, iv.created, 1)
	assert.Len(t, iv.consumables[first], 1)
}

func TestConvertRequiresAcceptedStatus(t *testing.T) {
	svc, _, _, _ := newTestService()
	q, err := svc.Create(context.Background(), SaveInput{ClientID: 1, Title: "Chantier"})
	require.NoError(t, err)

	_, err = svc.ConvertToIntervention(context.Background(), q.ID, nil, "")
	require.Error(t, err)
}

func TestConvertWithScheduleSyncsPlanning(t *testing.T) {
	svc, repo, stock, _ := newTestService()
	q, err := svc.Create(context.Background(), SaveInput{ClientID: 1, Title: "Chantier", Lines: []LineInput{supplyLine(5, 3, 8)}})
	require.NoError(t, err)
	repo.quotes[q.ID].Status = StatusAccepted

	when := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	_, err = svc.ConvertToIntervention(context.Background(), q.ID, &when, "")
	require.NoError(t, err)

	require.Len(t, stock.calls, 1)
	assert.Equal(t, "sync", stock.calls[0].op)
	require.Len(t, stock.calls[0].lines, 1)
	assert.Equal(t, int64(5), stock.calls[0].lines[0].ItemID)
	assert.Equal(t, when, stock.calls[0].at)
}

func TestConvertWithoutScheduleStampsPlanningNow(t *testing.T) {
	svc, repo, stock, _ := newTestService()
	q, err := svc.Create(context.Background(), SaveInput{ClientID: 1, Title: "Chantier", Lines: []LineInput{supplyLine(5, 3, 8)}})
	require.NoError(t, err)
	repo.quotes[q.ID].Status = StatusAccepted

	_, err = svc.ConvertToIntervention(context.Background(), q.ID, nil, "")
	require.NoError(t, err)

	require.Len(t, stock.calls, 1)
	assert.Equal(t, "sync", stock.calls[0].op)
	assert.Equal(t, svc.now(), stock.calls[0].at)
}

func TestReschedule(t *testing.T) {
	svc, repo, stock, _ := newTestService()
	q, err := svc.Create(context.Background(), SaveInput{ClientID: 1, Title: "Chantier", Lines: []LineInput{supplyLine(5, 3, 8)}})
	require.NoError(t, err)
	repo.quotes[q.ID].Status = StatusAccepted
	ivID := int64(42)
	repo.quotes[q.ID].InterventionID = &ivID

	require.NoError(t, svc.Reschedule(context.Background(), q.ID, time.Now()))
	require.Len(t, stock.calls, 1)
	assert.Equal(t, "sync", stock.calls[0].op)
}
