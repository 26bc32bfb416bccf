package services_test

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/torxytonnickertrux/ticketchecker/gateway"
	"github.com/torxytonnickertrux/ticketchecker/internal/testdb"
	"github.com/torxytonnickertrux/ticketchecker/models"
	"github.com/torxytonnickertrux/ticketchecker/repository"
	"github.com/torxytonnickertrux/ticketchecker/services"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "whsec_test"

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreatePayment(ctx context.Context, req gateway.CreatePaymentRequest) (*gateway.Payment, error) {
	args := m.Called(ctx, req)
	payment, _ := args.Get(0).(*gateway.Payment)
	return payment, args.Error(1)
}

func (m *mockGateway) GetPayment(ctx context.Context, id string) (*gateway.Payment, error) {
	args := m.Called(ctx, id)
	payment, _ := args.Get(0).(*gateway.Payment)
	return payment, args.Error(1)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.TicketEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event models.TicketEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]services.CachedResponse
	hits    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string]services.CachedResponse{}}
}

func (c *memoryCache) Get(ctx context.Context, id string) (*services.CachedResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	resp, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	c.hits++
	return &resp, true
}

func (c *memoryCache) Set(ctx context.Context, id string, resp services.CachedResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = resp
}

type recordingArchiver struct {
	keys []string
}

func (a *recordingArchiver) Archive(ctx context.Context, key string, body []byte) error {
	a.keys = append(a.keys, key)
	return nil
}

type harness struct {
	db        *gorm.DB
	gw        *mockGateway
	publisher *recordingPublisher
	signer    *services.SignatureValidator
	svc       services.WebhookService
}

type harnessOption func(*services.WebhookServiceDeps)

func withCache(c services.ResponseCache) harnessOption {
	return func(d *services.WebhookServiceDeps) { d.Cache = c }
}

func withArchiver(a services.PayloadArchiver) harnessOption {
	return func(d *services.WebhookServiceDeps) { d.Archiver = a }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	db := testdb.Open(t)
	logger := zap.NewNop()
	clock := func() time.Time { return fixedNow }
	gw := &mockGateway{}
	publisher := &recordingPublisher{}
	plog := services.NewProcessingLog(repository.NewGormWebhookLogRepository(db), logger)

	reconciler := services.NewPaymentReconciler(services.ReconcilerDeps{
		Store:         repository.NewGormStore(db),
		Gateways:      gateway.Registry{models.EnvironmentTest: gw},
		Publisher:     publisher,
		Log:           plog,
		LookupTimeout: 100 * time.Millisecond,
		Logger:        logger,
		Now:           clock,
	})
	router := services.NewEventRouter(logger)
	router.Register(models.EventTypePayment, reconciler)
	router.Register(models.EventTypePlan, services.AcknowledgeOnly(plog))
	router.Register(models.EventTypeSubscription, services.AcknowledgeOnly(plog))
	router.Register(models.EventTypeInvoice, services.AcknowledgeOnly(plog))

	signer := services.NewSignatureValidator(testSecret, 0).WithClock(clock)
	deps := services.WebhookServiceDeps{
		Events:     repository.NewGormWebhookEventRepository(db),
		Validators: map[string]*services.SignatureValidator{models.EnvironmentTest: signer},
		Router:     router,
		Log:        plog,
		Logger:     logger,
		Now:        clock,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	return &harness{
		db:        db,
		gw:        gw,
		publisher: publisher,
		signer:    signer,
		svc:       services.NewWebhookService(deps),
	}
}

func (h *harness) deliver(body string) services.IngestResult {
	ts := strconv.FormatInt(fixedNow.Unix(), 10)
	return h.deliverSigned(body, h.signer.Sign([]byte(body), ts), ts)
}

func (h *harness) deliverSigned(body, signature, timestamp string) services.IngestResult {
	return h.svc.Ingest(context.Background(), services.IngestRequest{
		Environment:   models.EnvironmentTest,
		Body:          []byte(body),
		Signature:     signature,
		Timestamp:     timestamp,
		SourceAddress: "203.0.113.7",
	})
}

func (h *harness) event(t *testing.T, externalID string) *models.WebhookEvent {
	t.Helper()
	var event models.WebhookEvent
	require.NoError(t, h.db.First(&event, "external_event_id = ?", externalID).Error)
	return &event
}

func (h *harness) count(t *testing.T, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := h.db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func (h *harness) gatewayReports(paymentID, status string, purchaseID uuid.UUID) {
	h.gw.On("GetPayment", mock.Anything, paymentID).Return(&gateway.Payment{
		ID:                paymentID,
		Status:            status,
		ExternalReference: purchaseID.String(),
		Amount:            10000,
		Currency:          "BRL",
		PaymentMethod:     "pix",
	}, nil)
}

func paymentBody(eventID, paymentID string) string {
	return fmt.Sprintf(`{"id":%q,"type":"payment","action":"payment.updated","data":{"id":%q}}`, eventID, paymentID)
}

func reserveForPurchase(t *testing.T, db *gorm.DB, purchase *models.Purchase) {
	t.Helper()
	require.NoError(t, db.Model(&models.Ticket{}).Where("id = ?", purchase.TicketID).
		Update("capacity_remaining", gorm.Expr("capacity_remaining - ?", purchase.Quantity)).Error)
	require.NoError(t, db.Model(&models.Purchase{}).Where("id = ?", purchase.ID).
		Update("stock_reserved", true).Error)
}
