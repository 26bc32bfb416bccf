package services_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
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

func newPurchaseService(db *gorm.DB, gw gateway.Gateway, publisher services.EventPublisher) services.PurchaseService {
	return services.NewPurchaseService(services.PurchaseServiceDeps{
		Store:          repository.NewGormStore(db),
		Tickets:        repository.NewGormTicketRepository(db),
		Purchases:      repository.NewGormPurchaseRepository(db),
		Gateway:        gw,
		Publisher:      publisher,
		GatewayTimeout: time.Second,
		Logger:         zap.NewNop(),
	})
}

func TestPurchaseService_CreateReservesAndStartsPayment(t *testing.T) {
	db := testdb.Open(t)
	ticket := testdb.SeedTicket(t, db, 5)
	gw := &mockGateway{}
	publisher := &recordingPublisher{}
	svc := newPurchaseService(db, gw, publisher)

	gw.On("CreatePayment", mock.Anything, mock.MatchedBy(func(req gateway.CreatePaymentRequest) bool {
		_, err := uuid.Parse(req.ExternalReference)
		return err == nil && req.Amount == 10000 && req.Currency == "BRL" && req.PayerEmail == "ana@example.com"
	})).Return(&gateway.Payment{ID: "pay-100", Status: gateway.StatusPending}, nil)

	resp, svcErr := svc.CreatePurchase(context.Background(), "buyer-7", &models.CreatePurchaseRequest{
		TicketID:   ticket.ID,
		Quantity:   2,
		PayerEmail: "ana@example.com",
	})
	require.Nil(t, svcErr)
	require.NotNil(t, resp.Purchase)
	assert.Empty(t, resp.PaymentError)

	purchase := resp.Purchase
	assert.Equal(t, "buyer-7", purchase.BuyerID)
	assert.Equal(t, int64(10000), purchase.TotalPrice)
	assert.Equal(t, models.PurchaseStatusProcessing, purchase.Status)
	assert.True(t, purchase.StockReserved)
	require.NotNil(t, purchase.GatewayPaymentID)
	assert.Equal(t, "pay-100", *purchase.GatewayPaymentID)
	assert.Equal(t, 3, testdb.ReloadTicket(t, db, ticket.ID).CapacityRemaining)
	assert.Equal(t, []string{models.EventInventoryReserved}, publisher.types())
	gw.AssertExpectations(t)
}

func TestPurchaseService_GatewayFailureKeepsPurchasePending(t *testing.T) {
	db := testdb.Open(t)
	ticket := testdb.SeedTicket(t, db, 5)
	gw := &mockGateway{}
	svc := newPurchaseService(db, gw, nil)
	gw.On("CreatePayment", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

	resp, svcErr := svc.CreatePurchase(context.Background(), "buyer-7", &models.CreatePurchaseRequest{TicketID: ticket.ID, Quantity: 1})
	require.Nil(t, svcErr)
	assert.NotEmpty(t, resp.PaymentError)
	assert.Equal(t, models.PurchaseStatusPending, resp.Purchase.Status)
	assert.Nil(t, resp.Purchase.GatewayPaymentID)
	assert.Equal(t, 4, testdb.ReloadTicket(t, db, ticket.ID).CapacityRemaining)
}

func TestPurchaseService_CreateRejections(t *testing.T) {
	db := testdb.Open(t)
	ticket := testdb.SeedTicket(t, db, 3)
	inactive := testdb.SeedTicket(t, db, 3)
	require.NoError(t, db.Model(inactive).Update("is_active", false).Error)
	gw := &mockGateway{}
	gw.On("CreatePayment", mock.Anything, mock.Anything).Return(&gateway.Payment{ID: "pay-1"}, nil)
	svc := newPurchaseService(db, gw, nil)
	ctx := context.Background()

	_, svcErr := svc.CreatePurchase(ctx, "buyer-7", &models.CreatePurchaseRequest{TicketID: uuid.New(), Quantity: 1})
	require.NotNil(t, svcErr)
	assert.Equal(t, http.StatusNotFound, svcErr.StatusCode)

	_, svcErr = svc.CreatePurchase(ctx, "buyer-7", &models.CreatePurchaseRequest{TicketID: inactive.ID, Quantity: 1})
	require.NotNil(t, svcErr)
	assert.Equal(t, http.StatusBadRequest, svcErr.StatusCode)

	_, svcErr = svc.CreatePurchase(ctx, "buyer-7", &models.CreatePurchaseRequest{TicketID: ticket.ID, Quantity: 6})
	require.NotNil(t, svcErr)
	assert.Equal(t, http.StatusBadRequest, svcErr.StatusCode)
	assert.Contains(t, svcErr.Message, "Limit of 5")

	_, svcErr = svc.CreatePurchase(ctx, "buyer-7", &models.CreatePurchaseRequest{TicketID: ticket.ID, Quantity: 4})
	require.NotNil(t, svcErr)
	assert.Equal(t, http.StatusConflict, svcErr.StatusCode)
	assert.Equal(t, 3, testdb.ReloadTicket(t, db, ticket.ID).CapacityRemaining)
	assert.Equal(t, int64(0), countPurchases(t, db))
}

func TestPurchaseService_PerBuyerLimitCountsHeldPurchases(t *testing.T) {
	db := testdb.Open(t)
	ticket := testdb.SeedTicket(t, db, 20)
	gw := &mockGateway{}
	gw.On("CreatePayment", mock.Anything, mock.Anything).Return(&gateway.Payment{ID: "pay-1"}, nil)
	svc := newPurchaseService(db, gw, nil)
	ctx := context.Background()

	first, svcErr := svc.CreatePurchase(ctx, "buyer-7", &models.CreatePurchaseRequest{TicketID: ticket.ID, Quantity: 4})
	require.Nil(t, svcErr)

	_, svcErr = svc.CreatePurchase(ctx, "buyer-7", &models.CreatePurchaseRequest{TicketID: ticket.ID, Quantity: 2})
	require.NotNil(t, svcErr)
	assert.Equal(t, http.StatusBadRequest, svcErr.StatusCode)

	// Another buyer is unaffected.
	_, svcErr = svc.CreatePurchase(ctx, "buyer-8", &models.CreatePurchaseRequest{TicketID: ticket.ID, Quantity: 2})
	require.Nil(t, svcErr)

	// Cancelling frees the buyer's allowance.
	_, svcErr = svc.CancelPurchase(ctx, "buyer-7", first.Purchase.ID)
	require.Nil(t, svcErr)
	_, svcErr = svc.CreatePurchase(ctx, "buyer-7", &models.CreatePurchaseRequest{TicketID: ticket.ID, Quantity: 5})
	require.Nil(t, svcErr)
}

func TestPurchaseService_CancelReleasesStock(t *testing.T) {
	db := testdb.Open(t)
	ticket := testdb.SeedTicket(t, db, 5)
	purchase := testdb.SeedPurchase(t, db, ticket, 2)
	reserveForPurchase(t, db, purchase)
	publisher := &recordingPublisher{}
	svc := newPurchaseService(db, nil, publisher)
	ctx := context.Background()

	_, svcErr := svc.CancelPurchase(ctx, "someone-else", purchase.ID)
	require.NotNil(t, svcErr)
	assert.Equal(t, http.StatusNotFound, svcErr.StatusCode)

	cancelled, svcErr := svc.CancelPurchase(ctx, "buyer-1", purchase.ID)
	require.Nil(t, svcErr)
	assert.Equal(t, models.PurchaseStatusCancelled, cancelled.Status)
	assert.False(t, cancelled.StockReserved)
	assert.Equal(t, 5, testdb.ReloadTicket(t, db, ticket.ID).CapacityRemaining)
	assert.Equal(t, []string{models.EventInventoryReleased, models.EventPurchaseCancelled}, publisher.types())

	_, svcErr = svc.CancelPurchase(ctx, "buyer-1", purchase.ID)
	require.NotNil(t, svcErr)
	assert.Equal(t, http.StatusConflict, svcErr.StatusCode)
	assert.Equal(t, 5, testdb.ReloadTicket(t, db, ticket.ID).CapacityRemaining)
}

func TestPurchaseService_GetPurchaseIsScopedToBuyer(t *testing.T) {
	db := testdb.Open(t)
	ticket := testdb.SeedTicket(t, db, 5)
	purchase := testdb.SeedPurchase(t, db, ticket, 1)
	svc := newPurchaseService(db, nil, nil)

	got, svcErr := svc.GetPurchase(context.Background(), "buyer-1", purchase.ID)
	require.Nil(t, svcErr)
	assert.Equal(t, purchase.ID, got.ID)

	_, svcErr = svc.GetPurchase(context.Background(), "buyer-2", purchase.ID)
	require.NotNil(t, svcErr)
	assert.Equal(t, http.StatusNotFound, svcErr.StatusCode)

	_, svcErr = svc.GetPurchase(context.Background(), "buyer-1", uuid.New())
	require.NotNil(t, svcErr)
	assert.Equal(t, http.StatusNotFound, svcErr.StatusCode)
}

// A purchase reserved at checkout must not be decremented a second time when
// the gateway confirms it.
func TestPurchaseThenApprovalDecrementsOnce(t *testing.T) {
	h := newHarness(t)
	ticket := testdb.SeedTicket(t, h.db, 5)
	h.gw.On("CreatePayment", mock.Anything, mock.Anything).Return(&gateway.Payment{ID: "pay-flow", Status: gateway.StatusPending}, nil)
	svc := newPurchaseService(h.db, h.gw, nil)

	resp, svcErr := svc.CreatePurchase(context.Background(), "buyer-7", &models.CreatePurchaseRequest{TicketID: ticket.ID, Quantity: 2})
	require.Nil(t, svcErr)
	require.Equal(t, 3, testdb.ReloadTicket(t, h.db, ticket.ID).CapacityRemaining)

	h.gatewayReports("pay-flow", gateway.StatusApproved, resp.Purchase.ID)
	result := h.deliver(paymentBody("evt-flow", "pay-flow"))
	require.Equal(t, http.StatusOK, result.StatusCode)

	assert.Equal(t, models.PurchaseStatusApproved, testdb.ReloadPurchase(t, h.db, resp.Purchase.ID).Status)
	assert.Equal(t, 3, testdb.ReloadTicket(t, h.db, ticket.ID).CapacityRemaining)
	assert.Equal(t, []string{models.EventPurchaseApproved}, h.publisher.types())
}

func countPurchases(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.Purchase{}).Count(&n).Error)
	return n
}
