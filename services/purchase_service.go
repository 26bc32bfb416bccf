package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/torxytonnickertrux/ticketchecker/gateway"
	"github.com/torxytonnickertrux/ticketchecker/models"
	awspkg "github.com/torxytonnickertrux/ticketchecker/pkg/aws"
	"github.com/torxytonnickertrux/ticketchecker/repository"
	"go.uber.org/zap"
)

var (
	errPurchaseNotOwned = errors.New("purchase not found for buyer")
	errPurchaseFinal    = errors.New("purchase is final")
)

type PurchaseService interface {
	CreatePurchase(ctx context.Context, buyerID string, req *models.CreatePurchaseRequest) (*models.PurchaseResponse, *ServiceError)
	GetPurchase(ctx context.Context, buyerID string, id uuid.UUID) (*models.Purchase, *ServiceError)
	CancelPurchase(ctx context.Context, buyerID string, id uuid.UUID) (*models.Purchase, *ServiceError)
}

type PurchaseServiceDeps struct {
	Store          repository.Store
	Tickets        repository.TicketRepository
	Purchases      repository.PurchaseRepository
	Gateway        gateway.Gateway
	Publisher      EventPublisher
	Metrics        MetricsRecorder
	GatewayTimeout time.Duration
	Logger         *zap.Logger
}

type purchaseServiceImpl struct {
	store          repository.Store
	tickets        repository.TicketRepository
	purchases      repository.PurchaseRepository
	gateway        gateway.Gateway
	publisher      EventPublisher
	metrics        MetricsRecorder
	gatewayTimeout time.Duration
	logger         *zap.Logger
}

func NewPurchaseService(deps PurchaseServiceDeps) PurchaseService {
	if deps.GatewayTimeout <= 0 {
		deps.GatewayTimeout = DefaultGatewayLookupTimeout
	}
	return &purchaseServiceImpl{
		store:          deps.Store,
		tickets:        deps.Tickets,
		purchases:      deps.Purchases,
		gateway:        deps.Gateway,
		publisher:      deps.Publisher,
		metrics:        deps.Metrics,
		gatewayTimeout: deps.GatewayTimeout,
		logger:         deps.Logger,
	}
}

// CreatePurchase reserves stock and records the purchase in one transaction,
// then asks the gateway to start the payment. A gateway failure leaves the
// purchase pending with its stock held; the buyer may cancel it.
func (s *purchaseServiceImpl) CreatePurchase(ctx context.Context, buyerID string, req *models.CreatePurchaseRequest) (*models.PurchaseResponse, *ServiceError) {
	if req.Quantity <= 0 {
		return nil, &ServiceError{StatusCode: http.StatusBadRequest, Message: "Quantity must be positive"}
	}

	ticket, err := s.tickets.FindByID(ctx, req.TicketID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &ServiceError{StatusCode: http.StatusNotFound, Message: "Ticket not found"}
	}
	if err != nil {
		s.logger.Error("Failed to load ticket", zap.String("ticket_id", req.TicketID.String()), zap.Error(err))
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to create purchase"}
	}
	if !ticket.IsActive {
		return nil, &ServiceError{StatusCode: http.StatusBadRequest, Message: "Ticket is not on sale"}
	}

	if ticket.MaxPerBuyer > 0 {
		held, err := s.purchases.QuantityHeldByBuyer(ctx, ticket.ID, buyerID)
		if err != nil {
			s.logger.Error("Failed to count buyer purchases", zap.String("buyer_id", buyerID), zap.Error(err))
			return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to create purchase"}
		}
		if held+req.Quantity > ticket.MaxPerBuyer {
			return nil, &ServiceError{
				StatusCode: http.StatusBadRequest,
				Message:    fmt.Sprintf("Limit of %d tickets per buyer exceeded", ticket.MaxPerBuyer),
			}
		}
	}

	purchase := &models.Purchase{
		TicketID:      ticket.ID,
		BuyerID:       buyerID,
		Quantity:      req.Quantity,
		TotalPrice:    ticket.Price * int64(req.Quantity),
		Currency:      ticket.Currency,
		Status:        models.PurchaseStatusPending,
		StockReserved: true,
	}

	var remaining int
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		remaining, err = reserveStock(tx, ticket.ID, req.Quantity)
		if err != nil {
			return err
		}
		return tx.CreatePurchase(purchase)
	})
	switch {
	case errors.Is(err, repository.ErrInsufficientStock):
		return nil, &ServiceError{StatusCode: http.StatusConflict, Message: "Not enough tickets available"}
	case errors.Is(err, repository.ErrNotFound):
		return nil, &ServiceError{StatusCode: http.StatusNotFound, Message: "Ticket not found"}
	case err != nil:
		s.logger.Error("Failed to reserve tickets", zap.String("ticket_id", ticket.ID.String()), zap.Error(err))
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to create purchase"}
	}

	s.logger.Info("Purchase created",
		zap.String("purchase_id", purchase.ID.String()),
		zap.String("ticket_id", ticket.ID.String()),
		zap.String("buyer_id", buyerID),
		zap.Int("quantity", purchase.Quantity),
		zap.Int64("total_price", purchase.TotalPrice),
		zap.Int("remaining", remaining))
	recordCount(s.metrics, awspkg.MetricPurchasesCreated, nil)
	recordCount(s.metrics, awspkg.MetricInventoryReserved, nil)
	publishEvents(ctx, s.publisher, s.logger,
		inventoryEvent(models.EventInventoryReserved, ticket.ID, purchase.ID, purchase.Quantity, remaining))

	resp := &models.PurchaseResponse{Purchase: purchase}
	if s.gateway == nil {
		resp.PaymentError = "payment gateway not configured"
		return resp, nil
	}

	payment, err := s.startPayment(ctx, ticket, purchase, req)
	if err != nil {
		s.logger.Warn("Failed to start payment",
			zap.String("purchase_id", purchase.ID.String()),
			zap.Error(err))
		resp.PaymentError = "Payment could not be started, please retry or cancel the purchase"
		return resp, nil
	}

	if err := s.purchases.AttachPayment(context.WithoutCancel(ctx), purchase.ID, payment.ID); err != nil && !errors.Is(err, repository.ErrTerminalState) {
		s.logger.Error("Failed to attach payment to purchase",
			zap.String("purchase_id", purchase.ID.String()),
			zap.String("payment_id", payment.ID),
			zap.Error(err))
	}
	if fresh, err := s.purchases.FindByID(ctx, purchase.ID); err == nil {
		resp.Purchase = fresh
	}
	return resp, nil
}

func (s *purchaseServiceImpl) startPayment(ctx context.Context, ticket *models.Ticket, purchase *models.Purchase, req *models.CreatePurchaseRequest) (*gateway.Payment, error) {
	gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	return s.gateway.CreatePayment(gwCtx, gateway.CreatePaymentRequest{
		ExternalReference: purchase.ID.String(),
		Amount:            purchase.TotalPrice,
		Currency:          purchase.Currency,
		Description:       fmt.Sprintf("%d x %s - %s", purchase.Quantity, ticket.Name, ticket.EventName),
		PaymentMethod:     req.PaymentMethod,
		PayerEmail:        req.PayerEmail,
		PayerName:         req.PayerName,
		PayerDocument:     req.PayerDocument,
		CardToken:         req.CardToken,
		Installments:      req.Installments,
		Metadata: map[string]string{
			"ticket_id": ticket.ID.String(),
			"buyer_id":  purchase.BuyerID,
		},
	})
}

func (s *purchaseServiceImpl) GetPurchase(ctx context.Context, buyerID string, id uuid.UUID) (*models.Purchase, *ServiceError) {
	purchase, err := s.purchases.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && purchase.BuyerID != buyerID) {
		return nil, &ServiceError{StatusCode: http.StatusNotFound, Message: "Purchase not found"}
	}
	if err != nil {
		s.logger.Error("Failed to load purchase", zap.String("purchase_id", id.String()), zap.Error(err))
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to load purchase"}
	}
	return purchase, nil
}

// CancelPurchase cancels a non-final purchase owned by buyerID and returns
// its stock.
func (s *purchaseServiceImpl) CancelPurchase(ctx context.Context, buyerID string, id uuid.UUID) (*models.Purchase, *ServiceError) {
	var (
		cancelled *models.Purchase
		released  bool
		remaining int
	)
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		purchase, err := tx.LockPurchase(id)
		if errors.Is(err, repository.ErrNotFound) {
			return errPurchaseNotOwned
		}
		if err != nil {
			return err
		}
		if purchase.BuyerID != buyerID {
			return errPurchaseNotOwned
		}
		if purchase.Status.IsTerminal() {
			return errPurchaseFinal
		}

		updates := map[string]interface{}{"status": models.PurchaseStatusCancelled}
		if purchase.StockReserved {
			remaining, err = releaseStock(tx, purchase.TicketID, purchase.Quantity)
			if err != nil {
				return err
			}
			updates["stock_reserved"] = false
			released = true
		}
		if err := tx.UpdatePurchase(purchase.ID, updates); err != nil {
			return err
		}

		purchase.Status = models.PurchaseStatusCancelled
		purchase.StockReserved = false
		cancelled = purchase
		return nil
	})
	switch {
	case errors.Is(err, errPurchaseNotOwned):
		return nil, &ServiceError{StatusCode: http.StatusNotFound, Message: "Purchase not found"}
	case errors.Is(err, errPurchaseFinal):
		return nil, &ServiceError{StatusCode: http.StatusConflict, Message: "Purchase can no longer be cancelled"}
	case err != nil:
		s.logger.Error("Failed to cancel purchase", zap.String("purchase_id", id.String()), zap.Error(err))
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to cancel purchase"}
	}

	s.logger.Info("Purchase cancelled by buyer",
		zap.String("purchase_id", id.String()),
		zap.String("buyer_id", buyerID),
		zap.Bool("stock_released", released))
	recordCount(s.metrics, awspkg.MetricPurchasesCanceled, nil)

	change := purchaseChange{purchase: cancelled, current: models.PurchaseStatusCancelled}
	events := []models.TicketEvent{}
	if released {
		recordCount(s.metrics, awspkg.MetricInventoryReleased, nil)
		change.remaining = &remaining
		events = append(events, inventoryEvent(models.EventInventoryReleased, cancelled.TicketID, cancelled.ID, cancelled.Quantity, remaining))
	}
	events = append(events, purchaseEvent(models.EventPurchaseCancelled, cancelled, change))
	publishEvents(ctx, s.publisher, s.logger, events...)
	return cancelled, nil
}
