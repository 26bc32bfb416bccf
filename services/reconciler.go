package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/torxytonnickertrux/ticketchecker/gateway"
	"github.com/torxytonnickertrux/ticketchecker/models"
	awspkg "github.com/torxytonnickertrux/ticketchecker/pkg/aws"
	"github.com/torxytonnickertrux/ticketchecker/repository"
	"go.uber.org/zap"
)

const DefaultGatewayLookupTimeout = 10 * time.Second

// MapGatewayStatus reads a raw gateway status as a payment outcome.
// Everything that is not final on the gateway side is pending.
func MapGatewayStatus(status string) models.PaymentOutcome {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case gateway.StatusApproved:
		return models.OutcomeApproved
	case gateway.StatusRejected:
		return models.OutcomeRejected
	case gateway.StatusCancelled, "canceled":
		return models.OutcomeCancelled
	default:
		return models.OutcomePending
	}
}

type ReconcilerDeps struct {
	Store         repository.Store
	Gateways      gateway.Registry
	Publisher     EventPublisher
	Log           *ProcessingLog
	Metrics       MetricsRecorder
	LookupTimeout time.Duration
	Logger        *zap.Logger
	Now           func() time.Time
}

// PaymentReconciler handles payment events. It asks the gateway for the
// authoritative payment state, then applies it to the purchase, the ticket
// stock, the notification record and the event row in one transaction.
type PaymentReconciler struct {
	store         repository.Store
	gateways      gateway.Registry
	publisher     EventPublisher
	plog          *ProcessingLog
	metrics       MetricsRecorder
	lookupTimeout time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

func NewPaymentReconciler(deps ReconcilerDeps) *PaymentReconciler {
	if deps.LookupTimeout <= 0 {
		deps.LookupTimeout = DefaultGatewayLookupTimeout
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Log == nil {
		deps.Log = NewProcessingLog(nil, deps.Logger)
	}
	return &PaymentReconciler{
		store:         deps.Store,
		gateways:      deps.Gateways,
		publisher:     deps.Publisher,
		plog:          deps.Log,
		metrics:       deps.Metrics,
		lookupTimeout: deps.LookupTimeout,
		logger:        deps.Logger,
		now:           deps.Now,
	}
}

// purchaseChange describes what one payment event did to its purchase.
type purchaseChange struct {
	purchase  *models.Purchase
	previous  models.PurchaseStatus
	current   models.PurchaseStatus
	skipped   bool
	reserved  bool
	released  bool
	remaining *int
}

func (r *PaymentReconciler) Handle(ctx context.Context, event *models.WebhookEvent, envelope *WebhookEnvelope) Outcome {
	paymentID := envelope.PaymentID()
	if paymentID == "" {
		return r.fail(ctx, event, ErrMissingPaymentID)
	}

	gw, err := r.gateways.Get(event.Environment)
	if err != nil {
		return r.fail(ctx, event, err)
	}

	r.plog.Info(ctx, event.ID, "Fetching payment from gateway", map[string]interface{}{
		"payment_id":  paymentID,
		"environment": event.Environment,
	})
	payment, err := r.lookup(ctx, gw, paymentID)
	if err != nil {
		return r.fail(ctx, event, err)
	}

	purchaseID, err := uuid.Parse(strings.TrimSpace(payment.ExternalReference))
	if err != nil {
		return r.fail(ctx, event, fmt.Errorf("%w: external reference %q", ErrPurchaseNotFound, payment.ExternalReference))
	}

	outcome := MapGatewayStatus(payment.Status)
	now := r.now().UTC()

	var (
		change purchaseChange
		result map[string]interface{}
	)
	// The request may be cancelled by now; the transaction must still run to
	// completion once started.
	err = r.store.WithTx(context.WithoutCancel(ctx), func(tx repository.Tx) error {
		purchase, err := tx.LockPurchase(purchaseID)
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrPurchaseNotFound, purchaseID)
		}
		if err != nil {
			return err
		}

		change, err = r.apply(tx, purchase, payment, outcome, now)
		if err != nil {
			return err
		}

		notification := &models.PaymentNotification{
			WebhookEventID:    event.ID,
			NotificationType:  outcome.NotificationType(),
			PaymentID:         payment.ID,
			ExternalReference: payment.ExternalReference,
			Amount:            payment.Amount,
			Currency:          defaultCurrency(payment.Currency),
			Outcome:           outcome,
			GatewayStatus:     payment.Status,
			PaymentMethod:     payment.PaymentMethod,
			SettledAt:         payment.SettledAt,
		}
		if err := tx.CreatePaymentNotification(notification); err != nil {
			return err
		}

		result = change.result(payment, outcome)
		return tx.FinalizeEvent(event.ID, acceptedOutcome(models.WebhookStatusProcessed, result, now))
	})
	if err != nil {
		return r.fail(ctx, event, err)
	}

	r.afterCommit(ctx, event, payment, outcome, change)
	return Outcome{Status: models.WebhookStatusProcessed, Result: result, Committed: true}
}

func (r *PaymentReconciler) lookup(ctx context.Context, gw gateway.Gateway, paymentID string) (*gateway.Payment, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	payment, err := gw.GetPayment(lookupCtx, paymentID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(lookupCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w fetching payment %s", ErrGatewayTimeout, paymentID)
		}
		return nil, fmt.Errorf("gateway lookup failed for payment %s: %w", paymentID, err)
	}
	return payment, nil
}

// apply moves the purchase according to outcome. Purchases already in a
// terminal status are left untouched.
func (r *PaymentReconciler) apply(tx repository.Tx, purchase *models.Purchase, payment *gateway.Payment, outcome models.PaymentOutcome, now time.Time) (purchaseChange, error) {
	change := purchaseChange{
		purchase: purchase,
		previous: purchase.Status,
		current:  purchase.Status,
	}
	if purchase.Status.IsTerminal() {
		change.skipped = true
		return change, nil
	}

	updates := map[string]interface{}{
		"payment_outcome": payment.Status,
	}
	if purchase.GatewayPaymentID == nil || *purchase.GatewayPaymentID != payment.ID {
		updates["gateway_payment_id"] = payment.ID
	}

	switch outcome {
	case models.OutcomeApproved:
		if !purchase.StockReserved {
			remaining, err := reserveStock(tx, purchase.TicketID, purchase.Quantity)
			if err != nil {
				return change, fmt.Errorf("reserve %d units of ticket %s: %w", purchase.Quantity, purchase.TicketID, err)
			}
			change.reserved = true
			change.remaining = &remaining
			updates["stock_reserved"] = true
		}
		settledAt := now
		if payment.SettledAt != nil {
			settledAt = payment.SettledAt.UTC()
		}
		updates["payment_settled_at"] = settledAt
		change.current = models.PurchaseStatusApproved

	case models.OutcomeRejected, models.OutcomeCancelled:
		if purchase.StockReserved {
			remaining, err := releaseStock(tx, purchase.TicketID, purchase.Quantity)
			if err != nil {
				return change, fmt.Errorf("release %d units of ticket %s: %w", purchase.Quantity, purchase.TicketID, err)
			}
			change.released = true
			change.remaining = &remaining
			updates["stock_reserved"] = false
		}
		change.current = models.PurchaseStatusRejected
		if outcome == models.OutcomeCancelled {
			change.current = models.PurchaseStatusCancelled
		}

	default:
		if purchase.Status == models.PurchaseStatusPending {
			change.current = models.PurchaseStatusProcessing
		}
	}

	if change.current != purchase.Status {
		updates["status"] = change.current
	}
	if err := tx.UpdatePurchase(purchase.ID, updates); err != nil {
		return change, err
	}
	return change, nil
}

func (c purchaseChange) result(payment *gateway.Payment, outcome models.PaymentOutcome) map[string]interface{} {
	result := map[string]interface{}{
		"payment_id":      payment.ID,
		"purchase_id":     c.purchase.ID.String(),
		"outcome":         string(outcome),
		"gateway_status":  payment.Status,
		"previous_status": string(c.previous),
		"purchase_status": string(c.current),
	}
	if c.skipped {
		result["skipped"] = "purchase already " + string(c.previous)
	}
	if c.remaining != nil {
		result["capacity_remaining"] = *c.remaining
	}
	return result
}

func (r *PaymentReconciler) afterCommit(ctx context.Context, event *models.WebhookEvent, payment *gateway.Payment, outcome models.PaymentOutcome, change purchaseChange) {
	purchase := change.purchase
	details := map[string]interface{}{
		"payment_id":      payment.ID,
		"purchase_id":     purchase.ID.String(),
		"outcome":         string(outcome),
		"previous_status": string(change.previous),
		"purchase_status": string(change.current),
	}

	if change.skipped {
		if outcome != models.OutcomePending && models.PurchaseStatus(outcome) != change.previous {
			r.plog.Warn(ctx, event.ID, "Payment outcome conflicts with a final purchase", details)
		} else {
			r.plog.Info(ctx, event.ID, "Purchase already final, nothing to apply", details)
		}
		return
	}
	r.plog.Info(ctx, event.ID, "Payment applied to purchase", details)

	var events []models.TicketEvent
	switch change.current {
	case models.PurchaseStatusApproved:
		if change.reserved {
			events = append(events, inventoryEvent(models.EventInventoryReserved, purchase.TicketID, purchase.ID, purchase.Quantity, *change.remaining))
		}
		events = append(events, purchaseEvent(models.EventPurchaseApproved, purchase, change))
		recordCount(r.metrics, awspkg.MetricPurchasesApproved, map[string]string{"Environment": event.Environment})
	case models.PurchaseStatusRejected, models.PurchaseStatusCancelled:
		if change.released {
			events = append(events, inventoryEvent(models.EventInventoryReleased, purchase.TicketID, purchase.ID, purchase.Quantity, *change.remaining))
		}
		eventType := models.EventPurchaseRejected
		metric := awspkg.MetricPurchasesRejected
		if change.current == models.PurchaseStatusCancelled {
			eventType = models.EventPurchaseCancelled
			metric = awspkg.MetricPurchasesCanceled
		}
		events = append(events, purchaseEvent(eventType, purchase, change))
		recordCount(r.metrics, metric, map[string]string{"Environment": event.Environment})
	}
	publishEvents(ctx, r.publisher, r.logger, events...)
}

func (r *PaymentReconciler) fail(ctx context.Context, event *models.WebhookEvent, err error) Outcome {
	r.plog.Error(ctx, event.ID, "Payment reconciliation failed", map[string]interface{}{
		"error": err.Error(),
	})
	return Outcome{Status: models.WebhookStatusFailed, Err: err}
}

func purchaseEvent(eventType string, purchase *models.Purchase, change purchaseChange) models.TicketEvent {
	return models.TicketEvent{
		EventType:  eventType,
		PurchaseID: purchase.ID.String(),
		TicketID:   purchase.TicketID.String(),
		BuyerID:    purchase.BuyerID,
		Quantity:   purchase.Quantity,
		Remaining:  change.remaining,
		Status:     string(change.current),
		Timestamp:  time.Now().UTC(),
	}
}

func defaultCurrency(currency string) string {
	if currency == "" {
		return "BRL"
	}
	return strings.ToUpper(currency)
}
