package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/torxytonnickertrux/ticketchecker/models"
	awspkg "github.com/torxytonnickertrux/ticketchecker/pkg/aws"
	"github.com/torxytonnickertrux/ticketchecker/repository"
	"go.uber.org/zap"
)

// InventoryService adjusts remaining ticket capacity. Each call is one
// transaction holding the ticket row lock.
type InventoryService interface {
	// Reserve takes quantity units and returns the remaining capacity.
	Reserve(ctx context.Context, ticketID uuid.UUID, quantity int) (int, error)
	// Release gives quantity units back and returns the remaining capacity.
	Release(ctx context.Context, ticketID uuid.UUID, quantity int) (int, error)
}

type inventoryServiceImpl struct {
	store     repository.Store
	publisher EventPublisher
	metrics   MetricsRecorder
	logger    *zap.Logger
}

func NewInventoryService(store repository.Store, publisher EventPublisher, metrics MetricsRecorder, logger *zap.Logger) InventoryService {
	return &inventoryServiceImpl{store: store, publisher: publisher, metrics: metrics, logger: logger}
}

func (s *inventoryServiceImpl) Reserve(ctx context.Context, ticketID uuid.UUID, quantity int) (int, error) {
	var remaining int
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		remaining, err = reserveStock(tx, ticketID, quantity)
		return err
	})
	if err != nil {
		return remaining, err
	}

	s.logger.Info("Inventory reserved",
		zap.String("ticket_id", ticketID.String()),
		zap.Int("quantity", quantity),
		zap.Int("remaining", remaining))
	recordCount(s.metrics, awspkg.MetricInventoryReserved, nil)
	publishEvents(ctx, s.publisher, s.logger, inventoryEvent(models.EventInventoryReserved, ticketID, uuid.Nil, quantity, remaining))
	return remaining, nil
}

func (s *inventoryServiceImpl) Release(ctx context.Context, ticketID uuid.UUID, quantity int) (int, error) {
	var remaining int
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		remaining, err = releaseStock(tx, ticketID, quantity)
		return err
	})
	if err != nil {
		return remaining, err
	}

	s.logger.Info("Inventory released",
		zap.String("ticket_id", ticketID.String()),
		zap.Int("quantity", quantity),
		zap.Int("remaining", remaining))
	recordCount(s.metrics, awspkg.MetricInventoryReleased, nil)
	publishEvents(ctx, s.publisher, s.logger, inventoryEvent(models.EventInventoryReleased, ticketID, uuid.Nil, quantity, remaining))
	return remaining, nil
}

// reserveStock decrements capacity under the ticket lock. On
// ErrInsufficientStock it returns the unchanged remaining capacity.
func reserveStock(tx repository.Tx, ticketID uuid.UUID, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, ErrInvalidQuantity
	}
	ticket, err := tx.LockTicket(ticketID)
	if err != nil {
		return 0, err
	}
	if ticket.CapacityRemaining < quantity {
		return ticket.CapacityRemaining, repository.ErrInsufficientStock
	}
	if err := tx.DecrementCapacity(ticketID, quantity); err != nil {
		return ticket.CapacityRemaining, err
	}
	return ticket.CapacityRemaining - quantity, nil
}

// releaseStock increments capacity under the ticket lock. Remaining capacity
// never exceeds total capacity.
func releaseStock(tx repository.Tx, ticketID uuid.UUID, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, ErrInvalidQuantity
	}
	ticket, err := tx.LockTicket(ticketID)
	if err != nil {
		return 0, err
	}
	if ticket.CapacityRemaining+quantity > ticket.Capacity {
		return ticket.CapacityRemaining, fmt.Errorf("%w: %d more units on ticket %s with capacity %d", ErrCapacityExceeded, quantity, ticketID, ticket.Capacity)
	}
	if err := tx.IncrementCapacity(ticketID, quantity); err != nil {
		return ticket.CapacityRemaining, err
	}
	return ticket.CapacityRemaining + quantity, nil
}

func inventoryEvent(eventType string, ticketID, purchaseID uuid.UUID, quantity, remaining int) models.TicketEvent {
	event := models.TicketEvent{
		EventType: eventType,
		TicketID:  ticketID.String(),
		Quantity:  quantity,
		Remaining: &remaining,
		Timestamp: time.Now().UTC(),
	}
	if purchaseID != uuid.Nil {
		event.PurchaseID = purchaseID.String()
	}
	return event
}
