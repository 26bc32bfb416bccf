package services

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/torxytonnickertrux/ticketchecker/models"
	"github.com/torxytonnickertrux/ticketchecker/repository"
	"go.uber.org/zap"
)

type TicketService interface {
	CreateTicket(ctx context.Context, req *models.CreateTicketRequest) (*models.Ticket, *ServiceError)
	GetTicket(ctx context.Context, id uuid.UUID) (*models.Ticket, *ServiceError)
}

type ticketServiceImpl struct {
	repo   repository.TicketRepository
	logger *zap.Logger
}

func NewTicketService(repo repository.TicketRepository, logger *zap.Logger) TicketService {
	return &ticketServiceImpl{repo: repo, logger: logger}
}

func (s *ticketServiceImpl) CreateTicket(ctx context.Context, req *models.CreateTicketRequest) (*models.Ticket, *ServiceError) {
	ticket := &models.Ticket{
		Name:              strings.TrimSpace(req.Name),
		EventName:         strings.TrimSpace(req.EventName),
		Price:             req.Price,
		Currency:          defaultCurrency(req.Currency),
		Capacity:          req.Capacity,
		CapacityRemaining: req.Capacity,
		MaxPerBuyer:       req.MaxPerBuyer,
		IsActive:          true,
	}
	if ticket.MaxPerBuyer == 0 {
		ticket.MaxPerBuyer = models.DefaultMaxPerBuyer
	}
	if req.IsActive != nil {
		ticket.IsActive = *req.IsActive
	}

	if err := s.repo.Create(ctx, ticket); err != nil {
		s.logger.Error("Failed to create ticket", zap.String("name", ticket.Name), zap.Error(err))
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to create ticket"}
	}

	s.logger.Info("Ticket created",
		zap.String("ticket_id", ticket.ID.String()),
		zap.String("event_name", ticket.EventName),
		zap.Int("capacity", ticket.Capacity))
	return ticket, nil
}

func (s *ticketServiceImpl) GetTicket(ctx context.Context, id uuid.UUID) (*models.Ticket, *ServiceError) {
	ticket, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &ServiceError{StatusCode: http.StatusNotFound, Message: "Ticket not found"}
	}
	if err != nil {
		s.logger.Error("Failed to load ticket", zap.String("ticket_id", id.String()), zap.Error(err))
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to load ticket"}
	}
	return ticket, nil
}
