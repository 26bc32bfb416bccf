package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/torxytonnickertrux/ticketchecker/models"
	"github.com/torxytonnickertrux/ticketchecker/repository"
	"github.com/torxytonnickertrux/ticketchecker/services"
)

type TicketController struct {
	ticketService    services.TicketService
	inventoryService services.InventoryService
}

func NewTicketController(ticketService services.TicketService, inventoryService services.InventoryService) *TicketController {
	return &TicketController{ticketService: ticketService, inventoryService: inventoryService}
}

// CreateTicket handles POST /tickets.
func (tc *TicketController) CreateTicket(ctx *gin.Context) {
	var req models.CreateTicketRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	ticket, svcErr := tc.ticketService.CreateTicket(ctx.Request.Context(), &req)
	if svcErr != nil {
		ctx.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"ticket": ticket})
}

// GetTicket handles GET /tickets/:id.
func (tc *TicketController) GetTicket(ctx *gin.Context) {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ticket ID"})
		return
	}

	ticket, svcErr := tc.ticketService.GetTicket(ctx.Request.Context(), id)
	if svcErr != nil {
		ctx.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"ticket": ticket})
}

// ReserveStock handles POST /tickets/:id/reserve for sales made outside the
// purchase flow, such as the box office.
func (tc *TicketController) ReserveStock(ctx *gin.Context) {
	tc.adjustStock(ctx, tc.inventoryService.Reserve)
}

// ReleaseStock handles POST /tickets/:id/release.
func (tc *TicketController) ReleaseStock(ctx *gin.Context) {
	tc.adjustStock(ctx, tc.inventoryService.Release)
}

func (tc *TicketController) adjustStock(ctx *gin.Context, adjust func(context.Context, uuid.UUID, int) (int, error)) {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ticket ID"})
		return
	}
	var req models.AdjustStockRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	remaining, err := adjust(ctx.Request.Context(), id, req.Quantity)
	switch {
	case err == nil:
		ctx.JSON(http.StatusOK, gin.H{"ticket_id": id, "capacity_remaining": remaining})
	case errors.Is(err, repository.ErrNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": "Ticket not found"})
	case errors.Is(err, repository.ErrInsufficientStock):
		ctx.JSON(http.StatusConflict, gin.H{"error": "Not enough tickets available", "capacity_remaining": remaining})
	case errors.Is(err, services.ErrCapacityExceeded):
		ctx.JSON(http.StatusConflict, gin.H{"error": "Release exceeds ticket capacity", "capacity_remaining": remaining})
	case errors.Is(err, services.ErrInvalidQuantity):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update ticket stock"})
	}
}
