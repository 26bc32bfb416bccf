package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/torxytonnickertrux/ticketchecker/middleware"
	"github.com/torxytonnickertrux/ticketchecker/models"
	"github.com/torxytonnickertrux/ticketchecker/services"
)

// PurchaseController handles HTTP requests for purchases.
type PurchaseController struct {
	purchaseService services.PurchaseService
}

func NewPurchaseController(purchaseService services.PurchaseService) *PurchaseController {
	return &PurchaseController{purchaseService: purchaseService}
}

// CreatePurchase handles POST /purchases.
func (pc *PurchaseController) CreatePurchase(ctx *gin.Context) {
	buyerID, err := middleware.GetUserID(ctx)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req models.CreatePurchaseRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	resp, svcErr := pc.purchaseService.CreatePurchase(ctx.Request.Context(), buyerID, &req)
	if svcErr != nil {
		ctx.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}

	ctx.JSON(http.StatusCreated, resp)
}

// GetPurchase handles GET /purchases/:id.
func (pc *PurchaseController) GetPurchase(ctx *gin.Context) {
	buyerID, id, ok := purchaseTarget(ctx)
	if !ok {
		return
	}

	purchase, svcErr := pc.purchaseService.GetPurchase(ctx.Request.Context(), buyerID, id)
	if svcErr != nil {
		ctx.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"purchase": purchase})
}

// CancelPurchase handles POST /purchases/:id/cancel.
func (pc *PurchaseController) CancelPurchase(ctx *gin.Context) {
	buyerID, id, ok := purchaseTarget(ctx)
	if !ok {
		return
	}

	purchase, svcErr := pc.purchaseService.CancelPurchase(ctx.Request.Context(), buyerID, id)
	if svcErr != nil {
		ctx.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"purchase": purchase})
}

func purchaseTarget(ctx *gin.Context) (string, uuid.UUID, bool) {
	buyerID, err := middleware.GetUserID(ctx)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid purchase ID"})
		return "", uuid.Nil, false
	}
	return buyerID, id, true
}
