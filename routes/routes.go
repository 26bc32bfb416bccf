package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/torxytonnickertrux/ticketchecker/controllers"
	"github.com/torxytonnickertrux/ticketchecker/middleware"
	"github.com/torxytonnickertrux/ticketchecker/models"
)

// RegisterWebhookRoutes sets up the gateway callback endpoints. Callbacks are
// rate limited per client; the status endpoint is readable cross-origin.
func RegisterWebhookRoutes(r *gin.Engine, wc *controllers.WebhookController, limiter *middleware.RateLimiter, allowedOrigins []string) {
	webhookRoutes := r.Group("/webhooks")

	callbacks := webhookRoutes.Group("")
	if limiter != nil {
		callbacks.Use(middleware.RateLimitMiddleware(limiter))
	}
	callbacks.POST("/"+models.EnvironmentTest, wc.Receive(models.EnvironmentTest))
	callbacks.POST("/"+models.EnvironmentProduction, wc.Receive(models.EnvironmentProduction))

	webhookRoutes.GET("/ping", wc.Ping)

	statusRoutes := webhookRoutes.Group("/status")
	statusRoutes.Use(middleware.CORS(allowedOrigins))
	statusRoutes.GET("", wc.Status)
	statusRoutes.OPTIONS("", func(c *gin.Context) {})
}

// RegisterPurchaseRoutes sets up buyer purchase routes.
func RegisterPurchaseRoutes(r *gin.Engine, pc *controllers.PurchaseController) {
	purchaseRoutes := r.Group("/purchases")
	purchaseRoutes.Use(middleware.AuthMiddleware())
	purchaseRoutes.POST("", pc.CreatePurchase)
	purchaseRoutes.GET("/:id", pc.GetPurchase)
	purchaseRoutes.POST("/:id/cancel", pc.CancelPurchase)
}

// RegisterTicketRoutes sets up ticket catalogue routes. Writes require an
// identity from the API gateway.
func RegisterTicketRoutes(r *gin.Engine, tc *controllers.TicketController) {
	ticketRoutes := r.Group("/tickets")
	ticketRoutes.GET("/:id", tc.GetTicket)

	operatorRoutes := ticketRoutes.Group("")
	operatorRoutes.Use(middleware.AuthMiddleware())
	operatorRoutes.POST("", tc.CreateTicket)
	operatorRoutes.POST("/:id/reserve", tc.ReserveStock)
	operatorRoutes.POST("/:id/release", tc.ReleaseStock)
}
