package controllers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/torxytonnickertrux/ticketchecker/services"
)

const maxWebhookBodyBytes = 1 << 20

// WebhookController exposes the gateway callback endpoints.
type WebhookController struct {
	webhookService     services.WebhookService
	defaultEnvironment string
	recentLimit        int
	now                func() time.Time
}

func NewWebhookController(webhookService services.WebhookService, defaultEnvironment string, recentLimit int) *WebhookController {
	if recentLimit <= 0 {
		recentLimit = services.DefaultRecentLimit
	}
	return &WebhookController{
		webhookService:     webhookService,
		defaultEnvironment: defaultEnvironment,
		recentLimit:        recentLimit,
		now:                time.Now,
	}
}

// Receive handles POST /webhooks/<environment>. The raw body is handed over
// untouched because the signature covers its exact bytes.
func (wc *WebhookController) Receive(environment string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxWebhookBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				ctx.JSON(http.StatusRequestEntityTooLarge, gin.H{"status": "error", "message": "Payload too large"})
				return
			}
			ctx.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid JSON"})
			return
		}

		result := wc.webhookService.Ingest(ctx.Request.Context(), services.IngestRequest{
			Environment:   environment,
			Body:          body,
			Signature:     ctx.GetHeader(services.HeaderSignature),
			Timestamp:     ctx.GetHeader(services.HeaderSignatureTimestamp),
			SourceAddress: clientAddress(ctx),
		})
		ctx.Data(result.StatusCode, "application/json; charset=utf-8", result.Body)
	}
}

// Ping handles GET /webhooks/ping.
func (wc *WebhookController) Ping(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"message":     "Webhook endpoint is working",
		"timestamp":   wc.now().UTC().Format(time.RFC3339),
		"environment": wc.defaultEnvironment,
	})
}

// Status handles GET /webhooks/status?limit=N.
func (wc *WebhookController) Status(ctx *gin.Context) {
	limit := wc.recentLimit
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	stats, recent, svcErr := wc.webhookService.Status(ctx.Request.Context(), limit)
	if svcErr != nil {
		ctx.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"statistics":    stats,
		"recent_events": recent,
	})
}

// clientAddress prefers the first X-Forwarded-For hop over the socket peer.
func clientAddress(ctx *gin.Context) string {
	if fwd := ctx.GetHeader("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			if len(first) > 64 {
				first = first[:64]
			}
			return first
		}
	}
	return ctx.ClientIP()
}
