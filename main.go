package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/torxytonnickertrux/ticketchecker/config"
	"github.com/torxytonnickertrux/ticketchecker/controllers"
	"github.com/torxytonnickertrux/ticketchecker/database"
	"github.com/torxytonnickertrux/ticketchecker/gateway"
	"github.com/torxytonnickertrux/ticketchecker/kafka"
	"github.com/torxytonnickertrux/ticketchecker/logger"
	"github.com/torxytonnickertrux/ticketchecker/middleware"
	"github.com/torxytonnickertrux/ticketchecker/models"
	awspkg "github.com/torxytonnickertrux/ticketchecker/pkg/aws"
	"github.com/torxytonnickertrux/ticketchecker/repository"
	"github.com/torxytonnickertrux/ticketchecker/routes"
	"github.com/torxytonnickertrux/ticketchecker/services"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const serviceName = "ticketchecker"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Config load failed: %v", err)
	}

	// --- AWS setup (only when a feature needs it) ---
	var (
		awsCfg sdkaws.Config
		awsOK  bool
	)
	if cfg.CloudWatchEnabled || cfg.TicketSNSTopicARN != "" || cfg.WebhookRelayQueueURL != "" || cfg.WebhookArchiveBucket != "" {
		awsCfg, err = awspkg.LoadAWSConfig(context.Background())
		if err != nil {
			log.Printf("AWS config unavailable, AWS features disabled: %v", err)
		} else {
			awsOK = true
		}
	}

	// --- Logger, tee'd to CloudWatch Logs when enabled ---
	var logWriter io.Writer
	if awsOK && cfg.CloudWatchEnabled {
		cwLogs, err := awspkg.NewCloudWatchLogsClient(context.Background(), awsCfg, cfg.CloudWatchLogGroup, serviceName, true)
		if err != nil {
			log.Printf("CloudWatch Logs unavailable (non-fatal): %v", err)
		} else {
			logWriter = cwLogs
		}
	}
	appLogger := logger.InitializeWithWriter(cfg.AppEnv, logWriter)
	defer appLogger.Sync()

	// --- Database ---
	db, err := database.ConnectPostgres(cfg, appLogger, models.AllModels()...)
	if err != nil {
		appLogger.Fatal("DB connection failed", zap.Error(err))
	}

	store := repository.NewGormStore(db)
	ticketRepo := repository.NewGormTicketRepository(db)
	purchaseRepo := repository.NewGormPurchaseRepository(db)
	eventRepo := repository.NewGormWebhookEventRepository(db)
	logRepo := repository.NewGormWebhookLogRepository(db)

	// --- Metrics ---
	var metrics services.MetricsRecorder
	var metricsClient *awspkg.MetricsClient
	if awsOK && cfg.CloudWatchEnabled {
		metricsClient = awspkg.NewMetricsClient(awsCfg, cfg.CloudWatchNamespace, true)
		metrics = metricsClient
	}

	// --- Domain event publishers ---
	var publishers services.MultiPublisher
	var producer *kafka.TicketEventProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = kafka.NewTicketEventProducer(cfg.KafkaBrokers, cfg.KafkaTopic, appLogger)
		publishers = append(publishers, producer)
	}
	if awsOK && cfg.TicketSNSTopicARN != "" {
		publishers = append(publishers, services.NewSNSEventPublisher(awspkg.NewSNSClient(awsCfg), cfg.TicketSNSTopicARN))
	}
	var publisher services.EventPublisher
	if len(publishers) > 0 {
		publisher = publishers
	}

	// --- Response cache ---
	var cache services.ResponseCache
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			appLogger.Warn("Redis unreachable, responses will be served from the database", zap.Error(err))
		}
		cancel()
		cache = services.NewRedisResponseCache(redisClient, cfg.ResponseCacheTTL, appLogger)
	}

	// --- Raw payload archive ---
	var archiver services.PayloadArchiver
	if awsOK && cfg.WebhookArchiveBucket != "" {
		archiver = awspkg.NewS3Archiver(awsCfg, cfg.WebhookArchiveBucket)
	}

	// --- Payment gateways per environment ---
	gateways := gateway.Registry{}
	for env, credential := range cfg.GatewayCredentials() {
		switch cfg.GatewayProvider {
		case config.ProviderStripe:
			gateways[env] = gateway.NewStripeGateway(credential, nil)
		default:
			gateways[env] = gateway.NewMercadoPagoGateway(cfg.MercadoPagoBaseURL, credential, cfg.GatewayTimeout)
		}
	}
	purchaseGateway, err := gateways.Get(cfg.PaymentEnvironment)
	if err != nil {
		appLogger.Warn("No gateway credentials for purchases, payments will not be started",
			zap.String("environment", cfg.PaymentEnvironment), zap.Error(err))
		purchaseGateway = nil
	}

	// --- Webhook pipeline ---
	plog := services.NewProcessingLog(logRepo, appLogger)

	router := services.NewEventRouter(appLogger)
	router.Register(models.EventTypePayment, services.NewPaymentReconciler(services.ReconcilerDeps{
		Store:         store,
		Gateways:      gateways,
		Publisher:     publisher,
		Log:           plog,
		Metrics:       metrics,
		LookupTimeout: cfg.GatewayTimeout,
		Logger:        appLogger,
	}))
	router.Register(models.EventTypePlan, services.AcknowledgeOnly(plog))
	router.Register(models.EventTypeSubscription, services.AcknowledgeOnly(plog))
	router.Register(models.EventTypeInvoice, services.AcknowledgeOnly(plog))

	validators := map[string]*services.SignatureValidator{}
	for env, secret := range cfg.WebhookSecrets() {
		validators[env] = services.NewSignatureValidator(secret, cfg.WebhookTolerance)
	}

	webhookService := services.NewWebhookService(services.WebhookServiceDeps{
		Events:     eventRepo,
		Validators: validators,
		Router:     router,
		Cache:      cache,
		Archiver:   archiver,
		Log:        plog,
		Metrics:    metrics,
		Logger:     appLogger,
		StaleAfter: cfg.RequestTimeout + cfg.GatewayTimeout,
	})
	ticketService := services.NewTicketService(ticketRepo, appLogger)
	inventoryService := services.NewInventoryService(store, publisher, metrics, appLogger)
	purchaseService := services.NewPurchaseService(services.PurchaseServiceDeps{
		Store:          store,
		Tickets:        ticketRepo,
		Purchases:      purchaseRepo,
		Gateway:        purchaseGateway,
		Publisher:      publisher,
		Metrics:        metrics,
		GatewayTimeout: cfg.GatewayTimeout,
		Logger:         appLogger,
	})

	// --- HTTP router ---
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(appLogger))
	r.Use(middleware.MetricsMiddleware(metricsClient, serviceName))
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	stopCleanup := make(chan struct{})
	limiter := middleware.NewRateLimiter(rate.Every(time.Minute/600), 100, 5*time.Minute)
	limiter.StartCleanup(stopCleanup)

	routes.RegisterWebhookRoutes(r, controllers.NewWebhookController(webhookService, cfg.PaymentEnvironment, cfg.WebhookRecentLimit), limiter, cfg.AllowedOrigins)
	routes.RegisterPurchaseRoutes(r, controllers.NewPurchaseController(purchaseService))
	routes.RegisterTicketRoutes(r, controllers.NewTicketController(ticketService, inventoryService))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK", "service": serviceName})
	})

	// --- SQS relay intake ---
	relayCtx, stopRelay := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	if awsOK && cfg.WebhookRelayQueueURL != "" {
		consumer := awspkg.NewSQSConsumer(awsCfg, cfg.WebhookRelayQueueURL, appLogger)
		go func() {
			defer close(relayDone)
			_ = consumer.StartPolling(relayCtx, services.NewRelayHandler(webhookService, metrics, appLogger))
		}()
	} else {
		close(relayDone)
	}

	// --- HTTP server ---
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		appLogger.Info("Ticket checker started", zap.String("port", cfg.Port), zap.String("gateway", cfg.GatewayProvider))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("server failed", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Initiating graceful shutdown...")
	stopRelay()
	close(stopCleanup)

	httpShutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(httpShutdownCtx); err != nil {
		appLogger.Error("Server shutdown error", zap.Error(err))
	}

	select {
	case <-relayDone:
	case <-httpShutdownCtx.Done():
		appLogger.Warn("SQS relay did not stop in time")
	}

	if producer != nil {
		producer.Close()
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			appLogger.Error("Redis close error", zap.Error(err))
		}
	}
	if err := database.Close(db); err != nil {
		appLogger.Error("Database close error", zap.Error(err))
	}

	appLogger.Info("Ticket checker stopped gracefully")
}
