package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/torxytonnickertrux/ticketchecker/models"
	awspkg "github.com/torxytonnickertrux/ticketchecker/pkg/aws"
)

const (
	ProviderMercadoPago = "mercadopago"
	ProviderStripe      = "stripe"

	SecretDBCredentials  = "ticketchecker/DB_CREDENTIALS"
	SecretWebhookSecrets = "ticketchecker/WEBHOOK_SECRETS"
)

type Config struct {
	Port   string
	AppEnv string

	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string

	WebhookSecretTest       string
	WebhookSecretProduction string
	WebhookTolerance        time.Duration
	WebhookRecentLimit      int

	GatewayProvider            string
	MercadoPagoTokenTest       string
	MercadoPagoTokenProduction string
	MercadoPagoBaseURL         string
	StripeKeyTest              string
	StripeKeyProduction        string
	GatewayTimeout             time.Duration
	PaymentEnvironment         string
	RequestTimeout             time.Duration
	ResponseCacheTTL           time.Duration
	RedisAddr                  string
	RedisPassword              string
	RedisDB                    int
	KafkaBrokers               []string
	KafkaTopic                 string
	TicketSNSTopicARN          string
	WebhookRelayQueueURL       string
	WebhookArchiveBucket       string
	AllowedOrigins             []string
	UseSecretsManager          bool
	CloudWatchEnabled          bool
	CloudWatchLogGroup         string
	CloudWatchNamespace        string
}

// SecretSource reads a secret stored as a flat JSON object.
type SecretSource interface {
	GetSecretMap(ctx context.Context, name string) (map[string]string, error)
}

// LoadConfig reads the environment (and a .env file when present). With
// AWS_USE_SECRETS=true the database credentials and webhook secrets are
// taken from Secrets Manager when found there.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := fromEnv()
	if err != nil {
		return nil, err
	}

	if cfg.UseSecretsManager {
		awsCfg, err := awspkg.LoadAWSConfig(context.Background())
		if err != nil {
			return nil, err
		}
		cfg.ApplySecrets(context.Background(), awspkg.NewSecretsClient(awsCfg))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnv() (*Config, error) {
	cfg := &Config{
		Port:                       getEnv("PORT", "8080"),
		AppEnv:                     getEnv("APP_ENV", "development"),
		PostgresUser:               os.Getenv("POSTGRES_USER"),
		PostgresPassword:           os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:                 os.Getenv("POSTGRES_DB"),
		PostgresHost:               os.Getenv("POSTGRES_HOST"),
		PostgresPort:               getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:            getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone:           getEnv("POSTGRES_TIMEZONE", "UTC"),
		WebhookSecretTest:          os.Getenv("WEBHOOK_SECRET_TEST"),
		WebhookSecretProduction:    os.Getenv("WEBHOOK_SECRET_PRODUCTION"),
		GatewayProvider:            strings.ToLower(getEnv("GATEWAY_PROVIDER", ProviderMercadoPago)),
		MercadoPagoTokenTest:       os.Getenv("MERCADOPAGO_ACCESS_TOKEN_TEST"),
		MercadoPagoTokenProduction: os.Getenv("MERCADOPAGO_ACCESS_TOKEN_PRODUCTION"),
		MercadoPagoBaseURL:         getEnv("MERCADOPAGO_BASE_URL", "https://api.mercadopago.com"),
		StripeKeyTest:              getEnv("STRIPE_API_KEY_TEST", os.Getenv("STRIPE_API_KEY")),
		StripeKeyProduction:        os.Getenv("STRIPE_API_KEY_PRODUCTION"),
		PaymentEnvironment:         strings.ToLower(getEnv("PAYMENT_ENVIRONMENT", models.EnvironmentTest)),
		RedisAddr:                  os.Getenv("REDIS_ADDR"),
		RedisPassword:              os.Getenv("REDIS_PASSWORD"),
		KafkaBrokers:               splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:                 getEnv("KAFKA_TOPIC", "ticket-events"),
		TicketSNSTopicARN:          os.Getenv("TICKET_SNS_TOPIC_ARN"),
		WebhookRelayQueueURL:       os.Getenv("WEBHOOK_RELAY_QUEUE_URL"),
		WebhookArchiveBucket:       os.Getenv("WEBHOOK_ARCHIVE_BUCKET"),
		AllowedOrigins:             splitList(getEnv("ALLOWED_ORIGINS", "*")),
		UseSecretsManager:          os.Getenv("AWS_USE_SECRETS") == "true",
		CloudWatchEnabled:          os.Getenv("CLOUDWATCH_ENABLED") == "true",
		CloudWatchLogGroup:         getEnv("CLOUDWATCH_LOG_GROUP", "/ticketchecker/services"),
		CloudWatchNamespace:        getEnv("CLOUDWATCH_NAMESPACE", "TicketChecker"),
	}

	toleranceSeconds, err := getInt("WEBHOOK_TOLERANCE_SECONDS", 300)
	if err != nil {
		return nil, err
	}
	cfg.WebhookTolerance = time.Duration(toleranceSeconds) * time.Second

	if cfg.WebhookRecentLimit, err = getInt("WEBHOOK_RECENT_LIMIT", 10); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.GatewayTimeout, err = getDuration("GATEWAY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = getDuration("REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ResponseCacheTTL, err = getDuration("RESPONSE_CACHE_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplySecrets overrides credentials with the values found in src. Missing
// secrets leave the environment values in place.
func (c *Config) ApplySecrets(ctx context.Context, src SecretSource) {
	if m, err := src.GetSecretMap(ctx, SecretDBCredentials); err == nil {
		override(&c.PostgresUser, m["POSTGRES_USER"])
		override(&c.PostgresPassword, m["POSTGRES_PASSWORD"])
		override(&c.PostgresDB, m["POSTGRES_DB"])
		override(&c.PostgresHost, m["POSTGRES_HOST"])
		override(&c.PostgresPort, m["POSTGRES_PORT"])
	}
	if m, err := src.GetSecretMap(ctx, SecretWebhookSecrets); err == nil {
		override(&c.WebhookSecretTest, m["WEBHOOK_SECRET_TEST"])
		override(&c.WebhookSecretProduction, m["WEBHOOK_SECRET_PRODUCTION"])
		override(&c.MercadoPagoTokenTest, m["MERCADOPAGO_ACCESS_TOKEN_TEST"])
		override(&c.MercadoPagoTokenProduction, m["MERCADOPAGO_ACCESS_TOKEN_PRODUCTION"])
		override(&c.StripeKeyTest, m["STRIPE_API_KEY_TEST"])
		override(&c.StripeKeyProduction, m["STRIPE_API_KEY_PRODUCTION"])
	}
}

func (c *Config) Validate() error {
	if c.PostgresUser == "" || c.PostgresPassword == "" || c.PostgresDB == "" || c.PostgresHost == "" {
		return fmt.Errorf("database config incomplete")
	}
	if c.WebhookSecretTest == "" {
		return fmt.Errorf("WEBHOOK_SECRET_TEST is required")
	}
	if c.WebhookTolerance <= 0 {
		return fmt.Errorf("WEBHOOK_TOLERANCE_SECONDS must be positive")
	}
	switch c.GatewayProvider {
	case ProviderMercadoPago, ProviderStripe:
	default:
		return fmt.Errorf("unsupported GATEWAY_PROVIDER %q", c.GatewayProvider)
	}
	switch c.PaymentEnvironment {
	case models.EnvironmentTest, models.EnvironmentProduction:
	default:
		return fmt.Errorf("unsupported PAYMENT_ENVIRONMENT %q", c.PaymentEnvironment)
	}
	return nil
}

// WebhookSecrets maps each environment that has a secret to it.
func (c *Config) WebhookSecrets() map[string]string {
	secrets := map[string]string{}
	if c.WebhookSecretTest != "" {
		secrets[models.EnvironmentTest] = c.WebhookSecretTest
	}
	if c.WebhookSecretProduction != "" {
		secrets[models.EnvironmentProduction] = c.WebhookSecretProduction
	}
	return secrets
}

// GatewayCredentials maps each environment to the key of the configured provider.
func (c *Config) GatewayCredentials() map[string]string {
	creds := map[string]string{}
	test, production := c.MercadoPagoTokenTest, c.MercadoPagoTokenProduction
	if c.GatewayProvider == ProviderStripe {
		test, production = c.StripeKeyTest, c.StripeKeyProduction
	}
	if test != "" {
		creds[models.EnvironmentTest] = test
	}
	if production != "" {
		creds[models.EnvironmentProduction] = production
	}
	return creds
}

func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresPort, c.PostgresSSLMode, c.PostgresTimeZone,
	)
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
