package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/cast"

	awspkg "github.com/mitantsoa1/gns-preprod/pkg/aws"
)

type Config struct {
	Env  string `validate:"required"`
	Port string `validate:"required,numeric"`

	PostgresUser     string `validate:"required"`
	PostgresPassword string `validate:"required"`
	PostgresDB       string `validate:"required"`
	PostgresHost     string `validate:"required"`
	PostgresPort     string `validate:"required,numeric"`
	PostgresSSLMode  string
	PostgresTimeZone string

	StripeSecretKey  string `validate:"required"`
	StripeWebhookKey string `validate:"required"`

	// SQS queue receiving Stripe events forwarded by EventBridge. Optional.
	StripeEventsQueueURL string

	// Outbound payment events: "sns", "kafka" or "none".
	EventsBackend      string `validate:"oneof=sns kafka none"`
	PaymentSNSTopicARN string `validate:"required_if=EventsBackend sns"`
	KafkaBrokers       []string
	PaymentEventsTopic string

	// Bucket receiving archived admin exports. Optional.
	ExportBucket string

	RedisURL          string
	DashboardCacheTTL time.Duration

	JWTSecret      string
	AllowedOrigins string

	// Status given to a completed checkout whose payment_status is not "paid".
	CheckoutUnpaidStatus string `validate:"oneof=pending failed"`
	ReconcileMaxAttempts int    `validate:"min=1,max=20"`

	// Deferred events older than DeferredSweepMinAge are retried every
	// DeferredSweepInterval. Zero disables the sweeper.
	DeferredSweepInterval time.Duration
	DeferredSweepMinAge   time.Duration

	WebhookRateLimit int `validate:"min=1"` // requests per minute per IP
	RequestTimeout   time.Duration
}

// SecretGetter is satisfied by awspkg.SecretsClient.
type SecretGetter interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// LoadConfig reads the environment (after loading a .env file when present),
// applies Secrets Manager overrides when AWS_USE_SECRETS=true, and validates.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := fromEnv()

	if os.Getenv("AWS_USE_SECRETS") == "true" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		awsCfg, err := awspkg.LoadAWSConfig(ctx)
		if err != nil {
			return nil, err
		}
		if err := ApplySecrets(ctx, cfg, awspkg.NewSecretsClient(awsCfg)); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnv() *Config {
	return &Config{
		Env:                   getEnv("APP_ENV", "development"),
		Port:                  getEnv("PORT", "8087"),
		PostgresUser:          os.Getenv("POSTGRES_USER"),
		PostgresPassword:      os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:            os.Getenv("POSTGRES_DB"),
		PostgresHost:          os.Getenv("POSTGRES_HOST"),
		PostgresPort:          getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:       getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone:      getEnv("POSTGRES_TIMEZONE", "UTC"),
		StripeSecretKey:       os.Getenv("STRIPE_API_KEY"),
		StripeWebhookKey:      os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripeEventsQueueURL:  os.Getenv("STRIPE_EVENTS_QUEUE_URL"),
		EventsBackend:         strings.ToLower(getEnv("PAYMENT_EVENTS_BACKEND", "none")),
		PaymentSNSTopicARN:    os.Getenv("PAYMENT_SNS_TOPIC_ARN"),
		KafkaBrokers:          splitList(os.Getenv("KAFKA_BROKERS")),
		PaymentEventsTopic:    getEnv("PAYMENT_EVENTS_TOPIC", "payment-events"),
		ExportBucket:          os.Getenv("EXPORT_BUCKET"),
		RedisURL:              os.Getenv("REDIS_URL"),
		DashboardCacheTTL:     cast.ToDuration(getEnv("DASHBOARD_CACHE_TTL", "60s")),
		JWTSecret:             os.Getenv("JWT_SECRET"),
		AllowedOrigins:        getEnv("ALLOWED_ORIGINS", "http://localhost:3000"),
		CheckoutUnpaidStatus:  strings.ToLower(getEnv("CHECKOUT_UNPAID_STATUS", "pending")),
		ReconcileMaxAttempts:  cast.ToInt(getEnv("RECONCILE_MAX_ATTEMPTS", "5")),
		DeferredSweepInterval: cast.ToDuration(getEnv("DEFERRED_SWEEP_INTERVAL", "5m")),
		DeferredSweepMinAge:   cast.ToDuration(getEnv("DEFERRED_SWEEP_MIN_AGE", "2m")),
		WebhookRateLimit:      cast.ToInt(getEnv("WEBHOOK_RATE_LIMIT", "300")),
		RequestTimeout:        cast.ToDuration(getEnv("REQUEST_TIMEOUT", "15s")),
	}
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.EventsBackend == "kafka" && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("invalid configuration: KAFKA_BROKERS is required for the kafka events backend")
	}
	return nil
}

// ApplySecrets overrides database and Stripe credentials from the
// "gns/DB_CREDENTIALS" and "gns/STRIPE" JSON secrets. Missing secrets are
// ignored; unreadable or malformed ones are an error.
func ApplySecrets(ctx context.Context, cfg *Config, sm SecretGetter) error {
	db, err := readSecret(ctx, sm, "gns/DB_CREDENTIALS")
	if err != nil {
		return err
	}
	override(&cfg.PostgresUser, db["POSTGRES_USER"])
	override(&cfg.PostgresPassword, db["POSTGRES_PASSWORD"])
	override(&cfg.PostgresDB, db["POSTGRES_DB"])
	override(&cfg.PostgresHost, db["POSTGRES_HOST"])
	override(&cfg.PostgresPort, db["POSTGRES_PORT"])

	stripe, err := readSecret(ctx, sm, "gns/STRIPE")
	if err != nil {
		return err
	}
	override(&cfg.StripeSecretKey, stripe["STRIPE_API_KEY"])
	override(&cfg.StripeWebhookKey, stripe["STRIPE_WEBHOOK_SECRET"])
	return nil
}

func readSecret(ctx context.Context, sm SecretGetter, name string) (map[string]string, error) {
	raw, err := sm.GetSecret(ctx, name)
	if errors.Is(err, awspkg.ErrSecretNotFound) || (err == nil && raw == "") {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("secret %s is not a JSON object: %w", name, err)
	}
	return m, nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
