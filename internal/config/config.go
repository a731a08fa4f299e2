package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppPort         = "8080"
	defaultCatalogTimeout  = 5 * time.Second
	defaultStripeTimeout   = 10 * time.Second
	defaultCurrency        = "usd"
	defaultOrderTopic      = "order-status-changed"
	defaultCatalogTopic    = "catalog-deletions"
	defaultKafkaGroupID    = "order-service"
	defaultDBMaxOpenConns  = 25
	defaultDBMaxIdleConns  = 5
	defaultWebhookMaxBytes = 64 << 10
	defaultCORSOrigin      = "http://localhost:3000"
	defaultServiceName     = "order-service"
	defaultTracingExporter = "none"
	defaultSampleRatio     = 1.0
)

type Config struct {
	DBHost         string
	DBUser         string
	DBPassword     string
	DBName         string
	DBPort         string
	DBMaxOpenConns int
	DBMaxIdleConns int

	AppPort            string
	AppEnv             string
	JWTSecret          string
	InternalSecretKey  string
	CORSAllowedOrigins []string

	CatalogBaseURL string
	CatalogTimeout time.Duration

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeTimeout       time.Duration
	PaymentSuccessURL   string
	PaymentCancelURL    string
	PaymentCurrency     string
	WebhookMaxBytes     int64

	KafkaBrokers      []string
	KafkaOrderTopic   string
	KafkaCatalogTopic string
	KafkaGroupID      string

	ServiceName        string
	TracingExporter    string
	TracingSampleRatio float64
}

var ErrMissingDBHost = errors.New("config: DB_HOST is not set")

func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:         os.Getenv("DB_HOST"),
		DBUser:         os.Getenv("DB_USER"),
		DBPassword:     os.Getenv("DB_PASSWORD"),
		DBName:         os.Getenv("DB_NAME"),
		DBPort:         os.Getenv("DB_PORT"),
		DBMaxOpenConns: intOr("DB_MAX_OPEN_CONNS", defaultDBMaxOpenConns),
		DBMaxIdleConns: intOr("DB_MAX_IDLE_CONNS", defaultDBMaxIdleConns),

		AppPort:            stringOr("APP_PORT", defaultAppPort),
		AppEnv:             os.Getenv("APP_ENV"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		InternalSecretKey:  os.Getenv("INTERNAL_SECRET_KEY"),
		CORSAllowedOrigins: splitList(stringOr("CORS_ALLOWED_ORIGINS", defaultCORSOrigin)),

		CatalogBaseURL: strings.TrimRight(os.Getenv("CATALOG_BASE_URL"), "/"),
		CatalogTimeout: durationOr("CATALOG_TIMEOUT", defaultCatalogTimeout),

		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripeTimeout:       durationOr("STRIPE_TIMEOUT", defaultStripeTimeout),
		PaymentSuccessURL:   os.Getenv("PAYMENT_SUCCESS_URL"),
		PaymentCancelURL:    os.Getenv("PAYMENT_CANCEL_URL"),
		PaymentCurrency:     strings.ToLower(stringOr("PAYMENT_CURRENCY", defaultCurrency)),
		WebhookMaxBytes:     int64(intOr("WEBHOOK_MAX_BYTES", defaultWebhookMaxBytes)),

		KafkaBrokers:      splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaOrderTopic:   stringOr("KAFKA_ORDER_TOPIC", defaultOrderTopic),
		KafkaCatalogTopic: stringOr("KAFKA_CATALOG_TOPIC", defaultCatalogTopic),
		KafkaGroupID:      stringOr("KAFKA_GROUP_ID", defaultKafkaGroupID),

		ServiceName:        stringOr("SERVICE_NAME", defaultServiceName),
		TracingExporter:    strings.ToLower(stringOr("TRACING_EXPORTER", defaultTracingExporter)),
		TracingSampleRatio: ratioOr("TRACING_SAMPLE_RATIO", defaultSampleRatio),
	}

	if cfg.DBHost == "" {
		return nil, ErrMissingDBHost
	}

	return cfg, nil
}

func stringOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func intOr(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func ratioOr(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil || v < 0 || v > 1 {
		return fallback
	}
	return v
}

// durationOr never returns a non-positive duration so remote calls stay bounded.
func durationOr(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
