// Package config loads service settings from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// StorageFallback decides what happens when POSTGRES_URL is set but the
// database cannot be reached or migrated at startup.
type StorageFallback string

const (
	FallbackAbort  StorageFallback = "abort"
	FallbackMemory StorageFallback = "memory"
)

const DefaultProductName = "Signature Gift Set"

type Config struct {
	Port            string
	PostgresURL     string
	StorageFallback StorageFallback
	AutoMigrate     bool
	ProductName     string

	KafkaBrokers     []string
	OrderEventsTopic string

	RedisAddr      string
	IdempotencyTTL time.Duration

	OTLPEndpoint string
	LogLevel     string
	DebugErrors  bool

	NotifyServiceURL string
	MigrationsPath   string
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("STORAGE_FALLBACK", string(FallbackAbort))
	v.SetDefault("AUTO_MIGRATE", true)
	v.SetDefault("PRODUCT_NAME", DefaultProductName)
	v.SetDefault("ORDER_EVENTS_TOPIC", "order.events")
	v.SetDefault("IDEMPOTENCY_TTL", 24*time.Hour)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DEBUG_ERRORS", false)

	return v
}

// Option adjusts the loader before variables are read.
type Option func(*viper.Viper)

// WithDefault overrides the default of key, e.g. a per-binary PORT.
func WithDefault(key string, value any) Option {
	return func(v *viper.Viper) { v.SetDefault(key, value) }
}

// Load reads the configuration shared by the service binaries.
func Load(opts ...Option) (Config, error) {
	v := newViper()
	for _, opt := range opts {
		opt(v)
	}

	cfg := Config{
		Port:             v.GetString("PORT"),
		PostgresURL:      strings.TrimSpace(v.GetString("POSTGRES_URL")),
		StorageFallback:  StorageFallback(strings.ToLower(v.GetString("STORAGE_FALLBACK"))),
		AutoMigrate:      v.GetBool("AUTO_MIGRATE"),
		ProductName:      v.GetString("PRODUCT_NAME"),
		KafkaBrokers:     splitList(v.GetString("KAFKA_BROKERS")),
		OrderEventsTopic: v.GetString("ORDER_EVENTS_TOPIC"),
		RedisAddr:        strings.TrimSpace(v.GetString("REDIS_ADDR")),
		IdempotencyTTL:   v.GetDuration("IDEMPOTENCY_TTL"),
		OTLPEndpoint:     strings.TrimSpace(v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT")),
		LogLevel:         v.GetString("LOG_LEVEL"),
		DebugErrors:      v.GetBool("DEBUG_ERRORS"),
		NotifyServiceURL: strings.TrimRight(v.GetString("NOTIFY_SERVICE_URL"), "/"),
		MigrationsPath:   v.GetString("MIGRATIONS_PATH"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StorageFallback {
	case FallbackAbort, FallbackMemory:
	default:
		return fmt.Errorf("STORAGE_FALLBACK must be %q or %q, got %q", FallbackAbort, FallbackMemory, c.StorageFallback)
	}

	if c.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL must be positive, got %s", c.IdempotencyTTL)
	}
	return nil
}

// UsePostgres reports whether the relational store is configured.
func (c Config) UsePostgres() bool {
	return c.PostgresURL != ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
