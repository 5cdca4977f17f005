package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Ledger backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Ledger storage
	LedgerBackend string // memory, file, postgres or sqlite
	LedgerPath    string // file backend, default: data/usage.json
	SQLitePath    string // sqlite backend, default: data/usage.db
	PostgresDSN   string

	// Cache
	RedisAddr string // optional, enables the per-user throttle

	// Providers
	OpenAIAPIKey    string
	AnthropicAPIKey string
	OpenAIModel     string
	ClaudeModel     string
	ProviderTimeout time.Duration
	MaxTokens       int

	// Limits
	Budget         decimal.Decimal
	UserTotalLimit int
	UserDailyLimit int
	Location       *time.Location

	// Observability
	OTELExporterType     string // "stdout", "otlp" or "none"
	OTELExporterEndpoint string // default: "localhost:4317"
	LogLevel             string

	// Rate Limiting
	RateLimitRPM int // requests per user per minute, default: 20
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		LedgerBackend:        strings.ToLower(getEnv("LEDGER_BACKEND", BackendFile)),
		LedgerPath:           getEnv("LEDGER_PATH", "data/usage.json"),
		SQLitePath:           getEnv("SQLITE_PATH", "data/usage.db"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIModel:          getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		ClaudeModel:          getEnv("CLAUDE_MODEL", "claude-3-5-sonnet-20241022"),
		OTELExporterType:     strings.ToLower(getEnv("OTEL_EXPORTER_TYPE", "stdout")),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}

	var errs []error
	var err error

	if cfg.Budget, err = decimal.NewFromString(getEnv("BUDGET_USD", "150.00")); err != nil {
		errs = append(errs, fmt.Errorf("invalid BUDGET_USD: %w", err))
	} else if cfg.Budget.IsNegative() {
		errs = append(errs, fmt.Errorf("BUDGET_USD must not be negative"))
	}

	if cfg.UserTotalLimit, err = getPositiveInt("USER_TOTAL_LIMIT", 10); err != nil {
		errs = append(errs, err)
	}
	if cfg.UserDailyLimit, err = getPositiveInt("USER_DAILY_LIMIT", 3); err != nil {
		errs = append(errs, err)
	}
	if cfg.MaxTokens, err = getPositiveInt("MAX_TOKENS", 1000); err != nil {
		errs = append(errs, err)
	}
	if cfg.RateLimitRPM, err = getPositiveInt("RATE_LIMIT_RPM", 20); err != nil {
		errs = append(errs, err)
	}

	if cfg.ProviderTimeout, err = time.ParseDuration(getEnv("PROVIDER_TIMEOUT", "30s")); err != nil {
		errs = append(errs, fmt.Errorf("invalid PROVIDER_TIMEOUT: %w", err))
	} else if cfg.ProviderTimeout <= 0 {
		errs = append(errs, fmt.Errorf("PROVIDER_TIMEOUT must be positive"))
	}

	if cfg.Location, err = time.LoadLocation(getEnv("LEDGER_TIMEZONE", "Local")); err != nil {
		errs = append(errs, fmt.Errorf("invalid LEDGER_TIMEZONE: %w", err))
	}

	// Validation
	switch cfg.LedgerBackend {
	case BackendMemory, BackendFile, BackendSQLite:
	case BackendPostgres:
		if cfg.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("POSTGRES_DSN is required for the postgres ledger backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LEDGER_BACKEND %q", cfg.LedgerBackend))
	}

	if cfg.OpenAIAPIKey == "" && cfg.AnthropicAPIKey == "" {
		errs = append(errs, fmt.Errorf("at least one of OPENAI_API_KEY or ANTHROPIC_API_KEY is required"))
	}

	switch cfg.OTELExporterType {
	case "stdout", "otlp", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown OTEL_EXPORTER_TYPE %q", cfg.OTELExporterType))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getPositiveInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
}
