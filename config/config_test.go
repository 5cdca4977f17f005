package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"PORT", "LEDGER_BACKEND", "LEDGER_PATH", "SQLITE_PATH", "POSTGRES_DSN",
	"REDIS_ADDR", "RATE_LIMIT_RPM", "OPENAI_API_KEY", "ANTHROPIC_API_KEY",
	"OPENAI_MODEL", "CLAUDE_MODEL", "BUDGET_USD", "USER_TOTAL_LIMIT",
	"USER_DAILY_LIMIT", "LEDGER_TIMEZONE", "PROVIDER_TIMEOUT", "MAX_TOKENS",
	"OTEL_EXPORTER_TYPE", "OTEL_EXPORTER_ENDPOINT", "LOG_LEVEL",
}

// clearEnv unsets every variable Load reads; t.Setenv restores them.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected port 8080, got %s", cfg.Port)
	}
	if cfg.LedgerBackend != BackendFile || cfg.LedgerPath != "data/usage.json" {
		t.Errorf("Unexpected ledger settings %s %s", cfg.LedgerBackend, cfg.LedgerPath)
	}
	if cfg.Budget.String() != "150" {
		t.Errorf("Expected budget 150, got %s", cfg.Budget)
	}
	if cfg.UserTotalLimit != 10 || cfg.UserDailyLimit != 3 {
		t.Errorf("Unexpected limits %d/%d", cfg.UserTotalLimit, cfg.UserDailyLimit)
	}
	if cfg.ProviderTimeout != 30*time.Second || cfg.MaxTokens != 1000 {
		t.Errorf("Unexpected provider settings %s %d", cfg.ProviderTimeout, cfg.MaxTokens)
	}
	if cfg.OpenAIModel != "gpt-4o-mini" || cfg.ClaudeModel != "claude-3-5-sonnet-20241022" {
		t.Errorf("Unexpected models %s %s", cfg.OpenAIModel, cfg.ClaudeModel)
	}
	if cfg.Location != time.Local {
		t.Errorf("Expected local time zone, got %s", cfg.Location)
	}
	if cfg.RateLimitRPM != 20 || cfg.RedisAddr != "" {
		t.Errorf("Unexpected throttle settings %d %q", cfg.RateLimitRPM, cfg.RedisAddr)
	}
	if cfg.OTELExporterType != "stdout" || cfg.LogLevel != "info" {
		t.Errorf("Unexpected observability settings %s %s", cfg.OTELExporterType, cfg.LogLevel)
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("LEDGER_BACKEND", "Postgres")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/coach")
	t.Setenv("BUDGET_USD", "25.50")
	t.Setenv("USER_DAILY_LIMIT", "5")
	t.Setenv("LEDGER_TIMEZONE", "America/New_York")
	t.Setenv("PROVIDER_TIMEOUT", "5s")
	t.Setenv("OTEL_EXPORTER_TYPE", "none")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LedgerBackend != BackendPostgres {
		t.Errorf("Expected postgres backend, got %s", cfg.LedgerBackend)
	}
	if cfg.Budget.String() != "25.5" {
		t.Errorf("Expected budget 25.5, got %s", cfg.Budget)
	}
	if cfg.UserDailyLimit != 5 {
		t.Errorf("Expected daily limit 5, got %d", cfg.UserDailyLimit)
	}
	if cfg.Location.String() != "America/New_York" {
		t.Errorf("Unexpected location %s", cfg.Location)
	}
	if cfg.ProviderTimeout != 5*time.Second {
		t.Errorf("Unexpected timeout %s", cfg.ProviderTimeout)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"no provider keys", map[string]string{}, "OPENAI_API_KEY"},
		{"postgres without dsn", map[string]string{"OPENAI_API_KEY": "k", "LEDGER_BACKEND": "postgres"}, "POSTGRES_DSN"},
		{"unknown backend", map[string]string{"OPENAI_API_KEY": "k", "LEDGER_BACKEND": "mongo"}, "LEDGER_BACKEND"},
		{"bad budget", map[string]string{"OPENAI_API_KEY": "k", "BUDGET_USD": "lots"}, "BUDGET_USD"},
		{"negative budget", map[string]string{"OPENAI_API_KEY": "k", "BUDGET_USD": "-1"}, "BUDGET_USD"},
		{"zero limit", map[string]string{"OPENAI_API_KEY": "k", "USER_TOTAL_LIMIT": "0"}, "USER_TOTAL_LIMIT"},
		{"bad daily limit", map[string]string{"OPENAI_API_KEY": "k", "USER_DAILY_LIMIT": "three"}, "USER_DAILY_LIMIT"},
		{"bad timeout", map[string]string{"OPENAI_API_KEY": "k", "PROVIDER_TIMEOUT": "30"}, "PROVIDER_TIMEOUT"},
		{"bad timezone", map[string]string{"OPENAI_API_KEY": "k", "LEDGER_TIMEZONE": "Mars/Olympus"}, "LEDGER_TIMEZONE"},
		{"bad exporter", map[string]string{"OPENAI_API_KEY": "k", "OTEL_EXPORTER_TYPE": "zipkin"}, "OTEL_EXPORTER_TYPE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("Expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoad_ReportsAllProblems(t *testing.T) {
	clearEnv(t)
	t.Setenv("BUDGET_USD", "x")
	t.Setenv("MAX_TOKENS", "-5")

	_, err := Load()
	if err == nil {
		t.Fatal("Expected an error")
	}
	for _, want := range []string{"BUDGET_USD", "MAX_TOKENS", "OPENAI_API_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected %s in %v", want, err)
		}
	}
}
