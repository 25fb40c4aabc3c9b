package config

import (
	"os"
	"testing"
)

func TestLoad(t *testing.T) {
	// Set required environment variables
	os.Setenv("READER_BEARER_TOKEN", "test-bearer-token")
	defer os.Unsetenv("READER_BEARER_TOKEN")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.ReaderBearerToken != "test-bearer-token" {
		t.Errorf("Expected ReaderBearerToken 'test-bearer-token', got '%s'", cfg.ReaderBearerToken)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	// Clear environment variables
	os.Unsetenv("READER_BEARER_TOKEN")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when required token is missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	os.Setenv("READER_BEARER_TOKEN", "test-bearer-token")
	defer os.Unsetenv("READER_BEARER_TOKEN")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Check defaults
	if cfg.ReaderAPIBaseURL != "https://api.elevenlabs.io" {
		t.Errorf("Expected default ReaderAPIBaseURL 'https://api.elevenlabs.io', got '%s'", cfg.ReaderAPIBaseURL)
	}

	if cfg.IdleTimeoutMs != 1500 {
		t.Errorf("Expected default IdleTimeoutMs 1500, got %d", cfg.IdleTimeoutMs)
	}

	if cfg.CharBudget != 1348 {
		t.Errorf("Expected default CharBudget 1348, got %d", cfg.CharBudget)
	}

	if cfg.CharBudgetHardCap != 1600 {
		t.Errorf("Expected default CharBudgetHardCap 1600, got %d", cfg.CharBudgetHardCap)
	}

	if cfg.MaxConnections != 64 {
		t.Errorf("Expected default MaxConnections 64, got %d", cfg.MaxConnections)
	}

	if cfg.BaseBackoffMs != 500 {
		t.Errorf("Expected default BaseBackoffMs 500, got %d", cfg.BaseBackoffMs)
	}

	if cfg.MaxBackoffMs != 10000 {
		t.Errorf("Expected default MaxBackoffMs 10000, got %d", cfg.MaxBackoffMs)
	}

	if cfg.TickerHz != 30 {
		t.Errorf("Expected default TickerHz 30, got %d", cfg.TickerHz)
	}

	if cfg.WordsBefore != 8 || cfg.WordsAfter != 8 {
		t.Errorf("Expected default highlight window 8/8, got %d/%d", cfg.WordsBefore, cfg.WordsAfter)
	}

	if cfg.AnchorPadMs != 50 {
		t.Errorf("Expected default AnchorPadMs 50, got %d", cfg.AnchorPadMs)
	}
}

func TestLoad_InvalidBudget(t *testing.T) {
	os.Setenv("READER_BEARER_TOKEN", "test-bearer-token")
	os.Setenv("STREAM_CHAR_BUDGET", "2000")
	os.Setenv("STREAM_CHAR_BUDGET_HARD_CAP", "1600")
	defer os.Unsetenv("READER_BEARER_TOKEN")
	defer os.Unsetenv("STREAM_CHAR_BUDGET")
	defer os.Unsetenv("STREAM_CHAR_BUDGET_HARD_CAP")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when hard cap is below budget")
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("READER_BEARER_TOKEN", "test-bearer-token")
	defer os.Unsetenv("READER_BEARER_TOKEN")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.ReaderBearerToken != "test-bearer-token" {
		t.Errorf("Expected ReaderBearerToken 'test-bearer-token', got '%s'", cfg.ReaderBearerToken)
	}
}

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_KEY", "test-value")
	defer os.Unsetenv("TEST_KEY")

	value := GetEnv("TEST_KEY", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = GetEnv("NON_EXISTENT_KEY", "default")
	if value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	os.Setenv("READER_BEARER_TOKEN", "test-bearer-token")
	defer os.Unsetenv("READER_BEARER_TOKEN")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Check resilience defaults
	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}

	if cfg.CircuitBreakerResetTimeout != 30 {
		t.Errorf("Expected default CircuitBreakerResetTimeout 30, got %d", cfg.CircuitBreakerResetTimeout)
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	os.Setenv("READER_BEARER_TOKEN", "test-bearer-token")
	// Clear LOG_LEVEL to ensure we get the default
	os.Unsetenv("LOG_LEVEL")
	defer os.Unsetenv("READER_BEARER_TOKEN")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Check observability defaults
	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}

	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}
