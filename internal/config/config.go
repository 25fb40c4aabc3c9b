package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the reader stream gateway
type Config struct {
	// Reader API configuration
	ReaderAPIBaseURL  string `envconfig:"READER_API_BASE_URL" default:"https://api.elevenlabs.io"`
	ReaderBearerToken string `envconfig:"READER_BEARER_TOKEN" required:"true"`
	ReaderVoiceID     string `envconfig:"READER_VOICE_ID" default:"nPczCjzI2devNBz1zQrb"` // Default narrator voice
	DeviceID          string `envconfig:"READER_DEVICE_ID" default:""`                    // Uppercased UUID; generated when empty
	AppCheckToken     string `envconfig:"READER_APP_CHECK_TOKEN" default:""`              // Optional xi-app-check-token header

	// Streaming configuration
	IdleTimeoutMs     int `envconfig:"STREAM_IDLE_TIMEOUT_MS" default:"1500"`      // Receive-wait window before a natural rollover
	CharBudget        int `envconfig:"STREAM_CHAR_BUDGET" default:"1348"`          // Per-connection accepted character target
	CharBudgetHardCap int `envconfig:"STREAM_CHAR_BUDGET_HARD_CAP" default:"1600"` // Safety cap when no separator appears
	MaxConnections    int `envconfig:"STREAM_MAX_CONNECTIONS" default:"64"`        // Hard ceiling on reconnect attempts
	BaseBackoffMs     int `envconfig:"STREAM_BASE_BACKOFF_MS" default:"500"`       // Initial backoff after a failed connection
	MaxBackoffMs      int `envconfig:"STREAM_MAX_BACKOFF_MS" default:"10000"`      // Backoff ceiling
	BackoffJitterMs   int `envconfig:"STREAM_BACKOFF_JITTER_MS" default:"250"`     // Random jitter added to each backoff
	ConnectTimeoutMs  int `envconfig:"STREAM_CONNECT_TIMEOUT_MS" default:"10000"`  // Websocket dial timeout

	// Highlight ticker configuration
	TickerHz       int `envconfig:"HIGHLIGHT_TICKER_HZ" default:"30"`        // Word-highlight update rate
	WordsBefore    int `envconfig:"HIGHLIGHT_WORDS_BEFORE" default:"8"`      // Context words before the highlighted word
	WordsAfter     int `envconfig:"HIGHLIGHT_WORDS_AFTER" default:"8"`       // Context words after the highlighted word
	AnchorPadMs    int `envconfig:"HIGHLIGHT_ANCHOR_PAD_MS" default:"50"`    // Pad between chained timing blocks
	FallbackStepMs int `envconfig:"HIGHLIGHT_FALLBACK_STEP_MS" default:"40"` // Per-char step when timing data is missing

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
	MetricsPort    string `envconfig:"METRICS_PORT" default:"9090"`    // Port for the /metrics endpoint
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Validate required fields
	if cfg.ReaderBearerToken == "" {
		return nil, fmt.Errorf("READER_BEARER_TOKEN is required")
	}
	if cfg.CharBudget <= 0 {
		return nil, fmt.Errorf("STREAM_CHAR_BUDGET must be positive")
	}
	if cfg.CharBudgetHardCap < cfg.CharBudget {
		return nil, fmt.Errorf("STREAM_CHAR_BUDGET_HARD_CAP must be >= STREAM_CHAR_BUDGET")
	}
	if cfg.MaxConnections <= 0 {
		return nil, fmt.Errorf("STREAM_MAX_CONNECTIONS must be positive")
	}

	return &cfg, nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
