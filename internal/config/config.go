/**
 * Configuration for the notes OCR service
 *
 * Loads configuration from environment variables (optionally seeded from .env)
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds service configuration
type Config struct {
	// HTTP surface
	Port                  int
	MaxFileSize           int64
	MaxConcurrentRequests int
	RateLimitRPS          float64
	RateLimitBurst        int
	RequestTimeout        time.Duration
	BatchMaxFiles         int
	// TrustProxyHeaders keys rate limits on X-Forwarded-For / X-Real-IP.
	// Only enable behind a proxy that overwrites them.
	TrustProxyHeaders bool

	// Recognition engine
	OCREnabled       bool
	OCRLanguage      string
	OCRWorkers       int
	NormalizeDenoise bool

	// Remote analysis (K.A.N.A.)
	KanaAPIURL         string
	KanaEnabled        bool
	RemoteTextTimeout  time.Duration
	RemoteImageTimeout time.Duration

	// Remote analysis (Gemini)
	GoogleAPIKey string
	GeminiModel  string

	// Heuristic rule override
	AnalysisRulesFile string

	// Redis (cache + delivery queue); empty disables both
	RedisURL         string
	AnalysisCacheTTL time.Duration

	// Student delivery
	NotifyURL           string
	DeliveryQueue       string
	DeliveryConcurrency int
	DeliveryMaxRetry    int

	// Logging
	LogLevel  string
	LogFormat string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:                  getEnvAsIntOrDefault("PORT", 8001),
		MaxFileSize:           getEnvAsInt64OrDefault("MAX_FILE_SIZE", 10485760), // 10MiB
		MaxConcurrentRequests: getEnvAsIntOrDefault("MAX_CONCURRENT_REQUESTS", 16),
		RateLimitRPS:          getEnvAsFloatOrDefault("RATE_LIMIT_RPS", 2),
		RateLimitBurst:        getEnvAsIntOrDefault("RATE_LIMIT_BURST", 20),
		RequestTimeout:        getEnvAsDurationOrDefault("REQUEST_TIMEOUT", 120*time.Second),
		BatchMaxFiles:         getEnvAsIntOrDefault("BATCH_MAX_FILES", 10),
		TrustProxyHeaders:     getEnvAsBoolOrDefault("TRUST_PROXY_HEADERS", false),
		OCREnabled:            getEnvAsBoolOrDefault("OCR_ENABLED", true),
		OCRLanguage:           getEnvOrDefault("OCR_LANGUAGE", "eng"),
		OCRWorkers:            getEnvAsIntOrDefault("OCR_WORKERS", 2),
		NormalizeDenoise:      getEnvAsBoolOrDefault("NORMALIZE_DENOISE", false),
		KanaAPIURL:            strings.TrimRight(getEnvOrDefault("KANA_API_URL", "http://localhost:10000"), "/"),
		KanaEnabled:           getEnvAsBoolOrDefault("KANA_ENABLED", true),
		RemoteTextTimeout:     getEnvAsDurationOrDefault("REMOTE_TEXT_TIMEOUT", 30*time.Second),
		RemoteImageTimeout:    getEnvAsDurationOrDefault("REMOTE_IMAGE_TIMEOUT", 45*time.Second),
		GoogleAPIKey:          getEnvOrDefault("GOOGLE_API_KEY", ""),
		GeminiModel:           getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),
		AnalysisRulesFile:     getEnvOrDefault("ANALYSIS_RULES_FILE", ""),
		RedisURL:              getEnvOrDefault("REDIS_URL", ""),
		AnalysisCacheTTL:      getEnvAsDurationOrDefault("ANALYSIS_CACHE_TTL", time.Hour),
		NotifyURL:             strings.TrimRight(getEnvOrDefault("NOTIFY_URL", ""), "/"),
		DeliveryQueue:         getEnvOrDefault("DELIVERY_QUEUE", "notes:delivery"),
		DeliveryConcurrency:   getEnvAsIntOrDefault("DELIVERY_CONCURRENCY", 2),
		DeliveryMaxRetry:      getEnvAsIntOrDefault("DELIVERY_MAX_RETRY", 3),
		LogLevel:              getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:             getEnvOrDefault("LOG_FORMAT", "text"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 104857600 { // 1KB to 100MB
		return fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 100MB, got %d", c.MaxFileSize)
	}

	if c.MaxConcurrentRequests < 1 || c.MaxConcurrentRequests > 1024 {
		return fmt.Errorf("MAX_CONCURRENT_REQUESTS must be between 1 and 1024, got %d", c.MaxConcurrentRequests)
	}

	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive and RATE_LIMIT_BURST at least 1")
	}

	if c.OCRWorkers < 1 || c.OCRWorkers > 64 {
		return fmt.Errorf("OCR_WORKERS must be between 1 and 64, got %d", c.OCRWorkers)
	}

	if c.BatchMaxFiles < 1 || c.BatchMaxFiles > 100 {
		return fmt.Errorf("BATCH_MAX_FILES must be between 1 and 100, got %d", c.BatchMaxFiles)
	}

	if c.RemoteTextTimeout < time.Second || c.RemoteTextTimeout > 2*time.Minute {
		return fmt.Errorf("REMOTE_TEXT_TIMEOUT must be between 1s and 2m, got %v", c.RemoteTextTimeout)
	}

	if c.RemoteImageTimeout < c.RemoteTextTimeout || c.RemoteImageTimeout > 2*time.Minute {
		return fmt.Errorf("REMOTE_IMAGE_TIMEOUT must be between REMOTE_TEXT_TIMEOUT and 2m, got %v", c.RemoteImageTimeout)
	}

	if c.RequestTimeout < c.RemoteImageTimeout {
		return fmt.Errorf("REQUEST_TIMEOUT (%v) must not be shorter than REMOTE_IMAGE_TIMEOUT (%v)", c.RequestTimeout, c.RemoteImageTimeout)
	}

	if c.KanaEnabled && c.KanaAPIURL == "" {
		return fmt.Errorf("KANA_API_URL is required when KANA_ENABLED is true")
	}

	if c.DeliveryEnabled() && (c.DeliveryConcurrency < 1 || c.DeliveryConcurrency > 100) {
		return fmt.Errorf("DELIVERY_CONCURRENCY must be between 1 and 100, got %d", c.DeliveryConcurrency)
	}

	if c.DeliveryMaxRetry < 0 || c.DeliveryMaxRetry > 25 {
		return fmt.Errorf("DELIVERY_MAX_RETRY must be between 0 and 25, got %d", c.DeliveryMaxRetry)
	}

	return nil
}

// CacheEnabled reports whether remote analyses are cached in Redis
func (c *Config) CacheEnabled() bool {
	return c.RedisURL != "" && c.AnalysisCacheTTL > 0
}

// DeliveryEnabled reports whether analyses are queued for student delivery
func (c *Config) DeliveryEnabled() bool {
	return c.RedisURL != "" && c.NotifyURL != ""
}

// GeminiEnabled reports whether the Gemini remote tier is configured
func (c *Config) GeminiEnabled() bool {
	return c.GoogleAPIKey != ""
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDurationOrDefault accepts Go durations ("45s") or bare seconds ("45")
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}

	return defaultValue
}
