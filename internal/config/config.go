// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/aristath/allocator/internal/clients/yahoo"
	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/optimization"
)

// Config holds application configuration
type Config struct {
	LogLevel string
	Port     int
	DevMode  bool

	MaxWeight        float64 // default per-asset cap when a request omits max_weight
	ReturnPenalty    float64
	MaxIterations    int
	Tolerance        float64
	TimeoutSeconds   int
	FetchConcurrency int

	YahooMaxRetries        int
	YahooRequestsPerSecond float64
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		Port:             getEnvAsInt("GO_PORT", 8001),
		DevMode:          getEnvAsBool("DEV_MODE", false),
		MaxWeight:        getEnvAsFloat("OPTIMIZER_MAX_WEIGHT", optimization.DefaultMaxWeight),
		ReturnPenalty:    getEnvAsFloat("OPTIMIZER_RETURN_PENALTY", optimization.DefaultReturnPenalty),
		MaxIterations:    getEnvAsInt("OPTIMIZER_MAX_ITERATIONS", optimization.DefaultMaxIterations),
		Tolerance:        getEnvAsFloat("OPTIMIZER_TOLERANCE", optimization.DefaultFunctionTolerance),
		TimeoutSeconds:   getEnvAsInt("OPTIMIZER_TIMEOUT_SECONDS", int(optimization.DefaultTimeout/time.Second)),
		FetchConcurrency: getEnvAsInt("PRICE_FETCH_CONCURRENCY", optimization.DefaultFetchConcurrency),
		YahooMaxRetries:  getEnvAsInt("YAHOO_MAX_RETRIES", yahoo.DefaultMaxRetries),

		YahooRequestsPerSecond: getEnvAsFloat("YAHOO_REQUESTS_PER_SECOND", yahoo.DefaultRequestsPerSecond),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that every value is in range
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return &domain.ConfigurationError{Field: "GO_PORT", Message: fmt.Sprintf("invalid port %d", c.Port)}
	}
	if c.YahooMaxRetries <= 0 {
		return &domain.ConfigurationError{Field: "YAHOO_MAX_RETRIES", Message: "must be positive"}
	}
	if c.YahooRequestsPerSecond <= 0 {
		return &domain.ConfigurationError{Field: "YAHOO_REQUESTS_PER_SECOND", Message: "must be positive"}
	}
	return c.OptimizerConfig().Validate()
}

// OptimizerConfig converts the environment settings into solver settings.
// Knobs without an environment variable keep their defaults.
func (c *Config) OptimizerConfig() optimization.Config {
	cfg := optimization.DefaultConfig()
	cfg.MaxWeight = c.MaxWeight
	cfg.ReturnPenalty = c.ReturnPenalty
	cfg.MaxIterations = c.MaxIterations
	cfg.FunctionTolerance = c.Tolerance
	cfg.Timeout = time.Duration(c.TimeoutSeconds) * time.Second
	cfg.FetchConcurrency = c.FetchConcurrency
	return cfg
}

// YahooOptions returns the price client settings.
func (c *Config) YahooOptions() yahoo.Options {
	return yahoo.Options{
		MaxRetries:        c.YahooMaxRetries,
		RequestsPerSecond: c.YahooRequestsPerSecond,
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
