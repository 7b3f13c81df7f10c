package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// NextGen Enterprise API configuration
	NextGenBaseURL      string
	NextGenAuthURL      string
	NextGenClientID     string
	NextGenClientSecret string
	NextGenSiteID       string
	NextGenEnterpriseID string
	NextGenPracticeID   string
	NextGenLocationID   string
	NextGenTimeout      time.Duration

	// Engine tunables
	SessionTTL         time.Duration
	IdentityDenyLimit  int
	SlotPresentLimit   int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		NextGenBaseURL:      getEnv("NEXTGEN_BASE_URL", ""),
		NextGenAuthURL:      getEnv("NEXTGEN_AUTH_URL", ""),
		NextGenClientID:     getEnv("NEXTGEN_CLIENT_ID", ""),
		NextGenClientSecret: getEnv("NEXTGEN_CLIENT_SECRET", ""),
		NextGenSiteID:       getEnv("NEXTGEN_SITE_ID", ""),
		NextGenEnterpriseID: getEnv("NEXTGEN_ENTERPRISE_ID", ""),
		NextGenPracticeID:   getEnv("NEXTGEN_PRACTICE_ID", ""),
		NextGenLocationID:   getEnv("NEXTGEN_DEFAULT_LOCATION_ID", ""),
		NextGenTimeout:      getEnvAsDuration("NEXTGEN_TIMEOUT", 30*time.Second),

		SessionTTL:        getEnvAsDuration("SESSION_TTL", 24*time.Hour),
		IdentityDenyLimit: getEnvAsInt("IDENTITY_DENY_LIMIT", 2),
		SlotPresentLimit:  getEnvAsInt("SLOT_PRESENT_LIMIT", 3),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
