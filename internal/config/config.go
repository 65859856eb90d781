// Package config provides configuration management for the credsync service.
// It handles loading configuration from environment variables with sensible
// defaults and validates the configuration so the service starts safely.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//
// Database Configuration:
//   - DATABASE_TYPE: Database type - "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./credsync.db)
//   - POSTGRES_HOST: PostgreSQL host (required if using PostgreSQL)
//   - POSTGRES_PORT: PostgreSQL port (default: 5432)
//   - POSTGRES_DB: PostgreSQL database name (required if using PostgreSQL)
//   - POSTGRES_USER: PostgreSQL username (required if using PostgreSQL)
//   - POSTGRES_PASSWORD: PostgreSQL password
//   - POSTGRES_SSL_MODE: PostgreSQL SSL mode (default: disable)
//
// Redis Configuration (optional, enables the distributed batch run lock):
//   - REDIS_ADDRESS: Redis server address
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//
// Security Configuration:
//   - JWT_SECRET: JWT signing secret for the admin API (required, min 32 chars)
//   - CONFIG_ENCRYPTION_KEY: Key for encrypting stored credentials (required)
//   - REFRESH_TRIGGER_SECRET: Shared secret for the external refresh trigger
//
// Upstream / refresh behavior:
//   - PMS_TOKEN_URL: Upstream token endpoint (required)
//   - GRANT_TIMEOUT: Per-grant-call timeout (default: 15s)
//   - REFRESH_WINDOW: Look-ahead before expiry (default: 2h)
//   - REFRESH_CADENCE: Self-arming timer period (default: 20h)
//   - BATCH_TIMEOUT: Whole-batch ceiling (default: 10m)
//   - BATCH_WORKERS: Max concurrent tenant refreshes (default: 10)
//   - SELF_SCHEDULE_ENABLED: Force the in-process timer on/off; when unset the
//     timer arms itself only if REFRESH_TRIGGER_SECRET is empty
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the credsync service.
// All fields correspond to environment variables that can be set to override
// the default values. Load the configuration with Load() and check it with
// Validate() before use.
type Config struct {
	// Application settings
	Port     string // Server port number
	LogLevel string // Logging level (debug, info, warn, error)

	// Database configuration
	DatabaseType     string // Database type: "sqlite" or "postgres"
	DatabasePath     string // Path to SQLite database file
	PostgresHost     string // PostgreSQL host address
	PostgresPort     string // PostgreSQL port number
	PostgresDB       string // PostgreSQL database name
	PostgresUser     string // PostgreSQL username
	PostgresPassword string // PostgreSQL password
	PostgresSSLMode  string // PostgreSQL SSL mode (disable, require, etc.)

	// Redis configuration for distributed coordination (optional)
	RedisAddress  string // Redis server address (host:port)
	RedisPassword string // Redis authentication password
	RedisDB       string // Redis database number (0-15)

	// Security configuration
	JWTSecret            string // Secret key for admin API JWT validation (required)
	EncryptionKey        string // Key for encrypting stored credential material (required)
	RefreshTriggerSecret string // Shared secret accepted by the external refresh trigger

	// Upstream grant endpoint
	PMSTokenURL string // Token endpoint of the practice management provider

	// Refresh behavior
	GrantTimeout   time.Duration // Per-call timeout for grant requests
	RefreshWindow  time.Duration // Look-ahead window before token expiry
	RefreshCadence time.Duration // Period of the self-arming timer
	BatchTimeout   time.Duration // Ceiling for one whole batch run
	BatchWorkers   int           // Bounded parallelism for tenant refreshes

	// SelfScheduleEnabled arms the in-process timer. Defaults to true only when
	// no trigger secret is configured (no external scheduler wired).
	SelfScheduleEnabled bool
}

// Load creates a new Config instance with values loaded from environment
// variables. If an environment variable is not set, the corresponding default
// value is used. Call Validate() on the returned Config before use.
func Load() *Config {
	triggerSecret := getEnv("REFRESH_TRIGGER_SECRET", "")

	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./credsync.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "credsync"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),

		JWTSecret:            getEnv("JWT_SECRET", ""),
		EncryptionKey:        getEnv("CONFIG_ENCRYPTION_KEY", ""),
		RefreshTriggerSecret: triggerSecret,

		PMSTokenURL: getEnv("PMS_TOKEN_URL", ""),

		GrantTimeout:   getDurationEnv("GRANT_TIMEOUT", 15*time.Second),
		RefreshWindow:  getDurationEnv("REFRESH_WINDOW", 2*time.Hour),
		RefreshCadence: getDurationEnv("REFRESH_CADENCE", 20*time.Hour),
		BatchTimeout:   getDurationEnv("BATCH_TIMEOUT", 10*time.Minute),
		BatchWorkers:   getIntEnv("BATCH_WORKERS", 10),

		SelfScheduleEnabled: getBoolEnv("SELF_SCHEDULE_ENABLED", triggerSecret == ""),
	}
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv retrieves a boolean environment variable value or returns a default value.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getIntEnv retrieves an integer environment variable value or returns a default value.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv retrieves a duration environment variable value or returns a default value.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate performs comprehensive validation on the configuration to ensure
// all required fields are present and all values are valid. The application
// should call this after Load() and before starting.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long for security")
	}

	if c.EncryptionKey == "" {
		return fmt.Errorf("CONFIG_ENCRYPTION_KEY is required - stored credential material must be encrypted")
	}

	if c.PMSTokenURL == "" {
		return fmt.Errorf("PMS_TOKEN_URL environment variable is required")
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.DatabaseType {
	case "sqlite", "postgres", "postgresql":
		// Valid database types
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	if c.DatabaseType == "postgres" || c.DatabaseType == "postgresql" {
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	}

	if c.RedisAddress != "" {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
	}

	if c.GrantTimeout <= 0 {
		return fmt.Errorf("GRANT_TIMEOUT must be positive")
	}
	if c.RefreshWindow <= 0 {
		return fmt.Errorf("REFRESH_WINDOW must be positive")
	}
	if c.RefreshCadence <= 0 {
		return fmt.Errorf("REFRESH_CADENCE must be positive")
	}
	if c.BatchTimeout <= 0 {
		return fmt.Errorf("BATCH_TIMEOUT must be positive")
	}
	if c.BatchWorkers < 1 {
		return fmt.Errorf("BATCH_WORKERS must be a positive number")
	}

	// Without an external trigger secret and without the self-arming timer
	// nothing would ever refresh tokens.
	if c.RefreshTriggerSecret == "" && !c.SelfScheduleEnabled {
		return fmt.Errorf("either REFRESH_TRIGGER_SECRET or SELF_SCHEDULE_ENABLED must be configured")
	}

	return nil
}
