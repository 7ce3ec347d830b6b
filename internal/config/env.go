package config

import (
	"os"
	"strconv"
	"time"
)

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("ROOMD_LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}

	// Pool
	if v := os.Getenv("ROOMD_ROOMS_TOTAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.Rooms = n
		}
	}
	if v := os.Getenv("ROOMD_LABS_TOTAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.Labs = n
		}
	}

	// Failover timings
	if v := os.Getenv("ROOMD_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Failover.HeartbeatInterval = d
		}
	}
	if v := os.Getenv("ROOMD_MAX_FAILED_HEARTBEATS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Failover.MaxFailedHeartbeats = n
		}
	}

	// Database settings
	cfg.Database.Driver = GetEnvOrDefault("ROOMD_DB_DRIVER", cfg.Database.Driver)
	cfg.Database.Postgres.Host = GetEnvOrDefault("ROOMD_DB_HOST", cfg.Database.Postgres.Host)
	cfg.Database.Postgres.Database = GetEnvOrDefault("ROOMD_DB_NAME", cfg.Database.Postgres.Database)
	cfg.Database.Postgres.User = GetEnvOrDefault("ROOMD_DB_USER", cfg.Database.Postgres.User)
	cfg.Database.Postgres.Password = GetEnvOrDefault("ROOMD_DB_PASSWORD", cfg.Database.Postgres.Password)
	if v := os.Getenv("ROOMD_DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Database.Postgres.Port = p
		}
	}

	// Operator auth
	cfg.Admin.JWTSecret = GetEnvOrDefault("ROOMD_ADMIN_SECRET", cfg.Admin.JWTSecret)
	cfg.Client.AdminToken = GetEnvOrDefault("ROOMD_ADMIN_TOKEN", cfg.Client.AdminToken)
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
