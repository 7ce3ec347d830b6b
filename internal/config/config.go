package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/FairForge/roomd/internal/database"
	"github.com/FairForge/roomd/internal/ledger"
	"gopkg.in/yaml.v3"
)

// Server roles
const (
	RolePrimary = "primary"
	RoleBackup  = "backup"
)

// Store drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Pool        ledger.Totals     `yaml:"pool"`
	Replication ReplicationConfig `yaml:"replication"`
	Failover    FailoverConfig    `yaml:"failover"`
	Database    DatabaseConfig    `yaml:"database"`
	Admin       AdminConfig       `yaml:"admin"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Client      ClientConfig      `yaml:"client"`
}

type ServerConfig struct {
	Role       string `yaml:"role"`
	ListenAddr string `yaml:"listen_addr"` // allocation endpoint
	SyncAddr   string `yaml:"sync_addr"`   // backup only
	HealthAddr string `yaml:"health_addr"`
	LogLevel   string `yaml:"log_level"`
}

type ReplicationConfig struct {
	BackupAddr string        `yaml:"backup_addr"` // empty disables replication
	Timeout    time.Duration `yaml:"timeout"`
}

type FailoverConfig struct {
	PrimaryHealthAddr   string        `yaml:"primary_health_addr"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout    time.Duration `yaml:"heartbeat_timeout"`
	MaxFailedHeartbeats int           `yaml:"max_failed_heartbeats"`
}

type DatabaseConfig struct {
	Driver   string          `yaml:"driver"`
	Postgres database.Config `yaml:"postgres"`
}

type AdminConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	Burst             int `yaml:"burst"`
}

type ClientConfig struct {
	PrimaryAddr string        `yaml:"primary_addr"`
	BackupAddr  string        `yaml:"backup_addr"`
	Timeout     time.Duration `yaml:"timeout"`
	AdminAddr   string        `yaml:"admin_addr"`
	AdminToken  string        `yaml:"admin_token"`
}

// Default returns the stock two-server layout: 450 rooms, 140 labs,
// heartbeats every 3s with a 5s timeout and promotion after 3 misses
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Role:       RolePrimary,
			ListenAddr: ":5555",
			SyncAddr:   ":5556",
			HealthAddr: ":5557",
			LogLevel:   "info",
		},
		Pool: ledger.Totals{Rooms: 450, Labs: 140},
		Replication: ReplicationConfig{
			Timeout: 2 * time.Second,
		},
		Failover: FailoverConfig{
			HeartbeatInterval:   3 * time.Second,
			HeartbeatTimeout:    5 * time.Second,
			MaxFailedHeartbeats: 3,
		},
		Database: DatabaseConfig{
			Driver: DriverMemory,
			Postgres: database.Config{
				Host:     "localhost",
				Port:     5432,
				Database: "roomd",
				User:     "roomd",
				SSLMode:  "disable",
			},
		},
		Admin: AdminConfig{
			TokenTTL: 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
		},
		Client: ClientConfig{
			PrimaryAddr: "localhost:5555",
			Timeout:     5 * time.Second,
			AdminAddr:   "localhost:5555",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the settings a server needs for its role
func (c *Config) Validate() error {
	var errs []error

	switch c.Server.Role {
	case RolePrimary:
	case RoleBackup:
		if strings.TrimSpace(c.Failover.PrimaryHealthAddr) == "" {
			errs = append(errs, errors.New("failover.primary_health_addr is required for a backup"))
		}
		if c.Server.SyncAddr == "" {
			errs = append(errs, errors.New("server.sync_addr is required for a backup"))
		}
	default:
		errs = append(errs, fmt.Errorf("server.role must be %q or %q, got %q", RolePrimary, RoleBackup, c.Server.Role))
	}

	if c.Server.ListenAddr == "" || c.Server.HealthAddr == "" {
		errs = append(errs, errors.New("server.listen_addr and server.health_addr are required"))
	}
	if c.Pool.Rooms < 0 || c.Pool.Labs < 0 {
		errs = append(errs, errors.New("pool totals must not be negative"))
	}
	if c.Failover.MaxFailedHeartbeats < 1 {
		errs = append(errs, errors.New("failover.max_failed_heartbeats must be at least 1"))
	}
	if c.Failover.HeartbeatInterval <= 0 || c.Failover.HeartbeatTimeout <= 0 || c.Replication.Timeout <= 0 {
		errs = append(errs, errors.New("heartbeat and replication timings must be positive"))
	}
	if c.Database.Driver != DriverMemory && c.Database.Driver != DriverPostgres {
		errs = append(errs, fmt.Errorf("database.driver must be %q or %q", DriverMemory, DriverPostgres))
	}

	return errors.Join(errs...)
}
