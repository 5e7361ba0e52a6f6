package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the canonical activity engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (the database password) must only come from environment variables.
type Config struct {
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Engine behavior
	Engine EngineConfig `yaml:"engine"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"supertl"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"canonical_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// EngineConfig holds batch-engine behavior settings.
type EngineConfig struct {
	// HomeTimezone is the IANA zone assumed for naive local timestamps
	// and applied by the assumed-home / manual-home-no-gps rules.
	HomeTimezone string `yaml:"home_timezone" env:"ENGINE_HOME_TIMEZONE" env-default:"America/Chicago"`

	// MigrationsPath is where the migrate subcommand finds SQL files.
	MigrationsPath string `yaml:"migrations_path" env:"ENGINE_MIGRATIONS_PATH" env-default:"migrations"`

	// OffsetWorkers bounds the parallel offset computations; writes
	// stay on the single writer regardless.
	OffsetWorkers int `yaml:"offset_workers" env:"ENGINE_OFFSET_WORKERS" env-default:"4"`

	// AllowedTimezonesStr is a comma-separated allowlist of zones the
	// athlete plausibly trains in. Reported zones outside it are
	// recorded with suspect provenance.
	AllowedTimezonesStr string `yaml:"allowed_timezones" env:"ENGINE_ALLOWED_TIMEZONES" env-default:"America/New_York,America/Chicago,America/Denver,America/Los_Angeles,America/Phoenix,America/Anchorage,Pacific/Honolulu,Australia/Melbourne"`

	// AllowedTimezones is the parsed set from AllowedTimezonesStr.
	AllowedTimezones map[string]struct{} `yaml:"-"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The batch CLI may run from any directory, so a missing
// config.yaml is fine: environment variables and defaults apply.
// The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment config: %w", err)
		}
	}

	cfg.Engine.AllowedTimezones = parseZoneList(cfg.Engine.AllowedTimezonesStr)

	return cfg, nil
}

// parseZoneList parses a comma-separated zone list into a set.
func parseZoneList(value string) map[string]struct{} {
	zones := make(map[string]struct{})
	for _, zone := range strings.Split(value, ",") {
		zone = strings.TrimSpace(zone)
		if zone != "" {
			zones[zone] = struct{}{}
		}
	}
	return zones
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
