// Package config loads the store and logging configuration from TOML with environment overrides,
// and opens ORMs from it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Drivers select how the store is connected.
const (
	DriverMemory  = "memory"
	DriverPGXPool = "pgxpool"
	DriverSQL     = "sql"
	DriverSQLX    = "sqlx"
)

// Environment variables that override the file configuration.
const (
	EnvDialect     = "ORM_DIALECT"
	EnvDriver      = "ORM_DRIVER"
	EnvDSN         = "ORM_DSN"
	EnvLogLevel    = "ORM_LOG_LEVEL"
	EnvLogFormat   = "ORM_LOG_FORMAT"
	EnvLogQueries  = "ORM_LOG_QUERIES"
	EnvQueryParams = "ORM_LOG_QUERY_PARAMS"
)

// ErrInvalidConfig is returned by Validate and Load for unusable configurations.
var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Database DatabaseConfig `toml:"database"`
	Pool     PoolConfig     `toml:"pool"`
	Log      LogConfig      `toml:"log"`
}

type DatabaseConfig struct {
	Dialect string `toml:"dialect"`
	Driver  string `toml:"driver"`
	DSN     string `toml:"dsn"`
}

type PoolConfig struct {
	MaxOpenConns      int           `toml:"max_open_conns"`
	MinConns          int           `toml:"min_conns"`
	MaxIdleConns      int           `toml:"max_idle_conns"`
	ConnMaxLifetime   time.Duration `toml:"conn_max_lifetime"`
	ConnMaxIdleTime   time.Duration `toml:"conn_max_idle_time"`
	HealthCheckPeriod time.Duration `toml:"health_check_period"`
	ConnectTimeout    time.Duration `toml:"connect_timeout"`
}

type LogConfig struct {
	Level       string `toml:"level"`
	Format      string `toml:"format"`
	Queries     bool   `toml:"queries"`
	QueryParams bool   `toml:"query_params"`
}

// Load reads path on top of the defaults and applies the environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse decodes a TOML document on top of the defaults, without environment overrides.
func Parse(document string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := toml.Decode(document, cfg); err != nil {
		return nil, err
	}

	return cfg, Validate(cfg)
}

func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Dialect: "sqlite3",
			Driver:  DriverMemory,
		},
		Pool: PoolConfig{
			MaxOpenConns:      50,
			MinConns:          2,
			MaxIdleConns:      2,
			ConnMaxLifetime:   time.Hour,
			ConnMaxIdleTime:   5 * time.Minute,
			HealthCheckPeriod: time.Minute,
			ConnectTimeout:    5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the combination of dialect, driver and DSN.
func Validate(cfg *Config) error {
	var problems []string

	dialect := strings.ToLower(cfg.Database.Dialect)
	isSQLite := dialect == "sqlite" || dialect == "sqlite3"
	isPostgres := dialect == "postgres" || dialect == "postgresql" || dialect == "pg"

	if !isSQLite && !isPostgres {
		problems = append(problems, fmt.Sprintf("unknown dialect %q", cfg.Database.Dialect))
	}

	switch cfg.Database.Driver {
	case DriverMemory:
		if !isSQLite {
			problems = append(problems, "the memory driver requires the sqlite3 dialect")
		}
	case DriverPGXPool:
		if !isPostgres {
			problems = append(problems, "the pgxpool driver requires the postgres dialect")
		}
	case DriverSQL, DriverSQLX:
	default:
		problems = append(problems, fmt.Sprintf("unknown driver %q", cfg.Database.Driver))
	}

	if cfg.Database.Driver != DriverMemory && cfg.Database.DSN == "" {
		problems = append(problems, "dsn is required for driver "+cfg.Database.Driver)
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("unknown log level %q", cfg.Log.Level))
	}

	if cfg.Pool.MaxOpenConns < 1 {
		problems = append(problems, "pool.max_open_conns must be at least 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}

	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(EnvDialect); v != "" {
		cfg.Database.Dialect = v
	}
	if v := os.Getenv(EnvDriver); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv(EnvDSN); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv(EnvLogQueries); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, EnvLogQueries, err)
		}
		cfg.Log.Queries = enabled
	}
	if v := os.Getenv(EnvQueryParams); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, EnvQueryParams, err)
		}
		cfg.Log.QueryParams = enabled
	}

	return nil
}
