// Package config loads the server configuration from a TOML file, an optional
// .env file and LEDGER_* environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Database    DatabaseConfig `toml:"database"`
	Server      ServerConfig   `toml:"server"`
	Redis       RedisConfig    `toml:"redis"`
	S3          S3Config       `toml:"s3"`
	Engine      EngineConfig   `toml:"engine"`
	Environment string         `toml:"environment"`
	LogLevel    string         `toml:"log_level"`
}

// DatabaseConfig selects the ledger backend. Driver is "postgres" or "sqlite";
// for sqlite the DSN is a file path or ":memory:".
type DatabaseConfig struct {
	Driver        string `toml:"driver"`
	DSN           string `toml:"dsn"`
	MaxConns      int    `toml:"max_conns"`
	MinConns      int    `toml:"min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

type ServerConfig struct {
	Port            int      `toml:"port"`
	JWTSecret       string   `toml:"jwt_secret"`
	ReadTimeout     Duration `toml:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// Addr is the listen address for http.Server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// RedisConfig enables the market snapshot cache and the event stream.
type RedisConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	SnapshotTTL Duration `toml:"snapshot_ttl"`
	Stream      string   `toml:"stream"`
}

// S3Config enables the archive of resolved markets.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

type EngineConfig struct {
	EnforceEndTime bool `toml:"enforce_end_time"`
	MaxMarketIDLen int  `toml:"max_market_id_len"`
	MaxQuestionLen int  `toml:"max_question_len"`
	MaxOwnerLen    int  `toml:"max_owner_len"`
}

// Duration lets the TOML decoder read strings like "5m" or "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults is a single-node development setup on SQLite.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Driver:        "sqlite",
			DSN:           "parimutuel.db",
			MaxConns:      20,
			MinConns:      2,
			RunMigrations: true,
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration{10 * time.Second},
			WriteTimeout:    Duration{10 * time.Second},
			ShutdownTimeout: Duration{15 * time.Second},
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    10,
			MaxRetries:  3,
			SnapshotTTL: Duration{5 * time.Minute},
			Stream:      "parimutuel:events",
		},
		S3: S3Config{
			Region: "us-east-1",
			Prefix: "archive",
			UseSSL: true,
		},
		Engine: EngineConfig{
			EnforceEndTime: true,
			MaxMarketIDLen: 50,
			MaxQuestionLen: 200,
			MaxOwnerLen:    128,
		},
		Environment: "development",
		LogLevel:    "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validEnvironments = map[string]bool{
	"development": true,
	"test":        true,
	"staging":     true,
	"production":  true,
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if !validEnvironments[c.Environment] {
		errs = append(errs, fmt.Errorf("unknown environment %q (valid: development, test, staging, production)", c.Environment))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	errs = append(errs,
		c.Database.Validate(),
		c.Server.Validate(c.Environment == "production"),
		c.Redis.Validate(),
		c.S3.Validate(),
		c.Engine.Validate(),
	)
	return errors.Join(errs...)
}

func (d DatabaseConfig) Validate() error {
	var errs []error
	switch d.Driver {
	case "postgres":
		if d.MaxConns < 1 {
			errs = append(errs, errors.New("database: max_conns must be >= 1"))
		}
		if d.MinConns < 0 || d.MinConns > d.MaxConns {
			errs = append(errs, errors.New("database: min_conns must be between 0 and max_conns"))
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database: unknown driver %q (valid: postgres, sqlite)", d.Driver))
	}
	if strings.TrimSpace(d.DSN) == "" {
		errs = append(errs, errors.New("database: dsn must not be empty"))
	}
	return errors.Join(errs...)
}

// Validate checks the listener settings. Production requires a signing
// secret of at least 32 bytes.
func (s ServerConfig) Validate(production bool) error {
	var errs []error
	if s.Port <= 0 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("server: port must be 1-65535, got %d", s.Port))
	}
	if s.JWTSecret == "" {
		errs = append(errs, errors.New("server: jwt_secret must be set"))
	} else if production && len(s.JWTSecret) < 32 {
		errs = append(errs, errors.New("server: jwt_secret must be at least 32 bytes in production"))
	}
	if s.ReadTimeout.Duration <= 0 || s.WriteTimeout.Duration <= 0 {
		errs = append(errs, errors.New("server: read_timeout and write_timeout must be positive"))
	}
	return errors.Join(errs...)
}

func (r RedisConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	var errs []error
	if r.Addr == "" {
		errs = append(errs, errors.New("redis: addr must not be empty"))
	}
	if r.PoolSize < 1 {
		errs = append(errs, errors.New("redis: pool_size must be >= 1"))
	}
	if r.SnapshotTTL.Duration <= 0 {
		errs = append(errs, errors.New("redis: snapshot_ttl must be positive"))
	}
	return errors.Join(errs...)
}

func (s S3Config) Validate() error {
	if !s.Enabled {
		return nil
	}
	var errs []error
	if s.Bucket == "" {
		errs = append(errs, errors.New("s3: bucket must not be empty"))
	}
	if s.Region == "" {
		errs = append(errs, errors.New("s3: region must not be empty"))
	}
	if (s.AccessKey == "") != (s.SecretKey == "") {
		errs = append(errs, errors.New("s3: access_key and secret_key must be set together"))
	}
	return errors.Join(errs...)
}

func (e EngineConfig) Validate() error {
	var errs []error
	if e.MaxMarketIDLen < 1 || e.MaxMarketIDLen > 50 {
		errs = append(errs, fmt.Errorf("engine: max_market_id_len must be 1-50, got %d", e.MaxMarketIDLen))
	}
	if e.MaxQuestionLen < 1 || e.MaxQuestionLen > 200 {
		errs = append(errs, fmt.Errorf("engine: max_question_len must be 1-200, got %d", e.MaxQuestionLen))
	}
	if e.MaxOwnerLen < 1 {
		errs = append(errs, errors.New("engine: max_owner_len must be >= 1"))
	}
	return errors.Join(errs...)
}
