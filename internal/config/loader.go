package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path over Defaults, loads .env when present and
// applies environment overrides. A missing file is not an error. The result
// has not been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// .env is optional.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets at deploy time. The
// unprefixed DB_SOURCE, SERVER_PORT and ENVIRONMENT variables are still
// honoured and lose to their LEDGER_* equivalents.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DB_SOURCE"); v != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.DSN = v
	}
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStr(&cfg.Environment, "ENVIRONMENT")

	// Database
	setStr(&cfg.Database.Driver, "LEDGER_DATABASE_DRIVER")
	setStr(&cfg.Database.DSN, "LEDGER_DATABASE_DSN")
	setInt(&cfg.Database.MaxConns, "LEDGER_DATABASE_MAX_CONNS")
	setInt(&cfg.Database.MinConns, "LEDGER_DATABASE_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "LEDGER_DATABASE_RUN_MIGRATIONS")

	// Server
	setInt(&cfg.Server.Port, "LEDGER_SERVER_PORT")
	setStr(&cfg.Server.JWTSecret, "LEDGER_SERVER_JWT_SECRET")
	setDuration(&cfg.Server.ReadTimeout, "LEDGER_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "LEDGER_SERVER_WRITE_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "LEDGER_SERVER_SHUTDOWN_TIMEOUT")

	// Redis
	setBool(&cfg.Redis.Enabled, "LEDGER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "LEDGER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LEDGER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LEDGER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LEDGER_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "LEDGER_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.SnapshotTTL, "LEDGER_REDIS_SNAPSHOT_TTL")
	setStr(&cfg.Redis.Stream, "LEDGER_REDIS_STREAM")

	// S3
	setBool(&cfg.S3.Enabled, "LEDGER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "LEDGER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LEDGER_S3_REGION")
	setStr(&cfg.S3.Bucket, "LEDGER_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "LEDGER_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "LEDGER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LEDGER_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "LEDGER_S3_FORCE_PATH_STYLE")

	// Engine
	setBool(&cfg.Engine.EnforceEndTime, "LEDGER_ENGINE_ENFORCE_END_TIME")

	setStr(&cfg.Environment, "LEDGER_ENVIRONMENT")
	setStr(&cfg.LogLevel, "LEDGER_LOG_LEVEL")
}

// Each helper only touches dst when the variable is set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
