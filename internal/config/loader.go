package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "memmesh.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "MEMMESH_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "MEMMESH_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "MEMMESH_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "MEMMESH_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "MEMMESH_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "MEMMESH_LOG_LEVEL")
	setString(&cfg.Logging.Service, "MEMMESH_LOG_SERVICE")

	// Engine
	setInt(&cfg.Engine.Dimension, "MEMMESH_DIMENSION")
	setInt(&cfg.Engine.DefaultLimit, "MEMMESH_DEFAULT_LIMIT")
	setFloat64(&cfg.Engine.DefaultThreshold, "MEMMESH_DEFAULT_THRESHOLD")
	setFloat64(&cfg.Engine.AdaptiveStep, "MEMMESH_ADAPTIVE_STEP")
	setFloat64(&cfg.Engine.AdaptiveFloor, "MEMMESH_ADAPTIVE_FLOOR")
	setInt(&cfg.Engine.MaxTokens, "MEMMESH_MAX_TOKENS")
	setInt(&cfg.Engine.OverlapTokens, "MEMMESH_OVERLAP_TOKENS")
	setInt(&cfg.Engine.MaxTraverseDepth, "MEMMESH_MAX_TRAVERSE_DEPTH")

	// Cache
	setInt64(&cfg.Cache.MaxSizeMB, "MEMMESH_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "MEMMESH_CACHE_TTL")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Engine.Dimension < 1 {
		return errors.New("engine.dimension must be >= 1")
	}
	if cfg.Engine.DefaultLimit < 1 {
		return errors.New("engine.default_limit must be >= 1")
	}
	if cfg.Engine.AdaptiveStep <= 0 {
		return errors.New("engine.adaptive_step must be > 0")
	}
	if cfg.Engine.AdaptiveFloor > cfg.Engine.DefaultThreshold {
		return errors.New("engine.adaptive_floor must not exceed engine.default_threshold")
	}
	if cfg.Engine.OverlapTokens >= cfg.Engine.MaxTokens {
		return errors.New("engine.overlap_tokens must be < engine.max_tokens")
	}
	return nil
}

func setString(dst *string, key string) {
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

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
