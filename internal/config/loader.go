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
const DefaultConfigFile = "hive.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
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
	data, err := os.ReadFile(path)
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
	setString(&cfg.Server.Port, "HIVE_PORT")
	setString(&cfg.Server.CORSOrigin, "HIVE_CORS_ORIGIN")
	setString(&cfg.Memory.VolatileBackend, "HIVE_MEMORY_VOLATILE")
	setString(&cfg.Memory.DurableBackend, "HIVE_MEMORY_DURABLE")
	setString(&cfg.Memory.JSONPath, "HIVE_MEMORY_JSON_PATH")
	setString(&cfg.Memory.SQLitePath, "HIVE_MEMORY_SQLITE_PATH")
	setDuration(&cfg.Memory.FlushDebounce, "HIVE_MEMORY_FLUSH_DEBOUNCE")
	setInt64(&cfg.Memory.CacheMaxCost, "HIVE_MEMORY_CACHE_MAX_COST")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "HIVE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "HIVE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "HIVE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "HIVE_PG_MAX_CONN_IDLE_TIME")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "HIVE_NATS_STREAM")
	setInt(&cfg.Hierarchy.MaxDepth, "HIVE_MAX_DEPTH")
	setInt(&cfg.Hierarchy.MaxChildren, "HIVE_MAX_CHILDREN")
	setInt(&cfg.Hierarchy.MaxTotalAgents, "HIVE_MAX_TOTAL_AGENTS")
	setInt(&cfg.Retry.MaxTotalRetries, "HIVE_MAX_TOTAL_RETRIES")
	setDuration(&cfg.Bus.WaitTimeout, "HIVE_BUS_WAIT_TIMEOUT")
	setString(&cfg.Logging.Level, "HIVE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "HIVE_LOG_SERVICE")
	setInt(&cfg.Breaker.MaxFailures, "HIVE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "HIVE_BREAKER_TIMEOUT")
	setString(&cfg.OTLP.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.MCP.Addr, "HIVE_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "HIVE_MCP_API_KEY")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Memory.VolatileBackend {
	case "inmemory", "json":
	default:
		return fmt.Errorf("memory.volatile_backend %q is not supported", cfg.Memory.VolatileBackend)
	}
	switch cfg.Memory.DurableBackend {
	case "json", "sqlite", "postgres":
	default:
		return fmt.Errorf("memory.durable_backend %q is not supported", cfg.Memory.DurableBackend)
	}
	if cfg.Memory.DurableBackend == "postgres" && cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required when memory.durable_backend is postgres")
	}
	if cfg.Memory.FlushDebounce <= 0 {
		return errors.New("memory.flush_debounce must be positive")
	}
	if cfg.Hierarchy.MaxDepth < 1 {
		return errors.New("hierarchy.max_depth must be >= 1")
	}
	if cfg.Hierarchy.MaxChildren < 1 {
		return errors.New("hierarchy.max_children must be >= 1")
	}
	if cfg.Hierarchy.MaxTotalAgents < 1 {
		return errors.New("hierarchy.max_total_agents must be >= 1")
	}
	if cfg.Retry.MaxTotalRetries < 1 {
		return errors.New("retry.max_total_retries must be >= 1")
	}
	if cfg.Bus.WaitTimeout <= 0 {
		return errors.New("bus.wait_timeout must be positive")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
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
