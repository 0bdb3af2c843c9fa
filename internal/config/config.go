package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath   = "CONFIG_PATH"
	EnvDBConnection = "DB_CONNECTION"
	EnvJWTSecret    = "JWT_SECRET"
	EnvJWTExpiry    = "JWT_EXPIRY"
)

// DefaultPort is the admin API port when neither config nor flags set one.
const DefaultPort = 8320

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// LoadDotEnv loads a .env file from the working directory when one exists.
func LoadDotEnv() error {
	if _, errStat := os.Stat(".env"); errStat != nil {
		return nil
	}
	if errLoad := godotenv.Load(); errLoad != nil {
		return fmt.Errorf("load .env: %w", errLoad)
	}
	return nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// JWTConfig holds JWT secret and expiry settings for operator tokens.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// ServerConfig configures the admin HTTP listener.
type ServerConfig struct {
	Port int `yaml:"port" env:"PORT"`
}

// LogConfig configures the logrus output.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

// RateLimitConfig configures usage submission rate limiting.
type RateLimitConfig struct {
	Limit         int    `yaml:"limit" env:"LIMIT"`
	RedisEnabled  bool   `yaml:"redis-enabled" env:"REDIS_ENABLED"`
	RedisAddr     string `yaml:"redis-addr" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis-password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis-db" env:"REDIS_DB"`
	RedisPrefix   string `yaml:"redis-prefix" env:"REDIS_PREFIX"`
}

// PoolConfig seeds the global bandwidth pool on first start.
type PoolConfig struct {
	TotalMbps int64 `yaml:"total-mbps" env:"TOTAL_MBPS"`
}

// Config is the full engine configuration. Values come from the YAML file and
// are then overridden by environment variables that are set.
type Config struct {
	Path        string          `yaml:"-"`
	DatabaseDSN string          `yaml:"-"`
	JWT         JWTConfig       `yaml:"-"`
	Server      ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Log         LogConfig       `yaml:"log" envPrefix:"LOG_"`
	Metrics     MetricsConfig   `yaml:"metrics" envPrefix:"METRICS_"`
	RateLimit   RateLimitConfig `yaml:"rate-limit" envPrefix:"RATE_LIMIT_"`
	Pool        PoolConfig      `yaml:"pool" envPrefix:"POOL_"`
}

func defaultConfig() Config {
	return Config{
		Server:    ServerConfig{Port: DefaultPort},
		Log:       LogConfig{Level: "info", Format: "text"},
		Metrics:   MetricsConfig{Enabled: true},
		RateLimit: RateLimitConfig{Limit: 20},
	}
}

// Load reads the config file at configPath and applies environment overrides.
func Load(configPath string) (Config, error) {
	cfg := defaultConfig()
	cfg.Path = configPath

	data, errRead := os.ReadFile(configPath)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	case errors.Is(errRead, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config file: %w", errRead)
	}

	if errEnv := env.Parse(&cfg); errEnv != nil {
		return Config{}, fmt.Errorf("parse env overrides: %w", errEnv)
	}

	dsn, errDSN := LoadDatabaseDSN(configPath)
	if errDSN != nil {
		return Config{}, errDSN
	}
	cfg.DatabaseDSN = dsn

	jwtCfg, errJWT := LoadJWTConfig(configPath)
	if errJWT != nil {
		return Config{}, errJWT
	}
	cfg.JWT = jwtCfg

	if cfg.Server.Port <= 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Pool.TotalMbps < 0 {
		return Config{}, fmt.Errorf("invalid pool.total-mbps: %d", cfg.Pool.TotalMbps)
	}
	return cfg, nil
}

// LoadDatabaseDSN reads the database DSN from the YAML config file.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	// fileConfig maps the YAML fields needed for DSN resolution.
	type fileConfig struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return "", fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// defaultJWTExpiry is used when the config omits or invalidates JWT expiry.
const defaultJWTExpiry = 12 * time.Hour

// LoadJWTConfig loads JWT settings from the YAML config file.
func LoadJWTConfig(configPath string) (JWTConfig, error) {
	// fileConfig maps the YAML fields needed for JWT settings.
	type fileConfig struct {
		JWT JWTConfig `yaml:"jwt"`
	}

	result := JWTConfig{Expiry: defaultJWTExpiry}

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil {
			result = cfg.JWT
		}
	}

	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		result.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			result.Expiry = expiry
		}
	}

	if result.Expiry <= 0 {
		result.Expiry = defaultJWTExpiry
	}
	return result, nil
}
