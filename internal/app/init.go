package app

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/wspnet/subengine/internal/config"
	"github.com/wspnet/subengine/internal/db"
	"github.com/wspnet/subengine/internal/quantity"
	"gopkg.in/yaml.v3"

	log "github.com/sirupsen/logrus"
)

// ErrConfigExists is returned when init would overwrite an existing config file.
var ErrConfigExists = errors.New("config file already exists")

// InitParams contains parameters for writing a starter configuration.
type InitParams struct {
	DatabaseType     string
	DatabaseHost     string
	DatabasePort     int
	DatabaseUser     string
	DatabasePassword string
	DatabaseName     string
	DatabasePath     string
	DatabaseSSLMode  string
	ServerPort       int
	PoolTotalMbps    int64
}

// ConfigExists reports whether the config file exists at the path.
func ConfigExists(configPath string) bool {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return false
	}
	return true
}

// defaultSQLitePath is the default SQLite database file name.
const defaultSQLitePath = "subengine.db"

// BuildDSN builds a database DSN from the init parameters.
func BuildDSN(p InitParams) (string, error) {
	switch strings.ToLower(strings.TrimSpace(p.DatabaseType)) {
	case "", "sqlite":
		return buildSQLiteDSN(p.DatabasePath), nil
	case "postgres":
		if strings.TrimSpace(p.DatabaseHost) == "" {
			return "", fmt.Errorf("database host is required")
		}
		if p.DatabasePort <= 0 {
			return "", fmt.Errorf("invalid database port: %d", p.DatabasePort)
		}
		if strings.TrimSpace(p.DatabaseUser) == "" || strings.TrimSpace(p.DatabaseName) == "" {
			return "", fmt.Errorf("database user and name are required")
		}
		sslMode := p.DatabaseSSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			p.DatabaseUser,
			p.DatabasePassword,
			p.DatabaseHost,
			p.DatabasePort,
			p.DatabaseName,
			sslMode,
		), nil
	default:
		return "", fmt.Errorf("unsupported database type %q", p.DatabaseType)
	}
}

// buildSQLiteDSN constructs a SQLite DSN with a busy timeout and foreign keys enabled.
func buildSQLiteDSN(path string) string {
	dsn := strings.TrimSpace(path)
	if dsn == "" {
		dsn = defaultSQLitePath
	}
	if !strings.HasPrefix(strings.ToLower(dsn), "file:") {
		dsn = "file:" + dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// starterConfig is the YAML layout written by WriteStarterConfig.
type starterConfig struct {
	DatabaseDSN string `yaml:"database-dsn"`
	Server      struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	JWT struct {
		Secret string `yaml:"secret"`
		Expiry string `yaml:"expiry"`
	} `yaml:"jwt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Pool struct {
		TotalMbps int64 `yaml:"total-mbps"`
	} `yaml:"pool"`
}

// WriteStarterConfig checks the database, migrates it, seeds the bandwidth pool
// and writes a config file with a freshly generated JWT secret.
func WriteStarterConfig(configPath string, p InitParams) error {
	if ConfigExists(configPath) {
		return fmt.Errorf("%w: %s", ErrConfigExists, configPath)
	}
	if p.PoolTotalMbps < 0 {
		return fmt.Errorf("invalid pool total: %d", p.PoolTotalMbps)
	}
	dsn, errDSN := BuildDSN(p)
	if errDSN != nil {
		return errDSN
	}

	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		return fmt.Errorf("failed to connect to database: %w", errOpen)
	}
	sqlDB, errHandle := conn.DB()
	if errHandle != nil {
		return fmt.Errorf("failed to get sql db: %w", errHandle)
	}
	defer func() {
		if errClose := sqlDB.Close(); errClose != nil {
			log.Errorf("sql db close error: %v", errClose)
		}
	}()
	if errPing := sqlDB.Ping(); errPing != nil {
		return fmt.Errorf("ping database: %w", errPing)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if p.PoolTotalMbps > 0 {
		if errPool := db.EnsureBandwidthPool(conn, quantity.Mbps(p.PoolTotalMbps)); errPool != nil {
			return errPool
		}
	}

	var cfg starterConfig
	cfg.DatabaseDSN = dsn
	cfg.Server.Port = p.ServerPort
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = config.DefaultPort
	}
	cfg.JWT.Secret = strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	cfg.JWT.Expiry = "12h"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Pool.TotalMbps = p.PoolTotalMbps

	data, errMarshal := yaml.Marshal(&cfg)
	if errMarshal != nil {
		return fmt.Errorf("marshal config: %w", errMarshal)
	}
	if errWrite := os.WriteFile(configPath, data, 0600); errWrite != nil {
		return fmt.Errorf("write config file: %w", errWrite)
	}
	log.Infof("wrote starter config to %s", configPath)
	return nil
}
