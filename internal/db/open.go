package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// slowQueryThreshold is the duration above which gorm logs a query as slow.
const slowQueryThreshold = 500 * time.Millisecond

// Open connects to PostgreSQL, or to SQLite for "file:" and ":memory:" DSNs.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("db: empty dsn")
	}

	cfg := &gorm.Config{
		Logger: gormlogger.New(log.StandardLogger(), gormlogger.Config{
			SlowThreshold:             slowQueryThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	if isSQLiteDSN(dsn) {
		if strings.HasPrefix(strings.ToLower(dsn), "sqlite:") {
			dsn = dsn[len("sqlite:"):]
		}
		conn, errOpen := gorm.Open(sqlite.Open(dsn), cfg)
		if errOpen != nil {
			return nil, fmt.Errorf("db: open sqlite: %w", errOpen)
		}
		sqlDB, errDB := conn.DB()
		if errDB != nil {
			return nil, fmt.Errorf("db: sqlite handle: %w", errDB)
		}
		// SQLite has a single writer; one connection keeps transactions serialized.
		sqlDB.SetMaxOpenConns(1)
		return conn, nil
	}

	conn, errOpen := gorm.Open(postgres.Open(dsn), cfg)
	if errOpen != nil {
		return nil, fmt.Errorf("db: open postgres: %w", errOpen)
	}
	return conn, nil
}

func isSQLiteDSN(dsn string) bool {
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "file:") ||
		strings.HasPrefix(lower, "sqlite:") ||
		strings.Contains(lower, ":memory:") ||
		strings.HasSuffix(lower, ".db") ||
		strings.HasSuffix(lower, ".sqlite")
}
