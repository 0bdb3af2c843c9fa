package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/wspnet/subengine/internal/config"
	"github.com/wspnet/subengine/internal/db"
	"github.com/wspnet/subengine/internal/engine"
	internalhttp "github.com/wspnet/subengine/internal/http/api/admin"
	"github.com/wspnet/subengine/internal/logging"
	"github.com/wspnet/subengine/internal/metrics"
	"github.com/wspnet/subengine/internal/quantity"
	"github.com/wspnet/subengine/internal/ratelimit"
	"github.com/wspnet/subengine/internal/security"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// Migrate opens the database, runs migrations and seeds the bandwidth pool.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	full, err := config.Load(config.ResolveConfigPath(cfg.ConfigPath))
	if err != nil {
		return err
	}
	conn, err := db.Open(full.DatabaseDSN)
	if err != nil {
		return err
	}
	return prepareDatabase(ctx, conn, full)
}

// IssueToken signs an operator token using the configured JWT settings.
func IssueToken(cfg config.AppConfig, operatorID uint64) (string, error) {
	jwtCfg, err := config.LoadJWTConfig(config.ResolveConfigPath(cfg.ConfigPath))
	if err != nil {
		return "", err
	}
	return security.IssueOperatorToken(jwtCfg.Secret, operatorID, jwtCfg.Expiry, time.Now())
}

// RunServer boots the admin API and blocks until ctx is cancelled.
func RunServer(ctx context.Context, cfg config.AppConfig, port int) error {
	full, err := config.Load(config.ResolveConfigPath(cfg.ConfigPath))
	if err != nil {
		return err
	}
	if errLog := logging.Setup(full.Log.Level, full.Log.Format); errLog != nil {
		return errLog
	}
	if port > 0 {
		full.Server.Port = port
	}

	conn, err := db.Open(full.DatabaseDSN)
	if err != nil {
		return err
	}
	if errPrepare := prepareDatabase(ctx, conn, full); errPrepare != nil {
		return errPrepare
	}

	handler := NewRouter(conn, full)
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(full.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("starting subscription engine on :%d with config=%s", full.Server.Port, full.Path)
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
		}
		close(errCh)
	}()

	select {
	case errServe := <-errCh:
		return errServe
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("shutdown server: %w", errShutdown)
	}
	log.Info("server stopped")
	return nil
}

// NewRouter builds the gin engine with health, metrics and admin routes.
func NewRouter(conn *gorm.DB, cfg config.Config) *gin.Engine {
	var m *metrics.Metrics
	opts := make([]engine.Option, 0, 1)
	if cfg.Metrics.Enabled {
		m = metrics.New()
		opts = append(opts, engine.WithMetrics(m))
	}
	e := engine.New(conn, opts...)

	limiter := ratelimit.NewManager(ratelimit.StaticSettings(ratelimit.SettingsConfig{
		Limit:         cfg.RateLimit.Limit,
		RedisEnabled:  cfg.RateLimit.RedisEnabled,
		RedisAddr:     cfg.RateLimit.RedisAddr,
		RedisPassword: cfg.RateLimit.RedisPassword,
		RedisDB:       cfg.RateLimit.RedisDB,
		RedisPrefix:   cfg.RateLimit.RedisPrefix,
	}), nil, nil)

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.GET("/healthz", func(c *gin.Context) {
		sqlDB, errDB := conn.DB()
		if errDB == nil {
			errDB = sqlDB.PingContext(c.Request.Context())
		}
		if errDB != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}
	internalhttp.RegisterAdminRoutes(r, e, cfg.JWT, limiter)
	return r
}

func prepareDatabase(ctx context.Context, conn *gorm.DB, cfg config.Config) error {
	if errMigrate := db.Migrate(conn.WithContext(ctx)); errMigrate != nil {
		return errMigrate
	}
	if cfg.Pool.TotalMbps > 0 {
		if errPool := db.EnsureBandwidthPool(conn.WithContext(ctx), quantity.Mbps(cfg.Pool.TotalMbps)); errPool != nil {
			return errPool
		}
	}
	return nil
}

// requestLogger logs each request through logrus.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request served")
	}
}
