package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	redisBreakerDuration = 30 * time.Second
	redisPingTimeout     = 2 * time.Second
)

var errMissingRedisAddr = errors.New("rate limit redis: missing address")

// SettingsProvider supplies the latest settings snapshot.
type SettingsProvider func() SettingsConfig

// RedisClientFactory constructs a Redis client for the given options.
type RedisClientFactory func(options *redis.Options) *redis.Client

// Manager enforces usage submission limits. Redis is used when enabled so that every
// engine replica shares one window; while Redis is unreachable the manager trips a
// breaker and counts in memory instead.
type Manager struct {
	provider       SettingsProvider
	nowFn          func() time.Time
	memory         Limiter
	newRedisClient RedisClientFactory

	mu           sync.Mutex
	shared       *RedisLimiter
	sharedCfg    SettingsConfig
	breakerUntil time.Time
}

// NewManager constructs a Manager with default dependencies when nil.
func NewManager(provider SettingsProvider, nowFn func() time.Time, newRedisClient RedisClientFactory) *Manager {
	if provider == nil {
		provider = StaticSettings(DefaultSettings())
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if newRedisClient == nil {
		newRedisClient = redis.NewClient
	}
	return &Manager{
		provider:       provider,
		nowFn:          nowFn,
		memory:         NewMemoryLimiter(),
		newRedisClient: newRedisClient,
	}
}

// Limit returns the configured per-second limit.
func (m *Manager) Limit() int {
	if m == nil {
		return 0
	}
	return m.provider().Limit
}

// Allow checks key against limit using Redis when available and memory otherwise.
func (m *Manager) Allow(ctx context.Context, key string, limit int) (Result, error) {
	if m == nil || limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	now := m.nowFn()
	cfg := m.provider().Normalize()
	if cfg.RedisEnabled && !m.isBreakerActive(now) {
		result, errShared := m.allowShared(ctx, cfg, key, limit, now)
		if errShared == nil {
			return result, nil
		}
		m.tripBreaker(errShared, now)
	}
	return m.memory.Allow(ctx, key, limit, now)
}

func (m *Manager) allowShared(ctx context.Context, cfg SettingsConfig, key string, limit int, now time.Time) (Result, error) {
	limiter, errConnect := m.sharedLimiter(ctx, cfg)
	if errConnect != nil {
		return Result{}, errConnect
	}
	return limiter.Allow(ctx, key, limit, now)
}

// sharedLimiter returns the Redis limiter for cfg, reconnecting when the connection settings changed.
func (m *Manager) sharedLimiter(ctx context.Context, cfg SettingsConfig) (*RedisLimiter, error) {
	if cfg.RedisAddr == "" {
		return nil, errMissingRedisAddr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shared != nil && sameConnection(m.sharedCfg, cfg) {
		return m.shared, nil
	}
	if m.shared != nil {
		_ = m.shared.client.Close()
		m.shared = nil
	}

	client := m.newRedisClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctxPing, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if errPing := client.Ping(ctxPing).Err(); errPing != nil {
		_ = client.Close()
		return nil, errPing
	}
	m.shared = NewRedisLimiter(client, cfg.RedisPrefix)
	m.sharedCfg = cfg
	return m.shared, nil
}

func sameConnection(a, b SettingsConfig) bool {
	return a.RedisAddr == b.RedisAddr &&
		a.RedisPassword == b.RedisPassword &&
		a.RedisDB == b.RedisDB &&
		a.RedisPrefix == b.RedisPrefix
}

func (m *Manager) isBreakerActive(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.breakerUntil.IsZero() {
		return false
	}
	if now.Before(m.breakerUntil) {
		return true
	}
	m.breakerUntil = time.Time{}
	return false
}

func (m *Manager) tripBreaker(err error, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.breakerUntil.IsZero() && now.Before(m.breakerUntil) {
		return
	}
	m.breakerUntil = now.Add(redisBreakerDuration)
	log.WithError(err).WithField("retry_after", redisBreakerDuration.String()).
		Warn("rate limit: redis unavailable, counting usage submissions in memory")
}
