package ratelimit

import "strings"

const (
	// DefaultLimit is the per-second usage submission limit per subscription.
	DefaultLimit = 20
	// DefaultRedisPrefix namespaces limiter keys in Redis.
	DefaultRedisPrefix = "subengine:ratelimit"
)

// SettingsConfig captures the limiter settings.
type SettingsConfig struct {
	Limit         int
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() SettingsConfig {
	return SettingsConfig{Limit: DefaultLimit, RedisPrefix: DefaultRedisPrefix}
}

// Normalize trims string fields and clamps negative numbers.
func (c SettingsConfig) Normalize() SettingsConfig {
	c.RedisAddr = strings.TrimSpace(c.RedisAddr)
	c.RedisPassword = strings.TrimSpace(c.RedisPassword)
	c.RedisPrefix = strings.TrimSpace(c.RedisPrefix)
	if c.RedisPrefix == "" {
		c.RedisPrefix = DefaultRedisPrefix
	}
	if c.RedisDB < 0 {
		c.RedisDB = 0
	}
	if c.Limit < 0 {
		c.Limit = 0
	}
	return c
}

// StaticSettings returns a provider that always yields cfg.
func StaticSettings(cfg SettingsConfig) SettingsProvider {
	normalized := cfg.Normalize()
	return func() SettingsConfig { return normalized }
}
