package config

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverMySQL, cfg.StoreDriver)
	assert.Equal(t, 30*time.Minute, cfg.AccessTTL())
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTTL())
	assert.Equal(t, 12, cfg.BcryptCost)
	assert.Equal(t, int64(10<<20), cfg.MaxFileSize)
	assert.Equal(t, []string{"image/jpeg", "image/png", "image/gif", "image/webp"}, cfg.AllowedTypes)
	assert.Equal(t, "user.notifications", cfg.NotifyQueue)
	assert.Equal(t, time.Hour, cfg.TokenSweepInterval)
	assert.True(t, cfg.Cache.MethodSet()["GET"])
}

func TestLoad_FromEnvVars(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("STORE_DRIVER", " Memory ")
	t.Setenv("ACCESS_TOKEN_TTL_MIN", "5")
	t.Setenv("SMTP_HOST", "mail.local")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("CACHE_METHODS", "get, head")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, 5*time.Minute, cfg.AccessTTL())
	assert.Equal(t, "mail.local", cfg.SMTP.Host)
	assert.Equal(t, 2525, cfg.SMTP.Port)
	assert.Equal(t, map[string]bool{"GET": true, "HEAD": true}, cfg.Cache.MethodSet())
}

func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoad_InvalidType(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("BCRYPT_COST", "high")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := &Config{
		StoreDriver:   "postgres",
		BcryptCost:    2,
		AdminUsername: "root",
	}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"JWT_SECRET", "STORE_DRIVER", "ACCESS_TOKEN_TTL_MIN", "REFRESH_TOKEN_TTL_DAYS", "BCRYPT_COST", "MAX_FILE_SIZE", "ADMIN_PASSWORD"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestRateLimit_Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   RateLimitConfig
		want RateLimitConfig
	}{
		{
			name: "burst and refill every override",
			in:   RateLimitConfig{Capacity: 20, RefillTokens: 5, RefillInterval: time.Second, TTL: time.Hour, Burst: 3, RefillEvery: 2 * time.Second},
			want: RateLimitConfig{Capacity: 3, RefillTokens: 1, RefillInterval: 2 * time.Second, TTL: time.Hour, Burst: 3, RefillEvery: 2 * time.Second},
		},
		{
			name: "clamps non-positive values",
			in:   RateLimitConfig{Capacity: 0, RefillTokens: 0, RefillInterval: 0, TTL: 0, Burst: -1},
			want: RateLimitConfig{Capacity: 1, RefillTokens: 1, RefillInterval: time.Second, TTL: 5 * time.Second, Burst: -1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in
			got.normalize()
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRedisConfig_Address(t *testing.T) {
	assert.Equal(t, "localhost:6379", RedisConfig{Addr: "localhost:6379"}.Address())
	assert.Equal(t, "redis:6380", RedisConfig{Host: "redis", Port: "6380", Addr: "ignored:1"}.Address())
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()

	client := NewRedisClient(context.Background(), RedisConfig{Addr: addr})
	require.NotNil(t, client)
	defer client.Close()

	mr.Close()
	assert.Nil(t, NewRedisClient(context.Background(), RedisConfig{Addr: addr}))
}
