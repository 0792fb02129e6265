package app

import (
	"testing"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Addr:        "0.0.0.0:8080",
		DatabaseURL: "postgres://localhost/kart",
		RedisURL:    "redis://localhost:6379/0",
		JWT:         JWTConfig{Secret: "s"},
		Gateway:     GatewayConfig{Provider: "fake"},
	}
}

func TestConfig_Validate(t *testing.T) {
	for _, tt := range []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"Valid", func(*Config) {}, ""},
		{"NoDatabase", func(c *Config) { c.DatabaseURL = "" }, "database URL is required"},
		{"NoRedis", func(c *Config) { c.RedisURL = "" }, "redis URL is required"},
		{"NoSecret", func(c *Config) { c.JWT.Secret = "" }, "JWT secret is required"},
		{"PaypalWithoutCredentials", func(c *Config) { c.Gateway.Provider = "paypal" }, "paypal gateway needs"},
		{"UnknownProvider", func(c *Config) { c.Gateway.Provider = "stripe" }, `unknown gateway provider "stripe"`},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("REDIS_URL", "redis://platform:6379")
	t.Setenv("PORT", "9000")

	cfg := Config{Addr: "0.0.0.0:8080", RedisURL: "redis://explicit:6379"}
	cfg.applyPlatformDefaults()

	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "redis://explicit:6379", cfg.RedisURL, "explicit value wins")
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
}

func TestConfig_Defaults(t *testing.T) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{SkipEnv: true, SkipFiles: true, SkipFlags: true})
	require.NoError(t, loader.Load())

	assert.Zero(t, cfg.CartTTL, "carts are reset, never expired")
	assert.Equal(t, 10*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, "paypal", cfg.Gateway.Provider)
}
