package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (KART_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string        `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string        `usage:"PostgreSQL connection URL (KART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL    string        `usage:"Redis connection URL (KART_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	CartTTL     time.Duration `default:"0" usage:"Idle cart lifetime, 0 keeps carts forever" flag:"cart-ttl"`
	JWT         JWTConfig
	Gateway     GatewayConfig
	Checkout    CheckoutConfig
	Kafka       KafkaConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// JWTConfig controls bearer token verification.
type JWTConfig struct {
	Secret string `usage:"HS256 signing secret (KART_JWT_SECRET)" flag:"jwt-secret"`
	Issuer string `default:"" usage:"Required token issuer, empty accepts any" flag:"jwt-issuer"`
}

// GatewayConfig selects and configures the payment provider.
type GatewayConfig struct {
	Provider string        `default:"paypal" usage:"Payment provider: paypal or fake" flag:"gateway-provider"`
	BaseURL  string        `default:"https://api-m.sandbox.paypal.com" usage:"Provider API base URL" flag:"gateway-base-url"`
	ClientID string        `usage:"Provider client id" flag:"gateway-client-id"`
	Secret   string        `usage:"Provider client secret" flag:"gateway-secret"`
	Timeout  time.Duration `default:"10s" usage:"Deadline for every provider call" flag:"gateway-timeout"`
}

// CheckoutConfig controls orders and gift card purchases.
type CheckoutConfig struct {
	Currency         string        `default:"USD" usage:"Settlement currency"`
	ReturnURL        string        `default:"http://localhost:3000/payment/return" usage:"Payer return URL after approval" flag:"return-url"`
	CancelURL        string        `default:"http://localhost:3000/payment/cancel" usage:"Payer return URL after cancelling" flag:"cancel-url"`
	GiftCardValidity time.Duration `default:"8760h" usage:"Gift card lifetime, 0 for no expiry" flag:"giftcard-validity"`
	QRSize           int           `default:"256" usage:"Gift card QR edge in pixels" flag:"qr-size"`
}

// KafkaConfig controls notification publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers" flag:"kafka-brokers"`
	Topic   string   `default:"kart.notifications" usage:"Notification topic" flag:"kafka-topic"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "KART",
		Files:     []string{"config.yaml", "/etc/kart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set KART_DATABASE_URL or DATABASE_URL")
	case c.RedisURL == "":
		return errors.New("redis URL is required: set KART_REDIS_URL or REDIS_URL")
	case c.JWT.Secret == "":
		return errors.New("JWT secret is required: set KART_JWT_SECRET")
	}
	switch c.Gateway.Provider {
	case "paypal":
		if c.Gateway.ClientID == "" || c.Gateway.Secret == "" {
			return errors.New("paypal gateway needs KART_GATEWAY_CLIENT_ID and KART_GATEWAY_SECRET")
		}
	case "fake":
	default:
		return errors.Errorf("unknown gateway provider %q", c.Gateway.Provider)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's KART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.RedisURL == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.RedisURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
