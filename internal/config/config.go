package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort          string        `env:"HTTP_PORT" envDefault:"8080"`
	MarketplaceAPIURL string        `env:"MARKETPLACE_API_URL" envDefault:"http://localhost:8081"`
	BackendTimeout    time.Duration `env:"BACKEND_TIMEOUT" envDefault:"5s"`

	StoreBackend string        `env:"STORE_BACKEND" envDefault:"redis"`
	RedisAddr    string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	BoltPath     string        `env:"BOLT_PATH" envDefault:"foodhood.db"`
	SessionTTL   time.Duration `env:"SESSION_TTL" envDefault:"720h"`

	SessionCookie  string        `env:"SESSION_COOKIE" envDefault:"fm_session"`
	CookieSecure   bool          `env:"COOKIE_SECURE" envDefault:"false"`
	SessionIdleTTL time.Duration `env:"SESSION_IDLE_TTL" envDefault:"30m"`

	// LoginRateLimit is the number of login and signup attempts allowed per
	// client IP per minute.
	LoginRateLimit int `env:"LOGIN_RATE_LIMIT" envDefault:"10"`

	MarketplacePort string        `env:"MARKETPLACE_PORT" envDefault:"8081"`
	JWTSecret       string        `env:"JWT_SECRET" envDefault:"dev-secret"`
	TokenTTL        time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
}

// NewConfig reads an optional .env file, then the environment. Variables
// already set in the environment win over the file.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.SessionCookie == "" {
		return nil, fmt.Errorf("SESSION_COOKIE must not be empty")
	}
	return cfg, nil
}
