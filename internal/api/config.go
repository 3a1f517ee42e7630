package api

import (
	"fmt"
	"time"

	"github.com/FocuswithJustin/tilawa/internal/config"
)

// Config holds server configuration.
type Config struct {
	Listen            string
	RateLimitRequests int        // Requests per minute (0 = disabled)
	RateLimitBurst    int        // Burst size
	Auth              AuthConfig // Authentication configuration
	AllowedOrigins    []string   // CORS and WebSocket allowed origins (empty = allow all)

	// Session defaults.
	Reciter     string
	Bitrate     string
	SettleDelay time.Duration

	// ShutdownTimeout bounds graceful shutdown in ListenAndServe.
	ShutdownTimeout time.Duration
}

// ConfigFrom maps the process configuration onto server settings.
func ConfigFrom(c config.Config) Config {
	return Config{
		Listen:            c.Listen,
		RateLimitRequests: c.RateLimit,
		RateLimitBurst:    c.RateBurst,
		Auth:              AuthConfig{Enabled: c.APIKey != "", APIKey: c.APIKey},
		AllowedOrigins:    c.AllowedOrigins,
		Reciter:           c.Reciter,
		Bitrate:           c.Bitrate,
		SettleDelay:       c.SettleDelay,
		ShutdownTimeout:   5 * time.Second,
	}
}

func (c *Config) setDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.Reciter == "" {
		c.Reciter = "ar.alafasy"
	}
	if c.Bitrate == "" {
		c.Bitrate = "128"
	}
	if c.RateLimitRequests > 0 && c.RateLimitBurst == 0 {
		c.RateLimitBurst = 10
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// Validate checks the configuration before the server starts.
func (c Config) Validate() error {
	if err := ValidateAuthConfig(c.Auth); err != nil {
		return fmt.Errorf("invalid auth config: %w", err)
	}
	if c.RateLimitRequests < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	return nil
}
