// Package config loads runtime settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Prefix is prepended to every variable name.
const Prefix = "TILAWA_"

// Config holds process-wide settings. Paths left empty are derived from
// DataDir by Resolve.
type Config struct {
	DataDir       string `env:"DATA_DIR"`
	DBPath        string `env:"DB_PATH"`
	AudioCacheDir string `env:"AUDIO_CACHE_DIR"`

	ContentBaseURL  string        `env:"CONTENT_BASE_URL" envDefault:"https://api.alquran.cloud/"`
	AudioBaseURL    string        `env:"AUDIO_BASE_URL" envDefault:"https://cdn.islamic.network/quran/audio/"`
	Reciter         string        `env:"RECITER" envDefault:"ar.alafasy"`
	Bitrate         string        `env:"BITRATE" envDefault:"128"`
	HTTPTimeout     time.Duration `env:"HTTP_TIMEOUT" envDefault:"15s"`
	ReciterCacheTTL time.Duration `env:"RECITER_CACHE_TTL" envDefault:"24h"`
	FetchWorkers    int           `env:"FETCH_WORKERS" envDefault:"4"`

	SettleDelay   time.Duration `env:"SETTLE_DELAY" envDefault:"100ms"`
	PlayerCommand []string      `env:"PLAYER_COMMAND" envDefault:"mpv,--no-video,--really-quiet" envSeparator:","`

	Listen         string   `env:"LISTEN" envDefault:":8080"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	APIKey         string   `env:"API_KEY"`
	RateLimit      int      `env:"RATE_LIMIT" envDefault:"120"` // requests per minute, 0 disables
	RateBurst      int      `env:"RATE_BURST" envDefault:"20"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load reads envFile (ignored when missing) and then the process
// environment. Variables already set in the environment win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return Parse(nil)
}

// Parse reads settings from vars, or from the process environment when
// vars is nil.
func Parse(vars map[string]string) (Config, error) {
	opts := env.Options{Prefix: Prefix}
	if vars != nil {
		opts.Environment = vars
	}
	var c Config
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := c.Resolve(); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

// Resolve fills DataDir from the user config directory and derives the
// database and cache paths from it.
func (c *Config) Resolve() error {
	if c.DataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("resolve data dir: %w", err)
		}
		c.DataDir = filepath.Join(base, "tilawa")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "tilawa.db")
	}
	if c.AudioCacheDir == "" {
		c.AudioCacheDir = filepath.Join(c.DataDir, "audio")
	}
	return nil
}

// Validate rejects settings the rest of the program cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Reciter == "" {
		errs = append(errs, errors.New("reciter must not be empty"))
	}
	if c.Bitrate == "" {
		errs = append(errs, errors.New("bitrate must not be empty"))
	}
	if c.SettleDelay < 0 {
		errs = append(errs, errors.New("settle delay must not be negative"))
	}
	if c.FetchWorkers < 1 {
		errs = append(errs, fmt.Errorf("fetch workers must be at least 1, got %d", c.FetchWorkers))
	}
	if c.APIKey != "" && len(c.APIKey) < 16 {
		errs = append(errs, fmt.Errorf("API key must be at least 16 characters (got %d)", len(c.APIKey)))
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		errs = append(errs, errors.New("rate limit must not be negative"))
	}
	if len(c.PlayerCommand) == 0 || c.PlayerCommand[0] == "" {
		errs = append(errs, errors.New("player command must not be empty"))
	}
	return errors.Join(errs...)
}

// EnsureDirs creates DataDir and AudioCacheDir.
func (c Config) EnsureDirs() error {
	for _, d := range []string{c.DataDir, c.AudioCacheDir, filepath.Dir(c.DBPath)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}
