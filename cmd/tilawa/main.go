// Command tilawa is the CLI for the tilawa recitation engine.
// It addresses verses, builds reading queues, plays them through an
// external audio player and serves reading sessions over HTTP.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/FocuswithJustin/tilawa/core/cas"
	"github.com/FocuswithJustin/tilawa/core/content"
	"github.com/FocuswithJustin/tilawa/core/playback"
	"github.com/FocuswithJustin/tilawa/internal/alquran"
	"github.com/FocuswithJustin/tilawa/internal/audiocache"
	"github.com/FocuswithJustin/tilawa/internal/config"
	"github.com/FocuswithJustin/tilawa/internal/logging"
	"github.com/FocuswithJustin/tilawa/internal/store"
)

const version = "0.1.0"

// stdout receives command output. Logs go to stderr.
var stdout io.Writer = os.Stdout

// CLI defines the command-line interface for tilawa.
type CLI struct {
	Globals

	Index      IndexCmd        `cmd:"" help:"Show global index, page, part and preamble for a reference"`
	Queue      QueueCmd        `cmd:"" help:"Build a reading queue and print it"`
	Play       PlayCmd         `cmd:"" help:"Play a reading queue through the local player"`
	Bookmark   BookmarkGroup   `cmd:"" help:"Bookmark operations"`
	Collection CollectionGroup `cmd:"" help:"Collection operations"`
	Activity   ActivityGroup   `cmd:"" help:"Daily reading activity"`
	Import     ImportCmd       `cmd:"" help:"Import a Tanzil corpus for offline reading"`
	Cache      CacheGroup      `cmd:"" help:"Audio cache operations"`
	Serve      ServeCmd        `cmd:"" help:"Start the session server"`
	Version    VersionCmd      `cmd:"" help:"Print version information"`
}

// Globals are flags shared by every command.
type Globals struct {
	EnvFile   string `name:"env-file" help:"Read settings from this .env file when it exists" default:".env"`
	DataDir   string `name:"data-dir" help:"Data directory; database and audio cache paths are derived from it" type:"path"`
	LogLevel  string `name:"log-level" help:"Log level (debug, info, warn, error)"`
	LogFormat string `name:"log-format" help:"Log format (text, json)"`
	Offline   bool   `help:"Never fetch verse content from the network"`
}

// config loads settings and applies flag overrides.
func (g *Globals) config() (config.Config, error) {
	cfg, err := config.Load(g.EnvFile)
	if err != nil {
		return config.Config{}, err
	}
	if g.DataDir != "" {
		cfg.DataDir = g.DataDir
		cfg.DBPath = ""
		cfg.AudioCacheDir = ""
		if err := cfg.Resolve(); err != nil {
			return config.Config{}, err
		}
	}
	if g.LogLevel != "" {
		cfg.LogLevel = g.LogLevel
	}
	if g.LogFormat != "" {
		cfg.LogFormat = g.LogFormat
	}
	logging.InitLoggerWriter(os.Stderr, logging.ParseLevel(cfg.LogLevel), logging.ParseFormat(cfg.LogFormat))
	return cfg, nil
}

// app holds what a command needs once settings are loaded.
type app struct {
	cfg     config.Config
	store   *store.Store
	offline bool
}

func (g *Globals) open(ctx context.Context) (*app, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, store: st, offline: g.Offline}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// provider returns the imported corpus when there is one and the remote
// API otherwise.
func (a *app) provider(ctx context.Context) (content.Provider, error) {
	n, err := a.store.VerseCount(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return a.store.Verses(), nil
	}
	if a.offline {
		return nil, fmt.Errorf("no corpus imported into %s; run 'tilawa import' first", a.cfg.DBPath)
	}
	client, err := alquran.New(a.cfg.ContentBaseURL,
		alquran.WithHTTPClient(&http.Client{Timeout: a.cfg.HTTPTimeout}),
		alquran.WithReciterTTL(a.cfg.ReciterCacheTTL))
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (a *app) audio() (*audiocache.Cache, error) {
	blobs, err := cas.NewStore(a.cfg.AudioCacheDir)
	if err != nil {
		return nil, err
	}
	return audiocache.New(blobs, a.store, content.CDN{BaseURL: a.cfg.AudioBaseURL}), nil
}

func (a *app) preferences(ctx context.Context) (store.Preferences, error) {
	return a.store.Preferences(ctx, store.Preferences{
		Reciter: a.cfg.Reciter,
		Bitrate: a.cfg.Bitrate,
		Speed:   playback.DefaultSpeed,
	})
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Fprintf(stdout, "tilawa version %s\n", version)
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("tilawa"),
		kong.Description("Tilawa - verse addressing and continuous recitation playback"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	err := kctx.Run(&cli.Globals)
	kctx.FatalIfErrorf(err)
}
