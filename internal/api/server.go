// Package api serves reading sessions over REST and WebSocket. A session
// owns a playback sequencer whose audio is played either on the server
// host or by a remote client connected as its transport.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/FocuswithJustin/tilawa/core/activity"
	"github.com/FocuswithJustin/tilawa/core/content"
	"github.com/FocuswithJustin/tilawa/core/playback"
	"github.com/FocuswithJustin/tilawa/core/queue"
	"github.com/FocuswithJustin/tilawa/internal/logging"
	"github.com/FocuswithJustin/tilawa/internal/store"
)

// Library is the persistent state the server reads and updates.
// *store.Store implements it.
type Library interface {
	Bookmark(ctx context.Context, id string) (content.Bookmark, error)
	Collection(ctx context.Context, idOrName string) (content.Collection, error)
	Preferences(ctx context.Context, defaults store.Preferences) (store.Preferences, error)
	SaveSpeed(ctx context.Context, sp playback.Speed) error
	KhatmPage(ctx context.Context) (int, error)
	SetKhatmPage(ctx context.Context, page int) error
}

// Deps are the collaborators a Server needs. Prefetch and LocalTransport
// are optional.
type Deps struct {
	Provider content.Provider
	Audio    content.AudioSource
	Library  Library
	Tracker  *activity.Tracker

	// Prefetch returns a prefetcher for one reciter and bitrate.
	Prefetch func(reciter, bitrate string) playback.Prefetcher
	// LocalTransport creates a transport that plays on the server host.
	LocalTransport func() (playback.Transport, error)
}

// Server is the session server.
type Server struct {
	cfg      Config
	deps     Deps
	builder  *queue.Builder
	sessions *SessionStore
	limiter  *RateLimiter
	ws       WebSocketSecurityConfig
	version  string
	started  time.Time
}

// New validates cfg and returns a server ready to serve.
func New(cfg Config, deps Deps, version string) (*Server, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Provider == nil || deps.Audio == nil || deps.Library == nil || deps.Tracker == nil {
		return nil, errors.New("api: provider, audio source, library and tracker are required")
	}
	s := &Server{
		cfg:      cfg,
		deps:     deps,
		builder:  queue.NewBuilder(deps.Provider),
		sessions: NewSessionStore(),
		ws:       DefaultWebSocketSecurityConfig(cfg.AllowedOrigins),
		version:  version,
		started:  time.Now(),
	}
	if cfg.RateLimitRequests > 0 {
		s.limiter = NewRateLimiter(RateLimiterConfig{
			RequestsPerMinute: cfg.RateLimitRequests,
			BurstSize:         cfg.RateLimitBurst,
		})
	}
	return s, nil
}

// Sessions returns the open sessions.
func (s *Server) Sessions() *SessionStore {
	return s.sessions
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /api/sessions/{id}/play", s.handlePlay)
	mux.HandleFunc("POST /api/sessions/{id}/pause", s.handlePause)
	mux.HandleFunc("POST /api/sessions/{id}/speed", s.handleSpeed)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)

	mux.HandleFunc("GET /api/activity/today", s.handleToday)
	mux.HandleFunc("POST /api/activity/toggle", s.handleToggle)
	mux.HandleFunc("GET /api/activity/streaks", s.handleStreaks)
	mux.HandleFunc("GET /api/activity/history", s.handleHistory)

	mux.HandleFunc("GET /api/verses/{ref}", s.handleVerses)

	mux.HandleFunc("GET /ws/sessions/{id}/events", s.handleEventStream)
	mux.HandleFunc("GET /ws/sessions/{id}/transport", s.handleTransportStream)

	return mux
}

// Handler returns the routes wrapped in the middleware chain: security
// headers, authentication, rate limiting, CORS and request logging, from
// innermost to outermost.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = securityHeaders(s.routes())

	if s.cfg.Auth.Enabled {
		handler = AuthMiddleware(s.cfg.Auth, handler)
	}
	if s.limiter != nil {
		handler = s.limiter.Middleware(handler)
	}
	handler = corsMiddleware(s.cfg.AllowedOrigins, handler)
	return logging.CombinedMiddleware(handler)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
// and closes every session.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	port := 0
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	logging.ServerStartup("session_api", "http", port,
		"addr", ln.Addr().String(),
		"auth", s.cfg.Auth.Enabled,
		"rate_limit", strconv.Itoa(s.cfg.RateLimitRequests)+"/min",
		"allowed_origins", len(s.cfg.AllowedOrigins))
	if !s.cfg.Auth.Enabled {
		logging.Warn("API authentication disabled", "recommendation", "set TILAWA_API_KEY when listening beyond localhost")
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		s.Close(context.Background())
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if cerr := s.Close(shutdownCtx); err == nil {
		err = cerr
	}
	if serr := <-errc; !errors.Is(serr, http.ErrServerClosed) && err == nil {
		err = serr
	}
	return err
}

// Close ends every session and stops background work.
func (s *Server) Close(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	return s.sessions.CloseAll(ctx)
}
