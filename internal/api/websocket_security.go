package api

import (
	"net/http"

	"github.com/FocuswithJustin/tilawa/internal/logging"
	"github.com/gorilla/websocket"
)

// WebSocketSecurityConfig holds WebSocket-specific security configuration.
// Authentication is enforced by AuthMiddleware before the upgrade.
type WebSocketSecurityConfig struct {
	// AllowedOrigins lists origin patterns; empty allows every origin.
	AllowedOrigins []string

	// MaxMessageRate is the maximum number of messages per second per client.
	MaxMessageRate int

	// MaxMessageSize is the maximum message size in bytes.
	MaxMessageSize int64
}

// DefaultWebSocketSecurityConfig returns limits suited to transport
// signals, which arrive a few times per verse.
func DefaultWebSocketSecurityConfig(allowedOrigins []string) WebSocketSecurityConfig {
	return WebSocketSecurityConfig{
		AllowedOrigins: allowedOrigins,
		MaxMessageRate: 10,
		MaxMessageSize: 4096,
	}
}

func (cfg WebSocketSecurityConfig) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     CheckOriginWithConfig(cfg),
	}
}

// CheckOriginWithConfig creates a CheckOrigin function based on security
// config. Requests without an Origin header come from non-browser clients
// and are accepted.
func CheckOriginWithConfig(cfg WebSocketSecurityConfig) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(cfg.AllowedOrigins) == 0 {
			return true
		}
		if isOriginAllowed(origin, cfg.AllowedOrigins) {
			return true
		}
		logging.WarnContext(r.Context(), "rejected websocket origin", "origin", origin)
		return false
	}
}

// upgrade validates the origin, upgrades the connection and applies the
// message size limit.
func (cfg WebSocketSecurityConfig) upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	conn, err := cfg.upgrader().Upgrade(w, r, nil)
	if err != nil {
		logging.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return nil, err
	}
	conn.SetReadLimit(cfg.MaxMessageSize)
	logging.InfoContext(r.Context(), "websocket connection established",
		"remote", getClientIP(r), "path", r.URL.Path)
	return conn, nil
}
