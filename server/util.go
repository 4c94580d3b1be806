package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// newUpgrader creates the audit WebSocket upgrader using the same origin
// policy as CORS
func (s *AuditServer) newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  readBufferSize,
		WriteBufferSize: writeBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return s.originAllowed(r.Header.Get("Origin"))
		},
	}
}

// originAllowed validates an origin against server.allowed_origins.
// Prefix matching admits any port; a request without Origin is a non-browser
// client and is allowed.
func (s *AuditServer) originAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.Server.AllowedOrigins {
		if allowed == "*" || strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	return false
}
