package socket

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"nesgem/internal/presence"
	"nesgem/pkg/jwt"
)

// Gateway authenticates websocket handshakes and hands validated
// connections to a Session. A connection that fails validation is rejected
// before it can touch the presence registry.
type Gateway struct {
	tokens   *jwt.JWT
	core     Core
	registry *presence.Registry
	upgrader websocket.Upgrader
	opts     SessionOptions
	log      *slog.Logger
}

func NewGateway(tokens *jwt.JWT, core Core, registry *presence.Registry, opts SessionOptions, log *slog.Logger) *Gateway {
	return &Gateway{
		tokens:   tokens,
		core:     core,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients authenticate with the access_token cookie;
			// cross-origin pages cannot set it, so origin filtering is
			// left to the fronting proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		opts: opts,
		log:  log,
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie("access_token")
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	claims, err := g.tokens.ValidateToken(cookie.Value)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	session := NewSession(claims.UserID, ws, g.core, g.registry, g.opts, g.log)
	go session.WritePump()
	session.ReadPump(r.Context())
}
