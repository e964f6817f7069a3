package ws

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/webitel/chat-core/internal/auth"
	"github.com/webitel/chat-core/internal/router"
	"github.com/webitel/chat-core/internal/wire"
)

const sessionMailboxSize = 256

// TokenVerifier resolves the bearer token on the upgrade request to the
// identity that drives the rest of the connection.
type TokenVerifier interface {
	Verify(tokenString string) (*auth.Claims, error)
}

type WSHandler struct {
	logger   *slog.Logger
	router   *router.Router
	tokens   TokenVerifier
	upgrader websocket.Upgrader
}

func NewWSHandler(logger *slog.Logger, r *router.Router, tokens TokenVerifier, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		logger: logger,
		router: r,
		tokens: tokens,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
	}
}

// originChecker allows same-origin requests plus any origin on the
// configured list; a "*" entry disables the check entirely.
func originChecker(allowed []string) func(*http.Request) bool {
	allowAll := false
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := h.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	s := router.NewSession(ctx, claims.UserID, claims.Username, sessionMailboxSize)
	defer s.Close()

	h.router.Connect(ctx, s)
	defer h.router.Disconnect(ctx, s)

	h.logger.Info("ws opened", "user_id", claims.UserID, "session_id", s.GetID())

	go h.writePump(conn, s)
	h.readPump(ctx, conn, s)
}

// writePump drains the session's mailbox onto the socket until the
// session ends.
func (h *WSHandler) writePump(conn *websocket.Conn, s router.Session) {
	for {
		select {
		case <-s.Done():
			return
		case ev := <-s.Recv():
			data, err := wire.Marshal(ev)
			if err != nil {
				h.logger.Warn("ws marshal failed", "err", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Warn("ws write failed", "session_id", s.GetID(), "err", err)
				conn.Close()
				return
			}
		}
	}
}

// readPump feeds every inbound frame to the router and blocks until the
// socket closes or the request context is cancelled.
func (h *WSHandler) readPump(ctx context.Context, conn *websocket.Conn, s router.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.router.Dispatch(ctx, s, data)
	}
}

func (h *WSHandler) authenticate(r *http.Request) (*auth.Claims, error) {
	tokenString := bearerToken(r)
	if tokenString == "" {
		tokenString = r.URL.Query().Get("token")
	}
	return h.tokens.Verify(tokenString)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}
