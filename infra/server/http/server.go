// Package http owns the node's single listener: REST under /api, the
// websocket upgrade at /ws, and the long-polling fallback under /lp. On
// SIGTERM the listener stops accepting, in-flight handlers get the
// configured grace period, then the rest of the fx graph tears down.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"

	"github.com/webitel/chat-core/config"
	lphandler "github.com/webitel/chat-core/internal/handler/lp"
	wshandler "github.com/webitel/chat-core/internal/handler/ws"
	"github.com/webitel/chat-core/internal/rest"
	"github.com/webitel/chat-core/internal/router"
)

type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

func NewServer(
	cfg *config.Config,
	api *rest.API,
	ws *wshandler.WSHandler,
	lp *lphandler.LPHandler,
	registry router.Registrar,
	logger *slog.Logger,
) *Server {
	mux := chi.NewRouter()

	mux.Route("/api", api.Routes)

	mux.Get("/ws", ws.ServeHTTP)

	mux.Route("/lp", func(r chi.Router) {
		r.Post("/connect", lp.Connect)
		r.Get("/{session_id}/poll", lp.Poll)
		r.Post("/{session_id}/send", lp.Send)
		r.Delete("/{session_id}", lp.Close)
	})

	// Node-local operational stats, not part of the wire protocol.
	mux.Get("/internal/stats", func(w http.ResponseWriter, r *http.Request) {
		writeStats(w, registry.Stats())
	})

	return &Server{
		srv:    &http.Server{Addr: cfg.HTTP.Addr, Handler: mux},
		logger: logger,
	}
}

func writeStats(w http.ResponseWriter, stats any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

// Module provides the server and ties its lifecycle to the fx app: the
// listener comes up on start and drains on stop. When the proactive
// offline policy is on, local users are marked offline before the
// listener closes instead of waiting for the reaper.
var Module = fx.Module("http-server",
	fx.Provide(NewServer),
	fx.Invoke(func(lc fx.Lifecycle, s *Server, cfg *config.Config, rt *router.Router) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go func() {
					if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						s.logger.Error("http server failed", "addr", s.srv.Addr, "err", err)
					}
				}()
				s.logger.Info("http server listening", "addr", s.srv.Addr)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				shutdownCtx, cancel := context.WithTimeout(ctx, cfg.HTTP.ShutdownTimeout)
				defer cancel()
				if cfg.Auth.ProactiveOfflineOnShutdown {
					rt.DrainLocal(shutdownCtx)
				}
				return s.srv.Shutdown(shutdownCtx)
			},
		})
	}),
)
