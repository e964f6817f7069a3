// Package lp is the long-polling fallback transport: the same Fan-out
// Router as the websocket handler drives it, but a session here outlives
// any single HTTP request — the client re-attaches to it on every
// poll/send call instead of holding one socket open.
package lp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/webitel/chat-core/internal/auth"
	"github.com/webitel/chat-core/internal/domain/event"
	"github.com/webitel/chat-core/internal/router"
	"github.com/webitel/chat-core/internal/wire"
)

const (
	pollTimeout        = 30 * time.Second
	sessionIdleTimeout = 2 * time.Minute
	sessionMailboxSize = 256
	drainBatchLimit    = 32
)

type TokenVerifier interface {
	Verify(tokenString string) (*auth.Claims, error)
}

// LPHandler holds every open long-poll session in-process, so it only
// works correctly behind sticky routing to one node (the websocket handler
// has no such constraint since the Bus Adapter fans cross-node traffic in).
type LPHandler struct {
	logger *slog.Logger
	router *router.Router
	tokens TokenVerifier

	mu       sync.Mutex
	sessions map[uuid.UUID]*lpSession
}

type lpSession struct {
	session    router.Session
	lastActive time.Time
}

func NewLPHandler(logger *slog.Logger, r *router.Router, tokens TokenVerifier) *LPHandler {
	h := &LPHandler{
		logger:   logger,
		router:   r,
		tokens:   tokens,
		sessions: make(map[uuid.UUID]*lpSession),
	}
	go h.reapIdle()
	return h
}

type connectResponse struct {
	SessionID uuid.UUID `json:"session_id"`
}

// Connect opens a new long-poll session bound to the caller's bearer token
// and runs the same presence-on-connect flow as a websocket open.
func (h *LPHandler) Connect(w http.ResponseWriter, r *http.Request) {
	claims, err := h.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	s := router.NewSession(context.Background(), claims.UserID, claims.Username, sessionMailboxSize)
	h.router.Connect(r.Context(), s)

	h.mu.Lock()
	h.sessions[s.GetID()] = &lpSession{session: s, lastActive: time.Now()}
	h.mu.Unlock()

	writeJSON(w, connectResponse{SessionID: s.GetID()})
}

// Poll blocks up to pollTimeout waiting for at least one event, then
// returns it together with up to drainBatchLimit more already-queued
// events, cutting the number of round trips a slow-polling client needs.
func (h *LPHandler) Poll(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(r)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	var envelopes []wire.ServerEnvelope
	select {
	case <-r.Context().Done():
		return
	case <-s.Done():
		http.Error(w, "session closed", http.StatusGone)
		return
	case ev := <-s.Recv():
		envelopes = append(envelopes, toEnvelope(ev))
	drain:
		for i := 0; i < drainBatchLimit; i++ {
			select {
			case ev := <-s.Recv():
				envelopes = append(envelopes, toEnvelope(ev))
			default:
				break drain
			}
		}
	case <-time.After(pollTimeout):
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, envelopes)
}

// Send decodes one client envelope from the body and dispatches it through
// the router, exactly as a websocket read loop would for one frame.
func (h *LPHandler) Send(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(r)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	h.router.Dispatch(r.Context(), s, body)
	w.WriteHeader(http.StatusAccepted)
}

// Close ends a long-poll session and runs the same presence-on-disconnect
// flow as a websocket close.
func (h *LPHandler) Close(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "session_id"))
	if err != nil {
		http.Error(w, "bad session id", http.StatusBadRequest)
		return
	}
	h.remove(r.Context(), sessionID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *LPHandler) lookup(r *http.Request) (router.Session, bool) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "session_id"))
	if err != nil {
		return nil, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	ls, ok := h.sessions[sessionID]
	if !ok {
		return nil, false
	}
	ls.lastActive = time.Now()
	return ls.session, true
}

func (h *LPHandler) remove(ctx context.Context, sessionID uuid.UUID) {
	h.mu.Lock()
	ls, ok := h.sessions[sessionID]
	if ok {
		delete(h.sessions, sessionID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	h.router.Disconnect(ctx, ls.session)
	ls.session.Close()
}

// reapIdle closes sessions nobody has polled in a while — a long-poll
// client that vanishes without calling Close still needs to age out of
// presence like a dropped socket would.
func (h *LPHandler) reapIdle() {
	ticker := time.NewTicker(sessionIdleTimeout / 2)
	defer ticker.Stop()
	for range ticker.C {
		h.mu.Lock()
		var stale []uuid.UUID
		for id, ls := range h.sessions {
			if time.Since(ls.lastActive) > sessionIdleTimeout {
				stale = append(stale, id)
			}
		}
		h.mu.Unlock()
		for _, id := range stale {
			h.logger.Debug("lp session idle timeout", "session_id", id)
			h.remove(context.Background(), id)
		}
	}
}

func (h *LPHandler) authenticate(r *http.Request) (*auth.Claims, error) {
	tokenString := r.Header.Get("Authorization")
	if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
		tokenString = tokenString[7:]
	}
	return h.tokens.Verify(tokenString)
}

func toEnvelope(ev event.Eventer) wire.ServerEnvelope {
	envelope, ok := wire.ToEnvelope(ev)
	if !ok {
		return wire.ServerEnvelope{Event: wire.ServerError, Data: wire.ErrorPayload{Message: "unrepresentable event"}}
	}
	return envelope
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
