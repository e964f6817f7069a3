// Package rest is the thin CRUD surface around the real-time core:
// account registration/login and room management, deliberately no smarter
// than validators over the DB adapter. It hands a bearer token to the
// client, which the WS/long-poll handlers then verify on connect.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/webitel/chat-core/internal/auth"
	"github.com/webitel/chat-core/internal/domain/model"
	"github.com/webitel/chat-core/internal/store/postgres"
	"github.com/webitel/chat-core/internal/wire"
)

type Users interface {
	Create(ctx context.Context, username, email, credentialHash string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
}

type Rooms interface {
	Create(ctx context.Context, r *model.Room) (*model.Room, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Room, error)
	ListPublic(ctx context.Context) ([]*model.Room, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*model.Room, error)
}

type Memberships interface {
	Upsert(ctx context.Context, userID, roomID uuid.UUID) error
	Deactivate(ctx context.Context, userID, roomID uuid.UUID) error
}

// publicRoom strips CredentialHash — a room's passcode hash never belongs
// on the wire, public or private.
type publicRoom struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Private     bool      `json:"private"`
	CreatorID   uuid.UUID `json:"creator_id"`
	CreatedAt   time.Time `json:"created_at"`
}

func toPublicRoom(r *model.Room) publicRoom {
	return publicRoom{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Private:     r.Private,
		CreatorID:   r.CreatorID,
		CreatedAt:   r.CreatedAt,
	}
}

func toPublicRooms(rs []*model.Room) []publicRoom {
	out := make([]publicRoom, 0, len(rs))
	for _, r := range rs {
		out = append(out, toPublicRoom(r))
	}
	return out
}

type Tokens interface {
	Issue(userID uuid.UUID, username string) (string, error)
	Verify(tokenString string) (*auth.Claims, error)
}

// API wires the REST surface. Handlers stay thin by design: every
// nontrivial decision (validation aside) belongs to the core packages they
// call into.
type API struct {
	users       Users
	rooms       Rooms
	memberships Memberships
	tokens      Tokens
	logger      *slog.Logger
	limiter     *perIPLimiter
}

func NewAPI(users Users, rooms Rooms, memberships Memberships, tokens Tokens, logger *slog.Logger, ratePerMin int) *API {
	return &API{
		users:       users,
		rooms:       rooms,
		memberships: memberships,
		tokens:      tokens,
		logger:      logger,
		limiter:     newPerIPLimiter(rate.Limit(float64(ratePerMin)/60), ratePerMin),
	}
}

// Routes mounts the REST surface onto r. auth/register and auth/login are
// rate-limited per client IP; everything else requires a valid bearer token.
func (a *API) Routes(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Group(func(pub chi.Router) {
		pub.Use(a.limiter.middleware)
		pub.Post("/auth/register", a.handleRegister)
		pub.Post("/auth/login", a.handleLogin)
	})

	r.Group(func(priv chi.Router) {
		priv.Use(a.requireAuth)
		priv.Get("/rooms/public", a.handleListPublicRooms)
		priv.Get("/rooms/my-rooms", a.handleMyRooms)
		priv.Post("/rooms/create", a.handleCreateRoom)
		priv.Post("/rooms/join", a.handleJoinRoom)
		priv.Post("/rooms/{room_id}/leave", a.handleLeaveRoom)
	})
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	User  model.PublicUser `json:"user"`
	Token string           `json:"token"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, wire.ErrValidation)
		return
	}
	if strings.TrimSpace(req.Username) == "" || strings.TrimSpace(req.Password) == "" {
		writeError(w, http.StatusBadRequest, wire.ErrValidation)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		a.logger.Error("hash password failed", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	u, err := a.users.Create(r.Context(), req.Username, req.Email, hash)
	if err != nil {
		a.logger.Warn("register failed", "username", req.Username, "err", err)
		writeError(w, http.StatusConflict, wire.ErrValidation)
		return
	}

	token, err := a.tokens.Issue(u.ID, u.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{User: u.Public(), Token: token})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, wire.ErrValidation)
		return
	}

	u, err := a.users.GetByUsername(r.Context(), req.Username)
	if err != nil {
		writeError(w, http.StatusUnauthorized, wire.ErrUnauthorized)
		return
	}
	if !auth.VerifyPassword(req.Password, u.CredentialHash) {
		writeError(w, http.StatusUnauthorized, wire.ErrUnauthorized)
		return
	}

	token, err := a.tokens.Issue(u.ID, u.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{User: u.Public(), Token: token})
}

type roomsResponse struct {
	Rooms []publicRoom `json:"rooms"`
}

func (a *API) handleListPublicRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := a.rooms.ListPublic(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, roomsResponse{Rooms: toPublicRooms(rooms)})
}

func (a *API) handleMyRooms(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	rooms, err := a.rooms.ListForUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, roomsResponse{Rooms: toPublicRooms(rooms)})
}

type createRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Passcode    string `json:"passcode,omitempty"`
}

func (a *API) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, wire.ErrValidation)
		return
	}
	userID := userIDFromContext(r.Context())

	room := &model.Room{Name: req.Name, Description: req.Description, CreatorID: userID}
	if req.Passcode != "" {
		hash, err := auth.HashPassword(req.Passcode)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		room.Private = true
		room.CredentialHash = hash
	}

	created, err := a.rooms.Create(r.Context(), room)
	if err != nil {
		if errors.Is(err, wire.ErrDuplicateRoomName) {
			writeError(w, http.StatusConflict, wire.ErrDuplicateRoomName)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := a.memberships.Upsert(r.Context(), userID, created.ID); err != nil {
		a.logger.Warn("upsert creator membership failed", "room_id", created.ID, "err", err)
	}
	writeJSON(w, http.StatusCreated, toPublicRoom(created))
}

type joinRoomRequest struct {
	RoomID   uuid.UUID `json:"room_id"`
	Passcode string    `json:"passcode,omitempty"`
}

func (a *API) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, wire.ErrValidation)
		return
	}
	userID := userIDFromContext(r.Context())

	room, err := a.rooms.GetByID(r.Context(), req.RoomID)
	if err != nil {
		if errors.Is(err, postgres.ErrNoRows) {
			writeError(w, http.StatusNotFound, wire.ErrNotFound)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if room.Private {
		if req.Passcode == "" {
			writeError(w, http.StatusUnauthorized, wire.ErrPasscodeRequired)
			return
		}
		if !auth.VerifyPassword(req.Passcode, room.CredentialHash) {
			writeError(w, http.StatusUnauthorized, wire.ErrInvalidPasscode)
			return
		}
	}

	if err := a.memberships.Upsert(r.Context(), userID, room.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, toPublicRoom(room))
}

func (a *API) handleLeaveRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(chi.URLParam(r, "room_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, wire.ErrValidation)
		return
	}
	userID := userIDFromContext(r.Context())
	if err := a.memberships.Deactivate(r.Context(), userID, roomID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type contextKey string

const userIDKey contextKey = "user_id"

// requireAuth resolves a bearer token into a user id and attaches it to
// the request context, the same contract the WS/long-poll handshake uses.
func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, wire.ErrUnauthorized)
			return
		}
		claims, err := a.tokens.Verify(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, wire.ErrUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

func userIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(userIDKey).(uuid.UUID)
	return id
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, wire.RESTError{Error: wire.RESTErrorDetail{
		Message: err.Error(),
		Code:    wire.CodeFor(err),
	}})
}

// perIPLimiter backs the rate limit on the unauthenticated auth
// endpoints. There is no user id yet to key on, so the client's remote
// address is the best available key.
type perIPLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

func newPerIPLimiter(r rate.Limit, burst int) *perIPLimiter {
	return &perIPLimiter{limiters: make(map[string]*rate.Limiter), r: r, burst: burst}
}

func (l *perIPLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.r, l.burst)
		l.limiters[key] = lim
	}
	return lim
}

func (l *perIPLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		if !l.get(key).Allow() {
			writeError(w, http.StatusTooManyRequests, wire.ErrValidation)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return r.RemoteAddr
}
