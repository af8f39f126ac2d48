package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"discussd/internal/auth"
	"discussd/internal/db"
	"discussd/internal/models"
	"discussd/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WebSocketHandler struct {
	hub           *ws.Hub
	jwtService    *auth.JWTService
	userRepo      *db.UserRepository
	sessionCookie string
}

func NewWebSocketHandler(hub *ws.Hub, jwtService *auth.JWTService, userRepo *db.UserRepository, sessionCookie string) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		jwtService:    jwtService,
		userRepo:      userRepo,
		sessionCookie: sessionCookie,
	}
}

// ServeWS upgrades the connection after resolving its identity from the
// platform session cookie (or ?token= for non-browser clients).
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := h.token(r)
	if token == "" {
		http.Error(w, "Missing token", http.StatusUnauthorized)
		return
	}

	claims, err := h.jwtService.ValidateAccessToken(token)
	if err != nil {
		slog.Warn("websocket auth failed", "component", "api", "error", err)
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	user := &models.User{
		ID:        claims.UserID,
		Username:  claims.Username,
		CreatedAt: time.Now().UTC(),
	}
	if claims.Avatar != "" {
		avatar := claims.Avatar
		user.AvatarURL = &avatar
	}

	// Mirror the identity locally so history joins can resolve authors.
	if err := h.userRepo.Upsert(r.Context(), user); err != nil {
		slog.Error("caching identity", "component", "api", "user_id", user.ID, "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "component", "api", "error", err)
		return
	}

	client := ws.NewClient(h.hub, conn, user)

	go client.WritePump()
	go client.ReadPump()

	client.SendHello()
	if !h.hub.RegisterClient(client) {
		slog.Warn("registration timeout", "component", "api", "user_id", user.ID)
		client.Close()
		return
	}
	client.SendReady()
}

func (h *WebSocketHandler) token(r *http.Request) string {
	if cookie, err := r.Cookie(h.sessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get("token")
}
