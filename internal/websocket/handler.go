package websocket

import (
	"errors"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"

	"github.com/gatherly/backend/internal/auth"
	apperrors "github.com/gatherly/backend/internal/errors"
	"github.com/gatherly/backend/internal/logger"
)

// Authenticator resolves an access token. *auth.Service satisfies it.
type Authenticator interface {
	Authenticate(accessToken string) (*auth.Principal, error)
}

// Handler handles WebSocket connections.
type Handler struct {
	hub      *Hub
	auth     Authenticator
	upgrader websocket.Upgrader
	log      *logger.Logger
}

// NewHandler creates a new WebSocket handler. An empty origins list, or one
// containing "*", accepts any origin.
func NewHandler(hub *Hub, authenticator Authenticator, origins []string, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	h := &Handler{hub: hub, auth: authenticator, log: log.WithComponent("websocket")}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(origins) == 0 || slices.Contains(origins, "*") {
				return true
			}
			return slices.Contains(origins, origin)
		},
	}
	return h
}

// ServeWS handles WebSocket requests from clients.
// Authentication is done via query parameter: ?token=<access token>
// because the browser WebSocket API doesn't support custom headers.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	token := r.URL.Query().Get("token")
	if token == "" {
		apperrors.WriteError(w, requestID, apperrors.Unauthorized("missing token parameter"))
		return
	}

	principal, err := h.auth.Authenticate(token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			apperrors.WriteError(w, requestID, apperrors.InvalidToken("access token has expired"))
			return
		}
		apperrors.WriteError(w, requestID, apperrors.InvalidToken("invalid access token"))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	client := NewClient(h.hub, conn, principal.ID)
	if !h.hub.Register(client) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

func (h *Handler) Hub() *Hub {
	return h.hub
}
