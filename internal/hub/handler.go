package hub

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"livedesk/internal/config"
	"livedesk/internal/gateway"
	"livedesk/pkg/interfaces"
	"livedesk/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is deferred to the reverse proxy in front of
		// the gateway
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler upgrades HTTP requests to authenticated gateway connections.
// ARCHITECTURAL DISCOVERY: The socket is upgraded before authentication so
// the auth failure travels as a proper error frame, then the connection is
// terminated - clients behind proxies never see a bare HTTP error
type Handler struct {
	hub       *Hub
	registry  *gateway.Registry
	verifier  interfaces.TokenVerifier
	directory interfaces.UserDirectory

	bufferSize   int
	writeTimeout time.Duration
}

// NewHandler creates the WebSocket endpoint handler.
func NewHandler(h *Hub, registry *gateway.Registry, verifier interfaces.TokenVerifier, directory interfaces.UserDirectory, cfg *config.GatewayConfig) *Handler {
	if cfg == nil {
		cfg = config.DefaultConfig().Gateway
	}
	return &Handler{
		hub:          h,
		registry:     registry,
		verifier:     verifier,
		directory:    directory,
		bufferSize:   cfg.BufferSize,
		writeTimeout: cfg.WriteTimeout,
	}
}

// HandleWebSocket upgrades the request, binds identity from the token and
// runs the connection's read loop until disconnect.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	socket, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	conn := gateway.NewConnection(socket, h.bufferSize, h.writeTimeout)

	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r.Header.Get("Authorization"))
	}

	user, err := h.authenticate(r.Context(), token)
	if err != nil {
		h.rejectConnection(conn, err)
		return
	}

	if err := conn.SetCredentials(user.ID, primaryRole(user)); err != nil {
		h.rejectConnection(conn, err)
		return
	}
	if err := h.registry.Register(conn); err != nil {
		h.rejectConnection(conn, err)
		return
	}

	if err := conn.WriteEvent(types.EventConnectionEstablished, types.ConnectionEstablished{
		UserID:    user.ID,
		SocketID:  conn.GetID(),
		Timestamp: time.Now(),
	}); err != nil {
		h.hub.Disconnect(conn)
		_ = conn.Close()
		return
	}

	log.Printf("Connection established: user=%s role=%s socket=%s", user.ID, primaryRole(user), conn.GetID())
	go h.readLoop(conn)
}

// authenticate turns a bearer token into a directory user.
func (h *Handler) authenticate(ctx context.Context, token string) (*types.User, error) {
	if token == "" {
		return nil, interfaces.ErrUnauthorized
	}

	userID, err := h.verifier.VerifyToken(token)
	if err != nil || userID == "" {
		return nil, interfaces.ErrUnauthorized
	}

	user, err := h.directory.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, interfaces.ErrUnauthorized
	}
	return user, nil
}

// rejectConnection sends the mandatory auth failure frame and terminates.
func (h *Handler) rejectConnection(conn *gateway.Connection, cause error) {
	log.Printf("Connection rejected: %v", cause)
	_ = conn.WriteEvent(types.EventError, types.ErrorEvent{
		Code:      types.CodeAuthFailed,
		Message:   "Authentication failed",
		Retryable: false,
		Timestamp: time.Now(),
	})
	// Give the write loop a moment to flush the frame before closing
	time.Sleep(50 * time.Millisecond)
	_ = conn.Close()
}

// readLoop processes inbound frames in receipt order until the connection
// drops, then runs disconnect cleanup exactly once.
func (h *Handler) readLoop(conn *gateway.Connection) {
	defer func() {
		h.hub.Disconnect(conn)
		_ = conn.Close()
	}()

	for {
		envelope, err := conn.ReadEnvelope()
		if err != nil {
			// Malformed frames are reported to the sender but do not
			// cost the connection
			if errors.Is(err, gateway.ErrInvalidJSON) {
				_ = conn.WriteEvent(types.EventError, types.ErrorEvent{
					Code:      types.CodeMessageSendFailed,
					Message:   "Malformed frame",
					Retryable: true,
					Timestamp: time.Now(),
				})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("Read error on connection %s: %v", conn.GetID(), err)
			}
			return
		}
		h.hub.Dispatch(context.Background(), conn, envelope)
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

func primaryRole(user *types.User) string {
	// The most privileged role wins when a user holds several
	for _, role := range []string{types.RoleAdmin, types.RoleManager, types.RoleSupport} {
		if user.HasRole(role) {
			return role
		}
	}
	return types.RoleCustomer
}
