package handlers

import (
	"errors"
	"net/http"

	ws "chat-relay/internal/websocket"
	"chat-relay/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type WebSocketHandlers struct {
	verifier   CredentialVerifier
	manager    *ws.Manager
	cookieName string
	upgrader   websocket.Upgrader
}

func NewWebSocketHandlers(verifier CredentialVerifier, manager *ws.Manager, cookieName string, origins *OriginPolicy) *WebSocketHandlers {
	return &WebSocketHandlers{
		verifier:   verifier,
		manager:    manager,
		cookieName: cookieName,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.CheckOrigin,
		},
	}
}

// HandleWebSocket verifies the credential before upgrading, so a rejected
// handshake never creates a connection.
func (h *WebSocketHandlers) HandleWebSocket(c *gin.Context) {
	identity, err := h.verifier.VerifyCredential(c.Request.Context(), TokenFromRequest(c.Request, h.cookieName))
	if err != nil {
		logger.Warn("Rejected websocket handshake from %s: %v", c.ClientIP(), err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "IdentityRejected"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	id, err := h.manager.Serve(conn, identity)
	if errors.Is(err, ws.ErrRegistryClosed) {
		logger.Warn("Refused connection for user %s: server shutting down", identity.UserID)
		return
	}
	if err != nil {
		logger.Error("Failed to serve connection for user %s: %v", identity.UserID, err)
		return
	}
	logger.Debug("User %s connected as %s", identity.UserID, id)
}
