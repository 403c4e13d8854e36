package handlers

import (
	"net/http"

	"chat-relay/internal/auth"
	"chat-relay/internal/config"
	"chat-relay/internal/services"
	ws "chat-relay/internal/websocket"

	"github.com/gin-gonic/gin"
)

// Dependencies are the services the HTTP API is built on. Presence is
// optional and defaults to the realtime manager's own registry.
type Dependencies struct {
	Config        *config.Config
	Auth          *auth.Service
	Conversations *services.ConversationService
	Realtime      *ws.Manager
	Presence      PresenceReader
}

func NewRouter(d Dependencies) *gin.Engine {
	presence := d.Presence
	if presence == nil {
		presence = d.Realtime
	}
	origins := NewOriginPolicy(d.Config.Server.AllowedOrigins)
	cookie := d.Config.JWT.CookieName

	authHandlers := NewAuthHandlers(d.Auth, d.Config.JWT)
	conversationHandlers := NewConversationHandlers(d.Conversations, presence)
	wsHandlers := NewWebSocketHandlers(d.Auth, d.Realtime, cookie, origins)

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(), CORS(origins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/register", authHandlers.Register)
	r.POST("/login", authHandlers.Login)
	r.POST("/logout", authHandlers.Logout)

	protected := r.Group("/", RequireAuth(d.Auth, cookie))
	protected.GET("/profile", authHandlers.Profile)
	protected.GET("/people", conversationHandlers.People)
	protected.GET("/messages/:userId", conversationHandlers.Messages)
	protected.GET("/online", conversationHandlers.Online)

	r.GET("/ws", wsHandlers.HandleWebSocket)

	return r
}

// Endpoints lists the routes NewRouter registers, for startup logging.
func Endpoints() []string {
	return []string{
		"GET  /health",
		"POST /register",
		"POST /login",
		"POST /logout",
		"GET  /profile",
		"GET  /people",
		"GET  /messages/:userId",
		"GET  /online",
		"GET  /ws",
	}
}
