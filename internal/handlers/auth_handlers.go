package handlers

import (
	"errors"
	"net/http"

	"chat-relay/internal/auth"
	"chat-relay/internal/config"
	"chat-relay/internal/models"
	"chat-relay/pkg/logger"

	"github.com/gin-gonic/gin"
)

type AuthHandlers struct {
	authService *auth.Service
	session     config.JWTConfig
}

func NewAuthHandlers(authService *auth.Service, session config.JWTConfig) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		session:     session,
	}
}

func (h *AuthHandlers) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	response, err := h.authService.Register(c.Request.Context(), &req)
	if errors.Is(err, auth.ErrUsernameTaken) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		logger.Error("Registration error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.setSession(c, response.Token)
	c.JSON(http.StatusCreated, response)
}

func (h *AuthHandlers) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	response, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		logger.Warn("Login failed for %q: %v", req.Username, err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	h.setSession(c, response.Token)
	c.JSON(http.StatusOK, response)
}

func (h *AuthHandlers) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteNoneMode)
	c.SetCookie(h.session.CookieName, "", -1, "/", "", true, true)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Profile returns the identity bound to the request's credential.
func (h *AuthHandlers) Profile(c *gin.Context) {
	c.JSON(http.StatusOK, currentIdentity(c))
}

func (h *AuthHandlers) setSession(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteNoneMode)
	c.SetCookie(h.session.CookieName, token, int(h.session.ExpiresIn.Seconds()), "/", "", true, true)
}
