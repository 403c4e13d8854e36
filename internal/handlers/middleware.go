package handlers

import (
	"context"
	"net/http"
	"time"

	"chat-relay/internal/models"
	"chat-relay/pkg/logger"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// CredentialVerifier turns a session token into an identity.
type CredentialVerifier interface {
	VerifyCredential(ctx context.Context, token string) (*models.Identity, error)
}

// RequireAuth rejects requests without a verifiable session credential and
// stores the identity on the context.
func RequireAuth(verifier CredentialVerifier, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := verifier.VerifyCredential(c.Request.Context(), TokenFromRequest(c.Request, cookieName))
		if err != nil {
			logger.Debug("Rejected request to %s: %v", c.Request.URL.Path, err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "IdentityRejected"})
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// currentIdentity returns the identity stored by RequireAuth.
func currentIdentity(c *gin.Context) *models.Identity {
	if v, ok := c.Get(identityKey); ok {
		if identity, ok := v.(*models.Identity); ok {
			return identity
		}
	}
	return nil
}

// CORS allows credentialed requests from the configured origins. A wildcard
// policy answers other origins with "*", which browsers never combine with
// cookies.
func CORS(policy *OriginPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case origin == "":
		case policy.Allowed(origin):
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		case policy.AllowsAnyOrigin():
			c.Header("Access-Control-Allow-Origin", "*")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
