package handlers

import (
	"context"
	"errors"
	"net/http"

	"chat-relay/internal/database"
	"chat-relay/internal/models"
	"chat-relay/internal/services"
	"chat-relay/pkg/logger"

	"github.com/gin-gonic/gin"
)

// PresenceReader reports who is online.
type PresenceReader interface {
	Snapshot(ctx context.Context) (models.PresenceSnapshot, error)
}

type ConversationHandlers struct {
	conversations *services.ConversationService
	presence      PresenceReader
}

func NewConversationHandlers(conversations *services.ConversationService, presence PresenceReader) *ConversationHandlers {
	return &ConversationHandlers{
		conversations: conversations,
		presence:      presence,
	}
}

// People lists the user directory. With offline=true only users other than
// the caller who are currently offline are returned.
func (h *ConversationHandlers) People(c *gin.Context) {
	ctx := c.Request.Context()

	if c.Query("offline") != "true" {
		people, err := h.conversations.ListPeople(ctx)
		if err != nil {
			logger.Error("List people error: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list people"})
			return
		}
		c.JSON(http.StatusOK, people)
		return
	}

	online, err := h.presence.Snapshot(ctx)
	if err != nil {
		logger.Error("Presence snapshot error: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence unavailable"})
		return
	}
	people, err := h.conversations.ListOffline(ctx, currentIdentity(c).UserID, online)
	if err != nil {
		logger.Error("List offline people error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list people"})
		return
	}
	c.JSON(http.StatusOK, people)
}

// Messages returns the caller's conversation with the user in the path.
func (h *ConversationHandlers) Messages(c *gin.Context) {
	me := currentIdentity(c)

	msgs, err := h.conversations.History(c.Request.Context(), me.UserID, c.Param("userId"))
	if errors.Is(err, services.ErrMissingPeer) || errors.Is(err, database.ErrInvalidID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		logger.Error("Conversation history error for %s: %v", me.UserID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// Online returns the current presence in the same shape as the presence frame.
func (h *ConversationHandlers) Online(c *gin.Context) {
	snapshot, err := h.presence.Snapshot(c.Request.Context())
	if err != nil {
		logger.Error("Presence snapshot error: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence unavailable"})
		return
	}
	c.JSON(http.StatusOK, models.PresenceFrame{Online: snapshot.Online()})
}
