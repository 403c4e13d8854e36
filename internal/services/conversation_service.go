package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"chat-relay/internal/database"
	"chat-relay/internal/models"
)

var ErrMissingPeer = errors.New("conversation peer is required")

// ConversationService serves the people directory and message history
// behind the HTTP API. Live delivery goes through the websocket relay.
type ConversationService struct {
	users    database.UserRepository
	messages database.MessageRepository
}

func NewConversationService(users database.UserRepository, messages database.MessageRepository) *ConversationService {
	return &ConversationService{users: users, messages: messages}
}

// ListPeople returns every registered user ordered by display name.
func (s *ConversationService) ListPeople(ctx context.Context) ([]*models.DirectoryEntry, error) {
	people, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	if people == nil {
		people = []*models.DirectoryEntry{}
	}

	sort.SliceStable(people, func(i, j int) bool {
		return strings.ToLower(people[i].DisplayName) < strings.ToLower(people[j].DisplayName)
	})
	return people, nil
}

// ListOffline returns the people other than me who are not in online.
func (s *ConversationService) ListOffline(ctx context.Context, me string, online models.PresenceSnapshot) ([]*models.DirectoryEntry, error) {
	people, err := s.ListPeople(ctx)
	if err != nil {
		return nil, err
	}

	offline := make([]*models.DirectoryEntry, 0, len(people))
	for _, p := range people {
		if p.UserID == me {
			continue
		}
		if _, ok := online[p.UserID]; ok {
			continue
		}
		offline = append(offline, p)
	}
	return offline, nil
}

// History returns the conversation between me and other in both
// directions, oldest first.
func (s *ConversationService) History(ctx context.Context, me, other string) ([]*models.Message, error) {
	other = strings.TrimSpace(other)
	if other == "" {
		return nil, ErrMissingPeer
	}

	msgs, err := s.messages.QueryConversation(ctx, me, other)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	return msgs, nil
}
