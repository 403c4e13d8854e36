package database

import (
	"context"
	"errors"

	"chat-relay/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
	ErrInvalidID = errors.New("invalid id")
)

// UserRepository is the user directory collaborator.
type UserRepository interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.DirectoryEntry, error)
}

// MessageRepository is the durable message store collaborator. InsertMessage
// assigns ID and CreatedAt; QueryConversation returns both directions of a
// conversation ordered by CreatedAt ascending.
type MessageRepository interface {
	InsertMessage(ctx context.Context, msg *models.NewMessage) (*models.Message, error)
	QueryConversation(ctx context.Context, userA, userB string) ([]*models.Message, error)
}

type Database interface {
	UserRepository
	MessageRepository
	Close() error
}
