package database

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"

	"chat-relay/internal/models"
	"chat-relay/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the Postgres SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

//go:embed schema.sql
var schema string

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info("Connected to postgres successfully")
	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return n, nil
}

// User Repository Implementation
func (db *PostgresDB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT id::text, username, password_hash, created_at FROM users WHERE username = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, username).Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return user, nil
}

func (db *PostgresDB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	query := `
		INSERT INTO users (username, password_hash, created_at)
		VALUES ($1, $2, NOW())
		RETURNING id::text, username, created_at`

	user := &models.User{PasswordHash: passwordHash}
	err := db.pool.QueryRow(ctx, query, username, passwordHash).Scan(
		&user.ID, &user.Username, &user.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

func (db *PostgresDB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	uid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	query := `SELECT id::text, username, created_at FROM users WHERE id = $1`

	user := &models.User{}
	err = db.pool.QueryRow(ctx, query, uid).Scan(&user.ID, &user.Username, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return user, nil
}

func (db *PostgresDB) ListUsers(ctx context.Context) ([]*models.DirectoryEntry, error) {
	rows, err := db.pool.Query(ctx, `SELECT id::text, username FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.DirectoryEntry
	for rows.Next() {
		u := &models.DirectoryEntry{}
		if err := rows.Scan(&u.UserID, &u.DisplayName); err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

// Message Repository Implementation
func (db *PostgresDB) InsertMessage(ctx context.Context, msg *models.NewMessage) (*models.Message, error) {
	senderID, err := parseID(msg.SenderID)
	if err != nil {
		return nil, err
	}
	recipientID, err := parseID(msg.RecipientID)
	if err != nil {
		return nil, err
	}

	var text, attName, attData *string
	if msg.Text != "" {
		text = &msg.Text
	}
	if msg.Attachment != nil {
		attName, attData = &msg.Attachment.Name, &msg.Attachment.Data
	}

	// clock_timestamp keeps created_at strictly advancing across sequential inserts.
	query := `
		INSERT INTO messages (sender_id, recipient_id, text, attachment_name, attachment_data, created_at)
		VALUES ($1, $2, $3, $4, $5, clock_timestamp())
		RETURNING id, created_at`

	stored := &models.Message{
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		Text:        msg.Text,
		Attachment:  msg.Attachment,
	}
	if err := db.pool.QueryRow(ctx, query, senderID, recipientID, text, attName, attData).Scan(&stored.ID, &stored.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	return stored, nil
}

func (db *PostgresDB) QueryConversation(ctx context.Context, userA, userB string) ([]*models.Message, error) {
	a, err := parseID(userA)
	if err != nil {
		return nil, err
	}
	b, err := parseID(userB)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, sender_id::text, recipient_id::text, COALESCE(text, ''), attachment_name, attachment_data, created_at
		FROM messages
		WHERE (sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1)
		ORDER BY created_at ASC, id ASC`

	rows, err := db.pool.Query(ctx, query, a, b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		var attName, attData *string
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.RecipientID, &msg.Text, &attName, &attData, &msg.CreatedAt); err != nil {
			return nil, err
		}
		if attName != nil {
			msg.Attachment = &models.Attachment{Name: *attName}
			if attData != nil {
				msg.Attachment.Data = *attData
			}
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}
