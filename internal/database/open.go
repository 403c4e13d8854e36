package database

import (
	"context"
	"fmt"

	"chat-relay/internal/config"
)

// Open connects the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Database, error) {
	switch cfg.Driver {
	case "", "postgres":
		return NewPostgresDB(ctx, cfg.URL)
	case "mongo", "mongodb":
		return NewMongoDB(ctx, cfg.MongoURL, cfg.MongoName)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
