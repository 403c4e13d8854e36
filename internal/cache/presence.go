package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chat-relay/internal/models"
	"chat-relay/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// PresenceMirror copies every presence snapshot into a Redis hash
// (userId -> displayName) and publishes it on the hash's update channel, so
// other processes can read who is online without holding a connection.
//
// Only the most recent snapshot is kept while a write is in flight; older
// ones are superseded and never written.
type PresenceMirror struct {
	rdb    *redis.Client
	key    string
	latest chan models.PresenceSnapshot
}

func NewPresenceMirror(rdb *redis.Client, key string) *PresenceMirror {
	return &PresenceMirror{
		rdb:    rdb,
		key:    key,
		latest: make(chan models.PresenceSnapshot, 1),
	}
}

// Channel is the pub/sub channel snapshots are published on.
func (m *PresenceMirror) Channel() string {
	return m.key + ":updates"
}

// PublishPresence queues snapshot for writing. It never blocks; a pending
// snapshot that has not been written yet is replaced.
func (m *PresenceMirror) PublishPresence(snapshot models.PresenceSnapshot) {
	for {
		select {
		case m.latest <- snapshot:
			return
		default:
		}
		select {
		case <-m.latest:
		default:
		}
	}
}

// Run writes queued snapshots until ctx is cancelled. The hash is cleared
// on start and on exit.
func (m *PresenceMirror) Run(ctx context.Context) {
	if err := m.write(ctx, models.PresenceSnapshot{}); err != nil {
		logger.Warn("Failed to reset presence mirror %s: %v", m.key, err)
	}

	for {
		select {
		case <-ctx.Done():
			clearCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := m.rdb.Del(clearCtx, m.key).Err(); err != nil {
				logger.Warn("Failed to clear presence mirror %s: %v", m.key, err)
			}
			cancel()
			return
		case snapshot := <-m.latest:
			if err := m.write(ctx, snapshot); err != nil {
				logger.Error("Failed to mirror presence to redis: %v", err)
			}
		}
	}
}

func (m *PresenceMirror) write(ctx context.Context, snapshot models.PresenceSnapshot) error {
	payload, err := json.Marshal(models.PresenceFrame{Online: snapshot.Online()})
	if err != nil {
		return fmt.Errorf("encode presence: %w", err)
	}

	_, err = m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, m.key)
		if len(snapshot) > 0 {
			fields := make(map[string]interface{}, len(snapshot))
			for id, name := range snapshot {
				fields[id] = name
			}
			pipe.HSet(ctx, m.key, fields)
		}
		pipe.Publish(ctx, m.Channel(), payload)
		return nil
	})
	return err
}

// Snapshot reads the mirrored presence.
func (m *PresenceMirror) Snapshot(ctx context.Context) (models.PresenceSnapshot, error) {
	fields, err := m.rdb.HGetAll(ctx, m.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read presence mirror: %w", err)
	}
	return models.PresenceSnapshot(fields), nil
}
