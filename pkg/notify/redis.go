package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ncolesummers/multi-research/pkg/domain"
	"github.com/ncolesummers/multi-research/pkg/observability"
	"github.com/redis/go-redis/v9"
)

// publisher is the subset of *redis.Client used for fan-out
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotifier publishes events as JSON to a per-session Redis channel
// so that other processes can observe progress.
type RedisNotifier struct {
	client publisher
	prefix string
	logger *observability.StructuredLogger
}

// NewRedisNotifier connects to the Redis server at url
func NewRedisNotifier(ctx context.Context, url, prefix string) (*RedisNotifier, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return newRedisNotifier(client, prefix), client, nil
}

func newRedisNotifier(client publisher, prefix string) *RedisNotifier {
	if prefix == "" {
		prefix = "research"
	}
	return &RedisNotifier{
		client: client,
		prefix: prefix,
		logger: observability.NewStructuredLogger("redis-notifier"),
	}
}

// Channel returns the channel name for a session
func (r *RedisNotifier) Channel(sessionID string) string {
	return fmt.Sprintf("%s:%s", r.prefix, sessionID)
}

// Notify implements domain.ProgressNotifier. Publish failures are logged only.
func (r *RedisNotifier) Notify(ctx context.Context, event domain.ProgressEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		r.logger.Error(ctx, "Failed to encode progress event", err)
		return
	}

	if err := r.client.Publish(ctx, r.Channel(event.SessionID), payload).Err(); err != nil {
		r.logger.Warn(ctx, "Failed to publish progress event", map[string]interface{}{
			"session_id": event.SessionID,
			"provider":   string(event.Provider),
			"error":      err.Error(),
		})
	}
}
