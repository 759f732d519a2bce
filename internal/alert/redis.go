package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultChannel  = "site-monitor:alerts"
	alertEventType  = "site.alert"
	envelopeVersion = 1
)

// Publisher is the subset of *redis.Client used for alert events.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type envelope struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Version    int       `json:"version"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       Alert     `json:"data"`
}

// RedisNotifier publishes alerts as JSON events on a pub/sub channel.
type RedisNotifier struct {
	client  Publisher
	channel string
	logger  *slog.Logger
}

type RedisOption func(*RedisNotifier)

func WithChannel(channel string) RedisOption {
	return func(r *RedisNotifier) {
		if channel != "" {
			r.channel = channel
		}
	}
}

func WithLogger(logger *slog.Logger) RedisOption {
	return func(r *RedisNotifier) {
		r.logger = logger
	}
}

func NewRedisNotifier(client Publisher, opts ...RedisOption) *RedisNotifier {
	r := &RedisNotifier{
		client:  client,
		channel: DefaultChannel,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisNotifier) Name() string { return "redis" }

func (r *RedisNotifier) Notify(ctx context.Context, a Alert) error {
	env := envelope{
		ID:         uuid.NewString(),
		Type:       alertEventType,
		Version:    envelopeVersion,
		OccurredAt: a.RaisedAt,
		Data:       a,
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}

	receivers, err := r.client.Publish(ctx, r.channel, data).Result()
	if err != nil {
		return fmt.Errorf("failed to publish alert to Redis: %w", err)
	}

	r.logger.DebugContext(ctx, "alert event published",
		slog.String("event_id", env.ID),
		slog.String("site", a.Site),
		slog.String("channel", r.channel),
		slog.Int64("receivers", receivers),
	)
	return nil
}
