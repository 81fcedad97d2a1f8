package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"aluastro/pkg/domain"
)

const defaultStreamMaxLen = 10000

// RedisStreamConfig configures a RedisStreamNotifier.
type RedisStreamConfig struct {
	Addr     string
	Password string
	Stream   string
	MaxLen   int64
}

// RedisStreamNotifier appends events to a capped Redis stream. Consumers
// read it with a consumer group.
type RedisStreamNotifier struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamNotifier creates a notifier writing to cfg.Stream.
func NewRedisStreamNotifier(cfg RedisStreamConfig) (*RedisStreamNotifier, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("notification stream required")
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &RedisStreamNotifier{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream: stream,
		maxLen: maxLen,
	}, nil
}

// ApplicationSubmitted appends a SubmittedEvent to the stream.
func (n *RedisStreamNotifier) ApplicationSubmitted(ctx context.Context, app domain.Application) error {
	body, err := json.Marshal(NewSubmittedEvent(app))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		MaxLen: n.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":           EventApplicationSubmitted,
			"application_id": app.ID,
			"payload":        string(body),
		},
	}).Err(); err != nil {
		return fmt.Errorf("append %s: %w", EventApplicationSubmitted, err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (n *RedisStreamNotifier) Close() error {
	return n.client.Close()
}
