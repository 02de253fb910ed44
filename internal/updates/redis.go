package updates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"go-idea-jobs/internal/logger"
	"go-idea-jobs/internal/storage"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// ErrEmptyAddress is returned when no Redis address is configured.
var ErrEmptyAddress = errors.New("redis address is required")

const connectionTimeout = 5 * time.Second

// NewRedisClient connects and pings Redis.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisChannel carries job documents over Redis Pub/Sub as JSON. Reconnects
// are handled by go-redis: PubSub.Channel resubscribes after a dropped
// connection, so subscribers keep receiving without intervention.
type RedisChannel struct {
	client     *redis.Client
	logger     logger.Logger
	bufferSize int
}

// NewRedisChannel wraps a connected client.
func NewRedisChannel(client *redis.Client, log logger.Logger) *RedisChannel {
	return &RedisChannel{
		client:     client,
		logger:     log.With(logger.Component("updates.redis")),
		bufferSize: defaultBufferSize,
	}
}

// Subscribe implements Channel. It returns once Redis confirms the
// subscription so no document published afterwards is missed.
func (c *RedisChannel) Subscribe(ctx context.Context, ownerID string, scope storage.Scope) (<-chan storage.Job, func(), error) {
	topic := Topic(ownerID, scope)
	subCtx, cancel := context.WithCancel(ctx)

	ps := c.client.Subscribe(subCtx, topic)
	if _, err := ps.Receive(subCtx); err != nil {
		cancel()
		ps.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	msgs := ps.Channel()

	out := make(chan storage.Job, c.bufferSize)
	go func() {
		defer close(out)
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var job storage.Job
				if err := json.Unmarshal([]byte(msg.Payload), &job); err != nil {
					c.logger.Warn("dropping undecodable job document",
						logger.String("topic", msg.Channel),
						logger.Error(err),
					)
					continue
				}
				select {
				case out <- job:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			cancel()
			if err := ps.Close(); err != nil {
				c.logger.Debug("pubsub close", logger.String("topic", topic), logger.Error(err))
			}
		})
	}

	c.logger.Debug("subscribed", logger.String("topic", topic))
	return out, cleanup, nil
}

// Publish implements Publisher.
func (c *RedisChannel) Publish(ctx context.Context, job storage.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	if err := c.client.Publish(ctx, TopicFor(job), data).Err(); err != nil {
		return fmt.Errorf("publish job %s: %w", job.ID, err)
	}
	return nil
}
