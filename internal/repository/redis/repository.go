package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/moroshma/hc2stream/internal/domain/entity"
	"github.com/moroshma/hc2stream/pkg/logger"
)

// publisher is the part of redis.UniversalClient the sink uses
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// Repository publishes change records on a Redis pub/sub channel
type Repository struct {
	client  publisher
	channel string
	logger  *logger.Logger
}

// Config configures the Redis sink
type Config struct {
	Addr       string
	Username   string
	Password   string
	DB         int
	Channel    string
	TLSEnabled bool
}

// NewRepository connects to Redis and checks the connection
func NewRepository(cfg *Config, log *logger.Logger) (*Repository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	opts := &redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Repository{
		client:  client,
		channel: cfg.Channel,
		logger:  log,
	}, nil
}

// Name identifies the sink
func (r *Repository) Name() string {
	return "redis"
}

// Publish sends every record of the batch as a JSON message
func (r *Repository) Publish(ctx context.Context, batch *entity.ChangeBatch) error {
	delivered := int64(0)
	for i := range batch.Records {
		payload, err := json.Marshal(&batch.Records[i])
		if err != nil {
			return fmt.Errorf("marshal change: %w", err)
		}

		n, err := r.client.Publish(ctx, r.channel, payload).Result()
		if err != nil {
			return fmt.Errorf("redis publish: %w", err)
		}
		delivered += n
	}

	r.logger.Debug("Changes published to Redis",
		logger.String("channel", r.channel),
		logger.Int("records", len(batch.Records)),
		logger.Int64("receivers", delivered),
	)
	return nil
}

// Close closes the Redis client
func (r *Repository) Close() error {
	return r.client.Close()
}
