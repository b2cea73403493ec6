package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/todahub/paradahan/internal/domain/ride"
)

// Config holds Redis configuration
type Config struct {
	Host        string
	Port        string
	Password    string
	DB          int
	MaxRetries  int
	PoolSize    int
	MinIdleConn int
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConn,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// Close gracefully closes the Redis client
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}

const rideBufferKey = "paradahan:ride_buffer"

// RideBuffer stages unconfirmed ride records in a Redis hash so they
// survive engine restarts within the same deployment and can be
// replayed once connectivity returns.
type RideBuffer struct {
	client *redis.Client
}

// NewRideBuffer creates a buffer on the given client.
func NewRideBuffer(client *redis.Client) *RideBuffer {
	return &RideBuffer{client: client}
}

// Stage stores a candidate record under its ride key.
func (b *RideBuffer) Stage(ctx context.Context, key string, rec *ride.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode staged record: %w", err)
	}
	if err := b.client.HSet(ctx, rideBufferKey, key, payload).Err(); err != nil {
		return fmt.Errorf("failed to stage record: %w", err)
	}
	return nil
}

// Drain returns every staged record without removing it; records are
// cleared individually after a successful commit.
func (b *RideBuffer) Drain(ctx context.Context) ([]*ride.Record, error) {
	entries, err := b.client.HGetAll(ctx, rideBufferKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to drain buffer: %w", err)
	}
	records := make([]*ride.Record, 0, len(entries))
	for key, payload := range entries {
		var rec ride.Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			// A corrupt entry should not block the rest of the buffer.
			_ = b.client.HDel(ctx, rideBufferKey, key).Err()
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}

// Clear removes a staged record after it has been durably committed.
func (b *RideBuffer) Clear(ctx context.Context, key string) error {
	if err := b.client.HDel(ctx, rideBufferKey, key).Err(); err != nil {
		return fmt.Errorf("failed to clear staged record: %w", err)
	}
	return nil
}
