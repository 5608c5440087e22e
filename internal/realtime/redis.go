package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"kidfun/config"

	"github.com/redis/go-redis/v9"
)

// OpenRedis creates a Redis client and verifies the connection
func OpenRedis(cfg config.RedisConfig) (*redis.Client, error) {
	// Host may already carry a port
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// RedisBroker relays envelopes between instances over Redis pub/sub.
// Each family maps to the channel prefix+familyID; every instance
// pattern-subscribes to prefix* and delivers what it receives into its hub.
type RedisBroker struct {
	client *redis.Client
	pubsub *redis.PubSub
	hub    *Hub
	prefix string
	logger *slog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRedisBroker subscribes to every family channel under prefix. The broker
// takes ownership of client.
func NewRedisBroker(ctx context.Context, client *redis.Client, hub *Hub, prefix string, logger *slog.Logger) (*RedisBroker, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pubsub := client.PSubscribe(ctx, prefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to family channels: %w", err)
	}

	b := &RedisBroker{
		client: client,
		pubsub: pubsub,
		hub:    hub,
		prefix: prefix,
		logger: logger.With("component", "redis-broker"),
	}

	b.wg.Add(1)
	go b.run()

	return b, nil
}

func (b *RedisBroker) run() {
	defer b.wg.Done()

	for msg := range b.pubsub.Channel() {
		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			b.logger.Warn("Dropping malformed envelope", "channel", msg.Channel, "error", err)
			continue
		}
		if env.FamilyID == "" {
			env.FamilyID = strings.TrimPrefix(msg.Channel, b.prefix)
		}
		b.hub.Deliver(env)
	}
}

// Publish sends env on its family channel
func (b *RedisBroker) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	if err := b.client.Publish(ctx, b.prefix+env.FamilyID, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to family %s: %w", env.FamilyID, err)
	}
	return nil
}

// Close unsubscribes and closes the Redis client
func (b *RedisBroker) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.pubsub.Close()
		b.wg.Wait()
		if cerr := b.client.Close(); err == nil {
			err = cerr
		}
	})
	return err
}
