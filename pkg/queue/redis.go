package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// envelopeField is the stream entry field holding the JSON envelope.
const envelopeField = "envelope"

// RedisConfig holds Redis Streams queue configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Stream is the stream key tasks are appended to.
	Stream string
	// Group is the consumer group workers read through.
	Group string
	// Consumer names this consumer within the group.
	Consumer string
	// Block is how long a single Dequeue read waits for new entries
	// before retrying (default 5s).
	Block time.Duration
	// Visibility is how long a delivery may stay pending before it is
	// reclaimed for another consumer (default 60s).
	Visibility time.Duration
}

// Redis is a Redis Streams queue. Entries are appended with XADD and
// consumed through a consumer group, so an envelope survives both the
// producer process and a worker crash mid-task: unacked deliveries are
// reclaimed after the visibility window.
type Redis struct {
	client     *redis.Client
	stream     string
	dlqStream  string
	group      string
	consumer   string
	block      time.Duration
	visibility time.Duration
	ownsClient bool
}

var _ Queue = (*Redis)(nil)

// NewRedis connects to Redis and prepares the stream and group.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis ping failed: %v", ErrUnavailable, err)
	}

	q, err := NewRedisFromClient(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	q.ownsClient = true
	return q, nil
}

// NewRedisFromClient builds the queue on an existing client.
// Useful for testing with miniredis.
func NewRedisFromClient(client *redis.Client, cfg RedisConfig) (*Redis, error) {
	if cfg.Stream == "" {
		cfg.Stream = "agentwire:tasks"
	}
	if cfg.Group == "" {
		cfg.Group = "agentwire-workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-1"
	}
	if cfg.Block == 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Visibility == 0 {
		cfg.Visibility = 60 * time.Second
	}

	q := &Redis{
		client:     client,
		stream:     cfg.Stream,
		dlqStream:  cfg.Stream + ":dead",
		group:      cfg.Group,
		consumer:   cfg.Consumer,
		block:      cfg.Block,
		visibility: cfg.Visibility,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Create the group at the stream head; existing groups are fine.
	err := client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("%w: failed to create consumer group: %v", ErrUnavailable, err)
	}

	return q, nil
}

func (q *Redis) Enqueue(ctx context.Context, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{envelopeField: string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (q *Redis) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Reclaim deliveries whose consumer went quiet.
		claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: q.consumer,
			MinIdle:  q.visibility,
			Start:    "0",
			Count:    1,
		}).Result()
		if err == nil && len(claimed) > 0 {
			return q.toDelivery(claimed[0])
		}

		msgs, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    1,
			Block:    q.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		for _, stream := range msgs {
			if len(stream.Messages) > 0 {
				return q.toDelivery(stream.Messages[0])
			}
		}
	}
}

func (q *Redis) toDelivery(msg redis.XMessage) (*Delivery, error) {
	raw, ok := msg.Values[envelopeField].(string)
	if !ok {
		// Unparseable entry: ack it away so it cannot wedge the group.
		_ = q.client.XAck(context.Background(), q.stream, q.group, msg.ID).Err()
		return nil, fmt.Errorf("stream entry %s has no envelope field", msg.ID)
	}

	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		_ = q.client.XAck(context.Background(), q.stream, q.group, msg.ID).Err()
		return nil, fmt.Errorf("failed to unmarshal envelope %s: %w", msg.ID, err)
	}

	return &Delivery{
		Envelope: &env,
		ack: func(ctx context.Context) error {
			return q.client.XAck(ctx, q.stream, q.group, msg.ID).Err()
		},
		// Nack leaves the entry pending; it comes back through
		// XAUTOCLAIM once the visibility window passes.
		nack: func(ctx context.Context) error { return nil },
	}, nil
}

func (q *Redis) DeadLetter(ctx context.Context, env *Envelope, reason string) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.dlqStream,
		Values: map[string]interface{}{
			envelopeField: string(data),
			"reason":      reason,
		},
	}).Err()
}

func (q *Redis) Close() error {
	if q.ownsClient {
		return q.client.Close()
	}
	return nil
}
