package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix = "deadline:cache:"
	tagPrefix = "deadline:tag:"
)

// Notice is published on the revalidation channel after an invalidation.
type Notice struct {
	Tags []string  `json:"tags,omitempty"`
	All  bool      `json:"all,omitempty"`
	At   time.Time `json:"at"`
}

// Redis is a Cache shared between processes. Tag membership is kept in
// Redis sets and every invalidation is announced on a pub/sub channel.
type Redis struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedis connects to addr and verifies the connection.
func NewRedis(ctx context.Context, addr, password string, db int, channel string, logger *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("redis cache initialized", zap.String("addr", addr), zap.String("channel", channel))
	return &Redis{client: client, channel: channel, logger: logger}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return data, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, keyPrefix+key, value, ttl)
		for _, t := range tags {
			pipe.SAdd(ctx, tagPrefix+t, key)
			if ttl > 0 {
				// Tag sets live twice as long as their entries.
				pipe.Expire(ctx, tagPrefix+t, 2*ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, tags ...string) (int, error) {
	removed := 0
	for _, t := range tags {
		keys, err := r.client.SMembers(ctx, tagPrefix+t).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to read tag %s: %w", t, err)
		}
		full := make([]string, 0, len(keys)+1)
		for _, k := range keys {
			full = append(full, keyPrefix+k)
		}
		if len(full) > 0 {
			n, err := r.client.Del(ctx, full...).Result()
			if err != nil {
				return removed, fmt.Errorf("failed to delete tagged entries: %w", err)
			}
			removed += int(n)
		}
		if err := r.client.Del(ctx, tagPrefix+t).Err(); err != nil {
			r.logger.Warn("failed to delete tag set", zap.String("tag", t), zap.Error(err))
		}
	}

	r.publish(ctx, Notice{Tags: tags, At: time.Now().UTC()})
	return removed, nil
}

func (r *Redis) InvalidateAll(ctx context.Context) error {
	for _, pattern := range []string{keyPrefix + "*", tagPrefix + "*"} {
		iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
		for iter.Next(ctx) {
			if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
				r.logger.Warn("failed to delete cache key", zap.String("key", iter.Val()), zap.Error(err))
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to iterate cache keys: %w", err)
		}
	}

	r.publish(ctx, Notice{All: true, At: time.Now().UTC()})
	return nil
}

// Subscribe calls fn for every notice published on the channel until ctx
// is cancelled.
func (r *Redis) Subscribe(ctx context.Context, fn func(Notice)) {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var n Notice
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				r.logger.Warn("ignoring malformed revalidation notice", zap.Error(err))
				continue
			}
			fn(n)
		}
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) publish(ctx context.Context, n Notice) {
	if r.channel == "" {
		return
	}
	data, err := json.Marshal(n)
	if err != nil {
		return
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		r.logger.Warn("failed to publish revalidation notice", zap.Error(err))
	}
}
