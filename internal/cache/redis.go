package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "whatstopic:"

// RedisReplyIndex shares the reply index between processes.
type RedisReplyIndex struct {
	client *redis.Client
	window time.Duration
}

func NewRedisReplyIndex(client *redis.Client, window time.Duration) *RedisReplyIndex {
	return &RedisReplyIndex{client: client, window: window}
}

func destinationKey(id int64) string {
	return keyPrefix + "reply:dst:" + strconv.FormatInt(id, 10)
}

func originKey(id string) string {
	return keyPrefix + "reply:src:" + id
}

func (r *RedisReplyIndex) Record(ctx context.Context, entry ReplyEntry) error {
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode reply entry: %w", err)
	}

	pipe := r.client.TxPipeline()
	if entry.DestinationMessageID != 0 {
		pipe.Set(ctx, destinationKey(entry.DestinationMessageID), payload, r.window)
	}
	if entry.OriginID != "" {
		pipe.Set(ctx, originKey(entry.OriginID), payload, r.window)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record reply entry: %w", err)
	}
	return nil
}

func (r *RedisReplyIndex) lookup(ctx context.Context, key string) (*ReplyEntry, error) {
	payload, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read reply entry: %w", err)
	}
	var entry ReplyEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode reply entry: %w", err)
	}
	return &entry, nil
}

func (r *RedisReplyIndex) LookupByDestination(ctx context.Context, destinationMessageID int64) (*ReplyEntry, error) {
	return r.lookup(ctx, destinationKey(destinationMessageID))
}

func (r *RedisReplyIndex) LookupByOrigin(ctx context.Context, originID string) (*ReplyEntry, error) {
	return r.lookup(ctx, originKey(originID))
}

// RedisDeduper claims keys with SET NX so several bridge processes agree.
type RedisDeduper struct {
	client *redis.Client
	window time.Duration
}

func NewRedisDeduper(client *redis.Client, window time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, window: window}
}

func (d *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, keyPrefix+"dedup:"+key, "1", d.window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim dedup key: %w", err)
	}
	return ok, nil
}

func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, keyPrefix+"dedup:"+key).Err(); err != nil {
		return fmt.Errorf("failed to release dedup key: %w", err)
	}
	return nil
}
