// Package cache holds the short-lived lookup tables of the bridge: the
// reply index linking source and destination message ids, and the dedup
// window for replayed events.
package cache

import (
	"context"
	"fmt"
	"time"

	"whatstopic/internal/constants"
	"whatstopic/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ReplyEntry links one source message to its mirror on the destination side.
type ReplyEntry struct {
	OriginID             string    `json:"originId"`
	SourceChatID         string    `json:"sourceChatId"`
	TopicID              int64     `json:"topicId"`
	DestinationMessageID int64     `json:"destinationMessageId"`
	RecordedAt           time.Time `json:"recordedAt"`
}

// ReplyIndex is a bounded, time-windowed map in both directions.
type ReplyIndex interface {
	Record(ctx context.Context, entry ReplyEntry) error
	LookupByDestination(ctx context.Context, destinationMessageID int64) (*ReplyEntry, error)
	LookupByOrigin(ctx context.Context, originID string) (*ReplyEntry, error)
}

// Deduper remembers event keys for a window. Claim returns false when the key
// was already claimed; Release forgets a claim whose delivery failed.
type Deduper interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Caches bundles the configured backends.
type Caches struct {
	Replies ReplyIndex
	Dedup   Deduper
	closer  func() error
}

func (c *Caches) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// New builds in-memory caches, or Redis-backed ones when RedisURL is set.
func New(ctx context.Context, cfg models.CacheConfig, logger *logrus.Logger) (*Caches, error) {
	replyWindow := time.Duration(cfg.ReplyWindowHours) * time.Hour
	if replyWindow <= 0 {
		replyWindow = time.Duration(constants.DefaultReplyWindowHours) * time.Hour
	}
	dedupWindow := time.Duration(cfg.DedupWindowMinutes) * time.Minute
	if dedupWindow <= 0 {
		dedupWindow = time.Duration(constants.DefaultDedupWindowMinutes) * time.Minute
	}

	if cfg.RedisURL == "" {
		return &Caches{
			Replies: NewMemoryReplyIndex(cfg.ReplyCapacity, replyWindow),
			Dedup:   NewMemoryDeduper(cfg.DedupCapacity, dedupWindow),
		}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	if logger != nil {
		logger.WithField("addr", opts.Addr).Info("Using Redis for reply index and dedup")
	}

	return &Caches{
		Replies: NewRedisReplyIndex(client, replyWindow),
		Dedup:   NewRedisDeduper(client, dedupWindow),
		closer:  client.Close,
	}, nil
}
