package cache

import (
	"context"
	"sync"
	"time"

	"whatstopic/internal/constants"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryReplyIndex keeps both directions in expirable LRUs sharing one window.
type MemoryReplyIndex struct {
	byDestination *expirable.LRU[int64, ReplyEntry]
	byOrigin      *expirable.LRU[string, ReplyEntry]
}

func NewMemoryReplyIndex(capacity int, window time.Duration) *MemoryReplyIndex {
	if capacity <= 0 {
		capacity = constants.DefaultReplyCapacity
	}
	return &MemoryReplyIndex{
		byDestination: expirable.NewLRU[int64, ReplyEntry](capacity, nil, window),
		byOrigin:      expirable.NewLRU[string, ReplyEntry](capacity, nil, window),
	}
}

func (m *MemoryReplyIndex) Record(_ context.Context, entry ReplyEntry) error {
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	if entry.DestinationMessageID != 0 {
		m.byDestination.Add(entry.DestinationMessageID, entry)
	}
	if entry.OriginID != "" {
		m.byOrigin.Add(entry.OriginID, entry)
	}
	return nil
}

func (m *MemoryReplyIndex) LookupByDestination(_ context.Context, destinationMessageID int64) (*ReplyEntry, error) {
	entry, ok := m.byDestination.Get(destinationMessageID)
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (m *MemoryReplyIndex) LookupByOrigin(_ context.Context, originID string) (*ReplyEntry, error) {
	entry, ok := m.byOrigin.Get(originID)
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// Len reports the number of destination-side entries.
func (m *MemoryReplyIndex) Len() int {
	return m.byDestination.Len()
}

// MemoryDeduper is a single-process dedup window.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

func NewMemoryDeduper(capacity int, window time.Duration) *MemoryDeduper {
	if capacity <= 0 {
		capacity = constants.DefaultDedupCapacity
	}
	return &MemoryDeduper{seen: expirable.NewLRU[string, struct{}](capacity, nil, window)}
}

func (d *MemoryDeduper) Claim(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen.Contains(key) {
		return false, nil
	}
	d.seen.Add(key, struct{}{})
	return true, nil
}

func (d *MemoryDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	d.seen.Remove(key)
	d.mu.Unlock()
	return nil
}

func (d *MemoryDeduper) Len() int {
	return d.seen.Len()
}
