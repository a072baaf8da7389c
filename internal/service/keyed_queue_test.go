package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "whatstopic/internal/errors"
	"whatstopic/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queueItem(id string) *models.PendingDelivery {
	return &models.PendingDelivery{
		ID:         id,
		Envelope:   &models.MessageEnvelope{OriginID: id, Direction: models.DirectionInbound, SourceChatID: "a@c.us"},
		EnqueuedAt: time.Now(),
	}
}

func TestKeyedQueue_PreservesOrderPerKey(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string][]string)
	var wg sync.WaitGroup

	q := NewKeyedQueue(QueueConfig{Size: 100}, func(_ context.Context, item *models.PendingDelivery) {
		defer wg.Done()
		mu.Lock()
		seen[item.Envelope.SourceChatID] = append(seen[item.Envelope.SourceChatID], item.ID)
		mu.Unlock()
	}, quietLogger())
	defer q.Shutdown()

	keys := []string{"a", "b", "c"}
	want := make(map[string][]string)
	for i := 0; i < 30; i++ {
		key := keys[i%len(keys)]
		item := queueItem(key + "-" + string(rune('0'+i/len(keys))))
		item.Envelope.SourceChatID = key
		want[key] = append(want[key], item.ID)
		wg.Add(1)
		require.NoError(t, q.Submit(context.Background(), key, item))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, seen)
}

func TestKeyedQueue_KeysDoNotBlockEachOther(t *testing.T) {
	release := make(chan struct{})
	done := make(chan string, 2)

	q := NewKeyedQueue(QueueConfig{Size: 4}, func(_ context.Context, item *models.PendingDelivery) {
		if item.ID == "slow" {
			<-release
		}
		done <- item.ID
	}, quietLogger())
	defer q.Shutdown()

	require.NoError(t, q.Submit(context.Background(), "src:slow", queueItem("slow")))
	require.NoError(t, q.Submit(context.Background(), "src:fast", queueItem("fast")))

	select {
	case id := <-done:
		assert.Equal(t, "fast", id)
	case <-time.After(2 * time.Second):
		t.Fatal("fast key was blocked by slow key")
	}
	close(release)
	assert.Equal(t, "slow", <-done)
}

func TestKeyedQueue_FullQueueTimesOut(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 10)
	q := NewKeyedQueue(QueueConfig{Size: 1, EnqueueTimeout: 50 * time.Millisecond}, func(context.Context, *models.PendingDelivery) {
		started <- struct{}{}
		<-release
	}, quietLogger())
	defer func() {
		close(release)
		q.Shutdown()
	}()

	require.NoError(t, q.Submit(context.Background(), "k", queueItem("1")))
	<-started
	require.NoError(t, q.Submit(context.Background(), "k", queueItem("2")))

	start := time.Now()
	err := q.Submit(context.Background(), "k", queueItem("3"))
	assert.ErrorIs(t, err, apperrors.ErrQueueFull)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// Another key still has room.
	assert.NoError(t, q.Submit(context.Background(), "other", queueItem("4")))

	stats := q.Stats()
	assert.Equal(t, 2, stats.ActiveKeys)
	assert.GreaterOrEqual(t, stats.Backlog, 1)
}

func TestKeyedQueue_ShutdownDrains(t *testing.T) {
	var handled atomic.Int32
	q := NewKeyedQueue(QueueConfig{Size: 10, DrainGrace: 2 * time.Second}, func(context.Context, *models.PendingDelivery) {
		time.Sleep(5 * time.Millisecond)
		handled.Add(1)
	}, quietLogger())

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Submit(context.Background(), "k", queueItem("x")))
	}
	assert.True(t, q.Shutdown())
	assert.Equal(t, int32(5), handled.Load())

	err := q.Submit(context.Background(), "k", queueItem("late"))
	assert.ErrorIs(t, err, apperrors.ErrShuttingDown)
}

func TestKeyedQueue_ShutdownAbandonsAfterGrace(t *testing.T) {
	var handled atomic.Int32
	var cancelled atomic.Bool
	q := NewKeyedQueue(QueueConfig{Size: 10, DrainGrace: 50 * time.Millisecond}, func(ctx context.Context, _ *models.PendingDelivery) {
		select {
		case <-ctx.Done():
			cancelled.Store(true)
		case <-time.After(5 * time.Second):
		}
		handled.Add(1)
	}, quietLogger())

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Submit(context.Background(), "k", queueItem("x")))
	}

	start := time.Now()
	assert.False(t, q.Shutdown())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, cancelled.Load())
	// Only the in-flight item reached the handler; the rest were dropped.
	assert.Equal(t, int32(1), handled.Load())
}

func TestKeyedQueue_IdleWorkerRetires(t *testing.T) {
	var wg sync.WaitGroup
	q := NewKeyedQueue(QueueConfig{IdleTimeout: 30 * time.Millisecond}, func(context.Context, *models.PendingDelivery) {
		wg.Done()
	}, quietLogger())
	defer q.Shutdown()

	wg.Add(1)
	require.NoError(t, q.Submit(context.Background(), "k", queueItem("1")))
	wg.Wait()

	assert.Eventually(t, func() bool { return q.Stats().ActiveKeys == 0 }, 2*time.Second, 10*time.Millisecond)

	// A retired key comes back on demand.
	wg.Add(1)
	require.NoError(t, q.Submit(context.Background(), "k", queueItem("2")))
	wg.Wait()
}

func TestKeyedQueue_RecoversHandlerPanic(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(2)
	var second atomic.Bool
	q := NewKeyedQueue(QueueConfig{}, func(_ context.Context, item *models.PendingDelivery) {
		defer wg.Done()
		if item.ID == "boom" {
			panic("handler exploded")
		}
		second.Store(true)
	}, quietLogger())
	defer q.Shutdown()

	require.NoError(t, q.Submit(context.Background(), "k", queueItem("boom")))
	require.NoError(t, q.Submit(context.Background(), "k", queueItem("ok")))
	wg.Wait()
	assert.True(t, second.Load())
}
