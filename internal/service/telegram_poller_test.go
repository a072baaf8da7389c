package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"whatstopic/internal/models"
	"whatstopic/pkg/telegram"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedUpdates returns one batch per call, then blocks like a long poll.
type scriptedUpdates struct {
	mu      sync.Mutex
	batches [][]telegram.Update
	errs    []error
	offsets []int64
}

func (s *scriptedUpdates) GetUpdates(ctx context.Context, offset int64, _ int) ([]telegram.Update, error) {
	s.mu.Lock()
	s.offsets = append(s.offsets, offset)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		s.mu.Unlock()
		return nil, err
	}
	if len(s.batches) > 0 {
		batch := s.batches[0]
		s.batches = s.batches[1:]
		s.mu.Unlock()
		return batch, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *scriptedUpdates) seenOffsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.offsets...)
}

type collectingHandler struct {
	mu  sync.Mutex
	ids []int64
	err error
}

func (h *collectingHandler) HandleDestinationUpdate(_ context.Context, update *telegram.Update) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ids = append(h.ids, update.UpdateID)
	return h.err
}

func (h *collectingHandler) seen() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int64(nil), h.ids...)
}

func TestTelegramPoller_DeliversAndAdvancesOffset(t *testing.T) {
	client := &scriptedUpdates{
		errs:    []error{assert.AnError},
		batches: [][]telegram.Update{{{UpdateID: 5}, {UpdateID: 6}}, {{UpdateID: 7}}},
	}
	handler := &collectingHandler{err: assert.AnError}
	poller := NewTelegramPoller(client, handler,
		models.TelegramConfig{PollingEnabled: true, PollTimeoutSec: 1},
		models.RetryConfig{InitialBackoffMs: 1, MaxBackoffMs: 2}, quietLogger())

	require.NoError(t, poller.Start(context.Background()))
	assert.True(t, poller.IsRunning())
	assert.Error(t, poller.Start(context.Background()))

	require.Eventually(t, func() bool { return len(client.seenOffsets()) >= 4 }, 2*time.Second, 5*time.Millisecond)
	poller.Stop()
	assert.False(t, poller.IsRunning())

	assert.Equal(t, []int64{5, 6, 7}, handler.seen())
	assert.Equal(t, []int64{0, 0, 7, 8}, client.seenOffsets()[:4])
}

func TestTelegramPoller_DisabledDoesNotStart(t *testing.T) {
	poller := NewTelegramPoller(&scriptedUpdates{}, &collectingHandler{}, models.TelegramConfig{}, models.RetryConfig{}, quietLogger())
	require.NoError(t, poller.Start(context.Background()))
	assert.False(t, poller.IsRunning())
	poller.Stop()
}
