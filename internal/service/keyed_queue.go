package service

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"whatstopic/internal/constants"
	apperrors "whatstopic/internal/errors"
	"whatstopic/internal/models"

	"github.com/sirupsen/logrus"
)

// QueueConfig sizes a KeyedQueue
type QueueConfig struct {
	Size           int
	IdleTimeout    time.Duration
	EnqueueTimeout time.Duration
	DrainGrace     time.Duration
}

func (c *QueueConfig) applyDefaults() {
	if c.Size <= 0 {
		c.Size = constants.DefaultQueueSize
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = time.Duration(constants.DefaultIdleTimeoutSec) * time.Second
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = time.Duration(constants.DefaultEnqueueTimeoutMs) * time.Millisecond
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = time.Duration(constants.DefaultDrainGraceSec) * time.Second
	}
}

// ItemHandler processes one queued delivery. It must return when ctx is done.
type ItemHandler func(ctx context.Context, item *models.PendingDelivery)

// KeyedQueue runs one worker goroutine per key. Items with the same key are
// handled strictly in submission order; different keys never wait on each
// other. Idle workers retire after IdleTimeout.
type KeyedQueue struct {
	cfg     QueueConfig
	handler ItemHandler
	logger  *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	workers  map[string]*keyWorker
	closed   bool
	draining chan struct{}
	abandon  atomic.Bool
	wg       sync.WaitGroup
}

type keyWorker struct {
	key  string
	ch   chan *models.PendingDelivery
	refs int // submitters between lookup and send, guarded by KeyedQueue.mu

	busySince atomic.Int64 // unix nanos of the item in progress, 0 when idle
}

// KeyStats describes one live key
type KeyStats struct {
	Key     string
	Depth   int
	BusyFor time.Duration
}

// QueueStats is a point-in-time view of every live key
type QueueStats struct {
	ActiveKeys int
	Backlog    int
	Keys       []KeyStats
}

func NewKeyedQueue(cfg QueueConfig, handler ItemHandler, logger *logrus.Logger) *KeyedQueue {
	cfg.applyDefaults()
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &KeyedQueue{
		cfg:      cfg,
		handler:  handler,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		workers:  make(map[string]*keyWorker),
		draining: make(chan struct{}),
	}
}

// Submit appends item to the queue of key. When that queue stays full for
// EnqueueTimeout it returns ErrQueueFull; other keys are unaffected.
func (q *KeyedQueue) Submit(ctx context.Context, key string, item *models.PendingDelivery) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return apperrors.ErrShuttingDown
	}
	w, ok := q.workers[key]
	if !ok {
		w = &keyWorker{key: key, ch: make(chan *models.PendingDelivery, q.cfg.Size)}
		q.workers[key] = w
		q.wg.Add(1)
		go q.run(w)
	}
	w.refs++
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		w.refs--
		q.mu.Unlock()
	}()

	select {
	case w.ch <- item:
		return nil
	default:
	}

	timer := time.NewTimer(q.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case w.ch <- item:
		return nil
	case <-timer.C:
		return apperrors.ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	case <-q.ctx.Done():
		return apperrors.ErrShuttingDown
	}
}

func (q *KeyedQueue) run(w *keyWorker) {
	defer q.wg.Done()

	idle := time.NewTimer(q.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case item := <-w.ch:
			q.process(w, item)
			resetTimer(idle, q.cfg.IdleTimeout)
		case <-idle.C:
			if q.retire(w) {
				return
			}
			idle.Reset(q.cfg.IdleTimeout)
		case <-q.draining:
			q.drain(w)
			return
		}
	}
}

// drain handles whatever is left for w, then exits once no submitter holds it.
func (q *KeyedQueue) drain(w *keyWorker) {
	for {
		select {
		case item := <-w.ch:
			q.process(w, item)
			continue
		default:
		}
		if q.retire(w) {
			return
		}
		select {
		case item := <-w.ch:
			q.process(w, item)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (q *KeyedQueue) retire(w *keyWorker) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(w.ch) > 0 || w.refs > 0 {
		return false
	}
	if q.workers[w.key] == w {
		delete(q.workers, w.key)
	}
	return true
}

func (q *KeyedQueue) process(w *keyWorker, item *models.PendingDelivery) {
	if q.abandon.Load() {
		LogOutcome(q.ctx, q.logger, item, models.OutcomeDropped, "shutdown", nil)
		return
	}

	w.busySince.Store(time.Now().UnixNano())
	defer w.busySince.Store(0)

	defer func() {
		if r := recover(); r != nil {
			LogOutcome(q.ctx, q.logger, item, models.OutcomeDropped, "panic", apperrors.NewPanicError(r))
		}
	}()
	q.handler(q.ctx, item)
}

// Shutdown stops intake and lets workers drain within DrainGrace. After the
// grace period in-flight handlers are cancelled and every remaining item is
// logged as dropped. It returns true when everything drained in time.
func (q *KeyedQueue) Shutdown() bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return true
	}
	q.closed = true
	close(q.draining)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(q.cfg.DrainGrace)
	defer timer.Stop()

	select {
	case <-done:
		q.cancel()
		return true
	case <-timer.C:
	}

	q.logger.WithField("grace", q.cfg.DrainGrace).Warn("Drain grace period elapsed, abandoning remaining deliveries")
	q.abandon.Store(true)
	q.cancel()
	<-done
	return false
}

// Stats reports live keys and their backlog.
func (q *KeyedQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UnixNano()
	stats := QueueStats{ActiveKeys: len(q.workers), Keys: make([]KeyStats, 0, len(q.workers))}
	for key, w := range q.workers {
		ks := KeyStats{Key: key, Depth: len(w.ch)}
		if since := w.busySince.Load(); since > 0 {
			ks.BusyFor = time.Duration(now - since)
		}
		stats.Backlog += ks.Depth
		stats.Keys = append(stats.Keys, ks)
	}
	sort.Slice(stats.Keys, func(i, j int) bool { return stats.Keys[i].Key < stats.Keys[j].Key })
	return stats
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
