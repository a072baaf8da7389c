package service

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// NoticeSender posts a message into an operator topic.
type NoticeSender interface {
	SendNotice(ctx context.Context, topicID int64, text string) error
}

// OperatorNotifier aggregates suspension alerts and posts at most one
// message per window to the operator topic.
type OperatorNotifier struct {
	sender   NoticeSender
	topicID  int64
	window   time.Duration
	logger   *logrus.Logger
	mu       sync.Mutex
	pending  map[string]string
	timer    *time.Timer
	lastSent time.Time
	now      func() time.Time
}

func NewOperatorNotifier(sender NoticeSender, topicID int64, window time.Duration, logger *logrus.Logger) *OperatorNotifier {
	if logger == nil {
		logger = logrus.New()
	}
	return &OperatorNotifier{
		sender:  sender,
		topicID: topicID,
		window:  window,
		logger:  logger,
		pending: make(map[string]string),
		now:     time.Now,
	}
}

// Report queues a suspended conversation for the next aggregate notice.
func (o *OperatorNotifier) Report(chatID, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.pending[chatID] = reason
	if o.timer != nil {
		return
	}
	wait := o.window - o.now().Sub(o.lastSent)
	if wait < 0 {
		wait = 0
	}
	o.timer = time.AfterFunc(wait, o.flush)
}

// Flush sends whatever is pending right away.
func (o *OperatorNotifier) Flush() {
	o.mu.Lock()
	if o.timer != nil {
		o.timer.Stop()
	}
	o.mu.Unlock()
	o.flush()
}

func (o *OperatorNotifier) flush() {
	o.mu.Lock()
	o.timer = nil
	if len(o.pending) == 0 {
		o.mu.Unlock()
		return
	}
	batch := o.pending
	o.pending = make(map[string]string)
	o.lastSent = o.now()
	o.mu.Unlock()

	text := formatSuspensions(batch)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := o.sender.SendNotice(ctx, o.topicID, text); err != nil {
		o.logger.WithError(err).WithField(LogFieldCount, len(batch)).Warn("Failed to post operator notice")
	}
}

func formatSuspensions(batch map[string]string) string {
	ids := make([]string, 0, len(batch))
	for id := range batch {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ <b>%d conversation(s) suspended</b>", len(ids))
	for _, id := range ids {
		fmt.Fprintf(&b, "\n• <code>%s</code>: %s", html.EscapeString(id), html.EscapeString(batch[id]))
	}
	return b.String()
}
