package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu      sync.Mutex
	notices []string
	topics  []int64
}

func (r *recordingSender) SendNotice(_ context.Context, topicID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, text)
	r.topics = append(r.topics, topicID)
	return nil
}

func (r *recordingSender) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notices...)
}

func TestOperatorNotifier_AggregatesWithinWindow(t *testing.T) {
	sender := &recordingSender{}
	o := NewOperatorNotifier(sender, 1, 50*time.Millisecond, quietLogger())

	o.Report("b@c.us", "bot removed")
	o.Report("a@c.us", "topic deleted")

	require.Eventually(t, func() bool { return len(sender.sent()) == 1 }, time.Second, 5*time.Millisecond)
	notice := sender.sent()[0]
	assert.Contains(t, notice, "2 conversation(s) suspended")
	assert.Less(t, strings.Index(notice, "a@c.us"), strings.Index(notice, "b@c.us"))
	assert.Equal(t, []int64{1}, sender.topics)
}

func TestOperatorNotifier_RespectsWindowAfterSend(t *testing.T) {
	sender := &recordingSender{}
	o := NewOperatorNotifier(sender, 1, 200*time.Millisecond, quietLogger())

	o.Report("a@c.us", "x")
	o.Flush()
	require.Len(t, sender.sent(), 1)

	o.Report("b@c.us", "y")
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sender.sent(), 1, "second notice waits for the window")
	require.Eventually(t, func() bool { return len(sender.sent()) == 2 }, time.Second, 10*time.Millisecond)
}

func TestOperatorNotifier_FlushEmptyIsNoop(t *testing.T) {
	sender := &recordingSender{}
	NewOperatorNotifier(sender, 1, time.Minute, quietLogger()).Flush()
	assert.Empty(t, sender.sent())
}

func TestFormatSuspensions_Escapes(t *testing.T) {
	text := formatSuspensions(map[string]string{"a@c.us": "<forbidden>"})
	assert.Contains(t, text, "&lt;forbidden&gt;")
	assert.Contains(t, text, "<code>a@c.us</code>")
}
