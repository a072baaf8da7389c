package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	apperrors "whatstopic/internal/errors"
	"whatstopic/internal/metrics"
	"whatstopic/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTopicManager(t *testing.T) (*TopicManager, *fakeTelegram, MappingRepository) {
	t.Helper()
	st := newTestStore(t)
	tg := newFakeTelegram()
	tm := NewTopicManager(st, tg, TopicManagerConfig{GroupChatID: -100, GroupPrefix: "👥 ", Timeout: 2 * time.Second}, quietLogger())
	return tm, tg, st
}

func TestGetOrCreateTopic_CreatesOnceAndReuses(t *testing.T) {
	tm, tg, st := newTestTopicManager(t)
	ctx := context.Background()

	first, err := tm.GetOrCreateTopic(ctx, "15551234567@c.us", TopicHint{DisplayName: "Alice"})
	require.NoError(t, err)
	second, err := tm.GetOrCreateTopic(ctx, "15551234567@c.us", TopicHint{DisplayName: "Alice"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"Alice"}, tg.createdTopics())

	m, err := st.GetChat(ctx, "15551234567@c.us")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, first, m.DestinationTopicID)
	assert.Equal(t, models.ChatTypePrivate, m.ChatType)
	assert.Equal(t, models.StateActive, m.State)
}

func TestGetOrCreateTopic_ConcurrentFirstContact(t *testing.T) {
	tm, tg, _ := newTestTopicManager(t)
	tg.createDelay = 50 * time.Millisecond

	const callers = 20
	var wg sync.WaitGroup
	ids := make(chan int64, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := tm.GetOrCreateTopic(context.Background(), "g1@g.us", TopicHint{DisplayName: "Family", IsGroup: true})
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	var first int64
	for id := range ids {
		if first == 0 {
			first = id
		}
		assert.Equal(t, first, id)
	}
	assert.Equal(t, []string{"👥 Family"}, tg.createdTopics())
}

func TestGetOrCreateTopic_CallerCancelDoesNotAbortCreation(t *testing.T) {
	tm, tg, st := newTestTopicManager(t)
	tg.createDelay = 100 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := tm.GetOrCreateTopic(ctx, "a@c.us", TopicHint{DisplayName: "A"})
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))

	assert.Eventually(t, func() bool {
		m, err := st.GetChat(context.Background(), "a@c.us")
		return err == nil && m != nil
	}, 2*time.Second, 10*time.Millisecond)

	id, err := tm.GetOrCreateTopic(context.Background(), "a@c.us", TopicHint{DisplayName: "A"})
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.Len(t, tg.createdTopics(), 1)
}

func TestGetOrCreateTopic_LostRaceKeepsEarliestMapping(t *testing.T) {
	tm, tg, st := newTestTopicManager(t)
	ctx := context.Background()

	// Another process maps the chat while our topic is being created.
	tg.onCreate = func() {
		_, _, err := st.CreateChat(ctx, models.ChatMapping{SourceChatID: "a@c.us", DestinationTopicID: 7, TopicName: "A"})
		assert.NoError(t, err)
	}
	before := metrics.GetRegistry().CounterValue(metrics.TopicCreateConflicts, nil)

	id, err := tm.GetOrCreateTopic(ctx, "a@c.us", TopicHint{DisplayName: "A"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, []int64{11}, tg.deleted)
	assert.Equal(t, before+1, metrics.GetRegistry().CounterValue(metrics.TopicCreateConflicts, nil))
}

func TestGetOrCreateTopic_Suspended(t *testing.T) {
	tm, tg, st := newTestTopicManager(t)
	ctx := context.Background()

	_, err := tm.GetOrCreateTopic(ctx, "a@c.us", TopicHint{DisplayName: "A"})
	require.NoError(t, err)
	_, err = st.SetChatState(ctx, "a@c.us", models.StateSuspended, "bot removed")
	require.NoError(t, err)

	_, err = tm.GetOrCreateTopic(ctx, "a@c.us", TopicHint{DisplayName: "A"})
	assert.ErrorIs(t, err, apperrors.ErrConversationSuspended)
	assert.Len(t, tg.createdTopics(), 1)
}

func TestGetOrCreateTopic_CreateFailureKeepsClass(t *testing.T) {
	tm, tg, st := newTestTopicManager(t)
	tg.createErr = apperrors.NewAPIError("telegram", "createForumTopic", 502, assert.AnError)

	_, err := tm.GetOrCreateTopic(context.Background(), "a@c.us", TopicHint{DisplayName: "A"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTopicUnavailable)
	assert.Equal(t, apperrors.ClassTransient, apperrors.Classify(err))

	m, err := st.GetChat(context.Background(), "a@c.us")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestGetOrCreateTopic_ConfigFailureSuspendsUntilResumed(t *testing.T) {
	tm, tg, st := newTestTopicManager(t)
	ctx := context.Background()
	tg.createErr = apperrors.NewAPIError("telegram", "createForumTopic", 403, assert.AnError)

	_, err := tm.GetOrCreateTopic(ctx, "a@c.us", TopicHint{DisplayName: "A"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTopicUnavailable)
	assert.Equal(t, apperrors.ClassPermanentConfig, apperrors.Classify(err))

	m, err := st.GetChat(ctx, "a@c.us")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, models.StateSuspended, m.State)
	assert.Zero(t, m.DestinationTopicID)
	assert.NotEmpty(t, m.SuspendedReason)

	// Later messages stop at the suspension instead of calling Telegram again.
	for i := 0; i < 3; i++ {
		_, err = tm.GetOrCreateTopic(ctx, "a@c.us", TopicHint{DisplayName: "A"})
		assert.ErrorIs(t, err, apperrors.ErrConversationSuspended)
	}
	assert.Equal(t, 1, tg.createCount())

	tg.createErr = nil
	_, err = st.SetChatState(ctx, "a@c.us", models.StateActive, "")
	require.NoError(t, err)

	id, err := tm.GetOrCreateTopic(ctx, "a@c.us", TopicHint{DisplayName: "A"})
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.Equal(t, 2, tg.createCount())

	m, err = st.GetChat(ctx, "a@c.us")
	require.NoError(t, err)
	assert.Equal(t, id, m.DestinationTopicID)
	assert.Equal(t, models.StateActive, m.State)

	byTopic, err := st.ChatByTopic(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, byTopic)
	assert.Equal(t, "a@c.us", byTopic.SourceChatID)
}

func TestGetOrCreateTopic_RenamesOnDrift(t *testing.T) {
	tm, tg, st := newTestTopicManager(t)
	ctx := context.Background()

	id, err := tm.GetOrCreateTopic(ctx, "a@c.us", TopicHint{DisplayName: "Alice"})
	require.NoError(t, err)
	_, err = tm.GetOrCreateTopic(ctx, "a@c.us", TopicHint{DisplayName: "Alice Smith"})
	require.NoError(t, err)

	assert.Equal(t, "Alice Smith", tg.edited[id])
	m, err := st.GetChat(ctx, "a@c.us")
	require.NoError(t, err)
	assert.Equal(t, "Alice Smith", m.TopicName)
}

func TestResync(t *testing.T) {
	tm, tg, st := newTestTopicManager(t)
	ctx := context.Background()

	_, err := tm.Resync(ctx, "missing@c.us", TopicHint{DisplayName: "X"})
	assert.ErrorIs(t, err, apperrors.New(apperrors.ErrCodeNotFound, ""))

	id, err := tm.GetOrCreateTopic(ctx, "a@c.us", TopicHint{DisplayName: "Alice"})
	require.NoError(t, err)
	_, err = st.SetChatState(ctx, "a@c.us", models.StateSuspended, "forbidden")
	require.NoError(t, err)

	m, err := tm.Resync(ctx, "a@c.us", TopicHint{DisplayName: "Alice B"})
	require.NoError(t, err)
	assert.Equal(t, models.StateActive, m.State)
	assert.Empty(t, m.SuspendedReason)
	assert.Equal(t, "Alice B", m.TopicName)
	assert.Equal(t, "Alice B", tg.edited[id])
}

func TestTopicName(t *testing.T) {
	tm, _, _ := newTestTopicManager(t)

	tests := []struct {
		name   string
		chatID string
		hint   TopicHint
		want   string
	}{
		{"display name", "1@c.us", TopicHint{DisplayName: " Bob "}, "Bob"},
		{"handle fallback", "15551234567@c.us", TopicHint{}, "15551234567"},
		{"group prefix", "g@g.us", TopicHint{DisplayName: "Team", IsGroup: true}, "👥 Team"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tm.TopicName(tt.chatID, tt.hint))
		})
	}

	long := tm.TopicName("1@c.us", TopicHint{DisplayName: strings.Repeat("é", 300)})
	assert.Equal(t, 128, utf8.RuneCountInString(long))
}
