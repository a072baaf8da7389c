package service

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"whatstopic/internal/database"
	"whatstopic/internal/media"
	"whatstopic/internal/models"
	"whatstopic/internal/store"
	"whatstopic/pkg/telegram"
	"whatstopic/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestStore(t *testing.T) *store.MappingStore {
	t.Helper()
	docs, err := database.NewSQLiteStore(filepath.Join(t.TempDir(), "bridge.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })
	return store.New(docs, quietLogger())
}

// sentItem is one call recorded by fakeTelegram.
type sentItem struct {
	Method    string
	Opts      telegram.SendOptions
	Text      string
	Contact   telegram.Contact
	ChatID    int64
	MessageID int64
	Emoji     string
}

// fakeTelegram records every call. Errors queued in sendErrs are returned by
// successive SendMessage calls before they start succeeding.
type fakeTelegram struct {
	mu          sync.Mutex
	nextID      int64
	nextTopic   int64
	created     []string
	deleted     []int64
	edited      map[int64]string
	sent        []sentItem
	createDelay time.Duration
	createErr   error
	createCalls int
	onCreate    func()
	sendErrs    []error
	reactionErr error
}

func newFakeTelegram() *fakeTelegram {
	return &fakeTelegram{nextID: 100, nextTopic: 10, edited: make(map[int64]string)}
}

func (f *fakeTelegram) CreateForumTopic(ctx context.Context, chatID int64, name string) (*telegram.ForumTopic, error) {
	if f.createDelay > 0 {
		select {
		case <-time.After(f.createDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.onCreate != nil {
		f.onCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextTopic++
	f.created = append(f.created, name)
	return &telegram.ForumTopic{MessageThreadID: f.nextTopic, Name: name}, nil
}

func (f *fakeTelegram) EditForumTopic(_ context.Context, _ int64, threadID int64, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited[threadID] = name
	return nil
}

func (f *fakeTelegram) DeleteForumTopic(_ context.Context, _ int64, threadID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, threadID)
	return nil
}

func (f *fakeTelegram) record(item sentItem) *telegram.Message {
	f.nextID++
	item.MessageID = f.nextID
	f.sent = append(f.sent, item)
	return &telegram.Message{MessageID: f.nextID, MessageThreadID: item.Opts.ThreadID}
}

func (f *fakeTelegram) SendMessage(_ context.Context, opts telegram.SendOptions, text string) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		return nil, err
	}
	return f.record(sentItem{Method: "message", Opts: opts, Text: text}), nil
}

func (f *fakeTelegram) SendLocation(_ context.Context, opts telegram.SendOptions, latitude, longitude float64) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(sentItem{Method: "location", Opts: opts}), nil
}

func (f *fakeTelegram) SendContact(_ context.Context, opts telegram.SendOptions, contact telegram.Contact) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(sentItem{Method: "contact", Opts: opts, Contact: contact}), nil
}

func (f *fakeTelegram) SetMessageReaction(_ context.Context, chatID, messageID int64, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reactionErr != nil {
		return f.reactionErr
	}
	f.sent = append(f.sent, sentItem{Method: "reaction", ChatID: chatID, MessageID: messageID, Emoji: emoji})
	return nil
}

func (f *fakeTelegram) calls() []sentItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentItem(nil), f.sent...)
}

func (f *fakeTelegram) texts() []string {
	var out []string
	for _, s := range f.calls() {
		if s.Method == "message" {
			out = append(out, s.Text)
		}
	}
	return out
}

func (f *fakeTelegram) byMethod(method string) []sentItem {
	var out []sentItem
	for _, s := range f.calls() {
		if s.Method == method {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeTelegram) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

func (f *fakeTelegram) createdTopics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.created...)
}

// mockWAClient is the WhatsApp side.
type mockWAClient struct {
	mock.Mock
}

func (m *mockWAClient) SendText(ctx context.Context, chatID, text, replyTo string) (*types.SendMessageResponse, error) {
	args := m.Called(ctx, chatID, text, replyTo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.SendMessageResponse), args.Error(1)
}

func (m *mockWAClient) SendReaction(ctx context.Context, chatID, messageID, reaction string) (*types.SendMessageResponse, error) {
	args := m.Called(ctx, chatID, messageID, reaction)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.SendMessageResponse), args.Error(1)
}

func (m *mockWAClient) GetContact(ctx context.Context, contactID string) (*types.Contact, error) {
	args := m.Called(ctx, contactID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Contact), args.Error(1)
}

func (m *mockWAClient) GetGroup(ctx context.Context, groupID string) (*types.Group, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Group), args.Error(1)
}

// mediaCall is one recorded MediaRunner.Run.
type mediaCall struct {
	Ref       *models.MediaRef
	Kind      models.Kind
	Target    media.Target
	Caption   string
	VideoNote bool
}

type fakeMediaRunner struct {
	mu     sync.Mutex
	calls  []mediaCall
	errs   []error
	nextID int64
}

func (f *fakeMediaRunner) Run(_ context.Context, ref *models.MediaRef, kind models.Kind, target media.Target, caption string, videoNote bool) (models.DeliveryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, mediaCall{Ref: ref, Kind: kind, Target: target, Caption: caption, VideoNote: videoNote})
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return models.DeliveryResult{}, err
		}
	}
	f.nextID++
	if target.Platform == models.PlatformWhatsApp {
		return models.DeliveryResult{SourceMessageID: "true_sent_media", Artifacts: 1}, nil
	}
	return models.DeliveryResult{DestinationMessageID: 900 + f.nextID, Artifacts: 1}, nil
}

func (f *fakeMediaRunner) recorded() []mediaCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mediaCall(nil), f.calls...)
}

func sentResponse(id string) *types.SendMessageResponse {
	return &types.SendMessageResponse{MessageID: id, Status: "sent"}
}
