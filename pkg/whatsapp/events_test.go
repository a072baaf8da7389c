package whatsapp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"whatstopic/pkg/whatsapp/types"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventStream_StreamURL(t *testing.T) {
	s := NewEventStream(types.ClientConfig{BaseURL: "https://waha.example.com/", SessionName: "default"}, nil)
	u, err := s.streamURL()
	require.NoError(t, err)
	assert.Contains(t, u, "wss://waha.example.com/ws?")
	assert.Contains(t, u, "session=default")
	assert.Contains(t, u, "events=message.reaction")

	s = NewEventStream(types.ClientConfig{BaseURL: "ftp://x"}, nil)
	_, err = s.streamURL()
	assert.Error(t, err)
}

func TestEventStream_DeliversEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ws", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-Api-Key"))

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.CloseNow() }()

		ctx := r.Context()
		_ = conn.Write(ctx, websocket.MessageText, []byte(`not json`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"event":"message","session":"other","payload":{}}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"event":"message","session":"default","payload":{"id":"m1"}}`))
		<-ctx.Done()
	}))
	defer server.Close()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	stream := NewEventStream(types.ClientConfig{BaseURL: server.URL, APIKey: "key", SessionName: "default"}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := stream.Events(ctx)
	select {
	case ev := <-events:
		assert.Equal(t, types.EventMessage, ev.Event)
		assert.JSONEq(t, `{"id":"m1"}`, string(ev.Payload))
	case <-ctx.Done():
		t.Fatal("no event received")
	}

	cancel()
	for range events {
	}
}
