package main

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"whatstopic/internal/database"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, name string) *database.SQLiteStore {
	t.Helper()
	s, err := database.NewSQLiteStore(filepath.Join(t.TempDir(), name), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestCopyDocuments(t *testing.T) {
	ctx := context.Background()
	source := openStore(t, "source.db")
	dest := openStore(t, "dest.db")

	require.NoError(t, source.Upsert(ctx, database.CollectionChatMappings, "a@c.us", map[string]interface{}{"sourceChatId": "a@c.us", "destinationTopicId": 11}))
	require.NoError(t, source.Upsert(ctx, database.CollectionChatMappings, "b@c.us", map[string]interface{}{"sourceChatId": "b@c.us", "destinationTopicId": 12}))
	require.NoError(t, source.Upsert(ctx, database.CollectionUserMappings, "77", map[string]interface{}{"destinationUserId": 77}))

	// Destination already knows b@c.us under a different topic; it must win.
	require.NoError(t, dest.Upsert(ctx, database.CollectionChatMappings, "b@c.us", map[string]interface{}{"sourceChatId": "b@c.us", "destinationTopicId": 99}))

	stats, err := copyDocuments(ctx, source, dest, false, quietLogger())
	require.NoError(t, err)

	assert.Equal(t, copyStats{Copied: 1, Skipped: 1}, stats[database.CollectionChatMappings])
	assert.Equal(t, copyStats{Copied: 1}, stats[database.CollectionUserMappings])
	assert.Equal(t, copyStats{}, stats[database.CollectionContactMappings])

	raw, err := dest.Get(ctx, database.CollectionChatMappings, "b@c.us")
	require.NoError(t, err)
	var kept struct {
		DestinationTopicID int64 `json:"destinationTopicId"`
	}
	require.NoError(t, json.Unmarshal(raw, &kept))
	assert.Equal(t, int64(99), kept.DestinationTopicID)

	// A second run copies nothing.
	stats, err = copyDocuments(ctx, source, dest, false, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, copyStats{Skipped: 2}, stats[database.CollectionChatMappings])
}

func TestCopyDocuments_DryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	source := openStore(t, "source.db")
	dest := openStore(t, "dest.db")

	require.NoError(t, source.Upsert(ctx, database.CollectionContactMappings, "a@c.us", map[string]interface{}{"sourceChatId": "a@c.us"}))

	stats, err := copyDocuments(ctx, source, dest, true, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, copyStats{Copied: 1}, stats[database.CollectionContactMappings])

	n, err := dest.Count(ctx, database.CollectionContactMappings, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
