package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T, secret string) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), secret)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_Contract(t *testing.T) {
	runDocumentStoreSuite(t, func(t *testing.T) DocumentStore {
		return newTestSQLiteStore(t, "")
	})
}

func TestSQLiteStore_ContractEncrypted(t *testing.T) {
	runDocumentStoreSuite(t, func(t *testing.T) DocumentStore {
		return newTestSQLiteStore(t, testSecret)
	})
}

func TestSQLiteStore_EncryptsAtRest(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "enc.db")
	store, err := NewSQLiteStore(dbPath, testSecret)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, CollectionContactMappings, "15551234567@c.us", map[string]string{"displayName": "Alice"}))

	raw, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer func() { _ = raw.Close() }()

	var key, body string
	require.NoError(t, raw.QueryRow(`SELECT doc_key, body FROM documents`).Scan(&key, &body))
	assert.False(t, strings.Contains(key, "15551234567"))
	assert.False(t, strings.Contains(body, "Alice"))

	keys, err := store.Keys(ctx, CollectionContactMappings)
	require.NoError(t, err)
	assert.Equal(t, []string{"15551234567@c.us"}, keys)
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath, "")
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, CollectionChatMappings, "a@c.us", testDoc{SourceChatID: "a@c.us", TopicID: 5}))
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(dbPath, "")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	n, err := store.Count(ctx, CollectionChatMappings, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewSQLiteStore_InvalidPaths(t *testing.T) {
	for _, path := range []string{"", "\x00db", "../escape.db"} {
		_, err := NewSQLiteStore(path, "")
		assert.Error(t, err, "path %q", path)
	}
}

func TestSQLiteStore_RejectsInvalidRawJSON(t *testing.T) {
	store := newTestSQLiteStore(t, "")
	err := store.Upsert(context.Background(), CollectionChatMappings, "k", json.RawMessage("not json"))
	assert.Error(t, err)
}
