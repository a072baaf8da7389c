package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	SourceChatID string `json:"sourceChatId"`
	TopicID      int64  `json:"destinationTopicId"`
	Active       bool   `json:"active"`
}

// runDocumentStoreSuite exercises the DocumentStore contract against any backend.
func runDocumentStoreSuite(t *testing.T, newStore func(t *testing.T) DocumentStore) {
	ctx := context.Background()

	t.Run("upsert then get", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Upsert(ctx, CollectionChatMappings, "a@c.us", testDoc{SourceChatID: "a@c.us", TopicID: 7, Active: true}))

		raw, err := store.Get(ctx, CollectionChatMappings, "a@c.us")
		require.NoError(t, err)
		var got testDoc
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, int64(7), got.TopicID)

		require.NoError(t, store.Upsert(ctx, CollectionChatMappings, "a@c.us", testDoc{SourceChatID: "a@c.us", TopicID: 8}))
		raw, err = store.Get(ctx, CollectionChatMappings, "a@c.us")
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, int64(8), got.TopicID)
	})

	t.Run("get missing returns nil", func(t *testing.T) {
		store := newStore(t)
		raw, err := store.Get(ctx, CollectionChatMappings, "missing")
		require.NoError(t, err)
		assert.Nil(t, raw)
	})

	t.Run("insert if absent keeps first", func(t *testing.T) {
		store := newStore(t)
		existing, inserted, err := store.InsertIfAbsent(ctx, CollectionChatMappings, "b@c.us", testDoc{SourceChatID: "b@c.us", TopicID: 1})
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.Nil(t, existing)

		existing, inserted, err = store.InsertIfAbsent(ctx, CollectionChatMappings, "b@c.us", testDoc{SourceChatID: "b@c.us", TopicID: 2})
		require.NoError(t, err)
		assert.False(t, inserted)

		var got testDoc
		require.NoError(t, json.Unmarshal(existing, &got))
		assert.Equal(t, int64(1), got.TopicID)
	})

	t.Run("concurrent insert if absent has one winner", func(t *testing.T) {
		store := newStore(t)
		const workers = 8

		var wg sync.WaitGroup
		results := make(chan bool, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, inserted, err := store.InsertIfAbsent(ctx, CollectionChatMappings, "race@c.us", testDoc{SourceChatID: "race@c.us", TopicID: int64(100 + i)})
				assert.NoError(t, err)
				results <- inserted
			}(i)
		}
		wg.Wait()
		close(results)

		winners := 0
		for inserted := range results {
			if inserted {
				winners++
			}
		}
		assert.Equal(t, 1, winners)

		n, err := store.Count(ctx, CollectionChatMappings, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("find and count with filter", func(t *testing.T) {
		store := newStore(t)
		for i := 0; i < 4; i++ {
			key := fmt.Sprintf("%d@c.us", i)
			require.NoError(t, store.Upsert(ctx, CollectionChatMappings, key, testDoc{SourceChatID: key, TopicID: int64(i), Active: i%2 == 0}))
		}
		require.NoError(t, store.Upsert(ctx, CollectionContactMappings, "0@c.us", map[string]string{"displayName": "Alice"}))

		all, err := store.Find(ctx, CollectionChatMappings, nil)
		require.NoError(t, err)
		assert.Len(t, all, 4)

		active, err := store.Find(ctx, CollectionChatMappings, Filter{"active": true})
		require.NoError(t, err)
		assert.Len(t, active, 2)

		byTopic, err := store.Find(ctx, CollectionChatMappings, Filter{"destinationTopicId": int64(3)})
		require.NoError(t, err)
		require.Len(t, byTopic, 1)

		n, err := store.Count(ctx, CollectionChatMappings, Filter{"active": false})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = store.Count(ctx, CollectionContactMappings, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("delete", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Upsert(ctx, CollectionUserMappings, "42", map[string]string{"sourceChatId": "x@c.us"}))
		require.NoError(t, store.Delete(ctx, CollectionUserMappings, "42"))

		raw, err := store.Get(ctx, CollectionUserMappings, "42")
		require.NoError(t, err)
		assert.Nil(t, raw)

		require.NoError(t, store.Delete(ctx, CollectionUserMappings, "never-existed"))
	})
}
