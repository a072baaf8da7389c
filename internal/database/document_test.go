package database

import (
	"context"
	"testing"

	"whatstopic/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchesFilter(t *testing.T) {
	body := []byte(`{"sourceChatId":"a@c.us","destinationTopicId":12,"active":true,"state":"active"}`)

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter", nil, true},
		{"string match", Filter{"sourceChatId": "a@c.us"}, true},
		{"int match", Filter{"destinationTopicId": int64(12)}, true},
		{"int mismatch", Filter{"destinationTopicId": 13}, false},
		{"bool match", Filter{"active": true}, true},
		{"all fields", Filter{"active": true, "state": "active"}, true},
		{"one field differs", Filter{"active": true, "state": "suspended"}, false},
		{"missing field", Filter{"chatType": "group"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := matchesFilter(body, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpen_SelectsDriver(t *testing.T) {
	store, err := Open(context.Background(), models.DatabaseConfig{Driver: "sqlite", Path: t.TempDir() + "/open.db"})
	require.NoError(t, err)
	_, ok := store.(*SQLiteStore)
	assert.True(t, ok)
	require.NoError(t, store.Close())

	_, err = Open(context.Background(), models.DatabaseConfig{Driver: "postgres"})
	assert.Error(t, err)
}
