package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"whatstopic/internal/models"
)

// Collection names used by the mapping store.
const (
	CollectionChatMappings    = "chat_mappings"
	CollectionContactMappings = "contact_mappings"
	CollectionUserMappings    = "user_mappings"
)

// Collections lists every collection the bridge persists.
var Collections = []string{
	CollectionChatMappings,
	CollectionContactMappings,
	CollectionUserMappings,
}

// Filter matches documents whose top-level JSON fields equal the given values.
// An empty filter matches every document in the collection.
type Filter map[string]interface{}

// DocumentStore persists JSON documents addressed by collection and key.
type DocumentStore interface {
	// Upsert replaces the document stored under key, creating it if needed.
	Upsert(ctx context.Context, collection, key string, doc interface{}) error
	// InsertIfAbsent stores doc only when key is unused. When the key is
	// taken it returns the stored document and inserted=false.
	InsertIfAbsent(ctx context.Context, collection, key string, doc interface{}) (existing json.RawMessage, inserted bool, err error)
	// Get returns the document under key, or nil when there is none.
	Get(ctx context.Context, collection, key string) (json.RawMessage, error)
	Find(ctx context.Context, collection string, filter Filter) ([]json.RawMessage, error)
	Delete(ctx context.Context, collection, key string) error
	Count(ctx context.Context, collection string, filter Filter) (int, error)
	Close() error
}

// Open builds the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg models.DatabaseConfig) (DocumentStore, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLiteStore(cfg.Path, cfg.EncryptionSecret)
	case "mongo":
		return NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func encodeDocument(doc interface{}) ([]byte, error) {
	if raw, ok := doc.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, fmt.Errorf("invalid JSON document")
		}
		return raw, nil
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return body, nil
}

// matchesFilter compares each filter value with the document field by their
// JSON encodings, so 42 matches 42.0 only when both encode the same way.
func matchesFilter(body []byte, filter Filter) (bool, error) {
	if len(filter) == 0 {
		return true, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return false, fmt.Errorf("failed to decode document: %w", err)
	}

	for name, want := range filter {
		got, ok := fields[name]
		if !ok {
			return false, nil
		}
		wantJSON, err := json.Marshal(want)
		if err != nil {
			return false, fmt.Errorf("failed to encode filter %s: %w", name, err)
		}
		if !bytes.Equal(bytes.TrimSpace(got), wantJSON) {
			return false, nil
		}
	}
	return true, nil
}
