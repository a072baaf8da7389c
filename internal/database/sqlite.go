package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"whatstopic/internal/constants"
	"whatstopic/internal/migrations"
	"whatstopic/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps documents in a single SQLite table. Keys are sealed with
// deterministic encryption and bodies with random-nonce encryption when an
// encryption secret is configured.
type SQLiteStore struct {
	db        *sql.DB
	encryptor *encryptor
	retry     dbRetryPolicy
}

func NewSQLiteStore(dbPath, encryptionSecret string) (*SQLiteStore, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, constants.DefaultFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, closeOnError(db, fmt.Errorf("failed to ping database: %w", err))
	}

	if err := applyMigrations(db); err != nil {
		return nil, closeOnError(db, err)
	}

	enc, err := NewEncryptor(encryptionSecret)
	if err != nil {
		return nil, closeOnError(db, fmt.Errorf("failed to initialize encryption: %w", err))
	}

	return &SQLiteStore{db: db, encryptor: enc, retry: defaultDBRetryPolicy}, nil
}

func closeOnError(db *sql.DB, err error) error {
	if closeErr := db.Close(); closeErr != nil {
		return fmt.Errorf("%w (close error: %v)", err, closeErr)
	}
	return err
}

func applyMigrations(db *sql.DB) error {
	all, err := migrations.All()
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}

	for _, m := range all {
		if _, err := db.Exec(m.SQL); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.Version, err)
		}
		if _, err := db.Exec(`INSERT OR IGNORE INTO schema_migrations (version) VALUES (?)`, m.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) sealKey(key string) (string, error) {
	sealed, err := s.encryptor.EncryptForLookup(key)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt key: %w", err)
	}
	return sealed, nil
}

func (s *SQLiteStore) sealBody(doc interface{}) (string, error) {
	body, err := encodeDocument(doc)
	if err != nil {
		return "", err
	}
	sealed, err := s.encryptor.Encrypt(string(body))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt document: %w", err)
	}
	return sealed, nil
}

func (s *SQLiteStore) openBody(stored string) (json.RawMessage, error) {
	body, err := s.encryptor.Decrypt(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt document: %w", err)
	}
	return json.RawMessage(body), nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, collection, key string, doc interface{}) error {
	sealedKey, err := s.sealKey(key)
	if err != nil {
		return err
	}
	body, err := s.sealBody(doc)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO documents (collection, doc_key, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, doc_key) DO UPDATE SET
			body = excluded.body,
			updated_at = excluded.updated_at
	`

	return retryableDBOperationNoReturn(ctx, s.retry, func() error {
		now := time.Now().UTC()
		_, err := s.db.ExecContext(ctx, query, collection, sealedKey, body, now, now)
		return err
	}, "upsert document")
}

func (s *SQLiteStore) InsertIfAbsent(ctx context.Context, collection, key string, doc interface{}) (json.RawMessage, bool, error) {
	sealedKey, err := s.sealKey(key)
	if err != nil {
		return nil, false, err
	}
	body, err := s.sealBody(doc)
	if err != nil {
		return nil, false, err
	}

	query := `
		INSERT INTO documents (collection, doc_key, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, doc_key) DO NOTHING
	`

	inserted, err := retryableDBOperation(ctx, s.retry, func() (bool, error) {
		now := time.Now().UTC()
		res, err := s.db.ExecContext(ctx, query, collection, sealedKey, body, now, now)
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		return n == 1, nil
	}, "insert document")
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return nil, true, nil
	}

	existing, err := s.Get(ctx, collection, key)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("document %s/%s vanished after conflicting insert", collection, key)
	}
	return existing, false, nil
}

func (s *SQLiteStore) Get(ctx context.Context, collection, key string) (json.RawMessage, error) {
	sealedKey, err := s.sealKey(key)
	if err != nil {
		return nil, err
	}

	var stored string
	err = s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND doc_key = ?`,
		collection, sealedKey,
	).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return s.openBody(stored)
}

// Find decrypts every document of the collection and filters in memory, since
// sealed bodies cannot be queried by field.
func (s *SQLiteStore) Find(ctx context.Context, collection string, filter Filter) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM documents WHERE collection = ? ORDER BY created_at, rowid`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []json.RawMessage
	for rows.Next() {
		var stored string
		if err := rows.Scan(&stored); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		body, err := s.openBody(stored)
		if err != nil {
			return nil, err
		}
		ok, err := matchesFilter(body, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			docs = append(docs, body)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, collection, key string) error {
	sealedKey, err := s.sealKey(key)
	if err != nil {
		return err
	}
	return retryableDBOperationNoReturn(ctx, s.retry, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND doc_key = ?`, collection, sealedKey)
		return err
	}, "delete document")
}

func (s *SQLiteStore) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	if len(filter) > 0 {
		docs, err := s.Find(ctx, collection, filter)
		if err != nil {
			return 0, err
		}
		return len(docs), nil
	}

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE collection = ?`, collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// Keys returns the plaintext keys of a collection. Used by the migration tool.
func (s *SQLiteStore) Keys(ctx context.Context, collection string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc_key FROM documents WHERE collection = ? ORDER BY created_at, rowid`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var sealed string
		if err := rows.Scan(&sealed); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		key, err := s.encryptor.Decrypt(sealed)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
