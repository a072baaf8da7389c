package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	nonceSize       = 12
	keySize         = 32
	kdfIterations   = 100000
	minSecretLength = 32

	encryptionSalt       = "whatstopic-documents-v1"
	encryptionLookupSalt = "whatstopic-lookup-v1"
)

// encryptor seals document keys and bodies at rest. A nil gcm means
// encryption is disabled and every call passes data through unchanged.
type encryptor struct {
	gcm cipher.AEAD
}

// NewEncryptor derives an AES-256-GCM key from secret. An empty secret
// disables encryption.
func NewEncryptor(secret string) (*encryptor, error) {
	if secret == "" {
		return &encryptor{}, nil
	}

	key, err := deriveKey(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &encryptor{gcm: gcm}, nil
}

func deriveKey(secret string) ([]byte, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("encryption secret must be at least %d characters long", minSecretLength)
	}
	return pbkdf2.Key([]byte(secret), []byte(encryptionSalt), kdfIterations, keySize, sha256.New), nil
}

// Enabled reports whether values are sealed before storage.
func (e *encryptor) Enabled() bool {
	return e != nil && e.gcm != nil
}

func (e *encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || !e.Enabled() {
		return plaintext, nil
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, sealed...)), nil
}

func (e *encryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" || !e.Enabled() {
		return ciphertext, nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

// EncryptForLookup produces the same ciphertext for the same plaintext so
// encrypted keys can be used in WHERE clauses.
// #nosec G407 - deterministic nonce required for searchable encryption
func (e *encryptor) EncryptForLookup(plaintext string) (string, error) {
	if plaintext == "" || !e.Enabled() {
		return plaintext, nil
	}

	hash := sha256.Sum256([]byte(plaintext + encryptionLookupSalt))
	nonce := hash[:nonceSize]

	sealed := e.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	result := make([]byte, 0, nonceSize+len(sealed))
	result = append(result, nonce...)
	result = append(result, sealed...)
	return base64.StdEncoding.EncodeToString(result), nil
}
