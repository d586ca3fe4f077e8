package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/rendis/mcp-secrets/pkg/schema"
)

// EncryptionConfig configures key derivation for EncryptedBackend.
// Provide either MasterKey (raw 32 bytes) or Passphrase + Salt.
type EncryptionConfig struct {
	MasterKey  []byte
	Passphrase string
	Salt       []byte
}

// EncryptedBackend seals values with AES-256-GCM before handing them to the
// wrapped Backend. Stored form is base64(nonce || ciphertext); the
// service/account pair is bound as additional data so records cannot be
// swapped between slots.
type EncryptedBackend struct {
	inner Backend
	aead  cipher.AEAD
}

// NewEncryptedBackend wraps inner with AES-256-GCM.
func NewEncryptedBackend(inner Backend, cfg EncryptionConfig) (*EncryptedBackend, error) {
	key, err := deriveKey(cfg)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &EncryptedBackend{inner: inner, aead: aead}, nil
}

func deriveKey(cfg EncryptionConfig) ([]byte, error) {
	if len(cfg.MasterKey) > 0 {
		if len(cfg.MasterKey) != 32 {
			return nil, schema.NewErrorf(schema.ErrCodeVault,
				"master key must be 32 bytes, got %d", len(cfg.MasterKey))
		}
		return cfg.MasterKey, nil
	}
	if cfg.Passphrase == "" {
		return nil, schema.NewError(schema.ErrCodeVault, "either master key or passphrase is required")
	}
	if len(cfg.Salt) == 0 {
		return nil, schema.NewError(schema.ErrCodeVault, "salt is required with passphrase")
	}
	return argon2.IDKey([]byte(cfg.Passphrase), cfg.Salt, 1, 64*1024, 4, 32), nil
}

func additionalData(service, account string) []byte {
	return []byte(service + "\x00" + account)
}

func (e *EncryptedBackend) Get(ctx context.Context, service, account string) (string, error) {
	sealed, err := e.inner.Get(ctx, service, account)
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", schema.NewError(schema.ErrCodeVault, "stored value is not valid base64").WithCause(err)
	}
	n := e.aead.NonceSize()
	if len(raw) < n {
		return "", schema.NewError(schema.ErrCodeVault, "ciphertext too short")
	}
	plain, err := e.aead.Open(nil, raw[:n], raw[n:], additionalData(service, account))
	if err != nil {
		return "", schema.NewError(schema.ErrCodeVault, "decrypt failed: wrong passphrase or corrupted record")
	}
	return string(plain), nil
}

func (e *EncryptedBackend) Set(ctx context.Context, service, account, value string) error {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(value), additionalData(service, account))
	return e.inner.Set(ctx, service, account, base64.StdEncoding.EncodeToString(sealed))
}

func (e *EncryptedBackend) Delete(ctx context.Context, service, account string) error {
	return e.inner.Delete(ctx, service, account)
}
