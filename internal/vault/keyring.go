package vault

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/zalando/go-keyring"
)

// windowsCredentialLimit is the Credential Manager blob limit for a password.
const windowsCredentialLimit = 2560

// KeyringBackend stores records in the OS credential manager
// (Keychain, Credential Manager, Secret Service) via go-keyring.
type KeyringBackend struct {
	// MaxValueBytes rejects larger values before they reach the OS.
	// Zero means no client-side limit.
	MaxValueBytes int
}

// NewKeyringBackend returns a KeyringBackend with the platform size limit.
func NewKeyringBackend() *KeyringBackend {
	b := &KeyringBackend{}
	if runtime.GOOS == "windows" {
		b.MaxValueBytes = windowsCredentialLimit
	}
	return b
}

func (k *KeyringBackend) Get(ctx context.Context, service, account string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	v, err := keyring.Get(service, account)
	if err != nil {
		return "", mapKeyringErr("get", err)
	}
	return v, nil
}

func (k *KeyringBackend) Set(ctx context.Context, service, account, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if k.MaxValueBytes > 0 && len(value) > k.MaxValueBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrValueTooLarge, len(value), k.MaxValueBytes)
	}
	if err := keyring.Set(service, account, value); err != nil {
		return mapKeyringErr("set", err)
	}
	return nil
}

func (k *KeyringBackend) Delete(ctx context.Context, service, account string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := keyring.Delete(service, account); err != nil {
		return mapKeyringErr("delete", err)
	}
	return nil
}

func mapKeyringErr(op string, err error) error {
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, keyring.ErrSetDataTooBig):
		return ErrValueTooLarge
	default:
		return fmt.Errorf("keyring %s: %w", op, err)
	}
}
