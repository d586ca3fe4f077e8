// Package vault provides the credential backends a secrets.Store writes to.
//
// A Backend is a flat (service, account) -> value map with no enumeration,
// which is the lowest common denominator of OS credential managers.
package vault

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get and Delete when no record exists.
	ErrNotFound = errors.New("vault: record not found")

	// ErrValueTooLarge is returned by Set when the backend rejects a value
	// for its size. Values are never truncated.
	ErrValueTooLarge = errors.New("vault: value exceeds backend size limit")
)

// Backend stores opaque string values keyed by service and account.
// Implementations must be safe for concurrent use.
type Backend interface {
	Get(ctx context.Context, service, account string) (string, error)
	Set(ctx context.Context, service, account, value string) error
	Delete(ctx context.Context, service, account string) error
}

// Kind names a backend implementation in configuration.
type Kind string

const (
	KindKeyring Kind = "keyring"
	KindLibSQL  Kind = "libsql"
	KindMemory  Kind = "memory"
)
