// Package secrets implements the namespace-scoped secret store.
//
// A vault.Backend cannot enumerate its records, so the Store keeps an
// explicit index of names under a reserved account in the same service.
// The index always equals the set of names with a backing record: writes go
// record first then index (rolled back on index failure), deletes go record
// first then index, so a partial failure can only over-approximate the index.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/rendis/mcp-secrets/internal/logging"
	"github.com/rendis/mcp-secrets/internal/vault"
	"github.com/rendis/mcp-secrets/pkg/schema"
)

// ErrMalformedIndex is returned when the index entry cannot be decoded.
var ErrMalformedIndex = errors.New("secret index is malformed")

// ServicePrefix is prepended to the namespace to form the vault service name.
const ServicePrefix = "com.mcp."

// Store is a secret store bound to exactly one namespace.
type Store struct {
	namespace string
	service   string
	backend   vault.Backend
	logger    *slog.Logger

	mu sync.Mutex // serializes record+index sequences
}

// NewStore returns a Store for namespace over backend.
func NewStore(namespace string, backend vault.Backend, logger *slog.Logger) (*Store, error) {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "namespace must not be empty")
	}
	if backend == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "vault backend is required")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Store{
		namespace: namespace,
		service:   ServicePrefix + namespace,
		backend:   backend,
		logger:    logger.With("component", "secrets"),
	}, nil
}

// Namespace returns the namespace the store is bound to.
func (s *Store) Namespace() string { return s.namespace }

// Service returns the vault service name, e.g. "com.mcp.weather".
func (s *Store) Service() string { return s.service }

// Store writes value under name, overwriting any previous value.
func (s *Store) Store(ctx context.Context, name, value string) error {
	if err := schema.ValidateSecretName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.readIndex(ctx)
	if err != nil {
		return schema.NewError(schema.ErrCodeStoreReadFailed, "read index").WithSecret(name).WithCause(err)
	}

	prev, err := s.backend.Get(ctx, s.service, name)
	hadPrev := err == nil
	if err != nil && !errors.Is(err, vault.ErrNotFound) {
		return schema.NewError(schema.ErrCodeStoreWriteFailed, "read previous value").
			WithSecret(name).WithCause(err)
	}

	if err := s.backend.Set(ctx, s.service, name, value); err != nil {
		se := schema.NewError(schema.ErrCodeStoreWriteFailed, "vault rejected the write").
			WithSecret(name).WithCause(err)
		if errors.Is(err, vault.ErrValueTooLarge) {
			se.Message = "value exceeds the vault size limit"
			se.Details = map[string]any{"length": len(value)}
		}
		return se
	}

	if !slices.Contains(names, name) {
		if err := s.writeIndex(ctx, append(names, name)); err != nil {
			s.rollback(ctx, name, prev, hadPrev)
			return schema.NewError(schema.ErrCodeStoreWriteFailed, "update index").
				WithSecret(name).WithCause(err)
		}
	}

	s.logger.DebugContext(logging.WithSecret(ctx, name), "secret stored", "length", len(value))
	return nil
}

func (s *Store) rollback(ctx context.Context, name, prev string, hadPrev bool) {
	var err error
	if hadPrev {
		err = s.backend.Set(ctx, s.service, name, prev)
	} else {
		err = s.backend.Delete(ctx, s.service, name)
	}
	if err != nil && !errors.Is(err, vault.ErrNotFound) {
		s.logger.ErrorContext(logging.WithSecret(ctx, name), "rollback after index failure", "error", err)
	}
}

// Retrieve returns the value stored under name. A missing secret is
// reported as ok == false with a nil error.
func (s *Store) Retrieve(ctx context.Context, name string) (value string, ok bool, err error) {
	if err := schema.ValidateSecretName(name); err != nil {
		return "", false, err
	}
	v, err := s.backend.Get(ctx, s.service, name)
	if errors.Is(err, vault.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, schema.NewError(schema.ErrCodeStoreReadFailed, "vault read failed").
			WithSecret(name).WithCause(err)
	}
	return v, true, nil
}

// Delete removes name. Deleting an absent name is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := schema.ValidateSecretName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.readIndex(ctx)
	if err != nil {
		return schema.NewError(schema.ErrCodeStoreReadFailed, "read index").WithSecret(name).WithCause(err)
	}
	if err := s.backend.Delete(ctx, s.service, name); err != nil && !errors.Is(err, vault.ErrNotFound) {
		return schema.NewError(schema.ErrCodeStoreWriteFailed, "vault delete failed").
			WithSecret(name).WithCause(err)
	}
	if i := slices.Index(names, name); i >= 0 {
		if err := s.writeIndex(ctx, slices.Delete(names, i, i+1)); err != nil {
			return schema.NewError(schema.ErrCodeStoreWriteFailed, "update index").WithSecret(name).WithCause(err)
		}
	}
	s.logger.DebugContext(logging.WithSecret(ctx, name), "secret deleted")
	return nil
}

// List returns the indexed names, sorted. It does not probe the vault. A
// malformed index lists as empty; writes refuse to touch it.
func (s *Store) List(ctx context.Context) ([]string, error) {
	names, err := s.readIndex(ctx)
	if errors.Is(err, ErrMalformedIndex) {
		s.logger.WarnContext(ctx, "malformed secret index, listing as empty", "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStoreReadFailed, "read index").WithCause(err)
	}
	slices.Sort(names)
	return names, nil
}

// Contains reports whether every name is indexed. An empty list is trivially
// contained.
func (s *Store) Contains(ctx context.Context, names ...string) (bool, error) {
	indexed, err := s.List(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if _, found := slices.BinarySearch(indexed, n); !found {
			return false, nil
		}
	}
	return true, nil
}

// Clear deletes every indexed record, then the index entry itself. Names
// whose record could not be deleted stay indexed.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.readIndex(ctx)
	if err != nil {
		return schema.NewError(schema.ErrCodeStoreReadFailed, "read index").WithCause(err)
	}

	var (
		errs      []error
		remaining []string
	)
	for _, n := range names {
		if err := s.backend.Delete(ctx, s.service, n); err != nil && !errors.Is(err, vault.ErrNotFound) {
			errs = append(errs, schema.NewError(schema.ErrCodeStoreWriteFailed, "vault delete failed").
				WithSecret(n).WithCause(err))
			remaining = append(remaining, n)
		}
	}
	if err := s.writeIndex(ctx, remaining); err != nil {
		errs = append(errs, schema.NewError(schema.ErrCodeStoreWriteFailed, "update index").WithCause(err))
	}

	s.logger.InfoContext(ctx, "namespace cleared",
		"deleted", len(names)-len(remaining), "failed", len(remaining))
	return errors.Join(errs...)
}

// Reconcile drops index entries whose record no longer exists in the vault,
// for example after a user removed one through the OS keychain UI. It
// returns the dropped names.
func (s *Store) Reconcile(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.readIndex(ctx)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStoreReadFailed, "read index").WithCause(err)
	}

	var kept, dropped []string
	for _, n := range names {
		_, err := s.backend.Get(ctx, s.service, n)
		switch {
		case errors.Is(err, vault.ErrNotFound):
			dropped = append(dropped, n)
		case err != nil:
			return nil, schema.NewError(schema.ErrCodeStoreReadFailed, "probe record").WithSecret(n).WithCause(err)
		default:
			kept = append(kept, n)
		}
	}
	if len(dropped) == 0 {
		return nil, nil
	}
	if err := s.writeIndex(ctx, kept); err != nil {
		return nil, schema.NewError(schema.ErrCodeStoreWriteFailed, "update index").WithCause(err)
	}
	s.logger.WarnContext(ctx, "dropped orphan index entries", "names", dropped)
	return dropped, nil
}

// readIndex loads the index. A missing index is empty; a malformed one
// yields ErrMalformedIndex so no write replaces it and orphans its records.
func (s *Store) readIndex(ctx context.Context) ([]string, error) {
	raw, err := s.backend.Get(ctx, s.service, schema.IndexAccount)
	if errors.Is(err, vault.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", ErrMalformedIndex, s.service, schema.IndexAccount, err)
	}
	return names, nil
}

// writeIndex persists names, removing the index entry when names is empty.
func (s *Store) writeIndex(ctx context.Context, names []string) error {
	if len(names) == 0 {
		if err := s.backend.Delete(ctx, s.service, schema.IndexAccount); err != nil && !errors.Is(err, vault.ErrNotFound) {
			return err
		}
		return nil
	}
	sorted := slices.Clone(names)
	slices.Sort(sorted)
	data, err := json.Marshal(slices.Compact(sorted))
	if err != nil {
		return err
	}
	return s.backend.Set(ctx, s.service, schema.IndexAccount, string(data))
}
