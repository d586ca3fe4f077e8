package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/mcp-secrets/internal/vault"
	"github.com/rendis/mcp-secrets/pkg/schema"
)

// faultyBackend wraps a Backend and fails selected operations.
type faultyBackend struct {
	vault.Backend
	failSet    func(account string) error
	failGet    func(account string) error
	failDelete func(account string) error
}

func (f *faultyBackend) Set(ctx context.Context, service, account, value string) error {
	if f.failSet != nil {
		if err := f.failSet(account); err != nil {
			return err
		}
	}
	return f.Backend.Set(ctx, service, account, value)
}

func (f *faultyBackend) Get(ctx context.Context, service, account string) (string, error) {
	if f.failGet != nil {
		if err := f.failGet(account); err != nil {
			return "", err
		}
	}
	return f.Backend.Get(ctx, service, account)
}

func (f *faultyBackend) Delete(ctx context.Context, service, account string) error {
	if f.failDelete != nil {
		if err := f.failDelete(account); err != nil {
			return err
		}
	}
	return f.Backend.Delete(ctx, service, account)
}

func onAccount(target string, err error) func(string) error {
	return func(account string) error {
		if account == target {
			return err
		}
		return nil
	}
}

func newTestStore(t *testing.T, ns string) (*Store, *vault.MemoryBackend) {
	t.Helper()
	mem := vault.NewMemoryBackend()
	s, err := NewStore(ns, mem, nil)
	require.NoError(t, err)
	return s, mem
}

func TestNewStore(t *testing.T) {
	s, _ := newTestStore(t, "weather")
	assert.Equal(t, "weather", s.Namespace())
	assert.Equal(t, "com.mcp.weather", s.Service())

	_, err := NewStore("  ", vault.NewMemoryBackend(), nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = NewStore("weather", nil, nil)
	assert.Error(t, err)
}

func TestStore_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t, "srv-A")
	ctx := context.Background()

	pairs := map[string]string{"api_key": "sk-123", "endpoint": "https://x", "timeout": "30"}
	for n, v := range pairs {
		require.NoError(t, s.Store(ctx, n, v))
	}
	for n, v := range pairs {
		got, ok, err := s.Retrieve(ctx, n)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, v, got)
	}

	names, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"api_key", "endpoint", "timeout"}, names)

	require.NoError(t, s.Delete(ctx, "endpoint"))
	names, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"api_key", "timeout"}, names)

	_, ok, err := s.Retrieve(ctx, "endpoint")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Overwrite(t *testing.T) {
	s, mem := newTestStore(t, "srv")
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "token", "v1"))
	require.NoError(t, s.Store(ctx, "token", "v2"))

	v, ok, err := s.Retrieve(ctx, "token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)

	names, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"token"}, names)
	assert.Equal(t, 2, mem.Len("com.mcp.srv"), "one record plus the index")
}

func TestStore_RetrieveAbsent(t *testing.T) {
	s, _ := newTestStore(t, "srv")
	v, ok, err := s.Retrieve(context.Background(), "missing")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, v)
}

func TestStore_RetrieveBackendError(t *testing.T) {
	boom := errors.New("dbus closed")
	fb := &faultyBackend{Backend: vault.NewMemoryBackend(), failGet: onAccount("api_key", boom)}
	s, err := NewStore("srv", fb, nil)
	require.NoError(t, err)

	_, ok, err := s.Retrieve(context.Background(), "api_key")
	assert.False(t, ok)
	assert.True(t, schema.IsCode(err, schema.ErrCodeStoreReadFailed))
	assert.ErrorIs(t, err, boom)
}

func TestStore_ReservedAndInvalidNames(t *testing.T) {
	s, _ := newTestStore(t, "srv")
	ctx := context.Background()

	for _, name := range []string{schema.IndexAccount, "", "bad name"} {
		assert.True(t, schema.IsCode(s.Store(ctx, name, "v"), schema.ErrCodeValidation), name)
		_, _, err := s.Retrieve(ctx, name)
		assert.True(t, schema.IsCode(err, schema.ErrCodeValidation), name)
	}
}

func TestStore_DeleteIdempotent(t *testing.T) {
	s, mem := newTestStore(t, "srv")
	ctx := context.Background()

	assert.NoError(t, s.Delete(ctx, "never-stored"))

	require.NoError(t, s.Store(ctx, "a", "1"))
	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "a"))
	assert.Equal(t, 0, mem.Len("com.mcp.srv"), "index entry removed when empty")
}

func TestStore_Clear(t *testing.T) {
	s, mem := newTestStore(t, "srv")
	ctx := context.Background()

	for i := range 5 {
		require.NoError(t, s.Store(ctx, fmt.Sprintf("k%d", i), "v"))
	}
	require.NoError(t, s.Clear(ctx))

	names, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
	for i := range 5 {
		_, ok, err := s.Retrieve(ctx, fmt.Sprintf("k%d", i))
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, 0, mem.Len("com.mcp.srv"))
}

func TestStore_ClearKeepsUndeletedNamesIndexed(t *testing.T) {
	boom := errors.New("locked")
	fb := &faultyBackend{Backend: vault.NewMemoryBackend()}
	s, err := NewStore("srv", fb, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "a", "1"))
	require.NoError(t, s.Store(ctx, "b", "2"))
	fb.failDelete = onAccount("b", boom)

	err = s.Clear(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	names, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, names)
}

func TestStore_Contains(t *testing.T) {
	s, _ := newTestStore(t, "srv")
	ctx := context.Background()
	require.NoError(t, s.Store(ctx, "api_key", "k"))
	require.NoError(t, s.Store(ctx, "endpoint", "e"))

	tests := []struct {
		names []string
		want  bool
	}{
		{nil, true},
		{[]string{"api_key"}, true},
		{[]string{"api_key", "endpoint"}, true},
		{[]string{"api_key", "timeout"}, false},
		{[]string{"timeout"}, false},
	}
	for _, tc := range tests {
		got, err := s.Contains(ctx, tc.names...)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%v", tc.names)
	}
}

func TestStore_NamespaceIsolation(t *testing.T) {
	mem := vault.NewMemoryBackend()
	a, err := NewStore("srv-A", mem, nil)
	require.NoError(t, err)
	b, err := NewStore("srv-B", mem, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, a.Store(ctx, "token", "value-a"))
	require.NoError(t, b.Store(ctx, "token", "value-b"))

	va, _, err := a.Retrieve(ctx, "token")
	require.NoError(t, err)
	vb, _, err := b.Retrieve(ctx, "token")
	require.NoError(t, err)
	assert.Equal(t, "value-a", va)
	assert.Equal(t, "value-b", vb)

	require.NoError(t, a.Clear(ctx))
	vb, ok, err := b.Retrieve(ctx, "token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "value-b", vb)
}

func TestStore_ValueTooLarge(t *testing.T) {
	fb := &faultyBackend{
		Backend: vault.NewMemoryBackend(),
		failSet: onAccount("cert", vault.ErrValueTooLarge),
	}
	s, err := NewStore("srv", fb, nil)
	require.NoError(t, err)

	secret := strings.Repeat("s", 4000)
	err = s.Store(context.Background(), "cert", secret)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeStoreWriteFailed))
	assert.ErrorIs(t, err, vault.ErrValueTooLarge)
	assert.NotContains(t, err.Error(), secret)

	names, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestStore_IndexFailureRollsBackNewRecord(t *testing.T) {
	mem := vault.NewMemoryBackend()
	fb := &faultyBackend{Backend: mem, failSet: onAccount(schema.IndexAccount, errors.New("index locked"))}
	s, err := NewStore("srv", fb, nil)
	require.NoError(t, err)
	ctx := context.Background()

	err = s.Store(ctx, "api_key", "sk-1")
	assert.True(t, schema.IsCode(err, schema.ErrCodeStoreWriteFailed))

	_, ok, err := s.Retrieve(ctx, "api_key")
	require.NoError(t, err)
	assert.False(t, ok, "record must not survive without an index entry")
}

func TestStore_IndexFailureRestoresPreviousValue(t *testing.T) {
	mem := vault.NewMemoryBackend()
	fb := &faultyBackend{Backend: mem}
	s, err := NewStore("srv", fb, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "api_key", "old"))
	require.NoError(t, mem.Delete(ctx, "com.mcp.srv", schema.IndexAccount))
	fb.failSet = onAccount(schema.IndexAccount, errors.New("index locked"))

	err = s.Store(ctx, "api_key", "new")
	require.Error(t, err)

	v, ok, err := s.Retrieve(ctx, "api_key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "old", v)
}

func TestStore_MalformedIndexBlocksWrites(t *testing.T) {
	s, mem := newTestStore(t, "srv")
	ctx := context.Background()
	require.NoError(t, s.Store(ctx, "a", "1"))
	require.NoError(t, s.Store(ctx, "b", "2"))
	require.NoError(t, mem.Set(ctx, "com.mcp.srv", schema.IndexAccount, "{not json"))

	names, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names, "listing degrades to empty")

	err = s.Store(ctx, "c", "3")
	assert.True(t, schema.IsCode(err, schema.ErrCodeStoreReadFailed))
	assert.ErrorIs(t, err, ErrMalformedIndex)
	_, ok, err := s.Retrieve(ctx, "c")
	require.NoError(t, err)
	assert.False(t, ok, "nothing is written while the index is unreadable")

	for _, op := range []func() error{
		func() error { return s.Delete(ctx, "a") },
		func() error { return s.Clear(ctx) },
		func() error { _, err := s.Reconcile(ctx); return err },
	} {
		assert.True(t, schema.IsCode(op(), schema.ErrCodeStoreReadFailed))
	}

	raw, err := mem.Get(ctx, "com.mcp.srv", schema.IndexAccount)
	require.NoError(t, err)
	assert.Equal(t, "{not json", raw, "the index is left for repair")
	for _, n := range []string{"a", "b"} {
		_, ok, err := s.Retrieve(ctx, n)
		require.NoError(t, err)
		assert.True(t, ok, "%s keeps its record", n)
	}
}

func TestStore_Reconcile(t *testing.T) {
	s, mem := newTestStore(t, "srv")
	ctx := context.Background()
	require.NoError(t, s.Store(ctx, "a", "1"))
	require.NoError(t, s.Store(ctx, "b", "2"))

	dropped, err := s.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, dropped)

	require.NoError(t, mem.Delete(ctx, "com.mcp.srv", "a"))
	dropped, err = s.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, dropped)

	names, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, names)
}

func TestStore_ConcurrentStores(t *testing.T) {
	s, _ := newTestStore(t, "srv")
	ctx := context.Background()

	errs := make(chan error, 20)
	for i := range 20 {
		go func() { errs <- s.Store(ctx, fmt.Sprintf("k%02d", i), "v") }()
	}
	for range 20 {
		require.NoError(t, <-errs)
	}
	names, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, names, 20)
}

func TestReconciler(t *testing.T) {
	s, mem := newTestStore(t, "srv")
	ctx := context.Background()
	require.NoError(t, s.Store(ctx, "a", "1"))
	require.NoError(t, mem.Delete(ctx, "com.mcp.srv", "a"))

	_, err := NewReconciler(s, "not a schedule", nil)
	assert.Error(t, err)

	r, err := NewReconciler(s, "@every 1s", nil)
	require.NoError(t, err)
	r.Start()
	defer r.Stop(ctx)

	assert.Eventually(t, func() bool {
		names, err := s.List(ctx)
		return err == nil && len(names) == 0
	}, 5*time.Second, 100*time.Millisecond)
}
