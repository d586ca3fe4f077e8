// Package manager binds the secret store, permission gate and fetch
// coordinator to one namespace. A Manager is constructed explicitly and
// passed to whoever needs it; nothing here is process-global.
package manager

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rendis/mcp-secrets/internal/fetch"
	"github.com/rendis/mcp-secrets/internal/host"
	"github.com/rendis/mcp-secrets/internal/logging"
	"github.com/rendis/mcp-secrets/internal/permission"
	"github.com/rendis/mcp-secrets/internal/rules"
	"github.com/rendis/mcp-secrets/internal/secrets"
	"github.com/rendis/mcp-secrets/internal/vault"
	"github.com/rendis/mcp-secrets/pkg/schema"
)

// Config holds everything a Manager needs besides the namespace.
type Config struct {
	Backend vault.Backend
	Dialogs fetch.Launcher
	// Checker is shared across namespaces; one is created when nil.
	Checker *rules.Checker

	// Bypass disables permission prompts. See permission.Config.
	Bypass bool
	// ClearOnStart wipes the namespace on every Initialize.
	ClearOnStart bool
	// ReconcileSchedule is a cron spec for index reconciliation; empty disables it.
	ReconcileSchedule string

	Logger *slog.Logger
}

// Manager is the entry point for every secret operation. All methods fail
// with STORE_NOT_INITIALIZED until Initialize succeeds.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.RWMutex
	state *session
}

// session is everything that is rebuilt on Initialize.
type session struct {
	store      *secrets.Store
	gate       *permission.Gate
	coord      *fetch.Coordinator
	reconciler *secrets.Reconciler
}

// New returns an uninitialized Manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Backend == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "vault backend is required")
	}
	if cfg.Dialogs == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "dialog launcher is required")
	}
	if cfg.Checker == nil {
		c, err := rules.NewChecker()
		if err != nil {
			return nil, err
		}
		cfg.Checker = c
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	cfg.Logger = logger
	return &Manager{cfg: cfg, logger: logger.With("component", "manager")}, nil
}

// Initialize binds the manager to namespace. Calling it again rebinds and
// resets the session permission cache; with ClearOnStart the namespace's
// records and index are wiped.
func (m *Manager) Initialize(ctx context.Context, namespace string) error {
	store, err := secrets.NewStore(namespace, m.cfg.Backend, m.cfg.Logger)
	if err != nil {
		return err
	}
	ctx = logging.WithNamespace(ctx, store.Namespace())

	if m.cfg.ClearOnStart {
		if err := store.Clear(ctx); err != nil {
			return err
		}
		m.logger.InfoContext(ctx, "namespace cleared on start")
	}

	next := &session{
		store: store,
		gate: permission.NewGate(store, permission.Config{
			Namespace: store.Namespace(),
			Bypass:    m.cfg.Bypass,
			Logger:    m.cfg.Logger,
		}),
		coord: fetch.NewCoordinator(store, m.cfg.Dialogs, m.cfg.Checker, fetch.Config{
			Namespace: store.Namespace(),
			Logger:    m.cfg.Logger,
		}),
	}
	if m.cfg.ReconcileSchedule != "" {
		r, err := secrets.NewReconciler(store, m.cfg.ReconcileSchedule, m.cfg.Logger)
		if err != nil {
			return schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
		}
		next.reconciler = r
	}

	m.mu.Lock()
	prev := m.state
	m.state = next
	m.mu.Unlock()

	if prev != nil && prev.reconciler != nil {
		prev.reconciler.Stop(ctx)
	}
	if next.reconciler != nil {
		next.reconciler.Start()
	}
	if m.cfg.Bypass {
		m.logger.WarnContext(ctx, "permission prompts are bypassed; every caller can read every secret")
	}
	m.logger.InfoContext(ctx, "manager initialized", "service", store.Service())
	return nil
}

// Close stops background work. The manager stays usable.
func (m *Manager) Close(ctx context.Context) {
	m.mu.RLock()
	st := m.state
	m.mu.RUnlock()
	if st != nil && st.reconciler != nil {
		st.reconciler.Stop(ctx)
	}
}

func (m *Manager) current() (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return nil, schema.NewError(schema.ErrCodeStoreNotInitialized,
			"secret manager used before Initialize")
	}
	return m.state, nil
}

// Namespace returns the bound namespace, or "" before Initialize.
func (m *Manager) Namespace() string {
	st, err := m.current()
	if err != nil {
		return ""
	}
	return st.store.Namespace()
}

// Gate returns the permission gate of the current session.
func (m *Manager) Gate() (*permission.Gate, error) {
	st, err := m.current()
	if err != nil {
		return nil, err
	}
	return st.gate, nil
}

// GetSecret reads name through the permission gate.
func (m *Manager) GetSecret(ctx context.Context, h host.Host, name, reason string) (string, bool, error) {
	st, err := m.current()
	if err != nil {
		return "", false, err
	}
	return st.gate.Retrieve(logging.WithNamespace(ctx, st.store.Namespace()), h, name, reason)
}

// FetchSecrets runs the out-of-band dialog for fields.
func (m *Manager) FetchSecrets(ctx context.Context, h host.Host, fields []schema.FieldDescriptor) (fetch.Outcome, error) {
	st, err := m.current()
	if err != nil {
		return fetch.Outcome{Message: err.(*schema.SecretsError).Message, Code: schema.ErrCodeStoreNotInitialized}, err
	}
	return st.coord.Fetch(ctx, h, fields)
}

// ListSecrets returns the stored names, sorted.
func (m *Manager) ListSecrets(ctx context.Context) ([]string, error) {
	st, err := m.current()
	if err != nil {
		return nil, err
	}
	return st.store.List(ctx)
}

// StoreSecret writes name directly, without a dialog.
func (m *Manager) StoreSecret(ctx context.Context, name, value string) error {
	st, err := m.current()
	if err != nil {
		return err
	}
	return st.store.Store(ctx, name, value)
}

// DeleteSecret removes name and revokes any session grant for it.
func (m *Manager) DeleteSecret(ctx context.Context, name string) error {
	st, err := m.current()
	if err != nil {
		return err
	}
	if err := st.store.Delete(ctx, name); err != nil {
		return err
	}
	st.gate.Revoke(name)
	return nil
}

// ClearSecrets wipes the namespace and the session cache.
func (m *Manager) ClearSecrets(ctx context.Context) error {
	st, err := m.current()
	if err != nil {
		return err
	}
	if err := st.store.Clear(ctx); err != nil {
		return err
	}
	st.gate.Reset()
	return nil
}

// SecretExists reports whether name is indexed.
func (m *Manager) SecretExists(ctx context.Context, name string) (bool, error) {
	st, err := m.current()
	if err != nil {
		return false, err
	}
	return st.store.Contains(ctx, name)
}

// EnsureSecrets reports whether every name is indexed.
func (m *Manager) EnsureSecrets(ctx context.Context, names ...string) (bool, error) {
	st, err := m.current()
	if err != nil {
		return false, err
	}
	return st.store.Contains(ctx, names...)
}

// Missing returns the names not yet stored, preserving order.
func (m *Manager) Missing(ctx context.Context, names ...string) ([]string, error) {
	st, err := m.current()
	if err != nil {
		return nil, err
	}
	stored, err := st.store.List(ctx)
	if err != nil {
		return nil, err
	}
	have := make(map[string]struct{}, len(stored))
	for _, n := range stored {
		have[n] = struct{}{}
	}
	var missing []string
	for _, n := range names {
		if _, ok := have[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing, nil
}
