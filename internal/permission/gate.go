// Package permission decides whether a caller may read an existing secret.
package permission

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/rendis/mcp-secrets/internal/host"
	"github.com/rendis/mcp-secrets/internal/logging"
	"github.com/rendis/mcp-secrets/pkg/schema"
)

// Decision is the outcome of a permission check for one secret name.
type Decision int

const (
	NotDecided Decision = iota
	GrantedOnce
	GrantedForSession
	Denied
)

func (d Decision) String() string {
	switch d {
	case GrantedOnce:
		return "granted_once"
	case GrantedForSession:
		return "granted_for_session"
	case Denied:
		return "denied"
	default:
		return "not_decided"
	}
}

// Choices offered by the permission prompt, in display order.
const (
	ChoiceAllow           = "Allow"
	ChoiceAllowForSession = "Allow for Session"
	ChoiceDeny            = "Deny"
)

// Choices returns the three permission choices.
func Choices() []string {
	return []string{ChoiceAllow, ChoiceAllowForSession, ChoiceDeny}
}

// Retriever is the read side of secrets.Store.
type Retriever interface {
	Retrieve(ctx context.Context, name string) (string, bool, error)
}

// Config configures a Gate.
type Config struct {
	Namespace string
	// Bypass disables prompting entirely: every existing secret is returned
	// to every caller. Only for non-interactive deployments that fully trust
	// their callers.
	Bypass bool
	Logger *slog.Logger
}

// Gate guards secret reads with a per-name consent prompt and a session
// cache of "Allow for Session" grants. Only session grants are cached;
// Allow and Deny apply to a single call.
type Gate struct {
	store     Retriever
	namespace string
	bypass    bool
	logger    *slog.Logger

	mu      sync.RWMutex
	session map[string]struct{}
}

// NewGate returns a Gate reading from store.
func NewGate(store Retriever, cfg Config) *Gate {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Gate{
		store:     store,
		namespace: cfg.Namespace,
		bypass:    cfg.Bypass,
		logger:    logger.With("component", "permission"),
		session:   make(map[string]struct{}),
	}
}

// Retrieve returns the value of name if the user consents. A missing secret
// yields ("", false, nil) without prompting. h may be nil when bypass is on
// or the name is already granted for the session.
func (g *Gate) Retrieve(ctx context.Context, h host.Host, name, reason string) (string, bool, error) {
	ctx = logging.WithSecret(ctx, name)

	value, ok, err := g.store.Retrieve(ctx, name)
	if err != nil || !ok {
		return "", false, err
	}

	if g.bypass {
		g.logger.DebugContext(ctx, "permission bypassed")
		return value, true, nil
	}
	if g.Decision(name) == GrantedForSession {
		return value, true, nil
	}

	decision, err := g.ask(ctx, h, name, reason)
	if err != nil {
		return "", false, err
	}
	switch decision {
	case GrantedForSession:
		g.mu.Lock()
		g.session[name] = struct{}{}
		g.mu.Unlock()
		g.logger.InfoContext(ctx, "access granted for session")
		return value, true, nil
	case GrantedOnce:
		g.logger.InfoContext(ctx, "access granted once")
		return value, true, nil
	default:
		g.logger.InfoContext(ctx, "access denied")
		return "", false, schema.NewError(schema.ErrCodePermissionDenied, "access denied by user").WithSecret(name)
	}
}

func (g *Gate) ask(ctx context.Context, h host.Host, name, reason string) (Decision, error) {
	if h == nil {
		return NotDecided, schema.NewError(schema.ErrCodeElicitationUnavailable,
			"a permission prompt is required but no host is connected; enable bypass for non-interactive use").
			WithSecret(name)
	}

	resp, err := h.Elicit(ctx, host.Prompt{Message: Message(g.namespace, name, reason), Choices: Choices()})
	if err != nil {
		var se *schema.SecretsError
		if errors.As(err, &se) {
			return NotDecided, err
		}
		return NotDecided, schema.NewError(schema.ErrCodeElicitationUnavailable, "permission prompt failed").
			WithSecret(name).WithCause(err)
	}
	if !resp.Accepted() {
		return Denied, nil
	}
	switch resp.Choice {
	case ChoiceAllow:
		return GrantedOnce, nil
	case ChoiceAllowForSession:
		return GrantedForSession, nil
	default:
		return Denied, nil
	}
}

// Message builds the permission prompt text.
func Message(namespace, name, reason string) string {
	msg := namespace + " wants to use " + name
	if reason != "" {
		msg += "\nReason: " + reason
	}
	return msg
}

// Decision reports the cached decision for name: GrantedForSession or
// NotDecided.
func (g *Gate) Decision(name string) Decision {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.session[name]; ok {
		return GrantedForSession
	}
	return NotDecided
}

// Revoke drops a session grant for name.
func (g *Gate) Revoke(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.session, name)
}

// Reset clears every session grant.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.session = make(map[string]struct{})
}
