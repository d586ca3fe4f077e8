// Package fetch collects missing credentials from the user. The dialog runs
// out of band; the MCP host shows the same verification code so the user
// can tell the real dialog from a spoofed one.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rendis/mcp-secrets/internal/dialog"
	"github.com/rendis/mcp-secrets/internal/host"
	"github.com/rendis/mcp-secrets/internal/logging"
	"github.com/rendis/mcp-secrets/internal/rules"
	"github.com/rendis/mcp-secrets/pkg/schema"
)

// User-facing messages.
const (
	AnnounceMessage  = "🔑 A credential dialog should appear. Fill it out, then click 'Continue' below."
	DeclinedMessage  = "Secrets fetch cancelled by user."
	CancelledMessage = "Dialog was cancelled by user."
)

// Writer is the write side of secrets.Store.
type Writer interface {
	Store(ctx context.Context, name, value string) error
}

// Launcher starts dialogs. Satisfied by *dialog.Orchestrator.
type Launcher interface {
	Start(ctx context.Context, tpl schema.DialogTemplate) (dialog.Pending, error)
}

// Outcome is the result of one fetch. It is always populated, including when
// Fetch returns an error.
type Outcome struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Stored  []string `json:"stored,omitempty"`
	Code    string   `json:"code,omitempty"`
}

// Config configures a Coordinator.
type Config struct {
	Namespace string
	Logger    *slog.Logger
	// NewCode overrides verification code generation in tests.
	NewCode func() (string, error)
}

// Coordinator runs one fetch at a time per namespace.
type Coordinator struct {
	store     Writer
	dialogs   Launcher
	checker   *rules.Checker
	namespace string
	logger    *slog.Logger
	newCode   func() (string, error)

	slot chan struct{}
}

// NewCoordinator returns a Coordinator writing to store.
func NewCoordinator(store Writer, dialogs Launcher, checker *rules.Checker, cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	newCode := cfg.NewCode
	if newCode == nil {
		newCode = NewVerificationCode
	}
	return &Coordinator{
		store:     store,
		dialogs:   dialogs,
		checker:   checker,
		namespace: cfg.Namespace,
		logger:    logger.With("component", "fetch"),
		newCode:   newCode,
		slot:      make(chan struct{}, 1),
	}
}

// Template builds the dialog template for fields. Stored values are never
// pre-filled; only configured defaults are.
func Template(namespace, code string, fields []schema.FieldDescriptor) schema.DialogTemplate {
	return schema.DialogTemplate{
		Title: "MCP Secrets for " + namespace,
		Description: fmt.Sprintf("Verification Code: %s\n\n"+
			"Confirm this code matches what's displayed in your MCP host before proceeding.", code),
		Fields: normalized(fields),
	}
}

// normalized returns a copy of fields with labels and kinds defaulted.
func normalized(fields []schema.FieldDescriptor) []schema.FieldDescriptor {
	out := make([]schema.FieldDescriptor, len(fields))
	for i, f := range fields {
		out[i] = f.Normalize()
	}
	return out
}

// ElicitMessage is the host-side confirmation prompt carrying code.
func ElicitMessage(code string) string {
	return fmt.Sprintf("Secrets Requested [Code: %s] - Check that the dialog shows the same code, "+
		"fill it out, then click 'Continue' when finished", code)
}

// Fetch asks the user for fields and stores every non-empty value. The
// dialog is started before the host prompt and is terminated on every
// return path.
func (c *Coordinator) Fetch(ctx context.Context, h host.Host, fields []schema.FieldDescriptor) (Outcome, error) {
	ctx = logging.WithFetchID(logging.WithNamespace(ctx, c.namespace), uuid.NewString())

	if err := schema.ValidateFields(fields).ToError(); err != nil {
		return fail(err)
	}
	fields = normalized(fields)
	if err := c.checker.CompileFields(fields); err != nil {
		return fail(err)
	}
	if h == nil {
		return fail(schema.NewError(schema.ErrCodeElicitationUnavailable,
			"fetching secrets requires a connected host that supports elicitation"))
	}

	select {
	case c.slot <- struct{}{}:
		defer func() { <-c.slot }()
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	code, err := c.newCode()
	if err != nil {
		return fail(err)
	}
	tpl := Template(c.namespace, code, fields)

	pending, err := c.dialogs.Start(ctx, tpl)
	if err != nil {
		c.logger.ErrorContext(ctx, "dialog failed to start", "error", err)
		return fail(err)
	}
	defer pending.Terminate()

	if err := h.Announce(ctx, AnnounceMessage); err != nil {
		c.logger.WarnContext(ctx, "announce failed", "error", err)
	}

	resp, err := h.Elicit(ctx, host.Prompt{Message: ElicitMessage(code)})
	if err != nil {
		var se *schema.SecretsError
		if !errors.As(err, &se) {
			err = schema.NewError(schema.ErrCodeElicitationUnavailable, "host confirmation failed").WithCause(err)
		}
		return fail(err)
	}
	if !resp.Accepted() {
		c.logger.InfoContext(ctx, "fetch declined in host", "action", string(resp.Action))
		return fail(schema.NewError(schema.ErrCodeElicitationDeclined, DeclinedMessage))
	}

	res, err := pending.Wait(ctx)
	if err != nil {
		c.logger.ErrorContext(ctx, "dialog failed", "error", err)
		return fail(err)
	}
	if res.Cancelled || len(res.Values) == 0 {
		c.logger.InfoContext(ctx, "dialog cancelled")
		return fail(schema.NewError(schema.ErrCodeDialogCancelled, CancelledMessage))
	}

	submitted := res.Submitted(tpl.Fields)
	if err := c.checker.CheckAll(submitted).ToError(); err != nil {
		return fail(err)
	}

	stored := make([]string, 0, len(submitted))
	for _, fv := range submitted {
		if err := c.store.Store(ctx, fv.Field.Name, fv.Value); err != nil {
			out, _ := fail(err)
			out.Stored = stored
			return out, err
		}
		stored = append(stored, fv.Field.Name)
	}

	c.logger.InfoContext(ctx, "credentials stored", "count", len(stored), "names", stored)
	return Outcome{
		Success: true,
		Message: fmt.Sprintf("Successfully stored %d credentials.", len(stored)),
		Stored:  stored,
	}, nil
}

func fail(err error) (Outcome, error) {
	msg := err.Error()
	var se *schema.SecretsError
	if errors.As(err, &se) {
		msg = se.Message
		if se.Secret != "" {
			msg = se.Secret + ": " + msg
		}
	}
	return Outcome{Message: msg, Code: schema.CodeOf(err)}, err
}
