package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/mcp-secrets/internal/fetch"
	"github.com/rendis/mcp-secrets/pkg/schema"
)

// previewRunes is how much of a value secrets.use reveals.
const previewRunes = 8

// declaredStatus is one row of secrets.list.
type declaredStatus struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
	Present  bool   `json:"present"`
	Access   string `json:"access"` // session permission state, e.g. "granted_for_session"
}

type listResult struct {
	Namespace string           `json:"namespace"`
	Stored    []string         `json:"stored"`
	Declared  []declaredStatus `json:"declared"`
	Missing   []string         `json:"missing"`
}

// handleList reports stored names and the state of every declared secret.
func (s *SecretsServer) handleList(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stored, err := s.manager.ListSecrets(ctx)
	if err != nil {
		return toolError("list failed", err), nil
	}
	m := s.manifest.Get()
	missing, err := s.manager.Missing(ctx, m.Names()...)
	if err != nil {
		return toolError("list failed", err), nil
	}
	gate, err := s.manager.Gate()
	if err != nil {
		return toolError("list failed", err), nil
	}

	res := listResult{
		Namespace: s.manager.Namespace(),
		Stored:    stored,
		Declared:  []declaredStatus{},
		Missing:   []string{},
	}
	res.Missing = append(res.Missing, missing...)
	for _, f := range m.Secrets {
		res.Declared = append(res.Declared, declaredStatus{
			Name:     f.Name,
			Label:    f.Label,
			Required: f.Required,
			Present:  !slices.Contains(missing, f.Name),
			Access:   gate.Decision(f.Name).String(),
		})
	}
	return marshalResult(res)
}

// handleEnsure runs the fetch flow for every declared secret, but only when
// at least one of them is missing.
func (s *SecretsServer) handleEnsure(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m := s.manifest.Get()
	if len(m.Secrets) == 0 {
		return mcp.NewToolResultError("no secrets are declared for this server"), nil
	}
	ok, err := s.manager.EnsureSecrets(ctx, m.Names()...)
	if err != nil {
		return toolError("ensure failed", err), nil
	}
	if ok {
		return marshalResult(fetch.Outcome{Success: true, Message: "All declared secrets are present."})
	}
	return s.runFetch(ctx, m.Secrets)
}

// handleFetch always runs the fetch flow for the requested declared secrets.
func (s *SecretsServer) handleFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m := s.manifest.Get()
	if len(m.Secrets) == 0 {
		return mcp.NewToolResultError("no secrets are declared for this server"), nil
	}
	fields, err := m.Fields(req.GetStringSlice("names", nil)...)
	if err != nil {
		return toolError("invalid names", err), nil
	}
	return s.runFetch(ctx, fields)
}

func (s *SecretsServer) runFetch(ctx context.Context, fields []schema.FieldDescriptor) (*mcp.CallToolResult, error) {
	out, err := s.manager.FetchSecrets(ctx, s.host, fields)
	if err != nil {
		// Cancels and declines are the user's call and safe to retry; a
		// broken dialog needs an operator.
		if schema.IsDialogFailure(err) {
			s.logger.ErrorContext(ctx, "dialog failed", "code", out.Code, "error", err)
		} else {
			s.logger.InfoContext(ctx, "fetch did not complete", "code", out.Code)
		}
		res := mcp.NewToolResultError(out.Message)
		res.StructuredContent = out
		return res, nil
	}
	return marshalResult(out)
}

type useResult struct {
	Name    string `json:"name"`
	Preview string `json:"preview"`
	Length  int    `json:"length"`
}

// handleUse collects name if it is declared but missing, then reads it
// through the permission gate and returns a preview.
func (s *SecretsServer) handleUse(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}
	reason := req.GetString("reason", "")

	exists, err := s.manager.SecretExists(ctx, name)
	if err != nil {
		return toolError("lookup failed", err), nil
	}
	if !exists {
		f, declared := s.manifest.Get().Field(name)
		if !declared {
			return mcp.NewToolResultError(fmt.Sprintf("secret %s is not stored and not declared", name)), nil
		}
		if res, _ := s.runFetch(ctx, []schema.FieldDescriptor{f}); res != nil && res.IsError {
			return res, nil
		}
	}

	value, ok, err := s.manager.GetSecret(ctx, s.host, name, reason)
	if err != nil {
		return toolError("read refused", err), nil
	}
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("secret %s is not stored", name)), nil
	}
	return marshalResult(useResult{Name: name, Preview: preview(value), Length: len([]rune(value))})
}

// handleDelete removes one secret.
func (s *SecretsServer) handleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}
	if err := s.manager.DeleteSecret(ctx, name); err != nil {
		return toolError("delete failed", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Deleted %s.", name)), nil
}

// handleClear wipes the namespace.
func (s *SecretsServer) handleClear(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.manager.ClearSecrets(ctx); err != nil {
		return toolError("clear failed", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Cleared all secrets for %s.", s.manager.Namespace())), nil
}

func preview(value string) string {
	r := []rune(value)
	if len(r) > previewRunes {
		r = r[:previewRunes]
	}
	return string(r) + "..."
}

// toolError renders err for the client. SecretsError text never includes
// the cause chain.
func toolError(prefix string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
