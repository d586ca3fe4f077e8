package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/mcp-secrets/internal/host"
	"github.com/rendis/mcp-secrets/pkg/schema"
)

// SessionHost implements host.Host over the MCP session found in the
// request context.
type SessionHost struct {
	srv *server.MCPServer
}

var _ host.Host = (*SessionHost)(nil)

// NewSessionHost returns a host bound to srv.
func NewSessionHost(srv *server.MCPServer) *SessionHost {
	return &SessionHost{srv: srv}
}

// Announce sends msg as an info log notification to the calling session.
func (h *SessionHost) Announce(ctx context.Context, msg string) error {
	return h.srv.SendNotificationToClient(ctx, "notifications/message", map[string]any{
		"level":  mcp.LoggingLevelInfo,
		"logger": "mcp-secrets",
		"data":   msg,
	})
}

// Elicit asks the calling session's client. Prompts with choices request a
// single "choice" enum property; prompts without are plain confirmations.
func (h *SessionHost) Elicit(ctx context.Context, p host.Prompt) (host.Response, error) {
	res, err := h.srv.RequestElicitation(ctx, mcp.ElicitationRequest{
		Params: mcp.ElicitationParams{
			Message:         p.Message,
			RequestedSchema: requestedSchema(p.Choices),
		},
	})
	if err != nil {
		msg := "host elicitation failed"
		if errors.Is(err, server.ErrElicitationNotSupported) || errors.Is(err, server.ErrNoActiveSession) {
			msg = "the MCP client does not support elicitation"
		}
		return host.Response{}, schema.NewError(schema.ErrCodeElicitationUnavailable, msg).WithCause(err)
	}

	resp := host.Response{Action: host.Action(res.Action)}
	if resp.Action == host.ActionAccept && len(p.Choices) > 0 {
		resp.Choice = choiceOf(res.Content)
	}
	return resp, nil
}

func requestedSchema(choices []string) map[string]any {
	if len(choices) == 0 {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"choice": map[string]any{
				"type":  "string",
				"title": "Decision",
				"enum":  choices,
			},
		},
		"required": []string{"choice"},
	}
}

// choiceOf extracts the "choice" property from elicitation content, which
// arrives as a decoded map or as raw JSON depending on the transport.
func choiceOf(content any) string {
	var m map[string]any
	switch v := content.(type) {
	case map[string]any:
		m = v
	case json.RawMessage:
		_ = json.Unmarshal(v, &m)
	case []byte:
		_ = json.Unmarshal(v, &m)
	case string:
		_ = json.Unmarshal([]byte(v), &m)
	}
	s, _ := m["choice"].(string)
	return s
}
