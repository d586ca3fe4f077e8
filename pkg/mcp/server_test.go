package mcp

import (
	"context"
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/mcp-secrets/internal/dialog"
	"github.com/rendis/mcp-secrets/internal/host"
	"github.com/rendis/mcp-secrets/internal/manager"
	"github.com/rendis/mcp-secrets/internal/manifest"
	"github.com/rendis/mcp-secrets/internal/vault"
	"github.com/rendis/mcp-secrets/pkg/schema"
)

// --- Fakes ---

// elicitor answers elicitation requests from a queue, like an MCP client.
type elicitor struct {
	mu        sync.Mutex
	responses []mcp.ElicitationResponse
	requests  []mcp.ElicitationRequest
}

func (e *elicitor) push(action mcp.ElicitationResponseAction, choice string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := mcp.ElicitationResponse{Action: action}
	if choice != "" {
		r.Content = map[string]any{"choice": choice}
	}
	e.responses = append(e.responses, r)
}

func (e *elicitor) Elicit(_ context.Context, req mcp.ElicitationRequest) (*mcp.ElicitationResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	if len(e.responses) == 0 {
		return &mcp.ElicitationResult{ElicitationResponse: mcp.ElicitationResponse{Action: mcp.ElicitationResponseActionCancel}}, nil
	}
	r := e.responses[0]
	e.responses = e.responses[1:]
	return &mcp.ElicitationResult{ElicitationResponse: r}, nil
}

func (e *elicitor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.requests)
}

type stubPending struct{ values map[string]string }

func (p stubPending) Wait(context.Context) (schema.DialogResult, error) {
	return schema.DialogResult{Values: p.values}, nil
}
func (p stubPending) Terminate() {}

type stubLauncher struct {
	mu        sync.Mutex
	values    map[string]string
	startErr  error
	templates []schema.DialogTemplate
}

func (l *stubLauncher) Start(_ context.Context, tpl schema.DialogTemplate) (dialog.Pending, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.templates = append(l.templates, tpl)
	if l.startErr != nil {
		return nil, l.startErr
	}
	return stubPending{values: l.values}, nil
}

// logBuffer is a goroutine-safe log sink.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

const testManifest = `
secrets:
  - name: api_key
    label: API Key
    field_type: password
    required: true
  - name: endpoint
    field_type: url
`

type fixture struct {
	srv      *SecretsServer
	mgr      *manager.Manager
	launcher *stubLauncher
	client   *elicitor
	logs     *logBuffer
	ctx      context.Context
}

func newFixture(t *testing.T, manifestDoc string) *fixture {
	t.Helper()
	f := &fixture{launcher: &stubLauncher{}, client: &elicitor{}, logs: &logBuffer{}}
	logger := slog.New(slog.NewTextHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	mgr, err := manager.New(manager.Config{Backend: vault.NewMemoryBackend(), Dialogs: f.launcher})
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize(context.Background(), "srv-A"))
	f.mgr = mgr

	m, err := manifest.Parse([]byte(manifestDoc), nil)
	require.NoError(t, err)
	f.srv = NewSecretsServer(ServerDeps{Manager: mgr, Manifest: manifest.NewRegistry(m), Version: "test", Logger: logger})

	session := server.NewInProcessSessionWithHandlers("session-1", nil, f.client, nil)
	session.Initialize()
	f.ctx = f.srv.MCPServer().WithContext(context.Background(), session)
	return f
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return tc.Text
}

// --- Server ---

func TestToolRegistration(t *testing.T) {
	f := newFixture(t, testManifest)

	tools := f.srv.MCPServer().ListTools()
	require.Len(t, tools, 6)
	for _, name := range []string{
		"secrets.list", "secrets.ensure", "secrets.fetch",
		"secrets.use", "secrets.delete", "secrets.clear",
	} {
		assert.NotNil(t, f.srv.MCPServer().GetTool(name), "tool %s should be registered", name)
	}
}

// --- SessionHost ---

func TestSessionHost_ChoicePrompt(t *testing.T) {
	f := newFixture(t, testManifest)
	f.client.push(mcp.ElicitationResponseActionAccept, "Allow for Session")

	resp, err := f.srv.host.Elicit(f.ctx, host.Prompt{Message: "m", Choices: []string{"Allow", "Allow for Session", "Deny"}})
	require.NoError(t, err)
	assert.True(t, resp.Accepted())
	assert.Equal(t, "Allow for Session", resp.Choice)

	require.Equal(t, 1, f.client.count())
	sch, ok := f.client.requests[0].Params.RequestedSchema.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{"choice"}, sch["required"])
}

func TestSessionHost_Confirmation(t *testing.T) {
	f := newFixture(t, testManifest)
	f.client.push(mcp.ElicitationResponseActionDecline, "")

	resp, err := f.srv.host.Elicit(f.ctx, host.Prompt{Message: "confirm"})
	require.NoError(t, err)
	assert.Equal(t, host.ActionDecline, resp.Action)
	assert.Empty(t, resp.Choice)
}

func TestSessionHost_Unavailable(t *testing.T) {
	f := newFixture(t, testManifest)

	_, err := f.srv.host.Elicit(context.Background(), host.Prompt{Message: "m"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeElicitationUnavailable), "no session in context")

	bare := server.NewInProcessSession("session-2", nil)
	bare.Initialize()
	ctx := f.srv.MCPServer().WithContext(context.Background(), bare)
	_, err = f.srv.host.Elicit(ctx, host.Prompt{Message: "m"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeElicitationUnavailable), "client without elicitation")
}

func TestSessionHost_Announce(t *testing.T) {
	f := newFixture(t, testManifest)
	assert.NoError(t, f.srv.host.Announce(f.ctx, "dialog is open"))
	assert.Error(t, f.srv.host.Announce(context.Background(), "nobody listening"))
}

func TestChoiceOf(t *testing.T) {
	assert.Equal(t, "Deny", choiceOf(map[string]any{"choice": "Deny"}))
	assert.Equal(t, "Allow", choiceOf(json.RawMessage(`{"choice":"Allow"}`)))
	assert.Equal(t, "", choiceOf(nil))
	assert.Equal(t, "", choiceOf(map[string]any{"choice": 3}))
}
