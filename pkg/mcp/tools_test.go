package mcp

import (
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/mcp-secrets/internal/fetch"
	"github.com/rendis/mcp-secrets/internal/permission"
	"github.com/rendis/mcp-secrets/pkg/schema"
)

func TestHandleList(t *testing.T) {
	f := newFixture(t, testManifest)
	require.NoError(t, f.mgr.StoreSecret(f.ctx, "api_key", "sk-1"))
	require.NoError(t, f.mgr.StoreSecret(f.ctx, "extra", "x"))

	res, err := f.srv.handleList(f.ctx, callRequest("secrets.list", nil))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var got listResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &got))
	assert.Equal(t, "srv-A", got.Namespace)
	assert.Equal(t, []string{"api_key", "extra"}, got.Stored)
	assert.Equal(t, []string{"endpoint"}, got.Missing)
	require.Len(t, got.Declared, 2)
	assert.True(t, got.Declared[0].Present)
	assert.False(t, got.Declared[1].Present)
	assert.Equal(t, "not_decided", got.Declared[0].Access)
	assert.NotContains(t, resultText(t, res), "sk-1")
}

func TestHandleList_ReportsSessionGrant(t *testing.T) {
	f := newFixture(t, testManifest)
	require.NoError(t, f.mgr.StoreSecret(f.ctx, "api_key", "sk-1234567890"))
	f.client.push(mcp.ElicitationResponseActionAccept, permission.ChoiceAllowForSession)

	res, err := f.srv.handleUse(f.ctx, callRequest("secrets.use", map[string]any{"name": "api_key"}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	res, err = f.srv.handleList(f.ctx, callRequest("secrets.list", nil))
	require.NoError(t, err)
	var got listResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &got))
	assert.Equal(t, "granted_for_session", got.Declared[0].Access)
	assert.Equal(t, "not_decided", got.Declared[1].Access)
}

func TestHandleFetch_Success(t *testing.T) {
	f := newFixture(t, testManifest)
	f.launcher.values = map[string]string{"api_key": "sk-123", "endpoint": "https://api.example.com"}
	f.client.push(mcp.ElicitationResponseActionAccept, "")

	res, err := f.srv.handleFetch(f.ctx, callRequest("secrets.fetch", nil))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	var out fetch.Outcome
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	assert.True(t, out.Success)
	assert.Equal(t, []string{"api_key", "endpoint"}, out.Stored)

	names, err := f.mgr.ListSecrets(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"api_key", "endpoint"}, names)

	require.Len(t, f.launcher.templates, 1)
	assert.Equal(t, "MCP Secrets for srv-A", f.launcher.templates[0].Title)
	require.Equal(t, 1, f.client.count())
	assert.Contains(t, f.client.requests[0].Params.Message, "Secrets Requested [Code: ")
}

func TestHandleFetch_Subset(t *testing.T) {
	f := newFixture(t, testManifest)
	f.launcher.values = map[string]string{"endpoint": "https://api.example.com"}
	f.client.push(mcp.ElicitationResponseActionAccept, "")

	res, err := f.srv.handleFetch(f.ctx, callRequest("secrets.fetch", map[string]any{"names": []any{"endpoint"}}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Len(t, f.launcher.templates, 1)
	require.Len(t, f.launcher.templates[0].Fields, 1)
	assert.Equal(t, "endpoint", f.launcher.templates[0].Fields[0].Name)
}

func TestHandleFetch_UnknownName(t *testing.T) {
	f := newFixture(t, testManifest)

	res, err := f.srv.handleFetch(f.ctx, callRequest("secrets.fetch", map[string]any{"names": []any{"nope"}}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "not declared")
	assert.Empty(t, f.launcher.templates)
}

func TestHandleFetch_Declined(t *testing.T) {
	f := newFixture(t, testManifest)
	f.launcher.values = map[string]string{"api_key": "sk-123"}
	f.client.push(mcp.ElicitationResponseActionDecline, "")

	res, err := f.srv.handleFetch(f.ctx, callRequest("secrets.fetch", nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, fetch.DeclinedMessage, resultText(t, res))

	names, err := f.mgr.ListSecrets(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.Contains(t, f.logs.String(), `level=INFO msg="fetch did not complete"`)
	assert.Contains(t, f.logs.String(), "code=ELICITATION_DECLINED")
	assert.NotContains(t, f.logs.String(), "level=ERROR")
}

func TestHandleFetch_DialogFailureLoggedAsError(t *testing.T) {
	f := newFixture(t, testManifest)
	f.launcher.startErr = schema.NewError(schema.ErrCodeDialogBinaryNotFound, "no dialog binary found")

	res, err := f.srv.handleFetch(f.ctx, callRequest("secrets.fetch", nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Zero(t, f.client.count(), "the host is not asked when no dialog started")

	logs := f.logs.String()
	assert.Contains(t, logs, `level=ERROR msg="dialog failed"`)
	assert.Contains(t, logs, "code=DIALOG_BINARY_NOT_FOUND")
	assert.NotContains(t, logs, "fetch did not complete")
}

func TestHandleFetch_NothingDeclared(t *testing.T) {
	f := newFixture(t, "")

	res, err := f.srv.handleFetch(f.ctx, callRequest("secrets.fetch", nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleEnsure(t *testing.T) {
	f := newFixture(t, testManifest)
	require.NoError(t, f.mgr.StoreSecret(f.ctx, "api_key", "sk-1"))
	require.NoError(t, f.mgr.StoreSecret(f.ctx, "endpoint", "https://x"))

	res, err := f.srv.handleEnsure(f.ctx, callRequest("secrets.ensure", nil))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), "All declared secrets are present.")
	assert.Empty(t, f.launcher.templates, "no dialog when everything is stored")

	require.NoError(t, f.mgr.DeleteSecret(f.ctx, "endpoint"))
	f.launcher.values = map[string]string{"endpoint": "https://y"}
	f.client.push(mcp.ElicitationResponseActionAccept, "")

	res, err = f.srv.handleEnsure(f.ctx, callRequest("secrets.ensure", nil))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	require.Len(t, f.launcher.templates, 1)
	assert.Len(t, f.launcher.templates[0].Fields, 2, "every declared field is offered")
}

func TestHandleUse_FetchesThenAsks(t *testing.T) {
	f := newFixture(t, testManifest)
	f.launcher.values = map[string]string{"api_key": "sk-1234567890"}
	f.client.push(mcp.ElicitationResponseActionAccept, "")
	f.client.push(mcp.ElicitationResponseActionAccept, permission.ChoiceAllow)

	res, err := f.srv.handleUse(f.ctx, callRequest("secrets.use", map[string]any{"name": "api_key", "reason": "weather lookup"}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	var got useResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &got))
	assert.Equal(t, "sk-12345...", got.Preview)
	assert.Equal(t, 13, got.Length)
	assert.NotContains(t, resultText(t, res), "sk-1234567890")

	require.Equal(t, 2, f.client.count())
	assert.Equal(t, "srv-A wants to use api_key\nReason: weather lookup", f.client.requests[1].Params.Message)
}

func TestHandleUse_Denied(t *testing.T) {
	f := newFixture(t, testManifest)
	require.NoError(t, f.mgr.StoreSecret(f.ctx, "api_key", "sk-1234567890"))
	f.client.push(mcp.ElicitationResponseActionAccept, permission.ChoiceDeny)

	res, err := f.srv.handleUse(f.ctx, callRequest("secrets.use", map[string]any{"name": "api_key"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "PERMISSION_DENIED")
	assert.NotContains(t, resultText(t, res), "sk-1234567890")
	assert.Empty(t, f.launcher.templates, "stored secrets are not re-fetched")
}

func TestHandleUse_SessionGrant(t *testing.T) {
	f := newFixture(t, testManifest)
	require.NoError(t, f.mgr.StoreSecret(f.ctx, "api_key", "abc"))
	f.client.push(mcp.ElicitationResponseActionAccept, permission.ChoiceAllowForSession)

	for range 3 {
		res, err := f.srv.handleUse(f.ctx, callRequest("secrets.use", map[string]any{"name": "api_key"}))
		require.NoError(t, err)
		require.False(t, res.IsError)
		assert.Contains(t, resultText(t, res), `"preview":"abc..."`)
	}
	assert.Equal(t, 1, f.client.count())
}

func TestHandleUse_Undeclared(t *testing.T) {
	f := newFixture(t, testManifest)

	res, err := f.srv.handleUse(f.ctx, callRequest("secrets.use", map[string]any{"name": "other"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "not declared")

	res, err = f.srv.handleUse(f.ctx, callRequest("secrets.use", nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "name is required", resultText(t, res))
}

func TestHandleDeleteAndClear(t *testing.T) {
	f := newFixture(t, testManifest)
	require.NoError(t, f.mgr.StoreSecret(f.ctx, "api_key", "a"))
	require.NoError(t, f.mgr.StoreSecret(f.ctx, "endpoint", "https://x"))

	res, err := f.srv.handleDelete(f.ctx, callRequest("secrets.delete", map[string]any{"name": "api_key"}))
	require.NoError(t, err)
	assert.Equal(t, "Deleted api_key.", resultText(t, res))

	res, err = f.srv.handleDelete(f.ctx, callRequest("secrets.delete", map[string]any{"name": "api_key"}))
	require.NoError(t, err)
	assert.False(t, res.IsError, "delete is idempotent")

	res, err = f.srv.handleClear(f.ctx, callRequest("secrets.clear", nil))
	require.NoError(t, err)
	assert.Equal(t, "Cleared all secrets for srv-A.", resultText(t, res))

	names, err := f.mgr.ListSecrets(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "12345678...", preview("1234567890"))
	assert.Equal(t, "ab...", preview("ab"))
	assert.Equal(t, "ññññññññ...", preview("ñññññññññ"), "counts runes, not bytes")
}
