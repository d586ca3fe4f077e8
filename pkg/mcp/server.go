package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/mcp-secrets/internal/logging"
	"github.com/rendis/mcp-secrets/internal/manager"
	"github.com/rendis/mcp-secrets/internal/manifest"
)

const instructions = "mcp-secrets keeps credentials for this server in the OS vault. " +
	"Use secrets.list to see what is stored, secrets.ensure or secrets.fetch to collect " +
	"missing credentials through a local dialog, and secrets.use to read one with the user's consent. " +
	"Credential values are never returned in full."

// ServerDeps holds the dependencies for creating a SecretsServer.
type ServerDeps struct {
	Manager  *manager.Manager
	Manifest *manifest.Registry
	Name     string
	Version  string
	Logger   *slog.Logger
}

// SecretsServer wraps an MCP server with the secret tool handlers.
type SecretsServer struct {
	manager   *manager.Manager
	manifest  *manifest.Registry
	host      *SessionHost
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewSecretsServer creates a SecretsServer with all tools registered.
func NewSecretsServer(deps ServerDeps) *SecretsServer {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	name := deps.Name
	if name == "" {
		name = "mcp-secrets"
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	registry := deps.Manifest
	if registry == nil {
		registry = manifest.NewRegistry(nil)
	}

	mcpSrv := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(false),
		server.WithElicitation(),
		server.WithLogging(),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	s := &SecretsServer{
		manager:   deps.Manager,
		manifest:  registry,
		host:      NewSessionHost(mcpSrv),
		logger:    logger.With("component", "mcp"),
		mcpServer: mcpSrv,
	}
	mcpSrv.AddTools(s.tools()...)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *SecretsServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// ServeHTTP starts the streamable HTTP transport on addr and blocks until
// ctx is cancelled or the listener fails.
func (s *SecretsServer) ServeHTTP(ctx context.Context, addr string) error {
	httpSrv := server.NewStreamableHTTPServer(s.mcpServer)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- httpSrv.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *SecretsServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *SecretsServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: listTool(), Handler: s.handleList},
		{Tool: ensureTool(), Handler: s.handleEnsure},
		{Tool: fetchTool(), Handler: s.handleFetch},
		{Tool: useTool(), Handler: s.handleUse},
		{Tool: deleteTool(), Handler: s.handleDelete},
		{Tool: clearTool(), Handler: s.handleClear},
	}
}

// --- Tool definitions ---

func listTool() mcp.Tool {
	return mcp.NewTool("secrets.list",
		mcp.WithDescription("List stored secret names and which declared secrets are missing"),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func ensureTool() mcp.Tool {
	return mcp.NewTool("secrets.ensure",
		mcp.WithDescription("Collect the declared secrets through a local dialog if any of them is missing"),
	)
}

func fetchTool() mcp.Tool {
	return mcp.NewTool("secrets.fetch",
		mcp.WithDescription("Collect declared secrets through a local dialog, replacing stored values"),
		mcp.WithArray("names", mcp.WithStringItems(),
			mcp.Description("Declared secret names to collect (default: all)")),
	)
}

func useTool() mcp.Tool {
	return mcp.NewTool("secrets.use",
		mcp.WithDescription("Read a secret with the user's permission. Returns a short preview, never the full value"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Secret name")),
		mcp.WithString("reason", mcp.Description("Why the secret is needed, shown to the user")),
	)
}

func deleteTool() mcp.Tool {
	return mcp.NewTool("secrets.delete",
		mcp.WithDescription("Delete a stored secret"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Secret name")),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	)
}

func clearTool() mcp.Tool {
	return mcp.NewTool("secrets.clear",
		mcp.WithDescription("Delete every secret stored for this server"),
		mcp.WithDestructiveHintAnnotation(true),
	)
}
