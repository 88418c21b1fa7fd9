// Package chatadapter exposes the daemon's monitored folders to chat
// clients as a small read-only MCP tool surface (list_folders,
// folder_status, search_folder), grounded on the teacher pack's
// mcpserver.MCPServer (mark3labs/mcp-go tool registration and
// CallToolResult/TextContent response shaping).
package chatadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/folder-mcp/folder-mcp-daemon/internal/fmdm"
	"github.com/folder-mcp/folder-mcp-daemon/internal/orchestrator"
)

type toolHandler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

// Adapter wraps an MCP server bound to one daemon's FMDM and orchestrator.
type Adapter struct {
	fm        *fmdm.Service
	orch      *orchestrator.Orchestrator
	mcp       *server.MCPServer
	sseServer *server.SSEServer
	handlers  map[string]toolHandler
}

// New constructs a chat-tool adapter and registers its tools.
func New(fm *fmdm.Service, orch *orchestrator.Orchestrator) *Adapter {
	a := &Adapter{
		fm:       fm,
		orch:     orch,
		mcp:      server.NewMCPServer("folder-mcp-daemon", "1.0.0", server.WithToolCapabilities(false)),
		handlers: make(map[string]toolHandler),
	}
	a.registerTools()
	a.sseServer = server.NewSSEServer(a.mcp,
		server.WithStaticBasePath("/mcp"),
		server.WithKeepAliveInterval(30*time.Second),
	)
	return a
}

// MCPServer exposes the underlying server for transport wiring (stdio, SSE,
// or an HTTP handler), mirroring the teacher's separation between tool
// registration and transport.
func (a *Adapter) MCPServer() *server.MCPServer {
	return a.mcp
}

// Start serves the chat-tool surface over SSE until ctx is cancelled,
// grounded on the teacher's mcpserver.MCPServer.Start.
func (a *Adapter) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.sseServer.Start(addr); err != nil {
			errCh <- fmt.Errorf("serving chat tool SSE server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// HandlerFor returns the registered handler for a tool name, or nil.
func (a *Adapter) HandlerFor(name string) toolHandler {
	return a.handlers[name]
}

func (a *Adapter) addTool(tool mcp.Tool, handler toolHandler) {
	a.handlers[tool.Name] = handler
	a.mcp.AddTool(tool, handler)
}

func (a *Adapter) registerTools() {
	a.addTool(mcp.NewTool("list_folders",
		mcp.WithDescription("List every folder currently monitored by the daemon, with status and model"),
	), a.handleListFolders)

	a.addTool(mcp.NewTool("folder_status",
		mcp.WithDescription("Get the lifecycle status and indexing progress of one monitored folder"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path of the monitored folder")),
	), a.handleFolderStatus)

	a.addTool(mcp.NewTool("search_folder",
		mcp.WithDescription("Semantic search over one monitored folder's indexed content"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path of the monitored folder")),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural-language search query")),
		mcp.WithNumber("k", mcp.Description("Maximum number of results (default 10)")),
	), a.handleSearchFolder)
}

func (a *Adapter) handleListFolders(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := a.fm.Get()
	body, err := json.Marshal(snap.Folders)
	if err != nil {
		return nil, fmt.Errorf("marshal folder list: %w", err)
	}
	return textResult(string(body)), nil
}

func (a *Adapter) handleFolderStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := stringArg(req, "path")
	if err != nil {
		return nil, err
	}
	snap := a.fm.Get()
	for _, f := range snap.Folders {
		if f.Path == path {
			body, merr := json.Marshal(f)
			if merr != nil {
				return nil, fmt.Errorf("marshal folder descriptor: %w", merr)
			}
			return textResult(string(body)), nil
		}
	}
	return errorResult(fmt.Sprintf("folder %q is not monitored", path)), nil
}

func (a *Adapter) handleSearchFolder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := stringArg(req, "path")
	if err != nil {
		return nil, err
	}
	query, err := stringArg(req, "query")
	if err != nil {
		return nil, err
	}
	k := 10
	if args, ok := req.Params.Arguments.(map[string]interface{}); ok {
		if kv, ok := args["k"].(float64); ok && kv > 0 {
			k = int(kv)
		}
	}

	svc, ok := a.orch.Get(path)
	if !ok {
		return errorResult(fmt.Sprintf("folder %q is not monitored", path)), nil
	}

	results, err := svc.Search(ctx, query, k)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	body, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("marshal search results: %w", err)
	}
	return textResult(string(body)), nil
}

func stringArg(req mcp.CallToolRequest, name string) (string, error) {
	args, ok := req.Params.Arguments.(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("missing arguments")
	}
	v, ok := args[name].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("missing required argument %q", name)
	}
	return v, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
