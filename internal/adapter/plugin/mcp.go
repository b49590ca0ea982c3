// Package plugin bridges external MCP tool servers into the tool executor.
package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"conductor/internal/domain"
	"conductor/internal/infra/config"
	"conductor/internal/usecase/toolexec"
)

// defaultCallTimeout applies to servers configured without a timeout.
const defaultCallTimeout = 30 * time.Second

// mcpClient abstracts the MCP client interface for testability.
type mcpClient interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

type serverConn struct {
	name    string
	timeout time.Duration
	client  mcpClient
}

// MCPBridge holds connections to MCP servers and exposes their tools as
// executor descriptors named mcp_<server>_<tool>.
type MCPBridge struct {
	servers     []serverConn
	descriptors []toolexec.Descriptor
	logger      *slog.Logger
}

// NewMCPBridge connects to every configured server and discovers its
// tools. It fails only if a server cannot be started or every server
// fails discovery.
func NewMCPBridge(ctx context.Context, servers []config.MCPServer, logger *slog.Logger) (*MCPBridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &MCPBridge{logger: logger}

	for _, srv := range servers {
		conn, err := b.connect(ctx, srv)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("mcp server %q: %w", srv.Name, err)
		}
		b.servers = append(b.servers, conn)
	}

	if err := b.discover(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("discover tools: %w", err)
	}
	return b, nil
}

func newBridgeWithClients(ctx context.Context, servers []serverConn, logger *slog.Logger) (*MCPBridge, error) {
	b := &MCPBridge{servers: servers, logger: logger}
	if err := b.discover(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *MCPBridge) connect(ctx context.Context, srv config.MCPServer) (serverConn, error) {
	var c mcpClient

	switch srv.Transport {
	case "stdio":
		sc, err := mcpclient.NewStdioMCPClient(srv.Command, envSlice(srv.Env), srv.Args...)
		if err != nil {
			return serverConn{}, fmt.Errorf("create stdio client: %w", err)
		}
		c = sc
	case "http":
		t, err := transport.NewStreamableHTTP(srv.URL)
		if err != nil {
			return serverConn{}, fmt.Errorf("create http transport: %w", err)
		}
		hc := mcpclient.NewClient(t)
		if err := hc.Start(ctx); err != nil {
			return serverConn{}, fmt.Errorf("start http client: %w", err)
		}
		c = hc
	default:
		return serverConn{}, fmt.Errorf("%w: unsupported transport %q", domain.ErrInvalidInput, srv.Transport)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "conductor",
		Version: "1.0.0",
	}
	if ic, ok := c.(interface {
		Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	}); ok {
		if _, err := ic.Initialize(ctx, initReq); err != nil {
			c.Close()
			return serverConn{}, domain.WrapOp("initialize", err)
		}
	}

	b.logger.Info("mcp server connected", "name", srv.Name, "transport", srv.Transport)
	return serverConn{name: srv.Name, timeout: srv.Timeout, client: c}, nil
}

func (b *MCPBridge) discover(ctx context.Context) error {
	var errs []string
	ok := 0

	for _, srv := range b.servers {
		result, err := srv.client.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			b.logger.Warn("mcp server discovery failed, skipping", "server", srv.name, "error", err)
			errs = append(errs, fmt.Sprintf("%s: %v", srv.name, err))
			continue
		}
		for _, t := range result.Tools {
			d := b.descriptor(srv, t)
			b.descriptors = append(b.descriptors, d)
			b.logger.Debug("mcp tool discovered", "server", srv.name, "tool", t.Name, "full_name", d.Name)
		}
		b.logger.Info("mcp tools discovered", "server", srv.name, "count", len(result.Tools))
		ok++
	}

	if ok == 0 && len(errs) > 0 {
		return fmt.Errorf("%w: all mcp servers failed discovery: %s", domain.ErrServiceUnavailable, strings.Join(errs, "; "))
	}
	return nil
}

// descriptor converts a remote tool into an executor registration.
func (b *MCPBridge) descriptor(srv serverConn, t mcp.Tool) toolexec.Descriptor {
	desc := t.Description
	if desc == "" {
		desc = fmt.Sprintf("MCP tool %q from server %q", t.Name, srv.name)
	}
	timeout := srv.timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	client, remote, server := srv.client, t.Name, srv.name
	return toolexec.Descriptor{
		Name:        fmt.Sprintf("mcp_%s_%s", sanitizeName(srv.name), sanitizeName(t.Name)),
		Description: desc,
		Params:      paramsFromSchema(t.InputSchema),
		Timeout:     timeout,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			req := mcp.CallToolRequest{}
			req.Params.Name = remote
			req.Params.Arguments = args

			b.logger.Debug("mcp tool call", "server", server, "tool", remote)
			result, err := client.CallTool(ctx, req)
			if err != nil {
				return nil, fmt.Errorf("%w: mcp %s/%s: %v", domain.ErrServiceUnavailable, server, remote, err)
			}
			content := extractContent(result)
			if result.IsError {
				return nil, fmt.Errorf("%w: mcp %s/%s: %s", domain.ErrExecution, server, remote, content)
			}
			return decodeContent(content), nil
		},
	}
}

// Descriptors returns the discovered tools.
func (b *MCPBridge) Descriptors() []toolexec.Descriptor {
	return b.descriptors
}

// RegisterAll registers every discovered tool with exec and returns how
// many were added. Name clashes are logged and skipped.
func (b *MCPBridge) RegisterAll(exec *toolexec.Executor) int {
	n := 0
	for _, d := range b.descriptors {
		if err := exec.Register(d); err != nil {
			b.logger.Warn("mcp tool not registered", "tool", d.Name, "error", err)
			continue
		}
		n++
	}
	return n
}

// Close shuts down all MCP server connections.
func (b *MCPBridge) Close() {
	for _, srv := range b.servers {
		if err := srv.client.Close(); err != nil {
			b.logger.Warn("mcp server close error", "server", srv.name, "error", err)
		}
	}
}

// paramsFromSchema maps the top-level properties of a tool input schema.
func paramsFromSchema(s mcp.ToolInputSchema) map[string]domain.ParamSpec {
	params := make(map[string]domain.ParamSpec, len(s.Properties))
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec := domain.ParamSpec{}
		if prop, ok := s.Properties[name].(map[string]any); ok {
			spec.Type, _ = prop["type"].(string)
			spec.Description, _ = prop["description"].(string)
			spec.Default = prop["default"]
		}
		switch spec.Type {
		case toolexec.TypeString, toolexec.TypeInteger, toolexec.TypeNumber,
			toolexec.TypeBoolean, toolexec.TypeArray, toolexec.TypeObject:
		default:
			// "null" and union types are left unchecked.
			spec.Type = ""
		}
		params[name] = spec
	}
	for _, name := range s.Required {
		spec := params[name]
		spec.Required = true
		params[name] = spec
	}
	return params
}

// extractContent joins the text parts of a result; other parts are
// marshalled to JSON.
func extractContent(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// decodeContent returns JSON payloads as generic values and anything
// else as the raw string.
func decodeContent(content string) any {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return content
}

// sanitizeName replaces characters that aren't valid in tool names.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	result := make([]string, 0, len(env))
	for _, k := range keys {
		result = append(result, k+"="+env[k])
	}
	return result
}
