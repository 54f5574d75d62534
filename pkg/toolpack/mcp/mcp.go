// Package mcp builds a toolpack.Pack whose tools proxy calls to a remote
// MCP (Model Context Protocol) server over stdio, built on
// github.com/mark3labs/mcp-go rather than a hand-rolled JSON-RPC
// transport.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/agentloom/pkg/tool"
	"github.com/kadirpekel/agentloom/pkg/toolpack"
)

// clientName/clientVersion identify this engine to the MCP server during
// the initialize handshake.
const (
	clientName    = "agentloom"
	clientVersion = "0.1.0"
)

// Connect starts command as an MCP stdio server, performs the initialize
// handshake, lists its tools, and wraps them into a toolpack.Pack under
// namespace. The returned closer must be called to terminate the
// subprocess once the pack is no longer needed.
func Connect(ctx context.Context, namespace, command string, args []string, env map[string]string) (*toolpack.Pack, func() error, error) {
	envPairs := make([]string, 0, len(env))
	for k, v := range env {
		envPairs = append(envPairs, k+"="+v)
	}

	c, err := mcpclient.NewStdioMCPClient(command, envPairs, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("mcp: failed to start server %q: %w", command, err)
	}
	if err := c.Start(ctx); err != nil {
		c.Close()
		return nil, nil, fmt.Errorf("mcp: failed to start client for %q: %w", command, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, nil, fmt.Errorf("mcp: initialize handshake with %q failed: %w", command, err)
	}

	listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		return nil, nil, fmt.Errorf("mcp: failed to list tools from %q: %w", command, err)
	}

	tools := make([]tool.Tool, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		tools = append(tools, &remoteTool{client: c, info: t})
	}

	pack := &toolpack.Pack{
		ID:        namespace,
		Namespace: namespace,
		Tools:     tools,
	}
	return pack, c.Close, nil
}

// remoteTool adapts one MCP-advertised tool to tool.Tool.
type remoteTool struct {
	client *mcpclient.Client
	info   mcp.Tool
}

func (t *remoteTool) Name() string        { return t.info.Name }
func (t *remoteTool) Description() string { return t.info.Description }

func (t *remoteTool) InputSchema() map[string]any {
	data, err := json.Marshal(t.info.InputSchema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		return map[string]any{"type": "object"}
	}
	return schema
}

// ReadOnly is conservative: MCP's tool annotations don't map directly onto
// this engine's readOnly fan-out flag, so remote tools are never fanned
// out concurrently — wrong-but-safe beats right-but-racy for tools this
// engine cannot introspect.
func (t *remoteTool) ReadOnly() bool { return false }

func (t *remoteTool) Execute(ctx context.Context, input map[string]any) (tool.Result, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = t.info.Name
	req.Params.Arguments = input

	result, err := t.client.CallTool(ctx, req)
	if err != nil {
		return tool.Err("MCP_CALL_FAILED", err.Error(), tool.Metadata{}), nil
	}
	if result.IsError {
		return tool.Err("MCP_TOOL_ERROR", contentText(result.Content), tool.Metadata{}), nil
	}
	return tool.Ok(contentText(result.Content), tool.Metadata{}), nil
}

func contentText(content []mcp.Content) string {
	var out string
	for _, c := range content {
		if text, ok := c.(mcp.TextContent); ok {
			out += text.Text
		}
	}
	return out
}
