// Package mcpserver exposes the tool registry over the Model Context
// Protocol and turns dispatcher envelopes into tool results.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"mijiamcp/internal/envelope"
	"mijiamcp/internal/tool"
)

// Dispatcher handles one tool call.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, params map[string]any) envelope.Envelope
}

type Options struct {
	Registry   *tool.Registry
	Dispatcher Dispatcher
	Logger     *slog.Logger
}

// New builds an MCP server with one tool per registry entry.
func New(opts Options) (*mcp.Server, error) {
	if opts.Registry == nil || opts.Dispatcher == nil {
		return nil, errors.New("mcpserver: registry and dispatcher are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	server := mcp.NewServer(&mcp.Implementation{Name: tool.ServerName, Version: tool.ServerVersion}, nil)
	for _, d := range opts.Registry.List() {
		server.AddTool(&mcp.Tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: opts.Registry.InputSchema(d.Name),
		}, toolHandler(d.Name, opts.Dispatcher))
	}
	server.AddReceivingMiddleware(unregisteredTools(opts.Registry, opts.Dispatcher))
	opts.Logger.Debug("registered MCP tools", "count", len(opts.Registry.Names()))
	return server, nil
}

// unregisteredTools answers tools/call for names outside the registry with
// the dispatcher's failure envelope instead of a JSON-RPC error.
func unregisteredTools(reg *tool.Registry, d Dispatcher) mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method != "tools/call" {
				return next(ctx, method, req)
			}
			call, ok := req.(*mcp.CallToolRequest)
			if !ok || call.Params == nil {
				return next(ctx, method, req)
			}
			if _, known := reg.Lookup(call.Params.Name); known {
				return next(ctx, method, req)
			}
			return toolHandler(call.Params.Name, d)(ctx, call)
		}
	}
}

func toolHandler(name string, d Dispatcher) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		params, err := DecodeArguments(req.Params.Arguments)
		if err != nil {
			env := envelope.Failure(err, name)
			env.Kind = "invalid_arguments"
			return Result(env), nil
		}
		return Result(d.Dispatch(ctx, name, params)), nil
	}
}

// DecodeArguments accepts a JSON object; absent or null arguments are an
// empty object. Numbers stay json.Number so ids reach the script unchanged.
func DecodeArguments(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var params map[string]any
	if err := dec.Decode(&params); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("arguments must be a single JSON object")
	}
	if params == nil {
		params = map[string]any{}
	}
	return params, nil
}

// Result renders an envelope as a single text block.
func Result(env envelope.Envelope) *mcp.CallToolResult {
	text, err := env.Text()
	if err != nil {
		// A payload that cannot be encoded is reported as a failure.
		fallback := envelope.Failure(fmt.Errorf("cannot encode result: %w", err), env.Tool)
		text, _ = fallback.Text()
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}, IsError: true}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: env.IsError(),
	}
}
