// Package mcp is the stdio MCP control plane: a JSON-RPC 2.0 tool registry
// framed one object per line over stdin/stdout, built fresh (the teacher's
// own pkg/.../mcp package was referenced by its cmd but absent from the
// retrieved tree) following the constructor/ServeStdio(ctx) shape
// cmd/devclaw/commands/mcp.go already calls.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/chaosslabs/personal-automator/pkg/automator/control"
)

// handler is what one registered tool executes.
type handler func(ctx context.Context, raw json.RawMessage) (any, error)

type tool struct {
	descriptor toolDescriptor
	handler    handler
}

// Server is the stdio JSON-RPC 2.0 tool registry.
type Server struct {
	svc    *control.Service
	logger *slog.Logger
	tools  map[string]tool
	order  []string
}

// New builds a Server with every control-plane operation registered as a
// tool (spec.md §6, one tool per operation: templates.list, tasks.execute,
// credentials.clearValue, etc).
func New(svc *control.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{svc: svc, logger: logger.With("component", "mcp"), tools: make(map[string]tool)}
	s.registerTools()
	return s
}

func (s *Server) register(name, description string, schema map[string]any, h handler) {
	s.tools[name] = tool{descriptor: toolDescriptor{Name: name, Description: description, InputSchema: schema}, handler: h}
	s.order = append(s.order, name)
}

// ServeStdio reads newline-delimited JSON-RPC 2.0 requests from stdin and
// writes responses to stdout until ctx is cancelled or stdin closes.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.serve(ctx, os.Stdin, os.Stdout)
}

func (s *Server) serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(out)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			if line == "" {
				continue
			}
			resp := s.handleLine(ctx, line)
			if resp != nil {
				if err := enc.Encode(resp); err != nil {
					s.logger.Error("failed to write response", "error", err)
				}
			}
		}
	}
}

func (s *Server) handleLine(ctx context.Context, line string) *response {
	var req request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return &response{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: "invalid JSON"}}
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return &response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: codeInvalidRequest, Message: "missing jsonrpc/method"}}
	}

	switch req.Method {
	case "tools/list":
		return &response{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{"tools": s.listDescriptors()}}
	case "tools/call":
		return s.handleToolCall(ctx, req)
	case "initialize":
		return &response{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{
			"protocolVersion": "2024-11-05",
			"serverInfo":      map[string]string{"name": "personal-automator", "version": "1"},
		}}
	default:
		return &response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}}
	}
}

func (s *Server) listDescriptors() []toolDescriptor {
	out := make([]toolDescriptor, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.tools[name].descriptor)
	}
	return out
}

func (s *Server) handleToolCall(ctx context.Context, req request) *response {
	var params callToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: codeInvalidParams, Message: "invalid tools/call params"}}
	}
	t, ok := s.tools[params.Name]
	if !ok {
		return &response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown tool %q", params.Name)}}
	}
	result, err := t.handler(ctx, params.Arguments)
	if err != nil {
		return &response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: codeInternalError, Message: err.Error()}}
	}
	return &response{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{
		"content": []map[string]any{{"type": "text", "text": mustJSON(result)}},
	}}
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
