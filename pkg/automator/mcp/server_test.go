package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/chaosslabs/personal-automator/pkg/automator/control"
	"github.com/chaosslabs/personal-automator/pkg/automator/executor"
	"github.com/chaosslabs/personal-automator/pkg/automator/sandbox"
	"github.com/chaosslabs/personal-automator/pkg/automator/scheduler"
	"github.com/chaosslabs/personal-automator/pkg/automator/store"
	"github.com/chaosslabs/personal-automator/pkg/automator/vault"
)

func requireNode(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node binary not available on PATH")
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	tmpDir := t.TempDir()

	st, err := store.Open(filepath.Join(tmpDir, "automator.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	v, err := vault.Open(filepath.Join(tmpDir, "master.key"))
	if err != nil {
		t.Fatalf("open vault: %v", err)
	}
	runner, err := sandbox.NewRunner(sandbox.DefaultConfig())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	ex := executor.New(st, v, runner, nil)
	sched := scheduler.New(st, ex, scheduler.Options{}, nil)
	svc := control.New(st, v, ex, sched, "test")

	return New(svc, nil)
}

// roundTrip feeds a single JSON-RPC request through handleLine directly,
// avoiding the need to spin up goroutines over pipes for simple assertions.
func roundTrip(t *testing.T, s *Server, method string, params any) response {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		raw = b
	}
	req := request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: method, Params: raw}
	b, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp := s.handleLine(context.Background(), string(b))
	if resp == nil {
		t.Fatalf("expected a response for method %q", method)
	}
	return *resp
}

func TestToolsListAdvertisesAllOperations(t *testing.T) {
	s := newTestServer(t)
	resp := roundTrip(t, s, "tools/list", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result shape: %#v", resp.Result)
	}
	tools, ok := result["tools"].([]toolDescriptor)
	if !ok {
		t.Fatalf("expected []toolDescriptor, got %#v", result["tools"])
	}
	want := []string{"templates.list", "tasks.execute", "credentials.clearValue", "system.status"}
	have := map[string]bool{}
	for _, tool := range tools {
		have[tool.Name] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("expected tool %q to be registered", name)
		}
	}
}

func TestToolsCallTemplateRoundTrip(t *testing.T) {
	s := newTestServer(t)

	createResp := roundTrip(t, s, "tools/call", callToolParams{
		Name: "templates.create",
		Arguments: mustMarshal(t, store.Template{ID: "mcp-tmpl", Name: "MCP Template", Code: "return 1;"}),
	})
	if createResp.Error != nil {
		t.Fatalf("create: unexpected error: %+v", createResp.Error)
	}

	getResp := roundTrip(t, s, "tools/call", callToolParams{
		Name:      "templates.get",
		Arguments: mustMarshal(t, map[string]string{"id": "mcp-tmpl"}),
	})
	if getResp.Error != nil {
		t.Fatalf("get: unexpected error: %+v", getResp.Error)
	}
}

func TestToolsCallUnknownToolReturnsError(t *testing.T) {
	s := newTestServer(t)
	resp := roundTrip(t, s, "tools/call", callToolParams{Name: "nonexistent.tool"})
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestUnknownMethodReturnsJSONRPCError(t *testing.T) {
	s := newTestServer(t)
	resp := roundTrip(t, s, "does.not.exist", nil)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestServeStdioEchoesInitializeAndToolsList(t *testing.T) {
	s := newTestServer(t)

	var in bytes.Buffer
	fmt.Fprintln(&in, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	fmt.Fprintln(&in, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)

	var out bytes.Buffer
	// in is a bytes.Buffer, so the scanner goroutine hits io.EOF once both
	// lines are consumed and serve returns on its own without needing ctx
	// cancellation.
	if err := s.serve(context.Background(), &in, &out); err != nil {
		t.Fatalf("serve: %v", err)
	}

	scanner := bufio.NewScanner(&out)
	var responses []response
	for scanner.Scan() {
		var resp response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		responses = append(responses, resp)
	}
	if len(responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(responses))
	}
	for _, resp := range responses {
		if resp.Error != nil {
			t.Errorf("unexpected error in response: %+v", resp.Error)
		}
	}
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
