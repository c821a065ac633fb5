package sandbox

import (
	"context"
	"os/exec"
	"testing"
	"time"
)

func requireNode(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node binary not available on PATH")
	}
}

func TestRunnerReturnValue(t *testing.T) {
	requireNode(t)
	r, err := NewRunner(DefaultConfig())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	result, err := r.Run(context.Background(), ExecRequest{
		Code:   "return params.a + params.b;",
		Params: map[string]any{"a": 2, "b": 3},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ErrorMsg != "" {
		t.Fatalf("unexpected script error: %s", result.ErrorMsg)
	}
	if v, ok := result.ReturnValue.(float64); !ok || v != 5 {
		t.Errorf("expected return value 5, got %v", result.ReturnValue)
	}
}

func TestRunnerCapturesConsole(t *testing.T) {
	requireNode(t)
	r, err := NewRunner(DefaultConfig())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	result, err := r.Run(context.Background(), ExecRequest{
		Code: `console.log("hello"); console.error("oops"); return null;`,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Console) != 2 {
		t.Fatalf("expected 2 console lines, got %d: %+v", len(result.Console), result.Console)
	}
	if result.Console[0].Message != "hello" || result.Console[0].Level != "log" {
		t.Errorf("unexpected first console line: %+v", result.Console[0])
	}
	if result.Console[1].Message != "oops" || result.Console[1].Level != "error" {
		t.Errorf("unexpected second console line: %+v", result.Console[1])
	}
}

func TestRunnerScriptThrow(t *testing.T) {
	requireNode(t)
	r, err := NewRunner(DefaultConfig())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	result, err := r.Run(context.Background(), ExecRequest{
		Code: `throw new Error("boom");`,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ErrorMsg == "" {
		t.Error("expected a captured error message")
	}
}

func TestRunnerTimeout(t *testing.T) {
	requireNode(t)
	r, err := NewRunner(Config{NodeBinary: "node", Timeout: 200 * time.Millisecond, MaxOutputBytes: 1024})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	result, err := r.Run(context.Background(), ExecRequest{
		Code: `await new Promise((resolve) => setTimeout(resolve, 5000)); return null;`,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Killed || result.KillReason != "timeout" {
		t.Errorf("expected a timeout kill, got killed=%v reason=%q", result.Killed, result.KillReason)
	}
}

func TestRunnerCredentialsReachScript(t *testing.T) {
	requireNode(t)
	r, err := NewRunner(DefaultConfig())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	result, err := r.Run(context.Background(), ExecRequest{
		Code:        `return credentials["api-key"];`,
		Credentials: map[string]string{"api-key": "super-secret"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ReturnValue != "super-secret" {
		t.Errorf("expected credential value to reach script, got %v", result.ReturnValue)
	}
}
