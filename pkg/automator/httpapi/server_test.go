package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/chaosslabs/personal-automator/pkg/automator/control"
	"github.com/chaosslabs/personal-automator/pkg/automator/executor"
	"github.com/chaosslabs/personal-automator/pkg/automator/sandbox"
	"github.com/chaosslabs/personal-automator/pkg/automator/scheduler"
	"github.com/chaosslabs/personal-automator/pkg/automator/store"
	"github.com/chaosslabs/personal-automator/pkg/automator/vault"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
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

	srv := New(svc, Config{}, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/templates", srv.handleTemplates)
	mux.HandleFunc("/api/templates/", srv.handleTemplateByID)
	mux.HandleFunc("/api/tasks", srv.handleTasks)
	mux.HandleFunc("/api/tasks/", srv.handleTaskByID)
	mux.HandleFunc("/api/credentials", srv.handleCredentials)
	mux.HandleFunc("/api/credentials/", srv.handleCredentialByID)

	ts := httptest.NewServer(srv.securityHeadersMiddleware(srv.authMiddleware(mux)))
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestTemplateCRUDOverHTTP(t *testing.T) {
	_, ts := newTestServer(t)

	body, _ := json.Marshal(store.Template{ID: "http-tmpl", Name: "HTTP Template", Code: `return 1;`})
	resp, err := http.Post(ts.URL+"/api/templates", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	getResp, err := http.Get(ts.URL + "/api/templates/http-tmpl")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", getResp.StatusCode)
	}
	var got store.Template
	if err := json.NewDecoder(getResp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "HTTP Template" {
		t.Errorf("expected name 'HTTP Template', got %q", got.Name)
	}

	delReq, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/templates/http-tmpl", nil)
	delResp, err := http.DefaultClient.Do(delReq)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	defer delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", delResp.StatusCode)
	}

	notFoundResp, err := http.Get(ts.URL + "/api/templates/http-tmpl")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer notFoundResp.Body.Close()
	if notFoundResp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", notFoundResp.StatusCode)
	}
}

func TestCredentialListingNeverExposesValueOverHTTP(t *testing.T) {
	_, ts := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"name": "HTTP_SECRET", "type": "secret", "value": "plaintext-value"})
	resp, err := http.Post(ts.URL+"/api/credentials", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	listResp, err := http.Get(ts.URL + "/api/credentials")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer listResp.Body.Close()

	var list []store.Credential
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || !list[0].HasValue {
		t.Fatalf("expected one credential with hasValue=true, got %+v", list)
	}
}
