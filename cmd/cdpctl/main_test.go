package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/cdp-core/internal/auth"
	"github.com/nerrad567/cdp-core/internal/control"
	"github.com/nerrad567/cdp-core/internal/device"
	"github.com/nerrad567/cdp-core/internal/minor"
)

// fakeServer records requests and replies from a route table.
type fakeServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

type recordedRequest struct {
	Method  string
	Path    string
	Query   string
	Header  http.Header
	Body    []byte
	Command string
}

type fakeResponse struct {
	status int
	body   any
}

func newFakeServer(t *testing.T, routes map[string]fakeResponse) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
		fs.mu.Lock()
		fs.requests = append(fs.requests, recordedRequest{
			Method:  r.Method,
			Path:    r.URL.Path,
			Query:   r.URL.RawQuery,
			Header:  r.Header.Clone(),
			Body:    body,
			Command: r.Header.Get(headerCommand),
		})
		fs.mu.Unlock()

		resp, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			resp = fakeResponse{status: http.StatusNotFound, body: map[string]any{
				"status": 404, "code": "not_found", "message": "no route",
			}}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.status)
		json.NewEncoder(w).Encode(resp.body) //nolint:errcheck // test server
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) last(t *testing.T) recordedRequest {
	t.Helper()
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.requests) == 0 {
		t.Fatal("no request reached the server")
	}
	return fs.requests[len(fs.requests)-1]
}

func (fs *fakeServer) count() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.requests)
}

// runCLI executes the root command with args and returns its output.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CDP_TOKEN", "")
	t.Setenv("CDP_SERVER", "")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func sampleDevice() device.Info {
	return device.Info{
		Name:       "vol0",
		Minor:      minor.Minor(2),
		Generation: 7,
		State:      device.StateActive,
		OpenCount:  1,
		Host:       device.DevNum{Major: 8, Minor: 16},
		Repository: device.DevNum{Major: 8, Minor: 32},
		Metadata:   device.DevNum{Major: 8, Minor: 48},
	}
}

func TestLogin_WritesTokenFile(t *testing.T) {
	fs := newFakeServer(t, map[string]fakeResponse{
		"POST /api/v1/auth/token": {status: http.StatusOK, body: auth.Token{
			AccessToken: "tok-123", TokenType: "Bearer", ExpiresIn: 3600, Role: auth.RoleAdmin,
		}},
	})
	tokenFile := filepath.Join(t.TempDir(), "nested", "token")

	out, err := runCLI(t, "secret-key\n", "login", "--subject", "alice", "-s", fs.URL, "--token-file", tokenFile)
	if err != nil {
		t.Fatalf("login error = %v", err)
	}
	if !strings.Contains(out, "Logged in as alice (admin)") {
		t.Errorf("output = %q", out)
	}

	var body map[string]string
	if err := json.Unmarshal(fs.last(t).Body, &body); err != nil {
		t.Fatalf("decoding login body: %v", err)
	}
	if body["subject"] != "alice" || body["key"] != "secret-key" {
		t.Errorf("login body = %v", body)
	}

	data, err := os.ReadFile(tokenFile)
	if err != nil {
		t.Fatalf("reading token file: %v", err)
	}
	if strings.TrimSpace(string(data)) != "tok-123" {
		t.Errorf("token file = %q, want tok-123", data)
	}
	info, err := os.Stat(tokenFile)
	if err != nil {
		t.Fatalf("stat token file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != tokenFilePermissions {
		t.Errorf("token file mode = %o, want %o", perm, tokenFilePermissions)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	fs := newFakeServer(t, map[string]fakeResponse{
		"POST /api/v1/auth/token": {status: http.StatusUnauthorized, body: map[string]any{
			"status": 401, "code": "unauthorised", "message": "invalid credentials",
		}},
	})

	_, err := runCLI(t, "wrong\n", "login", "-s", fs.URL, "--token-file", filepath.Join(t.TempDir(), "token"))
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("login error = %v, want *apiError", err)
	}
	if apiErr.Status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", apiErr.Status)
	}
}

func TestLogin_EmptyKey(t *testing.T) {
	fs := newFakeServer(t, nil)

	if _, err := runCLI(t, "\n", "login", "-s", fs.URL, "--token-file", filepath.Join(t.TempDir(), "token")); err == nil {
		t.Fatal("login with empty key should fail")
	}
	if fs.count() != 0 {
		t.Error("empty key should not reach the server")
	}
}

func TestHashKey(t *testing.T) {
	out, err := runCLI(t, "my-access-key\n", "hash-key")
	if err != nil {
		t.Fatalf("hash-key error = %v", err)
	}
	ok, err := auth.VerifyKey("my-access-key", strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("VerifyKey() error = %v", err)
	}
	if !ok {
		t.Error("printed hash does not verify against the key")
	}
}

func TestCreate(t *testing.T) {
	fs := newFakeServer(t, map[string]fakeResponse{
		"POST /api/v1/devices": {status: http.StatusCreated, body: sampleDevice()},
	})

	out, err := runCLI(t, "", "create", "vol0", "-s", fs.URL, "--token", "tok",
		"--host", "8:16", "--repository", "8:32", "--metadata", "8:48")
	if err != nil {
		t.Fatalf("create error = %v", err)
	}
	if !strings.Contains(out, "Created vol0 (minor 2)") {
		t.Errorf("output = %q", out)
	}

	req := fs.last(t)
	if got := req.Header.Get("Authorization"); got != "Bearer tok" {
		t.Errorf("Authorization = %q", got)
	}
	var body map[string]string
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("decoding create body: %v", err)
	}
	want := map[string]string{"name": "vol0", "host": "8:16", "repository": "8:32", "metadata": "8:48"}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("body[%s] = %q, want %q", k, body[k], v)
		}
	}
}

func TestCreate_InvalidDevNum(t *testing.T) {
	fs := newFakeServer(t, nil)

	_, err := runCLI(t, "", "create", "vol0", "-s", fs.URL, "--token", "tok",
		"--host", "8-16", "--repository", "8:32", "--metadata", "8:48")
	if err == nil || !strings.Contains(err.Error(), "--host") {
		t.Fatalf("create error = %v, want --host error", err)
	}
	if fs.count() != 0 {
		t.Error("invalid device number should not reach the server")
	}
}

func TestRemove_Busy(t *testing.T) {
	fs := newFakeServer(t, map[string]fakeResponse{
		"DELETE /api/v1/devices/vol0": {status: http.StatusConflict, body: map[string]any{
			"status": 409, "code": "conflict", "message": "device busy", "errno": "EBUSY",
		}},
	})

	_, err := runCLI(t, "", "rm", "vol0", "-s", fs.URL, "--token", "tok")
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("remove error = %v, want *apiError", err)
	}
	if apiErr.Errno != "EBUSY" {
		t.Errorf("errno = %q, want EBUSY", apiErr.Errno)
	}
	if !strings.Contains(err.Error(), "(EBUSY)") {
		t.Errorf("error text = %q", err.Error())
	}
}

func TestStatus(t *testing.T) {
	fs := newFakeServer(t, map[string]fakeResponse{
		"GET /api/v1/devices/vol0": {status: http.StatusOK, body: sampleDevice()},
		"POST /api/v1/control": {status: http.StatusOK, body: control.Result{
			Command: "DEV_STATUS", Device: func() *device.Info { d := sampleDevice(); return &d }(),
		}},
	})

	t.Run("by name", func(t *testing.T) {
		out, err := runCLI(t, "", "status", "vol0", "-s", fs.URL, "--token", "tok")
		if err != nil {
			t.Fatalf("status error = %v", err)
		}
		for _, want := range []string{"Name:        vol0", "State:       active", "Host:        8:16"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("sole device", func(t *testing.T) {
		out, err := runCLI(t, "", "status", "-s", fs.URL, "--token", "tok")
		if err != nil {
			t.Fatalf("status error = %v", err)
		}
		req := fs.last(t)
		if req.Command != "DEV_STATUS" {
			t.Errorf("command header = %q, want DEV_STATUS", req.Command)
		}
		if len(req.Body) != control.ParamSize {
			t.Errorf("body length = %d, want %d", len(req.Body), control.ParamSize)
		}
		if !strings.Contains(out, "Name:        vol0") {
			t.Errorf("output = %q", out)
		}
	})
}

func TestList(t *testing.T) {
	fs := newFakeServer(t, map[string]fakeResponse{
		"GET /api/v1/devices": {status: http.StatusOK, body: map[string]any{
			"devices": []device.Info{sampleDevice()},
			"count":   1,
		}},
	})

	out, err := runCLI(t, "", "list", "-s", fs.URL, "--token", "tok")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("list printed %d lines, want 2:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "NAME") {
		t.Errorf("header = %q", lines[0])
	}
	for _, want := range []string{"vol0", "active", "8:16", "8:48"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("row missing %q: %q", want, lines[1])
		}
	}

	out, err = runCLI(t, "", "list", "--json", "-s", fs.URL, "--token", "tok")
	if err != nil {
		t.Fatalf("list --json error = %v", err)
	}
	var devices []device.Info
	if err := json.Unmarshal([]byte(out), &devices); err != nil {
		t.Fatalf("decoding --json output: %v", err)
	}
	if len(devices) != 1 || devices[0].State != device.StateActive {
		t.Errorf("devices = %+v", devices)
	}
}

func TestOpenClose(t *testing.T) {
	opened := sampleDevice()
	closed := sampleDevice()
	closed.OpenCount = 0
	fs := newFakeServer(t, map[string]fakeResponse{
		"POST /api/v1/devices/vol0/open":  {status: http.StatusOK, body: opened},
		"POST /api/v1/devices/vol0/close": {status: http.StatusOK, body: closed},
	})

	out, err := runCLI(t, "", "open", "vol0", "-s", fs.URL, "--token", "tok")
	if err != nil {
		t.Fatalf("open error = %v", err)
	}
	if !strings.Contains(out, "Opened vol0 (open count 1)") {
		t.Errorf("open output = %q", out)
	}

	out, err = runCLI(t, "", "close", "vol0", "-s", fs.URL, "--token", "tok")
	if err != nil {
		t.Fatalf("close error = %v", err)
	}
	if !strings.Contains(out, "Closed vol0 (open count 0)") {
		t.Errorf("close output = %q", out)
	}

	out, err = runCLI(t, "", "close", "vol0", "-q", "-s", fs.URL, "--token", "tok")
	if err != nil {
		t.Fatalf("close -q error = %v", err)
	}
	if out != "" {
		t.Errorf("quiet output = %q, want empty", out)
	}
}

func TestAudit_Query(t *testing.T) {
	fs := newFakeServer(t, map[string]fakeResponse{
		"GET /api/v1/audit": {status: http.StatusOK, body: map[string]any{
			"logs": []map[string]any{{
				"id": "a1", "command": "DEV_REMOVE", "caller_id": "alice", "target": "vol0",
				"errno": 16, "error": "device busy", "created_at": time.Now().UTC(),
			}},
			"total": 1, "limit": 5, "offset": 0,
		}},
	})

	out, err := runCLI(t, "", "audit", "--failed", "--limit", "5", "--command", "DEV_REMOVE",
		"-s", fs.URL, "--token", "tok")
	if err != nil {
		t.Fatalf("audit error = %v", err)
	}
	query := fs.last(t).Query
	for _, want := range []string{"failed=true", "limit=5", "command=DEV_REMOVE"} {
		if !strings.Contains(query, want) {
			t.Errorf("query %q missing %q", query, want)
		}
	}
	if !strings.Contains(out, "device busy") || !strings.Contains(out, "Showing 1 of 1") {
		t.Errorf("output = %q", out)
	}
}

func TestNotLoggedIn(t *testing.T) {
	fs := newFakeServer(t, map[string]fakeResponse{
		"GET /api/v1/devices": {status: http.StatusUnauthorized, body: map[string]any{
			"status": 401, "code": "unauthorised", "message": "missing token",
		}},
	})

	_, err := runCLI(t, "", "list", "-s", fs.URL, "--token-file", filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, errNotLoggedIn) {
		t.Fatalf("list error = %v, want errNotLoggedIn", err)
	}
}

func TestVersion(t *testing.T) {
	fs := newFakeServer(t, map[string]fakeResponse{
		"GET /api/v1/health": {status: http.StatusOK, body: map[string]any{"status": "ok", "version": "1.2.3"}},
		"POST /api/v1/control": {status: http.StatusOK, body: control.Result{
			Command: "VERSION", Version: "4.0.0",
		}},
	})

	out, err := runCLI(t, "", "version", "-s", fs.URL, "--token", "tok")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	for _, want := range []string{"Client:  dev", "Server:  1.2.3", "Control: 4.0.0"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if cmd := fs.last(t).Command; cmd != "VERSION" {
		t.Errorf("command header = %q, want VERSION", cmd)
	}

	out, err = runCLI(t, "", "version", "--client", "-s", fs.URL)
	if err != nil {
		t.Fatalf("version --client error = %v", err)
	}
	if strings.Contains(out, "Server:") {
		t.Errorf("--client output = %q", out)
	}
}
