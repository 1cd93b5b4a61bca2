package server

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivegate/internal/config"
	"drivegate/internal/filesystem"
	"drivegate/internal/filesystem/fstest"
	"drivegate/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Host:         "127.0.0.1",
		Port:         8080,
		Backend:      config.BackendS3,
		DataDir:      t.TempDir(),
		LinkTTL:      time.Minute,
		PathCacheTTL: time.Minute,
	}
}

func testBackend() *fstest.MemBackend {
	backend := fstest.NewMemBackend()
	backend.AddFile("/albums/live/set.flac", 4096, "AA11")
	backend.AddFile("/readme.md", 12, "BB22")
	return backend
}

func TestNew(t *testing.T) {
	cfg := testConfig(t)
	cfg.UsePathCache = true

	server, err := New(context.Background(), cfg, testBackend())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	defer server.Stop()

	if server.config != cfg {
		t.Error("Server config not set correctly")
	}
	if server.fs == nil {
		t.Error("Remote filesystem not initialized")
	}
	if server.store == nil {
		t.Error("Store not initialized")
	}
	if server.paths == nil {
		t.Error("Path cache not initialized")
	}
	if server.gateway == nil {
		t.Error("Gateway handler not initialized")
	}

	if server.httpServer.Addr != "127.0.0.1:8080" {
		t.Errorf("Expected server address 127.0.0.1:8080, got %s", server.httpServer.Addr)
	}
}

func TestNew_InvalidDataDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.DataDir = "/invalid/path/that/does/not/exist/and/cannot/be/created/due/to/permissions"

	server, err := New(context.Background(), cfg, testBackend())
	if err == nil {
		server.Stop()
		t.Error("Expected error when creating server with invalid data directory")
	}
}

type unreachableBackend struct {
	*fstest.MemBackend
}

func (unreachableBackend) Stat(ctx context.Context, p string) (*types.Entity, error) {
	return nil, errors.New("connection refused")
}

func TestNew_LoginFailure(t *testing.T) {
	_, err := New(context.Background(), testConfig(t), unreachableBackend{testBackend()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestServer_HealthEndpoint(t *testing.T) {
	server, err := New(context.Background(), testConfig(t), testBackend())
	require.NoError(t, err)
	defer server.Stop()

	// index a few entities first
	req := httptest.NewRequest("GET", "/albums/live?method=list", nil)
	w := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("GET", healthPath, nil)
	w = httptest.NewRecorder()
	server.handleHealth(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response healthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "healthy", response.Status)
	assert.Equal(t, "memory", response.Backend)
	assert.Equal(t, 2, response.Indexed)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	server, err := New(context.Background(), testConfig(t), testBackend())
	require.NoError(t, err)
	defer server.Stop()

	w := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/readme.md?method=attr", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(w, httptest.NewRequest("GET", metricsPath, nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, `drivegate_requests_total{method="attr",status="200"}`)
	assert.Contains(t, body, "drivegate_backend_duration_seconds")
}

func TestServer_HealthReportsPathCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.UsePathCache = true
	cfg.PathCacheSize = 100

	server, err := New(context.Background(), cfg, testBackend())
	require.NoError(t, err)
	defer server.Stop()

	w := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/readme.md?method=attr", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(w, httptest.NewRequest("GET", healthPath, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var response healthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, 1, response.Cached)
}

func TestServer_RootEntriesNamedLikeServiceEndpoints(t *testing.T) {
	backend := testBackend()
	backend.AddFile("/metrics", 7, "CC33")
	backend.AddFile("/health/status.json", 2, "DD44")

	server, err := New(context.Background(), testConfig(t), backend)
	require.NoError(t, err)
	defer server.Stop()

	w := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/metrics?method=attr", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var attrs map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&attrs))
	assert.Equal(t, "metrics", attrs["name"])
	assert.Equal(t, "/metrics", attrs["path"])

	w = httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusFound, w.Code)

	w = httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/health?method=list", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var children []map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&children))
	require.Len(t, children, 1)
	assert.Equal(t, "status.json", children[0]["name"])
}

func TestServer_BasicAuthMiddleware(t *testing.T) {
	cfg := testConfig(t)
	cfg.AuthEnabled = true
	cfg.AuthUser = "testuser"
	cfg.AuthPass = "testpass"

	server, err := New(context.Background(), cfg, testBackend())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	defer server.Stop()

	handlerCalled := false
	testHandler := func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	}

	authHandler := server.basicAuthMiddleware(testHandler)

	tests := []struct {
		name           string
		username       string
		password       string
		expectedStatus int
		expectHandler  bool
	}{
		{
			name:           "valid credentials",
			username:       "testuser",
			password:       "testpass",
			expectedStatus: http.StatusOK,
			expectHandler:  true,
		},
		{
			name:           "invalid username",
			username:       "wronguser",
			password:       "testpass",
			expectedStatus: http.StatusUnauthorized,
			expectHandler:  false,
		},
		{
			name:           "invalid password",
			username:       "testuser",
			password:       "wrongpass",
			expectedStatus: http.StatusUnauthorized,
			expectHandler:  false,
		},
		{
			name:           "empty credentials",
			username:       "",
			password:       "",
			expectedStatus: http.StatusUnauthorized,
			expectHandler:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handlerCalled = false
			req := httptest.NewRequest("GET", "/", nil)
			if tt.username != "" || tt.password != "" {
				req.SetBasicAuth(tt.username, tt.password)
			}
			w := httptest.NewRecorder()

			authHandler(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status code %d, got %d", tt.expectedStatus, w.Code)
			}
			if handlerCalled != tt.expectHandler {
				t.Errorf("Expected handler called: %v, got: %v", tt.expectHandler, handlerCalled)
			}
			if tt.expectedStatus == http.StatusUnauthorized {
				authHeader := w.Header().Get("WWW-Authenticate")
				if !strings.Contains(authHeader, "Basic realm") {
					t.Errorf("Expected WWW-Authenticate header with Basic realm, got: %s", authHeader)
				}
			}
		})
	}
}

func TestServer_HtpasswdAuth(t *testing.T) {
	sum := sha1.Sum([]byte("s3cret"))
	file := filepath.Join(t.TempDir(), "htpasswd")
	entry := "viewer:{SHA}" + base64.StdEncoding.EncodeToString(sum[:]) + "\n"
	require.NoError(t, os.WriteFile(file, []byte(entry), 0o600))

	cfg := testConfig(t)
	cfg.AuthEnabled = true
	cfg.AuthFile = file

	server, err := New(context.Background(), cfg, testBackend())
	require.NoError(t, err)
	defer server.Stop()

	req := httptest.NewRequest("GET", "/readme.md?method=attr", nil)
	req.SetBasicAuth("viewer", "s3cret")
	w := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("GET", "/readme.md?method=attr", nil)
	req.SetBasicAuth("viewer", "wrong")
	w = httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestNew_MissingHtpasswdFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.AuthEnabled = true
	cfg.AuthFile = filepath.Join(t.TempDir(), "absent")

	_, err := New(context.Background(), cfg, testBackend())
	assert.Error(t, err)
}

func TestServer_RouteSetup(t *testing.T) {
	tests := []struct {
		name           string
		authEnabled    bool
		sendAuth       bool
		path           string
		expectedStatus int
	}{
		{"health without auth", false, false, healthPath, http.StatusOK},
		{"health is open when auth is enabled", true, false, healthPath, http.StatusOK},
		{"metrics is open when auth is enabled", true, false, metricsPath, http.StatusOK},
		{"gateway without auth", false, false, "/readme.md?method=attr", http.StatusOK},
		{"gateway requires credentials", true, false, "/readme.md?method=attr", http.StatusUnauthorized},
		{"gateway with credentials", true, true, "/readme.md?method=attr", http.StatusOK},
		{"directory index", false, false, "/", http.StatusOK},
		{"file redirect", false, false, "/readme.md", http.StatusFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.AuthEnabled = tt.authEnabled
			cfg.AuthUser = "testuser"
			cfg.AuthPass = "testpass"

			server, err := New(context.Background(), cfg, testBackend())
			require.NoError(t, err)
			defer server.Stop()

			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.sendAuth {
				req.SetBasicAuth("testuser", "testpass")
			}
			w := httptest.NewRecorder()

			server.httpServer.Handler.ServeHTTP(w, req)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestServer_LoggingMiddleware(t *testing.T) {
	server, err := New(context.Background(), testConfig(t), testBackend())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	defer server.Stop()

	handlerCalled := false
	testHandler := func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusCreated)
	}

	loggedHandler := server.loggingMiddleware(testHandler)

	req := httptest.NewRequest("GET", "/test?method=desc", nil)
	req.Header.Set("User-Agent", "test-agent")
	w := httptest.NewRecorder()

	loggedHandler(w, req)

	if !handlerCalled {
		t.Error("Expected underlying handler to be called")
	}
	if w.Code != http.StatusCreated {
		t.Errorf("Expected status code %d, got %d", http.StatusCreated, w.Code)
	}
}

func TestResponseWriter(t *testing.T) {
	w := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

	if rw.statusCode != http.StatusOK {
		t.Errorf("Expected default status code %d, got %d", http.StatusOK, rw.statusCode)
	}

	rw.WriteHeader(http.StatusCreated)
	if rw.statusCode != http.StatusCreated {
		t.Errorf("Expected status code %d, got %d", http.StatusCreated, rw.statusCode)
	}
	if w.Code != http.StatusCreated {
		t.Errorf("Expected underlying ResponseWriter status %d, got %d", http.StatusCreated, w.Code)
	}
}

func TestServer_Run(t *testing.T) {
	cfg := testConfig(t)
	cfg.Port = 0

	server, err := New(context.Background(), cfg, testBackend())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	// Stop after shutdown is a no-op
	assert.NoError(t, server.Stop())
}

func TestServer_RunListenFailure(t *testing.T) {
	occupied := httptest.NewServer(http.NotFoundHandler())
	defer occupied.Close()

	cfg := testConfig(t)
	server, err := New(context.Background(), cfg, testBackend())
	require.NoError(t, err)
	server.httpServer.Addr = strings.TrimPrefix(occupied.URL, "http://")

	err = server.Run(context.Background())
	assert.Error(t, err)
}

func TestServer_Stop(t *testing.T) {
	server, err := New(context.Background(), testConfig(t), testBackend())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	resp := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(resp, httptest.NewRequest("GET", healthPath, nil))
	io.Copy(io.Discard, resp.Body)

	if err := server.Stop(); err != nil {
		t.Errorf("Failed to stop server: %v", err)
	}
}

func TestOpenBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend = config.BackendWebDAV
	cfg.WebDAV.URL = "https://dav.example.com/files"

	backend, err := OpenBackend(context.Background(), cfg, "alice:secret")
	require.NoError(t, err)
	assert.Equal(t, "webdav", backend.Type())

	cfg.Backend = config.BackendS3
	cfg.S3.Bucket = "media"
	cfg.S3.Region = "us-east-1"
	cfg.S3.Endpoint = "http://127.0.0.1:9000"
	backend, err = OpenBackend(context.Background(), cfg, "AKID:secret")
	require.NoError(t, err)
	assert.Equal(t, "s3", backend.Type())

	_, err = OpenBackend(context.Background(), cfg, "malformed")
	assert.Error(t, err)

	cfg.Backend = "ftp"
	_, err = OpenBackend(context.Background(), cfg, "")
	assert.Error(t, err)
}

var _ filesystem.Backend = unreachableBackend{}
