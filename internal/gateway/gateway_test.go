// ABOUTME: Shared fixtures for gateway tests plus lifecycle and health coverage
// ABOUTME: Runs the full handler stack over an in-memory SQLite store

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/directory"
	"github.com/2389/parley/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Server.RequestTimeout = 5 * time.Second
	cfg.Database.Driver = config.DriverSQLite
	cfg.Database.Path = ":memory:"
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.CookieName = "authToken"
	cfg.Auth.TokenTTL = time.Hour
	cfg.Push.SendBuffer = 16
	cfg.Push.WriteTimeout = time.Second
	cfg.Push.PongTimeout = time.Minute
	cfg.Push.DedupeTTL = time.Minute
	return cfg
}

type testEnv struct {
	gw  *Gateway
	srv *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := testConfig()

	st, err := store.NewSQLiteStore(cfg.Database.Path, nil)
	require.NoError(t, err)

	gw, err := newGateway(cfg, st, nil, testLogger())
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
		srv.Close()
	})
	return &testEnv{gw: gw, srv: srv}
}

type testUser struct {
	ID    string
	Token string
}

func (e *testEnv) register(t *testing.T, username string) testUser {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body credentialResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.Token)
	return testUser{ID: body.User.ID, Token: body.Token}
}

// do sends a JSON request with an optional bearer token.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

// doJSON sends a request, checks the status, and decodes the body into out.
func (e *testEnv) doJSON(t *testing.T, method, path, token string, body any, wantStatus int, out any) {
	t.Helper()
	resp := e.do(t, method, path, token, body)
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode, "%s %s", method, path)
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	var body map[string]string
	env.doJSON(t, http.MethodGet, "/health", "", nil, http.StatusOK, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "uptime")
}

func TestReady(t *testing.T) {
	env := newTestEnv(t)

	var body map[string]any
	env.doJSON(t, http.MethodGet, "/health/ready", "", nil, http.StatusOK, &body)
	assert.Equal(t, "ready", body["status"])

	require.NoError(t, env.gw.store.Close())
	env.doJSON(t, http.MethodGet, "/health/ready", "", nil, http.StatusServiceUnavailable, nil)
}

func TestReady_ReportsProfileCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := directory.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)

	st, err := store.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	gw, err := newGateway(testConfig(), st, cache, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	ready := func() map[string]any {
		rec := httptest.NewRecorder()
		gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		return body
	}

	assert.Equal(t, "ok", ready()["cache"])

	mr.Close()
	assert.Equal(t, "unavailable", ready()["cache"])
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	env.gw.config.Server.AllowedOrigins = []string{"http://localhost:5173"}

	req, err := http.NewRequest(http.MethodOptions, env.srv.URL+"/api/chats", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	req.Header.Set("Origin", "http://evil.example")
	resp, err = env.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServe_StopsOnCancel(t *testing.T) {
	cfg := testConfig()
	st, err := store.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	gw, err := newGateway(cfg, st, nil, testLogger())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
