// ABOUTME: Gateway orchestrator that wires the store, pipeline, and both transports
// ABOUTME: Owns the HTTP server, the room registry lifecycle, and health endpoints

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/dedupe"
	"github.com/2389/parley/internal/directory"
	"github.com/2389/parley/internal/rooms"
	"github.com/2389/parley/internal/session"
	"github.com/2389/parley/internal/store"
)

// dedupeCacheSize bounds the number of remembered client message ids.
const dedupeCacheSize = 10000

// Gateway serves the request interface and the push interface over one HTTP server.
type Gateway struct {
	config       *config.Config
	store        store.Store
	cache        directory.Cache
	directory    *directory.Service
	registry     *rooms.Registry
	sessions     *session.Binder
	conversation *conversation.Service
	retries      *dedupe.Cache
	verifier     *auth.JWTVerifier
	upgrader     websocket.Upgrader
	httpServer   *http.Server
	logger       *slog.Logger
	startedAt    time.Time

	connsMu sync.Mutex
	conns   map[string]*pushConn
}

// initStore opens the store selected by database.driver.
func initStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		return store.NewPostgresStore(ctx, cfg.Database.URL, logger)
	default:
		return store.NewSQLiteStore(cfg.Database.Path, logger)
	}
}

// New creates a gateway from configuration, opening the store and the
// optional Redis profile cache.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := initStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	var cache directory.Cache
	if cfg.Redis.URL != "" {
		rc, err := directory.NewRedisCache(cfg.Redis.URL, cfg.Redis.CacheTTL)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("initializing profile cache: %w", err)
		}
		cache = rc
		logger.Info("profile cache enabled", "ttl", cfg.Redis.CacheTTL)
	}

	gw, err := newGateway(cfg, st, cache, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	return gw, nil
}

// newGateway wires components around an already opened store.
func newGateway(cfg *config.Config, st store.Store, cache directory.Cache, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	registry := rooms.NewRegistry(logger)
	dir := directory.NewService(st, cache, logger)
	retries := dedupe.New(cfg.Push.DedupeTTL, dedupeCacheSize)

	gw := &Gateway{
		config:       cfg,
		store:        st,
		cache:        cache,
		directory:    dir,
		registry:     registry,
		sessions:     session.NewBinder(verifier, registry, logger),
		conversation: conversation.New(st, dir, registry, logger, conversation.WithRetryDedupe(retries)),
		retries:      retries,
		verifier:     verifier,
		logger:       logger.With("component", "gateway"),
		startedAt:    time.Now(),
		conns:        make(map[string]*pushConn),
	}
	gw.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return gw.originAllowed(r.Header.Get("Origin")) },
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw, nil
}

// Handler returns the root HTTP handler with every route registered.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
	mux.HandleFunc("GET /ws", g.handlePush)

	g.registerAuthRoutes(mux)
	g.registerChatRoutes(mux)

	return g.withCORS(mux)
}

// Run listens on the configured address and serves until ctx is canceled.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}
	return g.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled or the server fails.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, closes live connections, tears down the
// room registry, and closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	// Hijacked websocket connections are not tracked by http.Server.
	g.connsMu.Lock()
	conns := make([]*pushConn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.connsMu.Unlock()
	for _, c := range conns {
		c.shutdown(websocket.CloseGoingAway, "server shutting down")
	}

	g.registry.Close()
	g.retries.Close()

	if closer, ok := g.cache.(io.Closer); ok {
		errs = appendCloseError(errs, "cache close", closer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(g.startedAt).Round(time.Second).String(),
	})
}

type pinger interface {
	Ping(ctx context.Context) error
}

// handleReady returns 200 OK if the store answers a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	roomCount, subscribers := g.registry.Stats()
	body := map[string]any{
		"status":      "ready",
		"connections": g.sessions.Count(),
		"rooms":       roomCount,
		"subscribers": subscribers,
	}

	// Lookups fall back to the store, so a cache outage degrades but does not fail readiness.
	if p, ok := g.cache.(pinger); ok {
		body["cache"] = "ok"
		if err := p.Ping(r.Context()); err != nil {
			g.logger.Warn("profile cache unreachable", "error", err)
			body["cache"] = "unavailable"
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// originAllowed reports whether a browser origin may call the API or open a
// push connection. An empty allow list permits every origin.
func (g *Gateway) originAllowed(origin string) bool {
	allowed := g.config.Server.AllowedOrigins
	if len(allowed) == 0 || origin == "" {
		return true
	}
	return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}

// withCORS answers preflight requests and sets credentialed CORS headers for allowed origins.
func (g *Gateway) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && g.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Auth-Token")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
