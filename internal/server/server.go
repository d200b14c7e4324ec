// Package server exposes the admin control API: session control, status,
// recent events and logs, and usage summaries.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fleamkt/watchdog/internal/auth"
	"github.com/fleamkt/watchdog/internal/events"
	"github.com/fleamkt/watchdog/internal/store"
	"github.com/fleamkt/watchdog/internal/supervisor"
)

type Server struct {
	sup        *supervisor.Supervisor
	allow      *store.AllowList
	queries    *store.QueryStore
	settings   *store.SettingsStore
	reqLog     *store.LogDB
	bus        *events.Bus
	logHandler *events.LogHandler
	authMw     *auth.Middleware
	httpServer *http.Server
	version    string
	startTime  time.Time
}

func New(
	listen, token string,
	sup *supervisor.Supervisor,
	allow *store.AllowList,
	queries *store.QueryStore,
	settings *store.SettingsStore,
	reqLog *store.LogDB,
	bus *events.Bus,
	lh *events.LogHandler,
	version string,
) *Server {
	srv := &Server{
		sup:        sup,
		allow:      allow,
		queries:    queries,
		settings:   settings,
		reqLog:     reqLog,
		bus:        bus,
		logHandler: lh,
		authMw:     auth.NewMiddleware(token),
		version:    version,
		startTime:  time.Now(),
	}

	mux := http.NewServeMux()
	srv.registerRoutes(mux)

	srv.httpServer = &http.Server{
		Addr:         listen,
		Handler:      requestLogger(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return srv
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	guard := s.authMw.Authenticate

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.Handle("GET /api/status", guard(http.HandlerFunc(s.handleStatus)))
	mux.Handle("GET /api/events", guard(http.HandlerFunc(s.handleEvents)))
	mux.Handle("GET /api/logs", guard(http.HandlerFunc(s.handleLogs)))
	mux.Handle("GET /api/usage", guard(http.HandlerFunc(s.handleUsage)))

	mux.Handle("GET /api/users/{id}", guard(http.HandlerFunc(s.handleUserStatus)))
	mux.Handle("POST /api/users/{id}/start", guard(http.HandlerFunc(s.handleUserStart)))
	mux.Handle("POST /api/users/{id}/stop", guard(http.HandlerFunc(s.handleUserStop)))
	mux.Handle("POST /api/users/{id}/pause", guard(http.HandlerFunc(s.handleUserPause)))
	mux.Handle("POST /api/users/{id}/resume", guard(http.HandlerFunc(s.handleUserResume)))
	mux.Handle("PUT /api/users/{id}/queries", guard(http.HandlerFunc(s.handleUserQueries)))
	mux.Handle("PUT /api/users/{id}/settings", guard(http.HandlerFunc(s.handleUserSettings)))

	mux.Handle("GET /api/allowlist", guard(http.HandlerFunc(s.handleAllowList)))
	mux.Handle("POST /api/allowlist/{id}", guard(http.HandlerFunc(s.handleAllowAdd)))
	mux.Handle("DELETE /api/allowlist/{id}", guard(http.HandlerFunc(s.handleAllowRemove)))
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		slog.Info("admin api listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin api failed", "error", err)
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("admin request",
			"method", r.Method, "path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds())
	})
}
