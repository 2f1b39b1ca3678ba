// Package httpapi serves the HTTP side of a run: Prometheus metrics, a
// health probe, the dashboard as JSON and a websocket activity stream.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chuan-gyld/ai-firm/coreengine/kernel"
)

// Logger is the logging surface used by the server.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DashboardSource supplies the run overview.
type DashboardSource interface {
	Dashboard() kernel.Dashboard
}

// Deps are the collaborators of a Server. Dashboard and Hub are optional;
// their routes answer 503 and 404 when absent.
type Deps struct {
	Dashboard DashboardSource
	Hub       *ActivityHub
	Logger    Logger
}

// Server routes the HTTP endpoints.
type Server struct {
	deps Deps
	mux  *http.ServeMux
}

// NewServer registers every route.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /api/dashboard", s.handleDashboard)
	if deps.Hub != nil {
		s.mux.HandleFunc("GET /ws/activity", deps.Hub.HandleWS)
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondOK(w, map[string]any{"status": "ok"})
}

func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Dashboard == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "no run attached")
		return
	}
	respondOK(w, s.deps.Dashboard.Dashboard())
}

func respondOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": data})
}

func respondError(w http.ResponseWriter, code int, errCode string, msg string) {
	writeJSON(w, code, map[string]any{"ok": false, "error": map[string]any{"code": errCode, "message": msg}})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

// =============================================================================
// Lifecycle
// =============================================================================

// Serve listens on address and serves until ctx is cancelled, then shuts
// down within shutdownTimeout. ready, if non-nil, receives the bound address.
func (s *Server) Serve(ctx context.Context, address string, shutdownTimeout time.Duration, ready chan<- string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(lis)
	}()
	s.deps.Logger.Info("http_server_started", "address", lis.Addr().String())
	if ready != nil {
		ready <- lis.Addr().String()
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.deps.Logger.Warn("http_shutdown_forced", "error", err.Error())
			_ = srv.Close()
		}
		s.deps.Logger.Info("http_server_stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	}
}
