package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server is the ambient HTTP surface: health, Prometheus scrape, token
// issuance and the live dashboard websocket. It never touches the
// follower protocol's own sockets, which ioloop.Server owns exclusively.
type Server struct {
	http   *http.Server
	hub    *Hub
	tokens *TokenManager
	logger *zap.Logger
}

// Options configures Server.
type Options struct {
	ListenAddr      string
	MetricsEndpoint string
	Enabled         bool // gates /admin/token and /admin/stream
	TokenSecret     string
	TokenTTL        time.Duration
}

// HealthStatus is the JSON body returned by /healthz.
type HealthStatus struct {
	Status           string `json:"status"`
	Error            string `json:"error,omitempty"`
	ClientsConnected int    `json:"clients_connected"`
	QueueDepth       int    `json:"queue_depth"`
}

// HealthFunc reports liveness for /healthz; returning an error marks the
// process unhealthy. The returned status always carries current client
// count and queue depth regardless of error.
type HealthFunc func() (HealthStatus, error)

func NewServer(opts Options, hub *Hub, health HealthFunc, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{
		hub:    hub,
		tokens: NewTokenManager(opts.TokenSecret, opts.TokenTTL),
		logger: logger,
	}

	mux.HandleFunc("/healthz", s.handleHealthz(health))
	mux.Handle(opts.MetricsEndpoint, promhttp.Handler())

	if opts.Enabled {
		mux.HandleFunc("/admin/token", s.handleToken)
		mux.HandleFunc("/admin/stream", s.handleStream)
	}

	s.http = &http.Server{
		Addr:    opts.ListenAddr,
		Handler: mux,
	}
	return s
}

// Run blocks serving HTTP until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealthz(health HealthFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if health == nil {
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(HealthStatus{Status: "ok"})
			return
		}
		status, err := health()
		if err != nil {
			status.Status = "unhealthy"
			status.Error = err.Error()
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(status)
			return
		}
		status.Status = "ok"
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(status)
	}
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	token, err := s.tokens.Generate()
	if err != nil {
		s.logger.Error("failed to issue token", zap.Error(err))
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	token, err := extractToken(r)
	if err != nil {
		http.Error(w, "unauthorized: "+err.Error(), http.StatusUnauthorized)
		return
	}
	if err := s.tokens.Verify(token); err != nil {
		http.Error(w, "unauthorized: "+err.Error(), http.StatusUnauthorized)
		return
	}
	if err := s.hub.ServeWS(w, r); err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
	}
}
