package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"tgnms.poller/internal/core/domain"
	"tgnms.poller/internal/core/logger"
	"tgnms.poller/internal/core/services"
)

// CommandTrigger issues a command to the polling worker.
type CommandTrigger interface {
	Trigger(ctx context.Context, t domain.CommandType, topologies []domain.TopologyDescriptor) (*domain.Command, error)
}

// NetworkReader exposes the parent's view of each managed network.
type NetworkReader interface {
	Snapshot() []domain.NetworkState
	Get(name string) (domain.NetworkState, bool)
}

type Server struct {
	router    *chi.Mux
	trigger   CommandTrigger
	networks  NetworkReader
	healthSvc *services.HealthService
	hub       *Hub
}

func NewServer(trigger CommandTrigger, networks NetworkReader, healthSvc *services.HealthService, hub *Hub) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		trigger:   trigger,
		networks:  networks,
		healthSvc: healthSvc,
		hub:       hub,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(MetricsMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Metrics endpoint
	s.router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		MetricsHandler().ServeHTTP(w, r)
	})

	// Kubernetes probes
	s.router.Get("/health/live", s.handleLiveness)
	s.router.Get("/health/ready", s.handleReadiness)

	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/health/detailed", s.handleDetailedHealth)
	s.router.Get("/api/ws", s.handleWS)

	s.router.Route("/api/networks", func(r chi.Router) {
		r.Get("/", s.handleListNetworks)
		r.Get("/{name}", s.handleGetNetwork)
	})

	s.router.Post("/api/commands", s.handleCreateCommand)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg, details string) {
	writeJSON(w, code, map[string]string{"error": msg, "details": details})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := s.healthSvc.SimpleHealthCheck(r.Context())
	w.WriteHeader(code)
	w.Write([]byte(status))
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	status, code := s.healthSvc.SimpleHealthCheck(r.Context())
	w.WriteHeader(code)
	w.Write([]byte(status))
}

func (s *Server) handleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	report := s.healthSvc.CheckHealth(r.Context())

	statusCode := http.StatusOK
	if report.Status == services.HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, report)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ServeWs(s.hub, w, r)
}

func (s *Server) handleListNetworks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.networks.Snapshot())
}

func (s *Server) handleGetNetwork(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	st, ok := s.networks.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "Network not found", name)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// CreateCommandRequest triggers a poll or scan_poll. Without topologies the
// scheduler's current list is used.
type CreateCommandRequest struct {
	Type       domain.CommandType          `json:"type"`
	Topologies []domain.TopologyDescriptor `json:"topologies,omitempty"`
}

type CreateCommandResponse struct {
	ID              string             `json:"id"`
	Type            domain.CommandType `json:"type"`
	Topologies      int                `json:"topologies"`
	ExpectedResults int                `json:"expected_results"`
}

func (s *Server) handleCreateCommand(w http.ResponseWriter, r *http.Request) {
	var req CreateCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}

	for _, t := range req.Topologies {
		if err := t.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "Validation failed", err.Error())
			return
		}
	}

	cmd, err := s.trigger.Trigger(r.Context(), req.Type, req.Topologies)
	switch {
	case errors.Is(err, domain.ErrUnknownCommand):
		writeError(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	case errors.Is(err, services.ErrWorkerUnavailable):
		writeError(w, http.StatusServiceUnavailable, "Worker unavailable", err.Error())
		return
	case err != nil:
		logger.ErrorContext(r.Context(), "Failed to issue command", "type", req.Type, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to issue command", err.Error())
		return
	}

	if err := s.hub.Broadcast(r.Context(), Message{Type: "command", Payload: cmd}); err != nil {
		logger.Warn("Failed to broadcast command", "id", cmd.ID, "error", err)
	}

	writeJSON(w, http.StatusAccepted, CreateCommandResponse{
		ID:              cmd.ID,
		Type:            cmd.Type,
		Topologies:      len(cmd.Topologies),
		ExpectedResults: cmd.ExpectedResults(),
	})
}
