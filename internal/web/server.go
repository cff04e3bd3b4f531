package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kolect-core/internal/audit"
	"github.com/kolect-core/internal/classify"
	"github.com/kolect-core/internal/debug"
	"github.com/kolect-core/internal/intake"
	"github.com/kolect-core/internal/match"
	"github.com/kolect-core/internal/verify"
	"github.com/kolect-core/internal/web/handlers"
	"github.com/kolect-core/internal/web/middleware"
)

// Services are the domain components the HTTP layer exposes
type Services struct {
	Verify     *verify.Service
	Intake     *intake.Service
	Engine     *match.Engine
	Classifier *classify.Classifier
	Tracker    *audit.Tracker
}

// Server represents the web server
type Server struct {
	config     *Config
	services   Services
	httpServer *http.Server
	router     *mux.Router
	handler    http.Handler
	logger     *logrus.Logger
}

// NewServer creates a new web server instance
func NewServer(config *Config, services Services) *Server {
	server := &Server{
		config:   config,
		services: services,
		logger:   debug.GetLogger(),
	}

	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port),
		Handler:      server.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server
}

// Handler exposes the wrapped router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	// Convert config for handlers (to avoid import cycle)
	handlerConfig := &handlers.Config{
		Initiatives: s.config.Initiatives,
		Debug:       s.config.Debug,
	}
	handlerConfig.Features.BulkEnabled = s.config.Features.BulkEnabled
	handlerConfig.Features.MatchingEnabled = s.config.Features.MatchingEnabled

	scansHandler := &handlers.ScanHandler{Intake: s.services.Intake, Classifier: s.services.Classifier, Config: handlerConfig}
	verifyHandler := &handlers.VerificationHandler{Service: s.services.Verify, Tracker: s.services.Tracker, Config: handlerConfig}
	matchingHandler := &handlers.MatchingHandler{Engine: s.services.Engine, Tracker: s.services.Tracker, Config: handlerConfig}

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// Scan intake
	api.HandleFunc("/scans/classify", scansHandler.Classify).Methods("POST")
	api.HandleFunc("/scans", scansHandler.Submit).Methods("POST")
	api.HandleFunc("/scans/{id}/history", verifyHandler.History).Methods("GET")

	// Review queue
	api.HandleFunc("/verifications/pending", verifyHandler.Pending).Methods("GET")
	api.HandleFunc("/verifications/stats", verifyHandler.Stats).Methods("GET")

	// Decisions need a reviewer identity
	decisions := api.PathPrefix("/verifications").Subrouter()
	decisions.Use(middleware.RequireReviewer(s.config.Auth.RequireReviewer))
	decisions.HandleFunc("/bulk", verifyHandler.Bulk).Methods("POST")
	decisions.HandleFunc("/{id}/approve", verifyHandler.Approve).Methods("POST")
	decisions.HandleFunc("/{id}/reject", verifyHandler.Reject).Methods("POST")

	// Matching (if enabled)
	if s.config.Features.MatchingEnabled {
		matching := api.PathPrefix("/matching").Subrouter()
		matching.Use(middleware.RequireReviewer(false))
		matching.HandleFunc("/candidates", matchingHandler.Candidates).Methods("POST")
		matching.HandleFunc("/match", matchingHandler.Match).Methods("POST")
		matching.HandleFunc("/batch", matchingHandler.Batch).Methods("POST")
	}

	// Wrap the whole router so preflight requests reach CORS before route matching
	s.handler = middleware.RequestLogging(s.logger)(middleware.CORS(s.config.Server.AllowedOrigins...)(s.router))
}

// Start serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.httpServer.Addr).Info("starting server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}
