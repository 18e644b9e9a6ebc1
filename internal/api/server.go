package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/idbridge/idbridge/internal/assertion"
	"github.com/idbridge/idbridge/internal/config"
	"github.com/idbridge/idbridge/internal/directory"
	"github.com/idbridge/idbridge/internal/reconcile"
)

// Server represents the API server
type Server struct {
	config     *config.Config
	router     *mux.Router
	httpServer *http.Server
	sources    *assertion.Manager
	reconciler *reconcile.Reconciler
	authSvc    *AuthService
	log        logrus.FieldLogger
}

// NewServer creates a new API server instance
func NewServer(cfg *config.Config, log logrus.FieldLogger) (*Server, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	dir, err := directory.FromConfig(cfg.Directory)
	if err != nil {
		return nil, fmt.Errorf("failed to create directory backend: %w", err)
	}

	reconciler, err := reconcile.NewReconciler(dir, cfg.Policy, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconciler: %w", err)
	}

	sources, err := assertion.NewManager(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create assertion sources: %w", err)
	}

	s := &Server{
		config:     cfg,
		router:     mux.NewRouter(),
		sources:    sources,
		reconciler: reconciler,
		authSvc:    NewAuthService(cfg),
		log:        log,
	}

	s.setupRoutes()
	return s, nil
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(s.corsMiddleware)

	// Public routes
	s.router.HandleFunc("/api/login", s.handleLogin).Methods("POST", "OPTIONS")
	s.router.HandleFunc("/api/logout", s.handleLogout).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/api/health", s.handleHealth).Methods("GET", "OPTIONS")

	// SAML authentication routes (public)
	s.router.HandleFunc("/api/auth/saml/login", s.handleSAMLLogin).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/api/auth/saml/acs", s.handleSAMLACS).Methods("POST", "OPTIONS")
	s.router.HandleFunc("/api/auth/saml/metadata", s.handleSAMLMetadata).Methods("GET", "OPTIONS")

	// OIDC authentication routes (public)
	s.router.HandleFunc("/api/auth/oidc/login", s.handleOIDCLogin).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/api/auth/oidc/callback", s.handleOIDCCallback).Methods("GET", "OPTIONS")

	// Protected routes (require authentication)
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/whoami", s.handleWhoami).Methods("GET", "OPTIONS")
	api.HandleFunc("/reconcile", s.handleReconcile).Methods("POST", "OPTIONS")
	api.HandleFunc("/audit/stream", s.handleAuditStream).Methods("GET")
}

// corsMiddleware adds CORS headers to all responses (allow all origins)
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Accept, Origin")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Router returns the HTTP handler, for tests and embedding
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
