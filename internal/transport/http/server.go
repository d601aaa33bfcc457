package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/joshdurbin/product-cache/internal/auth"
	"github.com/joshdurbin/product-cache/internal/domain"
	"github.com/joshdurbin/product-cache/internal/service"
)

// Options configures the HTTP server
type Options struct {
	Port           string
	RequestTimeout time.Duration
	Verbose        bool

	// Defaults apply to search options a request leaves unset
	Defaults domain.Options
}

// Server represents the HTTP server
type Server struct {
	handler *Handler
	router  http.Handler
	server  *http.Server
	port    string
	logger  *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(search service.ProductSearch, authenticator *auth.Authenticator, opts Options, logger *zap.Logger) *Server {
	handler := NewHandler(search, authenticator, opts.RequestTimeout, logger)
	handler.defaults = opts.Defaults

	r := mux.NewRouter()
	r.Use(MetricsMiddleware)

	r.HandleFunc("/api/products", handler.SearchProducts).Methods(http.MethodGet)

	// Cache management, admin only
	r.HandleFunc("/api/cache/stats", handler.RequireAdmin(handler.CacheStats)).Methods(http.MethodGet)
	r.HandleFunc("/api/cache/products", handler.RequireAdmin(handler.LookupProducts)).Methods(http.MethodGet)
	r.HandleFunc("/api/cache", handler.RequireAdmin(handler.ClearCache)).Methods(http.MethodDelete)

	r.HandleFunc("/health", handler.Health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	finalHandler := NewLoggingMiddleware(logger, opts.Verbose).Middleware(r)

	// the write deadline has to outlive the slowest search
	writeTimeout := 10 * time.Second
	if opts.RequestTimeout > 0 {
		writeTimeout = opts.RequestTimeout + 5*time.Second
	}

	server := &http.Server{
		Addr:         ":" + opts.Port,
		Handler:      finalHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		handler: handler,
		router:  finalHandler,
		server:  server,
		port:    opts.Port,
		logger:  logger.Named("http.server"),
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("server starting", zap.String("port", s.port))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	return s.server.Shutdown(ctx)
}

// Port returns the server port
func (s *Server) Port() string {
	return s.port
}

// Handler returns the server handler (useful for testing)
func (s *Server) Handler() *Handler {
	return s.handler
}

// Router returns the fully wrapped router
func (s *Server) Router() http.Handler {
	return s.router
}
