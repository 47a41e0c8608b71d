package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ncolesummers/multi-research/pkg/config"
	"github.com/ncolesummers/multi-research/pkg/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RouterConfig selects the optional parts of the router
type RouterConfig struct {
	ServiceName   string
	EnableTracing bool
	EnableMetrics bool
	AllowOrigins  []string

	// EventHeartbeat is the ping interval of event streams; zero uses the default
	EventHeartbeat time.Duration
}

// Services are the collaborators behind the routes
type Services struct {
	Research  ResearchService
	Catalog   ModelCatalog
	Providers ProviderLister
	Events    EventSource
	// Queue is optional; when set /health includes queue state
	Queue QueueReporter
}

// NewRouter builds the gin engine with middleware and routes
func NewRouter(cfg RouterConfig, services Services) *gin.Engine {
	router := gin.New()
	logger := observability.NewStructuredLogger("http")

	// OTel first so recovery and request logs carry the trace
	if cfg.EnableTracing {
		router.Use(otelgin.Middleware(cfg.ServiceName))
	}
	router.Use(Recovery(logger))
	router.Use(RequestLogger(logger))
	if len(cfg.AllowOrigins) > 0 {
		router.Use(CORS(cfg.AllowOrigins))
	}

	SetupRoutes(router, services, cfg)
	return router
}

// SetupRoutes registers every route on router
func SetupRoutes(router *gin.Engine, services Services, cfg RouterConfig) {
	models := NewModelsHandler(services.Catalog, services.Providers, services.Queue)
	router.GET("/health", models.Health)

	if cfg.EnableMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api")
	{
		api.GET("/models", models.List)

		research := NewResearchHandler(services.Research)
		events := NewEventsHandler(services.Research, services.Events, cfg.EventHeartbeat)

		rg := api.Group("/research")
		rg.GET("", research.List)
		rg.POST("/start", research.Start)
		rg.GET("/:id", research.Get)
		rg.GET("/:id/reports", research.Reports)
		rg.POST("/:id/merge", research.Merge)
		rg.GET("/:id/master", research.Master)
		rg.POST("/:id/cancel", research.Cancel)
		rg.GET("/:id/events", events.Stream)
	}
}

// Server runs the HTTP API until its context is cancelled
type Server struct {
	server *http.Server
	logger *observability.StructuredLogger
}

// NewServer creates a server for the API configuration
func NewServer(cfg config.APIConfig, handler http.Handler) *Server {
	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil || readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}

	return &Server{
		server: &http.Server{
			Addr:              cfg.Address(),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       readTimeout,
			// No write timeout: event streams stay open for the whole session.
			IdleTimeout: 120 * time.Second,
		},
		logger: observability.NewStructuredLogger("http"),
	}
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.server.Addr
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "HTTP server starting", map[string]interface{}{"addr": s.server.Addr})
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info(ctx, "Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}
