package server

import (
	"context"
	"errors"
	nethttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/termpilot/termpilot/internal/api/middleware"
	"github.com/termpilot/termpilot/internal/config"
	"github.com/termpilot/termpilot/internal/engine/session"
	"github.com/termpilot/termpilot/internal/http"
	"github.com/termpilot/termpilot/internal/infrastructure/monitoring"
	"github.com/termpilot/termpilot/internal/logging"
	"github.com/termpilot/termpilot/internal/planner"
	"github.com/termpilot/termpilot/internal/ws"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	router  *gin.Engine
	manager *session.Manager
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
	httpSrv *nethttp.Server
}

// New creates a server instance from configuration.
func New(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("initializing server",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
		zap.String("shell", cfg.Engine.Shell),
		zap.Int("max_sessions", cfg.Engine.MaxSessions),
	)

	metrics := monitoring.NewMetrics()
	manager := session.NewManager(cfg.Engine, logger).WithMetrics(metrics)

	plannerClient := planner.New(planner.Config{
		URL:     cfg.Planner.URL,
		Timeout: cfg.Planner.Timeout,
	})
	if cfg.Planner.URL == "" {
		logger.Info("planner not configured, using local risk classification only")
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestLog(logger))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(nil))
	if cfg.RateLimit.Enabled {
		logger.Info("rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(cfg.RateLimit))
	}

	handlers := http.NewHandlers(manager, plannerClient, metrics)
	wsHandler := ws.NewHandler(manager, plannerClient, metrics, logger)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/stats", handlers.Stats)

	router.POST("/sessions", handlers.CreateSession)
	router.GET("/sessions", handlers.ListSessions)
	router.GET("/sessions/:id", handlers.GetSession)
	router.DELETE("/sessions/:id", handlers.CloseSession)

	router.POST("/sessions/:id/execute", handlers.Execute)
	router.POST("/sessions/:id/confirm", handlers.Confirm)
	router.POST("/sessions/:id/control", handlers.Control)
	router.POST("/sessions/:id/resize", handlers.Resize)
	router.GET("/sessions/:id/output", handlers.Output)

	router.GET("/sessions/:id/stream", wsHandler.HandleSession)

	router.POST("/plan", handlers.Plan)
	router.POST("/classify", handlers.Classify)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	logger.Info("server initialized")

	return &Server{
		router:  router,
		manager: manager,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// Run starts the HTTP server and blocks until it stops serving.
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("starting HTTP server", zap.String("addr", addr))

	s.httpSrv = &nethttp.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains HTTP connections, then force-closes all sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}

	s.manager.Shutdown()
	s.logger.Sync()
	return err
}
