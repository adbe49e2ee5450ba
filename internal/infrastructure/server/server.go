// Package server wires the shell core together: storage, policy,
// popup lifecycle, and the HTTP/WebSocket surface the frontend talks
// to.
package server

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/claudedesk/backend/internal/api/http"
	"github.com/claudedesk/backend/internal/api/middleware"
	"github.com/claudedesk/backend/internal/api/ws"
	"github.com/claudedesk/backend/internal/domain/allowlist"
	"github.com/claudedesk/backend/internal/domain/conversation"
	"github.com/claudedesk/backend/internal/domain/policy"
	"github.com/claudedesk/backend/internal/domain/popup"
	"github.com/claudedesk/backend/internal/infrastructure/config"
	"github.com/claudedesk/backend/internal/infrastructure/logging"
	"github.com/claudedesk/backend/internal/infrastructure/monitoring"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router *gin.Engine
	store  *conversation.Store
	popups *popup.Manager
	engine *policy.Engine
	logger *logging.Logger
	config *config.Config
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logger = logging.NewDefault()
	}

	logger.Info("Initializing ClaudeDesk core",
		zap.String("port", cfg.Server.Port),
		zap.String("data_dir", cfg.Storage.DataDir),
	)

	registry := prometheus.NewRegistry()
	metrics := monitoring.NewMetricsWithRegistry(registry)

	// Policy ruleset: the only configurable policy surface.
	rules := allowlist.Default()
	if cfg.Policy.AllowlistPath != "" {
		loaded, err := allowlist.LoadFile(cfg.Policy.AllowlistPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load allowlist: %w", err)
		}
		rules = loaded
		logger.Info("Loaded allowlist", zap.String("path", cfg.Policy.AllowlistPath))
	}

	store, err := conversation.NewStore(cfg.Storage.DataDir, logger)
	if err != nil {
		return nil, err
	}
	store = store.WithMetrics(metrics)
	logger.Info("Conversation store ready", zap.Int("records", store.Count()))

	bridge := ws.NewBridge()
	closeDelay := time.Duration(cfg.Policy.PopupCloseDelayMs) * time.Millisecond
	popups := popup.NewManager(rules, bridge, closeDelay, logger).WithMetrics(metrics)

	allowExternal := cfg.Policy.ExternalRedirects == "allow"
	engine := policy.NewEngine(rules, popups, allowExternal, logger).WithMetrics(metrics)
	if allowExternal {
		// Inherited permissive default, pending product confirmation.
		logger.Info("External redirect navigations are permitted in place")
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(store, popups, logger)
	wsHandler := ws.NewHandler(engine, popups, bridge, logger).WithMetrics(metrics)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)

	// Conversation records
	router.GET("/conversations", handlers.ListConversations)
	router.POST("/conversations", handlers.CreateConversation)
	router.GET("/conversations/search", handlers.SearchConversations)
	router.GET("/conversations/:id", handlers.GetConversation)
	router.PATCH("/conversations/:id", handlers.RenameConversation)
	router.DELETE("/conversations/:id", handlers.DeleteConversation)
	router.POST("/conversations/:id/messages", handlers.AppendMessage)
	router.GET("/conversations/:id/export", handlers.ExportConversation)

	// Popup lifecycle
	router.GET("/popups", handlers.ListPopups)
	router.POST("/popups/close-all", handlers.CloseAllPopups)

	// Engine adapter stream
	router.GET("/stream", wsHandler.HandleConnection)

	// Metrics
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	logger.Info("Server initialized successfully")

	return &Server{
		router: router,
		store:  store,
		popups: popups,
		engine: engine,
		logger: logger,
		config: cfg,
	}, nil
}

// Run starts the HTTP server
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Close gracefully shuts down the server. Every tracked popup is
// closed so none outlives the primary window.
func (s *Server) Close() error {
	s.logger.Info("Shutting down, closing tracked popups")
	s.popups.CloseAll()
	s.logger.Sync()
	return nil
}

// Router exposes the configured routes for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
