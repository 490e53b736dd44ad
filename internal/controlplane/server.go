// Package controlplane serves the local HTTP API the CLI talks to: daemon
// status, pass history, log access, and the manual sync trigger.
package controlplane

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"

	"github.com/fleetmirror/fleetmirror/internal/controlplane/handlers"
	"github.com/fleetmirror/fleetmirror/internal/controlplane/middleware"
	"github.com/fleetmirror/fleetmirror/internal/history"
	"github.com/fleetmirror/fleetmirror/internal/status"
	"github.com/fleetmirror/fleetmirror/internal/version"
)

// Sources are the daemon internals the API reads from.
type Sources struct {
	Status  *status.Reporter
	History *history.Store
	Trigger handlers.PassTrigger
	LogFile string
}

type Server struct {
	config *Config
	server *http.Server
}

func NewServer(config *Config, sources Sources) *Server {
	routes := setupRoutes(config, sources)

	httpServer := &http.Server{
		Addr:    config.Addr,
		Handler: routes,
		// Timeouts to prevent slow client attacks. The websocket route takes
		// over the connection before WriteTimeout applies.
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	return &Server{
		config: config,
		server: httpServer,
	}
}

func (s *Server) Start(ctx context.Context) error {
	slog.Info("control plane start", "addr", fmt.Sprintf("http://%s", s.config.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	slog.Info("control plane stop")
	return s.server.Shutdown(ctx)
}

func setupRoutes(config *Config, sources Sources) http.Handler {
	r := gin.New()

	rateLimitStore := memory.NewStore()
	rateLimiter := limiter.New(rateLimitStore, limiter.Rate{
		Period: 1 * time.Second,
		Limit:  10,
	})

	statusH := handlers.NewStatusHandler(sources.Status)
	historyH := handlers.NewHistoryHandler(sources.History)
	logsH := handlers.NewLogsHandler(sources.LogFile)
	syncH := handlers.NewSyncHandler(sources.Trigger)

	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())
	r.Use(middleware.Gzip())
	r.Use(mgin.NewMiddleware(rateLimiter))

	r.GET("/", IndexHandler)

	v1 := r.Group("/v1")
	v1.Use(middleware.TokenAuth(middleware.TokenAuthConfig{Token: config.Token}))
	{
		v1.GET("/status", statusH.Status)
		v1.GET("/history", historyH.Recent)
		v1.GET("/logs", logsH.GetLogs)
		v1.GET("/logs/ws", logsH.Follow)

		v1Sync := v1.Group("/sync")
		{
			v1Sync.POST("/now", syncH.Now)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error": "method not allowed",
		})
	})

	return r.Handler()
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

func IndexHandler(c *gin.Context) {
	c.JSON(http.StatusOK, version.Detailed())
}
