package rest

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/KevinKickass/HostEmu/internal/api/websocket"
	"github.com/KevinKickass/HostEmu/internal/config"
	"github.com/KevinKickass/HostEmu/internal/interfaces"
	"github.com/KevinKickass/HostEmu/internal/types"
	"github.com/gin-gonic/gin"
	metrics "github.com/rcrowley/go-metrics"
	"go.uber.org/zap"
)

type Server struct {
	router   *gin.Engine
	lm       interfaces.LifecycleManager
	logger   *zap.Logger
	server   *http.Server
	listener net.Listener
	wsHub    *websocket.Hub
	registry metrics.Registry
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, registry metrics.Registry) *Server {
	gin.SetMode(gin.ReleaseMode)

	if registry == nil {
		registry = metrics.DefaultRegistry
	}

	s := &Server{
		router:   gin.New(),
		lm:       lm,
		logger:   logger,
		wsHub:    wsHub,
		registry: registry,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Emulator.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start binds the listen address before returning, so a port that is
// already taken fails Start.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.listener = lis

	s.logger.Info("Starting REST API server", zap.String("address", lis.Addr().String()))
	go func() {
		if err := s.server.Serve(lis); err != nil && err != http.ErrServerClosed {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	s.router.GET("/health", s.healthCheck)

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// ==================== SYSTEM ====================
		system := v1.Group("/system")
		{
			system.GET("/status", s.getSystemStatus)
			system.GET("/metrics", s.getMetrics)
			system.POST("/shutdown", s.shutdown)
		}

		// ==================== EMULATOR ====================
		v1.GET("/emulator", s.getEmulator)

		pins := v1.Group("/pins")
		{
			pins.GET("", s.listPins)
			pins.GET("/:name", s.getPin)
			pins.PUT("/:name", s.setPin)
			pins.GET("/:name/device", s.queryPin)
		}

		uarts := v1.Group("/uarts")
		{
			uarts.GET("/:name/tx", s.getUartTx)
			uarts.DELETE("/:name/tx", s.clearUartTx)
			uarts.POST("/:name/rx", s.pushUartRx)
		}

		i2c := v1.Group("/i2c")
		{
			i2c.GET("/:name/devices/:address", s.readI2C)
			i2c.PUT("/:name/devices/:address", s.writeI2C)
		}

		// ==================== WEBSOCKET ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.wsStatus)
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

// fail writes the error payload for a failed emulator operation.
func (s *Server) fail(c *gin.Context, message string, err error) {
	code, body := types.NewStatusErrorResponse(message, err)
	if code >= http.StatusInternalServerError {
		s.logger.Error(message, zap.Error(err))
	}
	c.JSON(code, body)
}
