package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/moroshma/hc2stream/internal/domain/entity"
	"github.com/moroshma/hc2stream/pkg/fibaro"
	"github.com/moroshma/hc2stream/pkg/logger"
)

// ServiceName is the gRPC health service name of the bridge
const ServiceName = "hc2stream.Bridge"

const healthSyncInterval = time.Second

// StatusProvider is what the server reports on
type StatusProvider interface {
	State() fibaro.SubscriptionState
	Status() entity.BridgeStatus
}

// Config holds the listen ports
type Config struct {
	HTTPPort int
	GRPCPort int
}

// Server serves the status API over HTTP and the health service over gRPC
type Server struct {
	cfg     Config
	status  StatusProvider
	logger  *logger.Logger
	engine  *gin.Engine
	grpc    *grpc.Server
	health  *health.Server
	metrics http.Handler
}

// New wires the routes. metricsHandler may be nil.
func New(cfg Config, status StatusProvider, metricsHandler http.Handler, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:     cfg,
		status:  status,
		logger:  log,
		health:  health.NewServer(),
		metrics: metricsHandler,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestIDMiddleware(), s.requestLogger())
	engine.GET("/healthz", s.handleHealth)
	engine.GET("/readyz", s.handleReady)
	engine.GET("/status", s.handleStatus)
	if metricsHandler != nil {
		engine.GET("/metrics", gin.WrapH(metricsHandler))
	}
	s.engine = engine

	s.grpc = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	s.SyncHealth()

	return s
}

// Handler exposes the HTTP routes
func (s *Server) Handler() http.Handler {
	return s.engine
}

// SyncHealth sets the gRPC serving status from the subscription state
func (s *Server) SyncHealth() {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if s.status.State() == fibaro.StateRunning {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Run serves both listeners until ctx ends, then shuts them down
func (s *Server) Run(ctx context.Context) error {
	httpLis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.HTTPPort))
	if err != nil {
		return fmt.Errorf("failed to listen on http port %d: %w", s.cfg.HTTPPort, err)
	}
	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.GRPCPort))
	if err != nil {
		httpLis.Close()
		return fmt.Errorf("failed to listen on grpc port %d: %w", s.cfg.GRPCPort, err)
	}

	return s.Serve(ctx, httpLis, grpcLis)
}

// Serve is Run on listeners the caller opened
func (s *Server) Serve(ctx context.Context, httpLis, grpcLis net.Listener) error {
	httpSrv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Status HTTP server listening", logger.String("addr", httpLis.Addr().String()))
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.logger.Info("gRPC health server listening", logger.String("addr", grpcLis.Addr().String()))
		if err := s.grpc.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(healthSyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s.SyncHealth()
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down status servers")

		s.health.Shutdown()
		s.grpc.GracefulStop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleReady(c *gin.Context) {
	state := s.status.State()
	code := http.StatusOK
	if state != fibaro.StateRunning {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"state": state.String()})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status.Status())
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		requestID, _ := c.Get("requestID")
		s.logger.Debug("HTTP request",
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("latency", time.Since(start)),
			logger.Any("request_id", requestID),
		)
	}
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestID", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}
