package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apihttp "github.com/GriffinCanCode/AgentOS/ipcore/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/api/ws"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/boot"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/providers/ipc"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/sched"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/service"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the kernel, the booted system and the admin HTTP server
type Server struct {
	router   *gin.Engine
	http     *http.Server
	kernel   *kernel.Kernel
	system   *boot.System
	registry *service.Registry
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
}

// NewServer creates the kernel, boots the system processes and builds the admin router.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	logger.Info("Initializing ipcore",
		zap.Int("max_procs", cfg.Kernel.MaxProcs),
		zap.Int("grant_table", cfg.Kernel.GrantTableSize),
		zap.String("manifest", cfg.Boot.Manifest),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("ipcore", logger.Logger)

	k := kernel.New(kernel.OptionsFromConfig(cfg.Kernel)).
		WithLogger(logger).
		WithMetrics(metrics).
		WithTracer(tracer)

	manifest := boot.Default()
	if cfg.Boot.Manifest != "" {
		manifest, err = boot.Load(cfg.Boot.Manifest)
		if err != nil {
			tracer.Close()
			return nil, fmt.Errorf("failed to load boot manifest: %w", err)
		}
	}

	sys, err := boot.Boot(ctx, k, manifest, boot.Options{
		Sched:   sched.OptionsFromConfig(cfg.Sched),
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
	})
	if err != nil {
		tracer.Close()
		return nil, fmt.Errorf("failed to boot: %w", err)
	}

	registry := service.NewRegistry()
	if err := registry.Register(ipc.NewProvider(k)); err != nil {
		logger.Warn("Failed to register IPC provider", zap.Error(err))
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.Server.CORSOrigins
	router.Use(middleware.CORS(cors))

	// Tool calls additionally share one global bucket.
	var toolLimits []gin.HandlerFunc
	if rl := cfg.RateLimit; rl.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", rl.RequestsPerSecond),
			zap.Int("burst", rl.Burst),
			zap.Duration("idle_ttl", rl.IdleTTL),
			zap.Int("tools_rps", rl.ToolsPerSecond),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: rl.RequestsPerSecond,
			Burst:             rl.Burst,
			IdleTTL:           rl.IdleTTL,
		}))
		toolLimits = append(toolLimits, middleware.GlobalRateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: rl.ToolsPerSecond,
			Burst:             rl.ToolsPerSecond,
		}))
	}

	handlers := apihttp.NewHandlers(sys, registry, tracer, logger)
	aggregator := apihttp.NewMetricsAggregator(metrics, k)
	apihttp.RegisterRoutes(router, handlers, aggregator, toolLimits...)

	// WebSocket
	router.GET("/events", ws.NewHandler(k, tracer, metrics, logger).HandleConnection)

	logger.Info("Server initialized successfully", zap.Strings("boot", sys.Names()))

	return &Server{
		router: router,
		http: &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		kernel:   k,
		system:   sys,
		registry: registry,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
		tracer:   tracer,
	}, nil
}

func newLogger(cfg config.LogConfig) (*logging.Logger, error) {
	lc := logging.DefaultConfig()
	if cfg.Development {
		lc = logging.DevelopmentConfig()
	}
	if cfg.Level != "" {
		lc.Level = cfg.Level
	}
	logger, err := logging.New(lc)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

// Handler returns the admin router.
func (s *Server) Handler() http.Handler { return s.router }

// Kernel returns the running kernel.
func (s *Server) Kernel() *kernel.Kernel { return s.kernel }

// Run serves the admin API until ctx is cancelled, then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if s.config.Server.Enabled {
		g.Go(func() error {
			s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
			if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return s.Close()
	})
	return g.Wait()
}

// Close stops the HTTP server, the scheduling servers and the tracer.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop http server: %w", err))
	}
	if err := s.system.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop schedulers: %w", err))
	}
	s.tracer.Close()

	// Sync logger before exit
	_ = s.logger.Sync()

	return errors.Join(errs...)
}
