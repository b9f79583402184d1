package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/pointledger/internal/allocation"
	allocationdomain "github.com/smallbiznis/pointledger/internal/allocation/domain"
	"github.com/smallbiznis/pointledger/internal/authorization"
	"github.com/smallbiznis/pointledger/internal/clock"
	"github.com/smallbiznis/pointledger/internal/config"
	"github.com/smallbiznis/pointledger/internal/ledger"
	ledgerdomain "github.com/smallbiznis/pointledger/internal/ledger/domain"
	"github.com/smallbiznis/pointledger/internal/observability"
	obsmiddleware "github.com/smallbiznis/pointledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/pointledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/pointledger/internal/observability/tracing"
	"github.com/smallbiznis/pointledger/internal/plan"
	"github.com/smallbiznis/pointledger/internal/ratelimit"
	"github.com/smallbiznis/pointledger/internal/scheduler"
	"github.com/smallbiznis/pointledger/internal/usage"
	usagedomain "github.com/smallbiznis/pointledger/internal/usage/domain"
	"github.com/smallbiznis/pointledger/internal/usage/liveevents"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	ratelimit.Module,
	authorization.Module,
	plan.Module,
	usage.Module,
	ledger.Module,
	allocation.Module,
	scheduler.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	clock          clock.Clock
	ledgerSvc      ledgerdomain.Service
	allocationSvc  allocationdomain.Service
	usageSvc       usagedomain.Service
	authzSvc       authorization.Service
	consumeLimiter *ratelimit.ConsumeLimiter
	liveEvents     *liveevents.Hub
	obsMetrics     *obsmetrics.Metrics
	scheduler      *scheduler.Scheduler
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	Clock          clock.Clock
	LedgerSvc      ledgerdomain.Service
	AllocationSvc  allocationdomain.Service
	UsageSvc       usagedomain.Service
	AuthzSvc       authorization.Service
	ConsumeLimiter *ratelimit.ConsumeLimiter `optional:"true"`
	LiveEvents     *liveevents.Hub           `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics       `optional:"true"`
	Scheduler      *scheduler.Scheduler      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		clock:          clk,
		ledgerSvc:      p.LedgerSvc,
		allocationSvc:  p.AllocationSvc,
		usageSvc:       p.UsageSvc,
		authzSvc:       p.AuthzSvc,
		consumeLimiter: p.ConsumeLimiter,
		liveEvents:     p.LiveEvents,
		obsMetrics:     p.ObsMetrics,
		scheduler:      p.Scheduler,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1", s.IdentityRequired())

	// -------- Balance --------
	api.GET("/balance", s.authorize(authorization.ObjectBalance, authorization.ActionBalanceView), s.GetBalance)
	api.POST("/consume", s.authorize(authorization.ObjectBalance, authorization.ActionConsume), s.ConsumeRateLimit(), s.Consume)
	api.POST("/top-ups", s.authorize(authorization.ObjectTopUp, authorization.ActionTopUpCreate), s.TopUp)

	// -------- Usage --------
	api.GET("/usage", s.authorize(authorization.ObjectUsage, authorization.ActionUsageView), s.ListUsage)
	api.GET("/usage/live", s.authorize(authorization.ObjectUsage, authorization.ActionUsageLive), s.StreamUsageLiveEvents)

	// -------- Allocations --------
	org := api.Group("/organizations/:id", s.requireOrganizationScope())
	{
		org.GET("/allocations", s.authorize(authorization.ObjectAllocation, authorization.ActionAllocationList), s.ListAllocations)
		org.GET("/allocations/:member_id", s.authorizeAllocationView(), s.GetAllocation)
		org.PUT("/allocations/:member_id", s.authorize(authorization.ObjectAllocation, authorization.ActionAllocationSet), s.SetAllocation)
	}
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin/v1", s.SystemRequired())

	admin.PUT("/accounts/:id", s.authorize(authorization.ObjectAccount, authorization.ActionAccountUpsert), s.UpsertAccount)
	admin.GET("/accounts/:id", s.authorize(authorization.ObjectAccount, authorization.ActionAccountView), s.GetAccount)
	admin.POST("/sweeps", s.authorize(authorization.ObjectSweep, authorization.ActionSweepRun), s.RunSweep)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
