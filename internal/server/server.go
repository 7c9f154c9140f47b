package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/carbonledger/internal/audit"
	auditdomain "github.com/smallbiznis/carbonledger/internal/audit/domain"
	"github.com/smallbiznis/carbonledger/internal/auth"
	"github.com/smallbiznis/carbonledger/internal/authorization"
	"github.com/smallbiznis/carbonledger/internal/clock"
	"github.com/smallbiznis/carbonledger/internal/config"
	"github.com/smallbiznis/carbonledger/internal/conversionrate"
	ratedomain "github.com/smallbiznis/carbonledger/internal/conversionrate/domain"
	"github.com/smallbiznis/carbonledger/internal/events"
	"github.com/smallbiznis/carbonledger/internal/ledger"
	ledgerdomain "github.com/smallbiznis/carbonledger/internal/ledger/domain"
	"github.com/smallbiznis/carbonledger/internal/migration"
	"github.com/smallbiznis/carbonledger/internal/observability"
	obslogger "github.com/smallbiznis/carbonledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/carbonledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/carbonledger/internal/observability/tracing"
	"github.com/smallbiznis/carbonledger/internal/offset"
	offsetdomain "github.com/smallbiznis/carbonledger/internal/offset/domain"
	"github.com/smallbiznis/carbonledger/internal/ratelimit"
	"github.com/smallbiznis/carbonledger/internal/verification"
	verificationdomain "github.com/smallbiznis/carbonledger/internal/verification/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	events.Module,
	auth.Module,
	conversionrate.Module,
	ledger.Module,
	offset.Module,
	verification.Module,
	ratelimit.Module,
	migration.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.Middleware())
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

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
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
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	tokens          *auth.Tokens
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	rateSvc         ratedomain.Service
	ledgerSvc       ledgerdomain.Service
	offsetSvc       offsetdomain.Service
	verificationSvc verificationdomain.Service
	obsMetrics      *obsmetrics.Metrics
	usageLimiter    *ratelimit.UsageLimiter
	clock           clock.Clock
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	Tokens          *auth.Tokens
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
	RateSvc         ratedomain.Service
	LedgerSvc       ledgerdomain.Service
	OffsetSvc       offsetdomain.Service
	VerificationSvc verificationdomain.Service
	ObsMetrics      *obsmetrics.Metrics     `optional:"true"`
	UsageLimiter    *ratelimit.UsageLimiter `optional:"true"`
	Clock           clock.Clock             `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             log.Named("http.server"),
		tokens:          p.Tokens,
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		rateSvc:         p.RateSvc,
		ledgerSvc:       p.LedgerSvc,
		offsetSvc:       p.OffsetSvc,
		verificationSvc: p.VerificationSvc,
		obsMetrics:      p.ObsMetrics,
		usageLimiter:    p.UsageLimiter,
		clock:           clk,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.BearerAuthRequired())

	// -------- Ledger --------
	api.POST("/ledger/usage", s.UsageRateLimit(), s.RecordUsage)
	api.GET("/ledger/usage", s.ListUsage)
	// gin allows one wildcard name per segment: :ledger is a year on reads
	// and a ledger id under /transactions.
	api.GET("/ledger/:ledger", s.authorizeAction(authorization.ObjectLedger, authorization.ActionLedgerViewOwn), s.GetLedgerForYear)
	api.GET("/ledger/:ledger/certificate", s.authorizeAction(authorization.ObjectLedger, authorization.ActionLedgerViewOwn), s.GetLedgerCertificate)
	api.GET("/ledgers", s.ListLedgers)

	// -------- Offset transactions --------
	api.POST("/ledger/:ledger/transactions", s.CreateTransaction)
	api.GET("/transactions", s.ListTransactions)
	api.GET("/transactions/pending", s.ListPendingTransactions)
	api.GET("/transactions/:id", s.GetTransaction)
	api.GET("/transactions/:id/verification", s.GetTransactionVerification)
	api.POST("/transactions/:id/reject", s.RejectTransaction)
	api.POST("/transactions/:id/verify", s.SubmitVerification)

	// -------- Verifications --------
	api.GET("/verifications/pending", s.ListPendingVerifications)
	api.GET("/verifications/:id", s.GetVerification)
	api.POST("/verifications/:id/approve", s.ApproveVerification)
	api.POST("/verifications/:id/reject", s.RejectVerification)

	// -------- Configuration --------
	api.GET("/config/conversion-rates", s.ListConversionRates)
	api.PUT("/config/conversion-rate/:year", s.UpsertConversionRate)

	api.POST("/convert", s.Convert)

	// -------- Analytics --------
	api.GET("/analytics/stats", s.authorizeAction(authorization.ObjectAnalytics, authorization.ActionAnalyticsView), s.GetStats)
	api.GET("/analytics/usage-breakdown", s.GetUsageBreakdown)

	api.GET("/audit-logs", s.authorizeAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
