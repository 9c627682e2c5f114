package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/relaya/internal/config"
	creditdomain "github.com/smallbiznis/relaya/internal/credit/domain"
	featuredomain "github.com/smallbiznis/relaya/internal/feature/domain"
	"github.com/smallbiznis/relaya/internal/observability"
	obsmiddleware "github.com/smallbiznis/relaya/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/relaya/internal/observability/metrics"
	obstracing "github.com/smallbiznis/relaya/internal/observability/tracing"
	outbounddomain "github.com/smallbiznis/relaya/internal/outbound/domain"
	preferencedomain "github.com/smallbiznis/relaya/internal/preference/domain"
	routerdomain "github.com/smallbiznis/relaya/internal/router/domain"
	templatedomain "github.com/smallbiznis/relaya/internal/template/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
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

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
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
	engine *gin.Engine
	cfg    config.Config
	genID  *snowflake.Node

	creditSvc     creditdomain.Service
	outboundSvc   outbounddomain.Service
	routerSvc     routerdomain.Service
	templateSvc   templatedomain.Service
	preferenceSvc preferencedomain.Service
	featureSvc    featuredomain.Service
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	GenID         *snowflake.Node
	CreditSvc     creditdomain.Service
	OutboundSvc   outbounddomain.Service
	RouterSvc     routerdomain.Service
	TemplateSvc   templatedomain.Service
	PreferenceSvc preferencedomain.Service
	FeatureSvc    featuredomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		genID:         p.GenID,
		creditSvc:     p.CreditSvc,
		outboundSvc:   p.OutboundSvc,
		routerSvc:     p.RouterSvc,
		templateSvc:   p.TemplateSvc,
		preferenceSvc: p.PreferenceSvc,
		featureSvc:    p.FeatureSvc,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1", s.TenantRequired())

	// -------- Messages --------
	v1.POST("/messages", s.SendMessage)
	v1.POST("/messages/bulk", s.SendBulkMessages)
	v1.GET("/messages", s.ListMessages)
	v1.GET("/messages/:id", s.GetMessage)
	v1.POST("/messages/:id/retry", s.RetryMessage)

	// -------- Credits --------
	v1.GET("/credits/balance", s.GetCreditBalance)
	v1.GET("/credits/transactions", s.ListCreditTransactions)
	v1.POST("/credits/topup", s.TopUpCredits)
	v1.POST("/credits/refund", s.RefundCredits)
	v1.POST("/credits/adjust", s.AdjustCredits)

	// -------- Templates --------
	v1.GET("/templates", s.ListTemplates)
	v1.PUT("/templates/:code", s.UpsertTemplate)
	v1.DELETE("/templates/:code", s.DeleteTemplate)
	v1.POST("/templates/:code/preview", s.PreviewTemplate)

	// -------- Preferences --------
	v1.GET("/preferences/:user_id", s.GetPreferences)
	v1.PUT("/preferences/:user_id", s.PutPreferences)

	// -------- Feature gates --------
	v1.PUT("/features/:code", s.SetFeature)
}
