package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/postloop/postloop/internal/config"
	"github.com/postloop/postloop/internal/connectstate/domain"
	"github.com/postloop/postloop/internal/connectstate/janitor"
	"github.com/postloop/postloop/internal/observability"
	obslogger "github.com/postloop/postloop/internal/observability/logger"
	obstracing "github.com/postloop/postloop/internal/observability/tracing"
	"github.com/postloop/postloop/internal/platform"
	"github.com/postloop/postloop/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log, obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	return NewEngine(obsCfg, log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
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
	engine   *gin.Engine
	cfg      config.Config
	registry *platform.Registry
	statesvc domain.Service
	janitor  *janitor.Janitor
	limiter  *ratelimit.ConnectLimiter
	log      *zap.Logger
}

type ServerParams struct {
	fx.In

	Gin      *gin.Engine
	Cfg      config.Config
	Registry *platform.Registry
	Statesvc domain.Service
	Janitor  *janitor.Janitor
	Limiter  *ratelimit.ConnectLimiter `optional:"true"`
	Log      *zap.Logger
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:   p.Gin,
		cfg:      p.Cfg,
		registry: p.Registry,
		statesvc: p.Statesvc,
		janitor:  p.Janitor,
		limiter:  p.Limiter,
		log:      p.Log.Named("http.server"),
	}

	svc.registerConnectRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerConnectRoutes() {
	v1 := s.engine.Group("/v1")

	workspaces := v1.Group("/workspaces/:workspace_id")
	{
		workspaces.POST("/platforms/:platform/connect", s.BeginConnect)
		workspaces.DELETE("/connect-states", s.PurgeConnectStates)
	}

	v1.GET("/oauth/callback/:platform", s.OAuthCallback)
}
