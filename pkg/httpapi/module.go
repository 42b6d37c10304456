package httpapi

import (
	"net/http"

	"apextrade-backend/pkg/config"
	"apextrade-backend/pkg/health"
	"apextrade-backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(
		NewEngine,
		func(e *gin.Engine) http.Handler { return e },
	),
	fx.Invoke(registerHealthEndpoint),
)

// NewEngine builds the gin engine with the shared middleware chain. Error
// must run before handlers so it can translate their errors afterwards.
func NewEngine(cfg *config.Config) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	e := gin.New()
	e.Use(
		gin.Recovery(),
		middleware.Role(cfg.Admin.Token),
		middleware.AccessLog(),
		middleware.Error(),
	)
	return e
}

func registerHealthEndpoint(e *gin.Engine, h health.HealthService) {
	e.GET("/healthz", h.Liveness)
	e.GET("/readyz", h.Readiness)
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
