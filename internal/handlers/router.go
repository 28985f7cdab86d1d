package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/fulfillment-sync/internal/logger"
	"github.com/imrishuroy/fulfillment-sync/internal/metrics"
)

// NewRouter builds the gin engine with logging, recovery and metrics
// middleware, the service routes and /metrics.
func NewRouter(cfg HandlerConfig) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	metrics.RegisterDefault()

	r := gin.New()
	r.Use(logger.GinMiddleware(log), logger.Recovery(log), metrics.GinMiddleware())
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	RegisterOrdersRoutes(r, cfg)
	return r
}
