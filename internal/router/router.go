package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/activemerchant/active-merchant-sub021/internal/handler/api"
	"github.com/activemerchant/active-merchant-sub021/internal/metrics"
	"github.com/activemerchant/active-merchant-sub021/internal/middleware"
)

// Options carries what Setup needs beyond the gateways.
type Options struct {
	APIKey      string
	HashFile    string
	Transcripts bool
	Deduper     middleware.Deduper
}

// Setup configures all routes for the Echo server.
func Setup(e *echo.Echo, gateways api.Registry, logger *zap.Logger, opts Options) {
	// Global middleware
	e.Use(echomw.Recover())
	e.Use(middleware.CORS())
	e.Use(metrics.EchoMiddleware())

	gatewayHandler := api.NewGatewayHandler(gateways, logger, opts.Transcripts)

	// API group with auth + logging middleware
	apiGroup := e.Group("/api")
	apiGroup.Use(middleware.APIAuth(opts.APIKey, opts.HashFile))
	apiGroup.Use(middleware.RequestLogger(logger))

	apiGroup.GET("/gateways", gatewayHandler.List)
	apiGroup.POST("/gateways/:gateway/scrub", gatewayHandler.Scrub)
	apiGroup.POST("/gateways/:gateway/:operation", gatewayHandler.Process, middleware.IdempotencyGuard(opts.Deduper))

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}
