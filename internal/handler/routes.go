package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleetflow-gateway/internal/config"
	"fleetflow-gateway/internal/metrics"
	"fleetflow-gateway/internal/middleware"
)

// proxiedMethods are the methods forwarded on /api; the router answers 405 for the rest.
var proxiedMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
}

// RegisterRoutes wires all route handlers onto the Echo instance. Security
// headers are only added to the gateway's own endpoints so proxied responses
// reach the caller as the backend sent them.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler) {
	local := middleware.SecurityHeaders()

	e.GET("/healthz", health.Healthz, local)
	e.GET("/proxy/status", health.Status, local)

	if cfg.Metrics.Enabled {
		h := promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
		e.GET(cfg.Metrics.Path, echo.WrapHandler(h), local)
	}

	e.Match(proxiedMethods, apiPrefix, proxy.Handle)
	e.Match(proxiedMethods, apiPrefix+"/*", proxy.Handle)
	e.Match([]string{http.MethodGet, http.MethodHead}, "/"+openAPIPath, proxy.OpenAPI)
}
