package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// The static GET routes win over the /v1/* wildcard for their method, so the
// probe and the model list are answered locally while everything else under
// /v1 flows through the proxy pipeline.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler, models *ModelsHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	e.GET("/v1/models", models.List)
	e.GET("/v1/chat/completions", models.Probe)

	e.Any("/v1/*", proxy.Handle)
}
