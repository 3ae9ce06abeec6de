package middleware

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"ollama-model-proxy/internal/config"
)

// RateLimiter builds the per-IP request limiter from the server's rate-limit
// configuration. Chat completions are expensive for the runtime, so the
// limiter rejects excess requests with 429 before they reach the proxy
// pipeline.
func RateLimiter(cfg config.RateLimitConfig) echo.MiddlewareFunc {
	store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.RequestsPerSecond))
	return echomw.RateLimiter(store)
}
