package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"ollama-model-proxy/internal/model"
	"ollama-model-proxy/internal/resolver"
	"ollama-model-proxy/internal/service"
)

// ProxyHandler forwards chat-completions requests to the model runtime and
// relays the response back, preserving streaming framing.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle corrects the request, forwards it upstream and streams the response
// back to the caller chunk by chunk.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:    req.Context(),
		Method: req.Method,
		Path:   req.URL.Path,
		Query:  req.URL.Query(),
		Header: req.Header,
		Body:   req.Body,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return relay(c, resp, h.logger)
}

// relay writes the upstream status, headers and body to the caller. The body
// is copied incrementally with a flush after every chunk so that SSE/NDJSON
// frames reach a streaming-aware client as they arrive, never coalesced.
func relay(c echo.Context, resp *model.ProxyResponse, logger *slog.Logger) error {
	res := c.Response()

	for key, vals := range resp.Header {
		for _, v := range vals {
			res.Header().Add(key, v)
		}
	}

	res.WriteHeader(resp.StatusCode)

	// If the copy fails mid-stream (upstream disconnect, client disconnect),
	// the status has already been sent; the caller sees the same truncation
	// it would see talking to the runtime directly. No synthetic completion
	// frame is fabricated.
	if _, err := io.Copy(flushWriter{res}, resp.Body); err != nil {
		logger.Error("streaming response body",
			"err", err,
			"path", c.Request().URL.Path,
		)
	}

	return nil
}

// flushWriter flushes after every write so streamed chunks are delivered
// immediately instead of sitting in the server's buffer.
type flushWriter struct {
	res *echo.Response
}

func (w flushWriter) Write(p []byte) (int, error) {
	n, err := w.res.Write(p)
	if err == nil {
		w.res.Flush()
	}
	return n, err
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, resolver.ErrModelUnresolved) {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": resolver.ErrModelUnresolved.Error(),
		})
	}

	if errors.Is(err, resolver.ErrMalformedBody) {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": resolver.ErrMalformedBody.Error(),
		})
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "model runtime host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "model runtime connection failed; is it running?",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "upstream request failed",
	})
}
