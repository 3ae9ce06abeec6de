package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"ollama-model-proxy/internal/config"
	"ollama-model-proxy/internal/model"
	"ollama-model-proxy/internal/service"
)

// ModelsHandler serves the OpenAI-compatible model-listing endpoint and the
// GET probe some clients use to check endpoint availability.
type ModelsHandler struct {
	service *service.ProxyService
	cfg     *config.Config
	logger  *slog.Logger
}

// NewModelsHandler creates a ModelsHandler.
func NewModelsHandler(s *service.ProxyService, cfg *config.Config, logger *slog.Logger) *ModelsHandler {
	return &ModelsHandler{
		service: s,
		cfg:     cfg,
		logger:  logger.With("component", "models_handler"),
	}
}

// List passes GET /v1/models through to the runtime when it answers 200,
// otherwise falls back to a single-entry list carrying the default model so
// that clients probing for available models still get a usable answer.
func (h *ModelsHandler) List(c echo.Context) error {
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
	if err == nil && resp.StatusCode == http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return relay(c, resp, h.logger)
	}
	if err != nil {
		h.logger.Warn("model list passthrough failed, using fallback", "err", err)
	} else {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		h.logger.Warn("model list passthrough failed, using fallback", "status", resp.StatusCode)
	}

	fallback := model.ModelList{Object: "list", Data: []model.ModelInfo{}}
	if h.cfg.Model.Default != "" {
		fallback.Data = append(fallback.Data, model.ModelInfo{
			ID:      h.cfg.Model.Default,
			Object:  "model",
			OwnedBy: "ollama",
		})
	}
	return c.JSON(http.StatusOK, fallback)
}

// Probe answers GET on the chat-completions path. Some clients issue a GET
// to judge endpoint availability; a 405 there makes them report the whole
// endpoint as down.
func (h *ModelsHandler) Probe(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"ok":            true,
		"note":          "Use POST /v1/chat/completions. Proxy is alive.",
		"default_model": h.cfg.Model.Default,
		"auto_pull":     h.cfg.Model.AutoPull,
	})
}
