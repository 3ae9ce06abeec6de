package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"ollama-model-proxy/internal/client"
	"ollama-model-proxy/internal/config"
	"ollama-model-proxy/internal/registry"
	"ollama-model-proxy/internal/service"
)

func TestRegisterRoutes_Wiring(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			BaseURL:               upstream.URL,
			TimeoutSeconds:        10,
			ConnectTimeoutSeconds: 2,
			IdleConnections:       10,
		},
		Model: config.ModelConfig{Default: "qwen3:8b", CacheTTLSeconds: 10},
	}
	logger := testLogger()
	c := client.NewRuntimeClient(cfg, logger, nil)
	reg := registry.New(c, cfg, logger, nil)
	svc, err := service.NewProxyService(c, reg, cfg, logger, nil)
	if err != nil {
		t.Fatalf("NewProxyService: %v", err)
	}

	proxy := NewProxyHandler(svc, logger)
	health := NewHealthHandler(cfg, "test")
	models := NewModelsHandler(svc, cfg, logger)

	e := echo.New()
	RegisterRoutes(e, proxy, health, models)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"GET /healthz", http.MethodGet, "/healthz", "", http.StatusOK},
		{"GET /proxy/status", http.MethodGet, "/proxy/status", "", http.StatusOK},
		{"GET /v1/models answered locally or passed through", http.MethodGet, "/v1/models", "", http.StatusOK},
		{"GET /v1/chat/completions hits the probe", http.MethodGet, "/v1/chat/completions", "", http.StatusOK},
		{"POST /v1/chat/completions proxied", http.MethodPost, "/v1/chat/completions", `{"messages":[]}`, http.StatusOK},
		{"POST /v1/completions proxied via wildcard", http.MethodPost, "/v1/completions", `{"prompt":"hi"}`, http.StatusOK},
		{"GET /unknown returns 404", http.MethodGet, "/unknown", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *http.Request
			if tt.body != "" {
				req = httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
				req.Header.Set("Content-Type", "application/json")
			} else {
				req = httptest.NewRequest(tt.method, tt.path, http.NoBody)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
