// Package client provides the upstream HTTP client for the model runtime.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ollama-model-proxy/internal/config"
	"ollama-model-proxy/internal/metrics"
	"ollama-model-proxy/internal/model"
)

// RuntimeClient sends requests to the upstream model runtime (Ollama).
type RuntimeClient struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewRuntimeClient creates a RuntimeClient with connection pooling.
// Connection establishment fails fast; the overall exchange has no deadline
// unless upstream.timeout_seconds is set, since completions can take minutes.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewRuntimeClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *RuntimeClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   time.Duration(cfg.Upstream.ConnectTimeoutSeconds) * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &RuntimeClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		baseURL: strings.TrimRight(cfg.Upstream.BaseURL, "/"),
		logger:  logger.With("component", "runtime_client"),
		metrics: m,
	}
}

// Do executes an HTTP request against the upstream and returns the raw response.
// The response body is not buffered; the caller owns it and must close it.
func (c *RuntimeClient) Do(req *http.Request) (*model.ProxyResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// DoStream executes a request and returns the response body as a stream.
// The caller is responsible for closing the returned body. The provided
// context controls the lifetime of the upstream request: when the context is
// canceled (e.g. client disconnects), the upstream request is also canceled.
func (c *RuntimeClient) DoStream(ctx context.Context, method, url string, header http.Header, body io.Reader) (*model.ProxyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header

	return c.Do(req)
}

// tagsResponse is the shape of Ollama's GET /api/tags reply.
type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns the names of models installed on the runtime,
// via Ollama's native GET /api/tags endpoint.
func (c *RuntimeClient) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build tags request: %w", err)
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list models: upstream returned %d", resp.StatusCode)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode tags response: %w", err)
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		if m.Name != "" {
			names = append(names, m.Name)
		}
	}
	return names, nil
}

// PullModel installs a model on the runtime via Ollama's native
// POST /api/pull endpoint, blocking until the pull completes.
func (c *RuntimeClient) PullModel(ctx context.Context, name string) error {
	payload, err := json.Marshal(map[string]any{"model": name, "stream": false})
	if err != nil {
		return fmt.Errorf("encode pull request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build pull request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Info("pulling model", "model", name)

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("pull model %q: upstream returned %d: %s", name, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
