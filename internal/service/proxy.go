// Package service implements the core proxy forwarding logic.
package service

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"ollama-model-proxy/internal/client"
	"ollama-model-proxy/internal/config"
	"ollama-model-proxy/internal/metrics"
	"ollama-model-proxy/internal/model"
	"ollama-model-proxy/internal/registry"
	"ollama-model-proxy/internal/resolver"
)

// hopByHopHeaders are headers that must not be forwarded by proxies.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// droppedRequestHeaders are request headers the proxy recomputes rather than
// forwards: Host is set by the transport for the upstream host, and
// Content-Length changes when the body is rewritten.
var droppedRequestHeaders = map[string]bool{
	"Host":           true,
	"Content-Length": true,
}

// bodyMethods are the methods whose requests carry a JSON payload subject to
// model injection. Other methods pass through untouched.
var bodyMethods = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

// ProxyService corrects inbound chat-completions requests and forwards them
// to the model runtime.
type ProxyService struct {
	client   *client.RuntimeClient
	resolver *resolver.Resolver
	registry *registry.Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
	baseURL  *url.URL
}

// NewProxyService creates a ProxyService. The metrics parameter is optional;
// pass nil to disable resolution metrics recording.
func NewProxyService(c *client.RuntimeClient, reg *registry.Registry, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	return &ProxyService{
		client:   c,
		resolver: resolver.New(cfg.Model.Default),
		registry: reg,
		logger:   logger.With("component", "proxy_service"),
		metrics:  m,
		baseURL:  u,
	}, nil
}

// Forward corrects a ProxyRequest and sends it to the model runtime.
// The caller is responsible for closing the response body.
//
// For body-bearing methods the request body is parsed and the effective
// model resolved (body field → model query parameter → configured default);
// resolver errors surface unchanged so the handler can map them to client
// errors without any upstream call having been made. Upstream error statuses
// are not an error here: they pass through verbatim in the response.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	var outBody io.Reader = pr.Body

	if bodyMethods[pr.Method] {
		raw, err := io.ReadAll(pr.Body)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}

		res, err := s.resolver.Resolve(raw, pr.Query)
		if err != nil {
			return nil, err
		}

		s.logger.Debug("model resolved",
			"model", res.Model,
			"source", res.Source,
			"path", pr.Path,
		)
		if s.metrics != nil {
			s.metrics.ModelResolutions.WithLabelValues(string(res.Source)).Inc()
		}

		if err := s.registry.Ensure(pr.Ctx, res.Model); err != nil {
			return nil, err
		}

		outBody = bytes.NewReader(res.Body)
	}

	upstreamURL := s.buildUpstreamURL(pr.Path, pr.Query)
	header := filterRequestHeaders(pr.Header)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, upstreamURL, header, outBody)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	resp.Header = filterResponseHeaders(resp.Header)
	return resp, nil
}

// buildUpstreamURL joins the caller's path onto the upstream base and strips
// the proxy-only model query parameter, which the runtime does not expect.
func (s *ProxyService) buildUpstreamURL(path string, query url.Values) string {
	u := *s.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path

	q := make(url.Values, len(query))
	for k, v := range query {
		q[k] = v
	}
	q.Del("model")
	u.RawQuery = q.Encode()

	return u.String()
}

// filterRequestHeaders copies all inbound headers except hop-by-hop ones.
// Authorization passes through verbatim: the runtime may ignore it, but
// OpenAI-client compatibility requires it to survive the hop.
func filterRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		canonical := http.CanonicalHeaderKey(key)
		if hopByHopHeaders[canonical] || droppedRequestHeaders[canonical] {
			continue
		}
		dst[canonical] = vals
	}
	return dst
}

// filterResponseHeaders strips hop-by-hop headers and passes everything else
// through unchanged, preserving Content-Type and any streaming framing
// headers exactly as the runtime sent them.
func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if hopByHopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst[key] = vals
	}
	return dst
}
