// Package registry tracks which models are installed on the runtime and
// optionally pulls missing ones before a request is forwarded.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ollama-model-proxy/internal/config"
	"ollama-model-proxy/internal/metrics"
)

// RuntimeAPI is the subset of the runtime client the registry needs.
type RuntimeAPI interface {
	ListModels(ctx context.Context) ([]string, error)
	PullModel(ctx context.Context, name string) error
}

// Registry caches the runtime's installed-model list with a TTL so that
// /api/tags is not hit on every request.
type Registry struct {
	api      RuntimeAPI
	logger   *slog.Logger
	metrics  *metrics.Metrics
	autoPull bool
	ttl      time.Duration

	mu        sync.Mutex
	installed map[string]bool
	fetchedAt time.Time
}

// New creates a Registry. The metrics parameter is optional; pass nil to
// disable pull metrics recording.
func New(api RuntimeAPI, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		api:      api,
		logger:   logger.With("component", "model_registry"),
		metrics:  m,
		autoPull: cfg.Model.AutoPull,
		ttl:      time.Duration(cfg.Model.CacheTTLSeconds) * time.Second,
	}
}

// Ensure makes sure the named model is available before forwarding. When
// auto-pull is disabled it is a no-op: an unknown model is the runtime's
// error to report, and the proxy passes that through. When enabled and the
// model is missing, Ensure blocks until the pull completes.
func (r *Registry) Ensure(ctx context.Context, name string) error {
	if !r.autoPull {
		return nil
	}

	has, err := r.hasModel(ctx, name)
	if err != nil {
		// A failed listing is not fatal; forward anyway and let the
		// runtime produce its own error.
		r.logger.Warn("listing installed models failed", "err", err)
		return nil
	}
	if has {
		return nil
	}

	if err := r.api.PullModel(ctx, name); err != nil {
		if r.metrics != nil {
			r.metrics.ModelPulls.WithLabelValues("error").Inc()
		}
		return fmt.Errorf("auto-pull %q: %w", name, err)
	}
	if r.metrics != nil {
		r.metrics.ModelPulls.WithLabelValues("success").Inc()
	}

	r.invalidate()
	return nil
}

// hasModel reports whether the model is in the cached installed list,
// refreshing the cache when it is older than the TTL. The refresh happens
// outside the mutex so a slow /api/tags call never stalls other requests;
// concurrent refreshes are harmless, last write wins.
func (r *Registry) hasModel(ctx context.Context, name string) (bool, error) {
	r.mu.Lock()
	if r.installed != nil && time.Since(r.fetchedAt) <= r.ttl {
		has := r.installed[name]
		r.mu.Unlock()
		return has, nil
	}
	r.mu.Unlock()

	names, err := r.api.ListModels(ctx)
	if err != nil {
		return false, err
	}
	installed := make(map[string]bool, len(names))
	for _, n := range names {
		installed[n] = true
	}

	r.mu.Lock()
	r.installed = installed
	r.fetchedAt = time.Now()
	r.mu.Unlock()

	return installed[name], nil
}

// invalidate forces the next lookup to refetch the installed list.
func (r *Registry) invalidate() {
	r.mu.Lock()
	r.fetchedAt = time.Time{}
	r.mu.Unlock()
}
