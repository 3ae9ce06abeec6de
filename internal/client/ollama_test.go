package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ollama-model-proxy/internal/config"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			BaseURL:               baseURL,
			TimeoutSeconds:        10,
			ConnectTimeoutSeconds: 2,
			IdleConnections:       10,
		},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRuntimeClient_DoStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := NewRuntimeClient(testConfig(srv.URL), testLogger(), nil)

	resp, err := c.DoStream(context.Background(), http.MethodGet, srv.URL+"/test", http.Header{}, nil)
	if err != nil {
		t.Fatalf("DoStream() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != `{"status":"ok"}` {
		t.Errorf("body = %q, want %q", string(body), `{"status":"ok"}`)
	}
}

func TestRuntimeClient_DoStream_Unreachable(t *testing.T) {
	c := NewRuntimeClient(testConfig("http://127.0.0.1:1"), testLogger(), nil)

	_, err := c.DoStream(context.Background(), http.MethodGet, "http://127.0.0.1:1/nonexistent", http.Header{}, nil)
	if err == nil {
		t.Fatal("DoStream() expected error for unreachable host, got nil")
	}
}

func TestRuntimeClient_DoStream_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Simulate a slow upstream; the request should be canceled before this completes.
		time.Sleep(5 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewRuntimeClient(testConfig(srv.URL), testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	_, err := c.DoStream(ctx, http.MethodGet, srv.URL+"/slow", http.Header{}, nil)
	if err == nil {
		t.Fatal("DoStream() expected error for canceled context, got nil")
	}
}

func TestRuntimeClient_ListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %q, want /api/tags", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models":[{"name":"qwen3:8b"},{"name":"llama3.1"},{"name":""}]}`))
	}))
	defer srv.Close()

	c := NewRuntimeClient(testConfig(srv.URL), testLogger(), nil)

	names, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}

	want := []string{"qwen3:8b", "llama3.1"}
	if len(names) != len(want) {
		t.Fatalf("ListModels() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestRuntimeClient_ListModels_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewRuntimeClient(testConfig(srv.URL), testLogger(), nil)

	if _, err := c.ListModels(context.Background()); err == nil {
		t.Fatal("ListModels() expected error for 500 response, got nil")
	}
}

func TestRuntimeClient_PullModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/pull" {
			t.Errorf("path = %q, want /api/pull", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode pull payload: %v", err)
		}
		if payload["model"] != "qwen3:8b" {
			t.Errorf("payload model = %v, want %q", payload["model"], "qwen3:8b")
		}
		if payload["stream"] != false {
			t.Errorf("payload stream = %v, want false", payload["stream"])
		}
		_, _ = w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	c := NewRuntimeClient(testConfig(srv.URL), testLogger(), nil)

	if err := c.PullModel(context.Background(), "qwen3:8b"); err != nil {
		t.Fatalf("PullModel() error = %v", err)
	}
}

func TestRuntimeClient_PullModel_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewRuntimeClient(testConfig(srv.URL), testLogger(), nil)

	if err := c.PullModel(context.Background(), "no-such-model"); err == nil {
		t.Fatal("PullModel() expected error for 404 response, got nil")
	}
}
