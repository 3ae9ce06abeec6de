// Package resolver determines the effective model for a chat-completions
// request and rewrites the request body to carry it.
package resolver

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"
)

// ErrModelUnresolved is returned when neither the request body, the model
// query parameter, nor the configured default names a model.
var ErrModelUnresolved = errors.New("no model specified: set a model in the request body, a ?model= query parameter, or configure a default")

// ErrMalformedBody is returned when the request body is not valid JSON.
var ErrMalformedBody = errors.New("request body is not valid JSON")

// Source identifies which resolution step produced the effective model.
type Source string

const (
	SourceBody    Source = "body"
	SourceQuery   Source = "query"
	SourceDefault Source = "default"
)

// Result is the outcome of a successful resolution.
type Result struct {
	// Body is the outbound request body. When the inbound body already named
	// a model it is byte-identical to the input; otherwise it is the input
	// object re-encoded with the model field set.
	Body   []byte
	Model  string
	Source Source
}

// Resolver resolves the effective model for each request.
// Resolution is an ordered chain evaluated short-circuit:
// body model → model query parameter → configured default.
type Resolver struct {
	defaultModel string
}

// New creates a Resolver. defaultModel may be empty, in which case requests
// that name no model are rejected.
func New(defaultModel string) *Resolver {
	return &Resolver{defaultModel: NormalizeModel(defaultModel)}
}

// DefaultModel returns the configured fallback model, or empty string.
func (r *Resolver) DefaultModel() string {
	return r.defaultModel
}

// Resolve determines the effective model for a request and returns the
// outbound body carrying it. body may be nil or empty; query may be nil.
func (r *Resolver) Resolve(body []byte, query url.Values) (*Result, error) {
	payload, bodyModel, err := parseBody(body)
	if err != nil {
		return nil, err
	}

	if bodyModel != "" {
		switch normalized := NormalizeModel(bodyModel); {
		case normalized == bodyModel:
			// Already-correct case: forward the body untouched.
			return &Result{Body: body, Model: bodyModel, Source: SourceBody}, nil
		case normalized != "":
			// The body names a model but with a path fragment glued on;
			// rewrite it with the repaired value.
			return r.inject(payload, normalized, SourceBody)
		}
		// The repair collapsed the value to nothing (a bare path such as
		// "/chat/completions"); the body names no usable model, so the
		// chain continues with the query parameter and the default.
	}

	if m := NormalizeModel(query.Get("model")); m != "" {
		return r.inject(payload, m, SourceQuery)
	}

	if r.defaultModel != "" {
		return r.inject(payload, r.defaultModel, SourceDefault)
	}

	return nil, ErrModelUnresolved
}

// inject sets the model field on the payload and re-encodes it.
func (r *Resolver) inject(payload map[string]any, model string, src Source) (*Result, error) {
	payload["model"] = model
	out, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Result{Body: out, Model: model, Source: src}, nil
}

// parseBody decodes the body into a generic object and extracts any non-empty
// model field. An absent body, or a JSON value that is not an object, becomes
// an empty object to be populated. Invalid JSON yields ErrMalformedBody.
func parseBody(body []byte) (map[string]any, string, error) {
	if len(body) == 0 {
		return map[string]any{}, "", nil
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, "", ErrMalformedBody
	}

	payload, ok := raw.(map[string]any)
	if !ok {
		return map[string]any{}, "", nil
	}

	if m, ok := payload["model"].(string); ok && strings.TrimSpace(m) != "" {
		return payload, m, nil
	}
	return payload, "", nil
}

// NormalizeModel repairs model values that arrive with a request path glued
// on, which some clients produce when they concatenate the model into the
// endpoint URL:
//
//	deepseek-r1:latest/chat/completions     -> deepseek-r1:latest
//	deepseek-r1:latest%2Fchat%2Fcompletions -> deepseek-r1:latest
func NormalizeModel(raw string) string {
	m := strings.TrimSpace(raw)
	if m == "" {
		return ""
	}
	if strings.Contains(m, "%2F") || strings.Contains(m, "%2f") {
		if unescaped, err := url.QueryUnescape(m); err == nil {
			m = unescaped
		}
	}
	if i := strings.IndexByte(m, '/'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	return m
}
