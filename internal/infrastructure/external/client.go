// Package external holds the HTTP clients for the collaborators the
// pharmacy talks to: the claims switch, the PDMP registry gateway and the
// pickup notification webhook.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ClientConfig configures one HTTP collaborator
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

type jsonClient struct {
	base   string
	apiKey string
	http   *http.Client
	logger *zap.Logger
	tracer trace.Tracer
}

func newJSONClient(name string, cfg ClientConfig, logger *zap.Logger) *jsonClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &jsonClient{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey: cfg.APIKey,
		http:   &http.Client{Timeout: timeout},
		logger: logger.With(zap.String("collaborator", name)),
		tracer: otel.Tracer("external-" + name),
	}
}

// post sends body as JSON and decodes a 2xx response into out (when non-nil)
func (c *jsonClient) post(ctx context.Context, path string, body, out interface{}, headers map[string]string) error {
	ctx, span := c.tracer.Start(ctx, "http_post", trace.WithAttributes(attribute.String("path", path)))
	defer span.End()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("status_code", resp.StatusCode))
	c.logger.Debug("external call",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		span.RecordError(err)
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
