package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wa-gateway/internal/metrics"
)

// Transport is the injected HTTP boundary: method, URL, headers and body in,
// decoded JSON out. Adapters never touch sockets directly, so tests can swap
// the whole wire layer.
type Transport interface {
	DoJSON(ctx context.Context, method, rawURL string, headers map[string]string, body any) (any, error)
}

// HTTPTransport implements Transport over net/http with request metrics and
// transient/fatal classification of HTTP failures.
type HTTPTransport struct {
	providerID string
	logger     *slog.Logger
	metrics    *metrics.Metrics
	http       *http.Client
}

// NewHTTPTransport creates a transport labelled with the owning provider id.
func NewHTTPTransport(providerID string, timeout time.Duration, logger *slog.Logger, metricRegistry *metrics.Metrics) *HTTPTransport {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPTransport{
		providerID: strings.ToLower(providerID),
		logger:     logger.With("component", "transport", "provider", providerID),
		metrics:    metricRegistry,
		http:       &http.Client{Timeout: timeout},
	}
}

// DoJSON performs one request and decodes the JSON response. Non-JSON bodies
// are preserved under a "raw" key rather than treated as failures; gateway
// vendors are not reliable about content types.
func (t *HTTPTransport) DoJSON(ctx context.Context, method, rawURL string, headers map[string]string, body any) (any, error) {
	op := endpointLabel(method, rawURL)

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, NewError(t.providerID, op, "encode request body", false, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, NewError(t.providerID, op, "new request", false, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, val := range headers {
		req.Header.Set(key, val)
	}

	start := time.Now()
	res, err := t.http.Do(req)
	if err != nil {
		if t.metrics != nil {
			t.metrics.ProviderRequests.WithLabelValues(t.providerID, op, "error").Inc()
		}
		// Network level failures (timeouts, refused connections) are
		// expected to clear on retry.
		return nil, NewError(t.providerID, op, "request failed", true, err)
	}
	defer res.Body.Close()

	statusLabel := fmt.Sprintf("%d", res.StatusCode)
	if t.metrics != nil {
		t.metrics.ProviderRequests.WithLabelValues(t.providerID, op, statusLabel).Inc()
		t.metrics.ProviderLatency.WithLabelValues(t.providerID, op, statusLabel).Observe(time.Since(start).Seconds())
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, NewError(t.providerID, op, "read response", true, err)
	}

	if res.StatusCode >= 400 {
		return nil, t.classifyStatus(op, res.StatusCode, raw)
	}

	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return map[string]any{"raw": string(raw)}, nil
	}
	return decoded, nil
}

func (t *HTTPTransport) classifyStatus(op string, status int, body []byte) *Error {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}
	message := fmt.Sprintf("status=%d body=%s", status, snippet)

	transient := status == http.StatusRequestTimeout ||
		status == http.StatusTooEarly ||
		status == http.StatusTooManyRequests ||
		status >= 500

	lower := strings.ToLower(snippet)
	if strings.Contains(lower, "invalid credential") ||
		strings.Contains(lower, "invalid api key") ||
		strings.Contains(lower, "invalid token") ||
		strings.Contains(lower, "unauthorized") {
		transient = false
	}

	return NewError(t.providerID, op, message, transient, nil)
}

// endpointLabel keeps metric cardinality bounded: method plus path, query
// string dropped.
func endpointLabel(method, rawURL string) string {
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Path != "" {
		return method + " " + parsed.Path
	}
	return method
}
