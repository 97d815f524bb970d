// Package adapters provides the thin external-service contracts C11
// names beyond the registration record (internal/record already covers
// that one): payment provider, SMS, object store, and address lookup.
// Every adapter exposes a timeout, a retryable/non-retryable error
// classification, and a health probe, in the same net/http + RetryDo
// idiom internal/providers uses.
package adapters

import (
	"context"
	"time"

	"github.com/clubside/regbot/internal/providers"
)

// Adapter is the common shape every external-service client in this
// package satisfies, consumed by the /health endpoint.
type Adapter interface {
	Name() string
	Timeout() time.Duration
	Classify(err error) (retryable bool)
	Healthy(ctx context.Context) error
}

// HealthReport is one adapter's up/down detail for the /health endpoint.
type HealthReport struct {
	Up        bool   `json:"up"`
	LatencyMS int64  `json:"latency_ms"`
	LastError string `json:"last_error,omitempty"`
}

// Probe runs a.Healthy bounded by the adapter's Timeout and times it,
// for the
// /health endpoint.
func Probe(ctx context.Context, a Adapter) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, a.Timeout())
	defer cancel()

	start := time.Now()
	err := a.Healthy(ctx)
	elapsed := time.Since(start)

	if err != nil {
		return HealthReport{Up: false, LatencyMS: elapsed.Milliseconds(), LastError: err.Error()}
	}
	return HealthReport{Up: true, LatencyMS: elapsed.Milliseconds()}
}

// classifyHTTPStatus classifies adapter failures: 429
// and 5xx are retryable, everything else on a well-formed request is not.
func classifyHTTPStatus(status int) bool {
	return status == 429 || status >= 500
}

// ModelAdapter wraps a providers.Provider so it satisfies Adapter for the
// /health endpoint, without the model loop needing to know about health
// probing at all.
type ModelAdapter struct {
	Provider providers.Provider
	timeout  time.Duration
}

func NewModelAdapter(p providers.Provider, timeout time.Duration) *ModelAdapter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ModelAdapter{Provider: p, timeout: timeout}
}

func (m *ModelAdapter) Name() string                 { return m.Provider.Name() }
func (m *ModelAdapter) Timeout() time.Duration        { return m.timeout }
func (m *ModelAdapter) Classify(err error) bool       { return providers.IsRetryable(err) }
func (m *ModelAdapter) Healthy(ctx context.Context) error {
	_, err := m.Provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: "ping"}},
		Options:  map[string]interface{}{providers.OptMaxTokens: 1},
	})
	return err
}
