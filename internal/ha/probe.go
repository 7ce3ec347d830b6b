// internal/ha/probe.go
package ha

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/FairForge/roomd/internal/common"
)

const (
	// HealthPath is served on every server's health listener
	HealthPath = "/ping"

	pingBody = "PING"
	pongBody = "PONG"
)

// Prober checks whether the original primary is alive
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober
type ProberFunc func(ctx context.Context) error

// Probe calls f
func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// HTTPProber sends PING to a health endpoint and expects PONG
type HTTPProber struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPProber creates a prober for the health listener at addr
func NewHTTPProber(addr string, timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		url:     common.BaseURL(addr) + HealthPath,
		client:  &http.Client{},
		timeout: timeout,
	}
}

// Probe fails on timeout, transport error, or any reply other than PONG
func (p *HTTPProber) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, strings.NewReader(pingBody))
	if err != nil {
		return fmt.Errorf("build probe: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return fmt.Errorf("read probe reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !bytes.Equal(bytes.TrimSpace(body), []byte(pongBody)) {
		return fmt.Errorf("probe %s: unexpected reply %d %q", p.url, resp.StatusCode, body)
	}
	return nil
}

// HealthHandler answers PING with PONG regardless of role
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 64))
		if err != nil || string(bytes.TrimSpace(body)) != pingBody {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("expected PING"))
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(pongBody))
	}
}
