// internal/gateway/client.go
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/FairForge/roomd/internal/api"
	"github.com/FairForge/roomd/internal/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrUnreachable means no endpoint produced a usable reply
var ErrUnreachable = errors.New("no allocation server reachable")

const maxReplyBody = 64 << 10

// Client sends allocation requests to an ordered list of servers, normally
// primary then backup. Transport failures, timeouts and 503 replies move on
// to the next server; any other reply is final.
type Client struct {
	endpoints []string
	client    *http.Client
	timeout   time.Duration
	logger    *zap.Logger
	newID     func() string
}

// NewClient creates a client; empty addresses are skipped
func NewClient(addrs []string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	c := &Client{
		client:  &http.Client{},
		timeout: timeout,
		logger:  logger,
		newID:   uuid.NewString,
	}
	for _, addr := range addrs {
		if addr != "" {
			c.endpoints = append(c.endpoints, common.BaseURL(addr)+api.ReservationsPath)
		}
	}
	return c
}

// Endpoints returns the reservation URLs in attempt order
func (c *Client) Endpoints() []string {
	return append([]string(nil), c.endpoints...)
}

// Send allocates rooms and labs for requester under a fresh request id
func (c *Client) Send(ctx context.Context, requester string, rooms, labs int) (*api.ReservationResponse, error) {
	return c.SendRequest(ctx, api.ReservationRequest{
		RequestID:      c.newID(),
		Requester:      requester,
		RoomsRequested: rooms,
		LabsRequested:  labs,
	})
}

// SendRequest delivers req, reusing its request id for every attempt so a
// retry against the backup is recognised as a duplicate
func (c *Client) SendRequest(ctx context.Context, req api.ReservationRequest) (*api.ReservationResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	lastErr := errors.New("no endpoints configured")
	for _, url := range c.endpoints {
		resp, err := c.attempt(ctx, url, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		c.logger.Warn("allocation attempt failed",
			zap.String("endpoint", url),
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrUnreachable, lastErr)
}

func (c *Client) attempt(ctx context.Context, url string, body []byte) (*api.ReservationResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	var resp api.ReservationResponse
	if err := json.NewDecoder(io.LimitReader(httpResp.Body, maxReplyBody)).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode reply (http %d): %w", httpResp.StatusCode, err)
	}
	if httpResp.StatusCode == http.StatusServiceUnavailable {
		return nil, fmt.Errorf("server unavailable: %s", resp.Message)
	}
	return &resp, nil
}
