// internal/gateway/admin.go
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/FairForge/roomd/internal/api"
	"github.com/FairForge/roomd/internal/common"
	"github.com/FairForge/roomd/internal/ledger"
)

// APIError is a non-2xx admin reply
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("admin api: %d %s", e.StatusCode, e.Message)
}

// AdminClient calls the operator endpoints of one server
type AdminClient struct {
	base   string
	token  string
	client *http.Client
}

// NewAdminClient targets the allocation listener at addr with an operator token
func NewAdminClient(addr, token string, timeout time.Duration) *AdminClient {
	return &AdminClient{
		base:   common.BaseURL(addr),
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

func (a *AdminClient) ListRecords(ctx context.Context) (*api.RecordList, error) {
	var out api.RecordList
	if err := a.do(ctx, http.MethodGet, "/admin/records", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *AdminClient) GetRecord(ctx context.Context, seq int64) (*ledger.Record, error) {
	var out ledger.Record
	if err := a.do(ctx, http.MethodGet, "/admin/records/"+strconv.FormatInt(seq, 10), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *AdminClient) DeleteRecord(ctx context.Context, seq int64) (*api.DeleteResult, error) {
	var out api.DeleteResult
	if err := a.do(ctx, http.MethodDelete, "/admin/records/"+strconv.FormatInt(seq, 10), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *AdminClient) DeleteAll(ctx context.Context) (*api.DeleteResult, error) {
	var out api.DeleteResult
	if err := a.do(ctx, http.MethodDelete, "/admin/records", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *AdminClient) Pool(ctx context.Context) (*ledger.Pool, error) {
	var out ledger.Pool
	if err := a.do(ctx, http.MethodGet, "/admin/pool", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetMode switches the server between accepting and idle
func (a *AdminClient) SetMode(ctx context.Context, accepting bool) (*api.Mode, error) {
	var out api.Mode
	if err := a.do(ctx, http.MethodPut, "/admin/mode", api.Mode{Accepting: accepting}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *AdminClient) Status(ctx context.Context) (*api.ServerStatus, error) {
	var out api.ServerStatus
	if err := a.do(ctx, http.MethodGet, "/admin/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *AdminClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base+path, body)
	if err != nil {
		return fmt.Errorf("build %s: %w", path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		var apiErr api.ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, maxReplyBody)).Decode(&apiErr)
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
