// Package client provides a typed Go client for the ContractGuard HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aspace-os/contractguard/pkg/api"
	"github.com/aspace-os/contractguard/pkg/contracts"
	"github.com/aspace-os/contractguard/pkg/contractsync"
	"github.com/aspace-os/contractguard/pkg/guard"
	"github.com/aspace-os/contractguard/pkg/schema"
	"github.com/aspace-os/contractguard/pkg/store/ledger"
)

// APIError is returned when the API responds with a non-2xx status. For a
// refused or rejected write, Problem.Result carries the guard outcome.
type APIError struct {
	Status  int
	Problem api.ProblemDetail
}

func (e *APIError) Error() string {
	return fmt.Sprintf("contractguard api %d: %s: %s", e.Status, e.Problem.Title, e.Problem.Detail)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Client is a typed client for the ContractGuard API.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// New creates a new Client.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Option configures the client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.Token = token }
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTPClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr.Problem); err != nil {
			apiErr.Problem.Title = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Health is the body of GET /health.
type Health struct {
	Status        string     `json:"status"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	Mode          guard.Mode `json:"mode"`
	LastSync      *time.Time `json:"last_sync"`
	Syncing       bool       `json:"syncing"`
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ContractRequest is the body of POST /contracts and POST /validate.
type ContractRequest struct {
	ContractID   string         `json:"contractId,omitempty"`
	ContractType contracts.Type `json:"contractType"`
	Data         map[string]any `json:"data"`
}

// WriteContract calls POST /contracts. A rejected or refused write returns
// both the guard result and an *APIError.
func (c *Client) WriteContract(ctx context.Context, req ContractRequest) (*guard.Result, error) {
	var out guard.Result
	err := c.do(ctx, http.MethodPost, "/contracts", req, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Problem.Result != nil {
		return apiErr.Problem.Result, err
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Validate calls POST /validate. Nothing is written.
func (c *Client) Validate(ctx context.Context, req ContractRequest) (*schema.Outcome, error) {
	var out schema.Outcome
	if err := c.do(ctx, http.MethodPost, "/validate", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetContract calls GET /contracts/{id}.
func (c *Client) GetContract(ctx context.Context, id string) (*guard.StatusView, error) {
	var out guard.StatusView
	if err := c.do(ctx, http.MethodGet, "/contracts/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyContract calls GET /contracts/{id}/verify.
func (c *Client) VerifyContract(ctx context.Context, id string) (bool, error) {
	var out struct {
		Valid bool `json:"valid"`
	}
	if err := c.do(ctx, http.MethodGet, "/contracts/"+url.PathEscape(id)+"/verify", nil, &out); err != nil {
		return false, err
	}
	return out.Valid, nil
}

// ListOptions narrows ListContracts. Zero fields are omitted.
type ListOptions struct {
	Type   contracts.Type
	Status contracts.Status
	Limit  int
	// Filter is a CEL expression over contract_id, contract_type, status,
	// created_at and payload.
	Filter string
}

func (o ListOptions) query() string {
	q := url.Values{}
	if o.Type != "" {
		q.Set("type", string(o.Type))
	}
	if o.Status != "" {
		q.Set("status", string(o.Status))
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Filter != "" {
		q.Set("filter", o.Filter)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// ListContracts calls GET /contracts.
func (c *Client) ListContracts(ctx context.Context, opts ListOptions) ([]ledger.Entry, error) {
	var out struct {
		Contracts []ledger.Entry `json:"contracts"`
	}
	if err := c.do(ctx, http.MethodGet, "/contracts"+opts.query(), nil, &out); err != nil {
		return nil, err
	}
	return out.Contracts, nil
}

// TriggerSync calls POST /sync. A pass already running returns an
// *APIError with status 409.
func (c *Client) TriggerSync(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/sync", nil, nil)
}

// SyncStatus calls GET /status. The result is nil before the first pass.
func (c *Client) SyncStatus(ctx context.Context) (syncing bool, last *contractsync.Result, err error) {
	var out struct {
		Syncing bool                 `json:"syncing"`
		Result  *contractsync.Result `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		return false, nil, err
	}
	return out.Syncing, out.Result, nil
}
