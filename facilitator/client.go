package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	x402 "github.com/smart402/x402-go"
)

// Client is an HTTP client for a remote facilitator service.
type Client struct {
	// BaseURL is the facilitator service URL, without a trailing slash.
	BaseURL string

	// Client is the HTTP client to use for requests. If nil,
	// http.DefaultClient is used.
	Client *http.Client

	// Authorization is an optional Authorization header value sent with
	// every request (e.g. "Bearer token").
	Authorization string
}

// Verify that Client implements Interface.
var _ Interface = (*Client)(nil)

func (c *Client) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

func (c *Client) Verify(ctx context.Context, h x402.Header, required []string) (*VerifyResponse, error) {
	wire, err := headerToWire(h)
	if err != nil {
		return nil, err
	}
	var resp VerifyResponse
	if err := c.post(ctx, "/verify", VerifyRequest{Header: wire, Conditions: required}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Settle(ctx context.Context, h x402.Header, required []string) (*SettleResponse, error) {
	wire, err := headerToWire(h)
	if err != nil {
		return nil, err
	}
	var resp SettleResponse
	if err := c.post(ctx, "/settle", SettleRequest{Header: wire, Conditions: required}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Status(ctx context.Context, recordID string) (*StatusResponse, error) {
	endpoint := c.BaseURL + "/status/" + url.PathEscape(recordID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var resp StatusResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.Authorization != "" {
		req.Header.Set("Authorization", c.Authorization)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("x402: facilitator %s returned %d: %s",
			req.URL.Path, resp.StatusCode, errorBody(resp.Body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// errorBody extracts the error message from a JSON error response,
// falling back to the raw body.
func errorBody(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(raw))
}
