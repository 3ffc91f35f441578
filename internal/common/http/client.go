// internal/common/http/client.go
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a bounded-timeout HTTP client that attaches a bearer token to
// every request.
type Client struct {
	httpClient *http.Client
	token      func() string
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// WithBearer returns a copy of c that sends Authorization: Bearer <token()>.
// token is read per request so a logout/login swaps credentials in place.
func (c *Client) WithBearer(token func() string) *Client {
	return &Client{httpClient: c.httpClient, token: token}
}

// WithTransport swaps the underlying RoundTripper; tests use it to inject
// failures.
func (c *Client) WithTransport(rt http.RoundTripper) *Client {
	hc := *c.httpClient
	hc.Transport = rt
	return &Client{httpClient: &hc, token: c.token}
}

func (c *Client) Timeout() time.Duration {
	return c.httpClient.Timeout
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	return c.httpClient.Do(req)
}

// NewJSONRequest builds a request with body encoded as JSON. A nil body sends
// no payload.
func NewJSONRequest(ctx context.Context, method, url string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}
