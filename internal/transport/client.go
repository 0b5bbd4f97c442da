// Package transport is the generic "POST JSON, get JSON-or-error" HTTP client
// used for both the queue service and the inference servers.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxErrorBody caps how much of a failed response body is kept for logging.
const maxErrorBody = 4096

// Options configures a Client.
type Options struct {
	Timeout time.Duration     // per-request timeout; zero means none
	Headers map[string]string // sent on every request
}

// Client posts JSON and returns the raw JSON response body.
type Client struct {
	http    *http.Client
	headers map[string]string
}

// NewClient creates a Client with the given options.
func NewClient(opts Options) *Client {
	return &Client{
		http:    &http.Client{Timeout: opts.Timeout},
		headers: opts.Headers,
	}
}

// PostJSON marshals body, posts it to url and returns the response body.
//
// Returns *TransportError when the request never completed, *ServerError on a
// non-2xx status and *ParseError when the response is not valid JSON.
func (c *Client) PostJSON(ctx context.Context, url string, body any) ([]byte, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request for %s: %w", url, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	req.Header.Set("Content-Type", "application/json")

	status, data, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, &ServerError{URL: url, Status: status, Body: truncate(data)}
	}
	if !json.Valid(data) {
		return nil, NewParseError("response from "+url, fmt.Errorf("invalid JSON: %q", truncate(data)))
	}
	return data, nil
}

// Get issues a GET and returns the status code and body. Only failures below
// HTTP are returned as errors; any status code is a successful round trip.
func (c *Client) Get(ctx context.Context, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &TransportError{URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &TransportError{URL: req.URL.String(), Err: fmt.Errorf("read body: %w", err)}
	}
	return resp.StatusCode, data, nil
}

func truncate(data []byte) string {
	if len(data) > maxErrorBody {
		return string(data[:maxErrorBody]) + "..."
	}
	return string(data)
}
