// Package restclient is the JSON-over-HTTP client shared by the broker and
// directory clients.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tanmay-xvx/meshbus/internals/buserr"
	"github.com/tanmay-xvx/meshbus/internals/models"
)

// Client calls one server's JSON API.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a client for address. A bare host:port is served over http.
func New(address string, timeout time.Duration) Client {
	base := address
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return Client{
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the server URL requests are sent to.
func (c Client) BaseURL() string {
	return c.baseURL
}

// Do sends in as JSON and decodes a successful response into out. Error
// responses carrying a kind come back as *buserr.Error; anything else the
// caller cannot interpret wraps buserr.ErrCommunication.
func (c Client) Do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return buserr.Communication(c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var result models.Result
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return buserr.Communication(c.baseURL, fmt.Errorf("status %d", resp.StatusCode))
		}
		if result.Kind == "" {
			return buserr.Communication(c.baseURL, fmt.Errorf("status %d: %s", resp.StatusCode, result.Result))
		}
		return buserr.FromWire(result.Kind, result.Result)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return buserr.Communication(c.baseURL, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// Call is Do for endpoints answering with a models.Result; it returns the
// result text.
func (c Client) Call(ctx context.Context, method, path string, in interface{}) (string, error) {
	var result models.Result
	if err := c.Do(ctx, method, path, in, &result); err != nil {
		return "", err
	}
	return result.Result, nil
}
