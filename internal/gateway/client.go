package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxErrorBody = 512

// Client is a JSON-over-HTTP client authenticated with a bearer token.
type Client struct {
	Name    string
	BaseURL string
	Token   string
	Timeout time.Duration
	HTTP    *http.Client
}

// NewClient returns a Client for the named gateway.
func NewClient(name, baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		Name:    name,
		BaseURL: baseURL,
		Token:   token,
		Timeout: timeout,
		HTTP:    &http.Client{},
	}
}

// Do sends body as JSON to path and decodes a JSON response into out when
// out is non-nil. Failures are returned as *RemoteError.
func (c *Client) Do(ctx context.Context, op, method, path string, body, out any) error {
	if c.Token == "" {
		return &RemoteError{Gateway: c.Name, Op: op, Permanent: true, Err: ErrNotConfigured}
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return &RemoteError{Gateway: c.Name, Op: op, Permanent: true, Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return &RemoteError{Gateway: c.Name, Op: op, Permanent: true, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &RemoteError{Gateway: c.Name, Op: op, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RemoteError{Gateway: c.Name, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := string(payload)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return &RemoteError{
			Gateway:    c.Name,
			Op:         op,
			StatusCode: resp.StatusCode,
			Permanent:  PermanentStatus(resp.StatusCode),
			Body:       text,
		}
	}

	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &RemoteError{Gateway: c.Name, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
