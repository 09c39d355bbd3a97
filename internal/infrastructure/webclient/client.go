package webclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"surveillance_service/internal/domain/model"
)

const maxErrorBody = 512

// Client posts JSON to one external collaborator. Every failure comes back as *model.ExternalServiceError.
type Client struct {
	service string
	client  *http.Client
}

func New(service string, timeout time.Duration) *Client {
	return &Client{
		service: service,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewWithHTTPClient is used by tests to point at an httptest server.
func NewWithHTTPClient(service string, client *http.Client) *Client {
	return &Client{service: service, client: client}
}

func (c *Client) Service() string { return c.service }

// PostJSON sends body as JSON and returns the raw response body of a 2xx response.
func (c *Client) PostJSON(ctx context.Context, url string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", c.service, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, c.fail(0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.fail(0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.fail(resp.StatusCode, fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, c.fail(resp.StatusCode, fmt.Errorf("unexpected response: %q", msg))
	}
	return data, nil
}

// DecodeJSON posts body and decodes a JSON response into out.
func (c *Client) DecodeJSON(ctx context.Context, url string, body, out any) error {
	data, err := c.PostJSON(ctx, url, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return c.fail(0, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func (c *Client) fail(status int, err error) error {
	return &model.ExternalServiceError{Service: c.service, StatusCode: status, Err: err}
}

// JoinURL appends path segments to a root URL without doubling slashes.
func JoinURL(root string, segments ...string) string {
	out := strings.TrimRight(root, "/")
	for _, s := range segments {
		out += "/" + strings.Trim(s, "/")
	}
	return out
}
