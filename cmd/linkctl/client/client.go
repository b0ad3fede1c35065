// Package client is a small JSON client for the devicelink HTTP surface,
// used by linkctl.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sandboxhq/devicelink/api"
)

// Client talks to a running devicelink server on behalf of one user.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Initiate starts a flow for the given provider.
func (c *Client) Initiate(ctx context.Context, provider string) (*api.InitiateLinkResponse, error) {
	var out api.InitiateLinkResponse
	err := c.do(ctx, http.MethodPost, "/v1/device-links", api.InitiateLinkRequest{Provider: provider}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Poll drives one upstream poll of the flow.
func (c *Client) Poll(ctx context.Context, flowID string) (*api.FlowStatusResponse, error) {
	var out api.FlowStatusResponse
	err := c.do(ctx, http.MethodPost, "/v1/device-links/"+flowID+"/poll", nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Status reads the flow state without an upstream call.
func (c *Client) Status(ctx context.Context, flowID string) (*api.FlowStatusResponse, error) {
	var out api.FlowStatusResponse
	err := c.do(ctx, http.MethodGet, "/v1/device-links/"+flowID, nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel deletes the flow.
func (c *Client) Cancel(ctx context.Context, flowID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/device-links/"+flowID, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr api.ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
