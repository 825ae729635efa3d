// Package api is the HTTP client for the backend file service.
//
// Failures are terminal at the call site: callers log and keep their
// last-known-good state, they do not retry. The only retry loop in the
// program is the live channel's reconnect.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lotas/werkbank/internal/tree"
	"github.com/lotas/werkbank/internal/types"
)

// Client talks to the backend file service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the given base URL (scheme://host[:port]).
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// BaseURL returns the configured backend URL.
func (c *Client) BaseURL() string { return c.baseURL }

// errorBody is the backend's {"error": "..."} shape, returned with a 200 on
// some endpoints instead of a status code.
type errorBody struct {
	Error string `json:"error"`
}

// FetchTree fetches the authoritative tree shape. Content fields are never
// populated by this endpoint.
func (c *Client) FetchTree(ctx context.Context) ([]*tree.Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch tree: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch tree: server returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch tree: %w", err)
	}

	var nodes []*tree.Node
	if err := json.Unmarshal(body, &nodes); err != nil {
		// The backend reports a missing working directory as {"error": ...}.
		var eb errorBody
		if json.Unmarshal(body, &eb) == nil && eb.Error != "" {
			return nil, fmt.Errorf("fetch tree: %s", eb.Error)
		}
		return nil, fmt.Errorf("fetch tree: %w", err)
	}
	return nodes, nil
}

// FetchContent fetches one file's content by path.
func (c *Client) FetchContent(ctx context.Context, path string) (string, error) {
	u := c.baseURL + "/files/content?path=" + url.QueryEscape(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch content %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch content %s: server returned %d", path, resp.StatusCode)
	}

	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("fetch content %s: %w", path, err)
	}
	return body.Content, nil
}

// SaveFile persists edited content.
func (c *Client) SaveFile(ctx context.Context, path, content string) error {
	return c.post(ctx, "/files/save", map[string]string{
		"path":    path,
		"content": content,
	}, nil)
}

// CreateNode creates a file or folder at the given path.
func (c *Client) CreateNode(ctx context.Context, path string, nodeType tree.NodeType) error {
	return c.post(ctx, "/files/create", map[string]string{
		"path": path,
		"type": string(nodeType),
	}, nil)
}

// DeleteNode deletes a file or, recursively, a folder.
func (c *Client) DeleteNode(ctx context.Context, path string) error {
	return c.post(ctx, "/files/delete", map[string]string{
		"path": path,
	}, nil)
}

// Execute runs a shell command in the backend's working directory.
func (c *Client) Execute(ctx context.Context, command string) (*types.ExecResult, error) {
	var result types.ExecResult
	err := c.post(ctx, "/terminal/execute", map[string]string{
		"command": command,
	}, &result)
	if err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, fmt.Errorf("execute: %s", result.Error)
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: server returned %d", endpoint, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s: %w", endpoint, err)
		}
	}
	return nil
}
