package rest

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
)

// Client provides REST API access to the collaboration server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new REST API client.
// baseURL should be the base URL of the API, e.g., "http://localhost:8080/api".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient allows setting a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// SetToken sets the bearer token for authenticated requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Authentication endpoints

// Register creates a new account and returns the server's confirmation text.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (string, error) {
	return c.text(ctx, http.MethodPost, "/auth/register", req)
}

// Login checks credentials and returns the server's confirmation text.
func (c *Client) Login(ctx context.Context, req LoginRequest) (string, error) {
	return c.text(ctx, http.MethodPost, "/auth/login", req)
}

// Workspace endpoints

// LoadWorkspace returns the saved files of a room (name -> content). A room
// that was never saved yields an empty map.
func (c *Client) LoadWorkspace(ctx context.Context, roomID string) (map[string]string, error) {
	files := map[string]string{}
	if err := c.get(ctx, "/workspace/"+url.PathEscape(roomID)+"/load", &files); err != nil {
		return nil, err
	}
	return files, nil
}

// SaveWorkspace persists files under roomID, owned by username.
func (c *Client) SaveWorkspace(ctx context.Context, roomID, username, roomName string, files map[string]string) (string, error) {
	q := url.Values{"username": {username}, "roomName": {roomName}}
	return c.text(ctx, http.MethodPost, "/workspace/"+url.PathEscape(roomID)+"/save?"+q.Encode(), files)
}

// ListWorkspaces returns the workspaces owned by username.
func (c *Client) ListWorkspaces(ctx context.Context, username string) ([]WorkspaceInfo, error) {
	var resp []WorkspaceInfo
	if err := c.get(ctx, "/workspace/user/"+url.PathEscape(username), &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// DeleteWorkspace removes a workspace. Only its owner may delete it.
func (c *Client) DeleteWorkspace(ctx context.Context, roomID, username string) (string, error) {
	q := url.Values{"username": {username}}
	return c.text(ctx, http.MethodDelete, "/workspace/"+url.PathEscape(roomID)+"/delete?"+q.Encode(), nil)
}

// Execution endpoint

// Execute runs code remotely and returns its combined output. The server
// rate-limits runs per client; see IsRateLimited.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) (string, error) {
	return c.text(ctx, http.MethodPost, "/execute", req)
}

// Helper methods

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var bodyReader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	body, err := c.do(req)
	if err != nil {
		return err
	}
	if dest != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, dest); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// text performs a request whose response is plain text. The server reports
// some failures as a body starting with "Error" even on 2xx.
func (c *Client) text(ctx context.Context, method, path string, body any) (string, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return "", err
	}
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	msg := string(resp)
	if strings.HasPrefix(msg, "Error") {
		return "", &APIError{StatusCode: http.StatusOK, Message: msg}
	}
	return msg, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// Handle error responses
	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return body, nil
}
