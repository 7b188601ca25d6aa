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
)

// Version is the client version reported in the User-Agent header.
// Overridden at build time via ldflags.
var Version = "dev"

// ClientConfig holds connection settings for the permissions API.
type ClientConfig struct {
	// BaseURL is the server root, e.g. "http://localhost:8575".
	BaseURL string

	// APIKey is sent as "Authorization: Key <APIKey>" when non-empty.
	APIKey string

	// Timeout is the per-request timeout (default: 10s).
	Timeout time.Duration
}

// Client talks to the grantly permissions API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a client for the given server.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

// Permissions fetches the raw permission payload for an object. The bytes
// may be in either the legacy or the current wire shape; normalization is
// the caller's concern.
func (c *Client) Permissions(ctx context.Context, kind string, id int) ([]byte, error) {
	return c.do(ctx, http.MethodGet, c.aclURL(kind, id), nil)
}

// Grant creates one grant on an object.
func (c *Client) Grant(ctx context.Context, kind string, id int, req GrantRequest) error {
	_, err := c.do(ctx, http.MethodPost, c.aclURL(kind, id), req)
	return err
}

// Revoke removes one grant from an object.
func (c *Client) Revoke(ctx context.Context, kind string, id int, req GrantRequest) error {
	_, err := c.do(ctx, http.MethodDelete, c.aclURL(kind, id), req)
	return err
}

// Object fetches the object summary, including its author.
func (c *Client) Object(ctx context.Context, kind string, id int) (Object, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/api/objects/%s/%d", c.baseURL, kind, id), nil)
	if err != nil {
		return Object{}, err
	}
	var obj Object
	if err := json.Unmarshal(body, &obj); err != nil {
		return Object{}, fmt.Errorf("decode object: %w", err)
	}
	return obj, nil
}

// Groups fetches the complete group directory. The server may return a bare
// array or a {"results": [...]} wrapper; both are accepted.
func (c *Client) Groups(ctx context.Context) ([]Group, error) {
	body, err := c.do(ctx, http.MethodGet, c.baseURL+"/api/groups", nil)
	if err != nil {
		return nil, err
	}
	var groups []Group
	if err := unmarshalResults(body, &groups); err != nil {
		return nil, fmt.Errorf("decode groups: %w", err)
	}
	return groups, nil
}

// SearchUsers queries the user directory by free-text term. An empty term
// is allowed and matches everyone the caller may see.
func (c *Client) SearchUsers(ctx context.Context, term string) ([]User, error) {
	u := c.baseURL + "/api/users?q=" + url.QueryEscape(term)
	body, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var users []User
	if err := unmarshalResults(body, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return users, nil
}

// aclURL returns the permissions endpoint for one object.
func (c *Client) aclURL(kind string, id int) string {
	return fmt.Sprintf("%s/api/permissions/%s/%d", c.baseURL, kind, id)
}

// do issues one request and returns the response body. Non-2xx responses
// become errors carrying the status and a truncated body excerpt.
func (c *Client) do(ctx context.Context, method, rawURL string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "grantly/"+Version)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Key "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt := string(body)
		if len(excerpt) > 256 {
			excerpt = excerpt[:256]
		}
		return nil, fmt.Errorf("%s %s: HTTP %d: %s", method, rawURL, resp.StatusCode, excerpt)
	}

	return body, nil
}

// unmarshalResults decodes either a bare JSON array or an object with a
// "results" field holding that array.
func unmarshalResults(body []byte, out any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, out)
	}
	var wrapper struct {
		Results json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return err
	}
	if wrapper.Results == nil {
		return fmt.Errorf("expected array or results wrapper")
	}
	return json.Unmarshal(wrapper.Results, out)
}
