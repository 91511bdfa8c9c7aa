// Package remote talks to the hosted Supabase backend: auth verification,
// PostgREST inserts, and storage uploads. It holds no retry or batching
// logic; callers wrap it with the resilience layer.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// ErrUnauthorized is returned when the access token is missing, expired, or
// rejected by the backend.
var ErrUnauthorized = errors.New("remote: unauthorized")

// Client communicates with a Supabase project over its REST surface.
type Client struct {
	baseURL     string
	anonKey     string
	accessToken string
	httpClient  *http.Client
}

// NewClient creates a client for the given project URL. anonKey identifies
// the project; accessToken identifies the signed-in user.
func NewClient(baseURL, anonKey, accessToken string) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		anonKey:     anonKey,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: defaultTimeout},
	}
}

// User is the authenticated identity behind the access token.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// CurrentUser verifies the access token and returns the user it belongs to.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verifying session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(resp)
	}

	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("decoding user: %w", err)
	}
	if u.ID == "" {
		return nil, ErrUnauthorized
	}
	return &u, nil
}

// Insert posts rows into a PostgREST table. The rows slice is sent as a
// single JSON array; PostgREST applies it atomically.
func (c *Client) Insert(ctx context.Context, table string, rows any) error {
	body, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshaling rows: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/rest/v1/"+url.PathEscape(table), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, "application/json")
	req.Header.Set("Prefer", "return=minimal")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("inserting into %s: %w", table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	if resp.StatusCode >= 300 {
		return errorFromResponse(resp)
	}
	return nil
}

// Upload stores a blob in a storage bucket and returns its public URL.
func (c *Client) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/storage/v1/object/"+url.PathEscape(bucket)+"/"+escapePath(path),
		bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, contentType)
	req.Header.Set("Cache-Control", "max-age=3600")
	req.Header.Set("x-upsert", "true")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrUnauthorized
	}
	if resp.StatusCode >= 300 {
		return "", errorFromResponse(resp)
	}

	return c.baseURL + "/storage/v1/object/public/" + url.PathEscape(bucket) + "/" + escapePath(path), nil
}

func (c *Client) setHeaders(req *http.Request, contentType string) {
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
}

// escapePath escapes each segment of a storage object path while keeping the
// separators intact.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("remote returned %d: %s", resp.StatusCode, msg)
}
