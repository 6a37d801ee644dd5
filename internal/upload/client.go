package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Client reads session progress from a remote server.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ ProgressSource = (*Client)(nil)

// NewClient returns a client for the server at baseURL. hc may be nil.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// GetProgress implements ProgressSource over GET /upload/{id}/progress.
func (c *Client) GetProgress(ctx context.Context, id SessionID) (Session, error) {
	u := c.baseURL + "/upload/" + url.PathEscape(string(id)) + "/progress"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Session{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("get progress: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Session{}, ErrSessionNotFound
	default:
		return Session{}, fmt.Errorf("get progress: unexpected status %d", resp.StatusCode)
	}

	var s Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return Session{}, fmt.Errorf("decode progress: %w", err)
	}
	return s, nil
}
