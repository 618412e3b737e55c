// Package population reads the current online-user count from the remote API.
package population

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// UsersPath is the population endpoint relative to the API base URL.
const UsersPath = "/api/public/origins/users"

const maxBodyBytes = 64 * 1024

// ErrFetch wraps every way a fetch can fail: transport, status, or body.
var ErrFetch = errors.New("population fetch failed")

// Source returns the current online-user count
type Source interface {
	Fetch(ctx context.Context) (int, error)
}

// HTTPSource implements Source against the public HTTP API
type HTTPSource struct {
	endpoint string
	client   *http.Client
}

type usersResponse struct {
	OnlineUsers *int `json:"onlineUsers"`
}

// NewHTTP creates a source for baseURL
func NewHTTP(baseURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		endpoint: strings.TrimSuffix(baseURL, "/") + UsersPath,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Endpoint returns the full URL polled by Fetch
func (s *HTTPSource) Endpoint() string {
	return s.endpoint
}

// Fetch issues one GET and parses onlineUsers
func (s *HTTPSource) Fetch(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to create request: %v", ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return 0, fmt.Errorf("%w: status %d", ErrFetch, resp.StatusCode)
	}

	var body usersResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return 0, fmt.Errorf("%w: invalid body: %v", ErrFetch, err)
	}
	if body.OnlineUsers == nil {
		return 0, fmt.Errorf("%w: onlineUsers missing", ErrFetch)
	}
	if *body.OnlineUsers < 0 {
		return 0, fmt.Errorf("%w: negative onlineUsers %d", ErrFetch, *body.OnlineUsers)
	}

	return *body.OnlineUsers, nil
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context) (int, error)

// Fetch implements Source
func (f SourceFunc) Fetch(ctx context.Context) (int, error) {
	return f(ctx)
}
