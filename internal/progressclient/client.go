// Package progressclient talks to the progress service from the player side:
// an HTTP client, a debounced sync loop and the per-playback Session.
package progressclient

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

	"github.com/example/lecture-platform/internal/platform/api"
	"github.com/example/lecture-platform/internal/watched"
)

// ErrTransport marks failures worth retrying: the request did not reach the
// service or the service was unavailable.
var ErrTransport = errors.New("progress sync transport failure")

// StatusError is a non-2xx answer from the service.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("progress service: %d %s: %s", e.Status, e.Code, e.Message)
}

// Retryable reports 429 and 5xx answers.
func (e *StatusError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func (e *StatusError) Is(target error) bool {
	return target == ErrTransport && e.Retryable()
}

// UpdateRequest is the body of POST /progress/{videoId}.
type UpdateRequest struct {
	Intervals    []watched.Interval `json:"intervals"`
	LastPosition int                `json:"lastPosition"`
	ClientTsMs   int64              `json:"clientTsMs,omitempty"`
}

type UpdateResult struct {
	State    watched.State       `json:"data"`
	Rejected []watched.Rejection `json:"rejected,omitempty"`
}

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), Token: token, HTTP: httpClient}
}

// Authenticated reports whether the client carries a token. Anonymous
// clients never call the service.
func (c *Client) Authenticated() bool {
	return c != nil && strings.TrimSpace(c.Token) != ""
}

// Get fetches the stored state; nil without a token.
func (c *Client) Get(ctx context.Context, videoID string) (*watched.State, error) {
	if !c.Authenticated() {
		return nil, nil
	}
	var env api.Envelope[watched.State]
	if err := c.do(ctx, http.MethodGet, videoID, nil, &env); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// Update posts a batch and returns the merged state; nil without a token.
func (c *Client) Update(ctx context.Context, videoID string, req UpdateRequest) (*UpdateResult, error) {
	if !c.Authenticated() {
		return nil, nil
	}
	if req.Intervals == nil {
		req.Intervals = []watched.Interval{}
	}
	var out UpdateResult
	if err := c.do(ctx, http.MethodPost, videoID, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reset clears the stored state; nil without a token.
func (c *Client) Reset(ctx context.Context, videoID string) (*watched.State, error) {
	if !c.Authenticated() {
		return nil, nil
	}
	var env api.Envelope[watched.State]
	if err := c.do(ctx, http.MethodDelete, videoID, nil, &env); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

func (c *Client) do(ctx context.Context, method, videoID string, body, dest any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+"/progress/"+url.PathEscape(videoID), rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e api.ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
		return &StatusError{Status: resp.StatusCode, Code: e.Error.Code, Message: e.Error.Message}
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrTransport, err)
	}
	return nil
}
