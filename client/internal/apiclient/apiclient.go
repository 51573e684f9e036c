// Package apiclient talks to a PostgREST-style backend with a storage API next to it, the
// layout a hosted Supabase project exposes.
package apiclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/itchan-dev/pairchat/client/internal/composer"
	"github.com/itchan-dev/pairchat/client/internal/reconciler"
	"github.com/itchan-dev/pairchat/client/internal/session"
	"github.com/itchan-dev/pairchat/client/internal/watermark"
	internal_errors "github.com/itchan-dev/pairchat/shared/errors"
)

// APIClient struct handles all communication with the backend API.
type APIClient struct {
	BaseURL    string
	APIKey     string
	Bucket     string
	HttpClient *http.Client
}

var (
	_ session.Backend      = (*APIClient)(nil)
	_ reconciler.Store     = (*APIClient)(nil)
	_ watermark.Store      = (*APIClient)(nil)
	_ composer.ObjectStore = (*APIClient)(nil)
)

func New(baseURL, apiKey, bucket string) *APIClient {
	return &APIClient{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		APIKey:     apiKey,
		Bucket:     bucket,
		HttpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type option func(*http.Request)

func prefer(v string) option {
	return func(r *http.Request) { r.Header.Add("Prefer", v) }
}

func contentType(v string) option {
	return func(r *http.Request) { r.Header.Set("Content-Type", v) }
}

func contentLength(n int64) option {
	return func(r *http.Request) { r.ContentLength = n }
}

// do is the single, unified helper for making API requests.
func (c *APIClient) do(ctx context.Context, method, path string, body io.Reader, opts ...option) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create API request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("apikey", c.APIKey)
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend unavailable: %w", err)
	}
	return resp, nil
}

// check turns a non-2xx response into an error carrying the body. The body is drained and
// closed on failure.
func check(resp *http.Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer resp.Body.Close()
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("failed to %s: %w", op, internal_errors.NotFound)
	}
	return fmt.Errorf("failed to %s: %d %s", op, resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
}
