// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpclient wraps net/http with a single-retry-with-backoff
// policy for upstream-unavailable errors: retried once with backoff
// inside the caller; a second failure is surfaced as the operation's
// failure mode.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Client wraps http.Client with a bounded single-retry policy.
type Client struct {
	http      *http.Client
	baseDelay time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client (for timeouts, TLS, etc.).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithBaseDelay sets the backoff base delay before the single retry.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) { c.baseDelay = d }
}

// New creates a Client with sensible defaults.
func New(opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{Timeout: 60 * time.Second},
		baseDelay: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do executes req, retrying exactly once with exponential backoff on a
// transport error or a 429/5xx response. A second failure is returned
// to the caller untouched: upstream-unavailable failures are the
// caller's responsibility to handle (worker escalates, critic passes,
// cache misses).
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.attempt(req)
	if !shouldRetry(resp, err) {
		return resp, err
	}
	if resp != nil {
		resp.Body.Close()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.baseDelay
	delay := b.NextBackOff()

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		req.Body = body
	}
	return c.attempt(req)
}

func (c *Client) attempt(req *http.Request) (*http.Response, error) {
	return c.http.Do(req)
}

func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
}

// ReadBody reads and closes resp.Body, returning a descriptive error if
// the status code indicates failure.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
