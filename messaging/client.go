// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bureau-foundation/agentbridge/lib/clock"
	"github.com/bureau-foundation/agentbridge/lib/netutil"
	"github.com/bureau-foundation/agentbridge/lib/secret"
)

const (
	// defaultRateLimitRetries is how many times a rate-limited request
	// is retried before the M_LIMIT_EXCEEDED error is returned.
	defaultRateLimitRetries = 3

	// Bounds on the wait before retrying a rate-limited request.
	defaultRateLimitWait = time.Second
	maxRateLimitWait     = 30 * time.Second
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// HomeserverURL is the client-server API base, e.g.
	// "https://matrix.example.org".
	HomeserverURL string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client

	// RateLimitRetries overrides defaultRateLimitRetries. Negative
	// disables retrying.
	RateLimitRetries int

	// Clock times rate-limit waits. Nil means the real clock.
	Clock clock.Clock

	Logger *slog.Logger
}

// Client talks to one homeserver without credentials. Sessions built
// from it add a token.
type Client struct {
	baseURL          string
	httpClient       *http.Client
	rateLimitRetries int
	clock            clock.Clock
	logger           *slog.Logger
}

// NewClient validates the homeserver URL and returns a Client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, errors.New("messaging: HomeserverURL is required")
	}
	parsed, err := url.Parse(config.HomeserverURL)
	if err != nil {
		return nil, fmt.Errorf("messaging: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("messaging: HomeserverURL %q must be http or https", config.HomeserverURL)
	}

	client := &Client{
		baseURL:          strings.TrimRight(config.HomeserverURL, "/"),
		httpClient:       config.HTTPClient,
		rateLimitRetries: config.RateLimitRetries,
		clock:            config.Clock,
		logger:           config.Logger,
	}
	if client.httpClient == nil {
		client.httpClient = http.DefaultClient
	}
	switch {
	case client.rateLimitRetries == 0:
		client.rateLimitRetries = defaultRateLimitRetries
	case client.rateLimitRetries < 0:
		client.rateLimitRetries = 0
	}
	if client.clock == nil {
		client.clock = clock.Real()
	}
	if client.logger == nil {
		client.logger = slog.Default()
	}
	return client, nil
}

// CloseIdleConnections drops pooled connections so the next request
// dials fresh, for use after a network error.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// SessionFromToken protects accessToken in a secret.Buffer (zeroing
// the caller's slice) and returns a Session using it. The token is not
// checked; call WhoAmI for that. Close the Session when done.
func (c *Client) SessionFromToken(userID string, accessToken []byte) (*Session, error) {
	buffer, err := secret.NewFromBytes(accessToken)
	if err != nil {
		return nil, fmt.Errorf("messaging: protecting access token: %w", err)
	}
	return c.SessionFromBuffer(userID, buffer), nil
}

// SessionFromBuffer returns a Session that owns accessToken and closes
// it with the Session.
func (c *Client) SessionFromBuffer(userID string, accessToken *secret.Buffer) *Session {
	return &Session{client: c, accessToken: accessToken, userID: userID}
}

// apiCall describes one client-server API request.
type apiCall struct {
	method string
	path   string
	query  url.Values
	body   any
	token  *secret.Buffer
}

// do performs call, retrying while the homeserver rate-limits it, and
// decodes a successful JSON response into result when result is
// non-nil.
func (c *Client) do(ctx context.Context, call apiCall, result any) error {
	for attempt := 0; ; attempt++ {
		body, err := c.send(ctx, call)
		var matrixErr *MatrixError
		if errors.As(err, &matrixErr) && matrixErr.Code == ErrCodeLimitExceeded && attempt < c.rateLimitRetries {
			wait := matrixErr.RetryAfter()
			if wait <= 0 {
				wait = defaultRateLimitWait
			}
			wait = min(wait, maxRateLimitWait)
			c.logger.Warn("homeserver rate limit, retrying",
				"path", call.path,
				"attempt", attempt+1,
				"wait", wait,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.clock.After(wait):
			}
			continue
		}
		if err != nil {
			return err
		}
		if result == nil {
			return nil
		}
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("decoding %s response: %w", call.path, err)
		}
		return nil
	}
}

// send performs call once. Non-2xx responses become *MatrixError when
// the body has the standard error shape.
func (c *Client) send(ctx context.Context, call apiCall) ([]byte, error) {
	target := c.baseURL + call.path
	if len(call.query) > 0 {
		target += "?" + call.query.Encode()
	}

	var payload io.Reader
	if call.body != nil {
		encoded, err := json.Marshal(call.body)
		if err != nil {
			return nil, fmt.Errorf("encoding %s request: %w", call.path, err)
		}
		payload = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, call.method, target, payload)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", call.path, err)
	}
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if call.token != nil {
		request.Header.Set("Authorization", "Bearer "+call.token.String())
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", call.method, call.path, err)
	}
	defer response.Body.Close()

	body, err := netutil.ReadBody(response.Body, netutil.DefaultBodyLimit)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", call.path, err)
	}
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return body, nil
	}

	matrixErr := &MatrixError{StatusCode: response.StatusCode}
	if err := json.Unmarshal(body, matrixErr); err != nil || matrixErr.Code == "" {
		return nil, fmt.Errorf("unexpected %d response from %s %s: %s",
			response.StatusCode, call.method, call.path, strings.TrimSpace(string(body)))
	}
	return nil, matrixErr
}
