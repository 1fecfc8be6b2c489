// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package cacheclient

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

	"github.com/narcache/narpush/lib/netutil"
)

// Config holds configuration for creating a Client.
type Config struct {
	// ServerURL is the cache service root, e.g.
	// "https://cache.example.org". Required; http and https are
	// accepted.
	ServerURL string

	// AuthToken is sent as a bearer token on negotiate and complete.
	// Required.
	AuthToken string

	// HTTPClient is used for all requests. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// UserAgent, if set, is sent on every request.
	UserAgent string

	// Logger is used for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client is a cache service upload-protocol client.
type Client struct {
	baseURL    string
	authToken  string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Client. A malformed server URL or an empty token is
// reported as a *ConfigError.
func New(config Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(config.ServerURL), "/")
	if baseURL == "" {
		return nil, &ConfigError{Field: "server URL", Reason: "empty"}
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, &ConfigError{Field: "server URL", Reason: err.Error()}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, &ConfigError{Field: "server URL", Reason: fmt.Sprintf("scheme must be http or https (got %q)", baseURL)}
	}
	if parsed.Host == "" {
		return nil, &ConfigError{Field: "server URL", Reason: fmt.Sprintf("no host in %q", baseURL)}
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return nil, &ConfigError{Field: "server URL", Reason: "must not carry a query or fragment"}
	}

	authToken := strings.TrimSpace(config.AuthToken)
	if authToken == "" {
		return nil, &ConfigError{Field: "auth token", Reason: "empty"}
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		authToken:  authToken,
		userAgent:  config.UserAgent,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// BaseURL returns the normalized service root.
func (client *Client) BaseURL() string { return client.baseURL }

// Negotiate submits closure (the key that identifies the pending
// closure, by convention the root's narinfo key) and its objects, and
// returns the objects the service still needs.
func (client *Client) Negotiate(ctx context.Context, closure string, objects []Object) (*PendingClosure, error) {
	encoded, err := json.Marshal(negotiateRequest{Closure: closure, Objects: objects})
	if err != nil {
		return nil, fmt.Errorf("cacheclient: encoding negotiate request: %w", err)
	}

	endpoint := client.baseURL + "/api/pending_closures"
	response, err := client.do(ctx, "negotiate", http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	var pending PendingClosure
	if err := netutil.DecodeResponse(response.Body, &pending); err != nil {
		return nil, fmt.Errorf("cacheclient: decoding negotiate response for %s: %w", closure, err)
	}
	if pending.ID == "" {
		return nil, fmt.Errorf("cacheclient: negotiate response for %s has no pending closure id", closure)
	}
	for key, object := range pending.PendingObjects {
		if object.PresignedURL == "" {
			return nil, fmt.Errorf("cacheclient: pending object %s has no presigned URL", key)
		}
	}

	client.logger.Debug("negotiated closure",
		"closure", closure,
		"closure_id", pending.ID,
		"objects", len(objects),
		"pending", len(pending.PendingObjects),
	)
	return &pending, nil
}

// Upload PUTs size bytes from body to a presigned URL. body must yield
// exactly size bytes. Upload does not close body.
func (client *Client) Upload(ctx context.Context, presignedURL string, body io.Reader, size int64) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodPut, presignedURL, nil)
	if err != nil {
		return fmt.Errorf("cacheclient: creating upload request for %s: %w", netutil.RedactURL(presignedURL), err)
	}
	if size == 0 {
		request.Body = http.NoBody
	} else {
		request.Body = io.NopCloser(body)
	}
	request.ContentLength = size
	request.Header.Set("Content-Type", "application/octet-stream")

	response, err := client.send(request, "upload")
	if err != nil {
		return err
	}
	// Drain so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(response.Body, netutil.MaxErrorBodySize))
	response.Body.Close()
	return nil
}

// Complete finalizes the pending closure id.
func (client *Client) Complete(ctx context.Context, id string) error {
	endpoint := client.baseURL + "/api/pending_closures/" + url.PathEscape(id) + "/complete"
	response, err := client.do(ctx, "complete", http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, io.LimitReader(response.Body, netutil.MaxErrorBodySize))
	response.Body.Close()

	client.logger.Debug("completed closure", "closure_id", id)
	return nil
}

// do sends an authenticated request to the service. A nil body sends
// no body; a non-nil body is sent as JSON.
func (client *Client) do(ctx context.Context, operation, method, endpoint string, body io.Reader) (*http.Response, error) {
	request, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("cacheclient: creating %s request: %w", operation, err)
	}
	request.Header.Set("Authorization", "Bearer "+client.authToken)
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	return client.send(request, operation)
}

// send executes request and converts non-2xx responses into
// *ProtocolError. On success the caller owns the response body.
func (client *Client) send(request *http.Request, operation string) (*http.Response, error) {
	redacted := netutil.RedactURL(request.URL.String())
	if client.userAgent != "" {
		request.Header.Set("User-Agent", client.userAgent)
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		// The transport error embeds the full URL; report the
		// redacted one instead.
		var urlError *url.Error
		if errors.As(err, &urlError) {
			err = urlError.Err
		}
		return nil, fmt.Errorf("cacheclient: %s %s %s: %w", operation, request.Method, redacted, err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		defer response.Body.Close()
		return nil, &ProtocolError{
			Operation:  operation,
			URL:        redacted,
			StatusCode: response.StatusCode,
			Body:       netutil.ErrorBody(response.Body),
		}
	}
	return response, nil
}
