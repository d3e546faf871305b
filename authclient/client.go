// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package authclient wraps an HTTP client with coordinated credential
// refresh. All requests share one RefreshCoordinator, so a burst of
// authorization failures triggers a single refresh cycle, and one
// CancelRegistry, so every in-flight request can be aborted as a batch.
package authclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	workerchannel "github.com/buke/worker-channel"
)

// Client is an HTTP client with single-flight credential refresh and batch
// cancellation. It is safe for concurrent use.
type Client struct {
	httpClient  *http.Client                      // Underlying HTTP client
	coordinator *workerchannel.RefreshCoordinator // Collapses concurrent refreshes
	registry    *workerchannel.CancelRegistry     // Tracks in-flight requests
	refresh     workerchannel.RefreshFunc         // Refreshes the credentials
	authorize   func(*http.Request)               // Applies credentials to a request
	logger      *slog.Logger                      // Logger instance
}

// New creates a client. A refresh function is required; the coordinator
// and registry default to fresh instances when not provided.
func New(opts ...func(*Client)) (*Client, error) {
	client := &Client{
		httpClient: http.DefaultClient, // Default HTTP client
		logger:     slog.Default(),     // Default logger
	}

	// Apply configuration options
	for _, opt := range opts {
		opt(client)
	}

	// Refresh function is required
	if client.refresh == nil {
		return nil, fmt.Errorf("refresh function must be provided")
	}

	if client.coordinator == nil {
		client.coordinator = workerchannel.NewRefreshCoordinator(
			workerchannel.WithRefreshLogger(client.logger),
		)
	}
	if client.registry == nil {
		client.registry = workerchannel.NewCancelRegistry(
			workerchannel.WithRegistryLogger(client.logger),
		)
	}

	return client, nil
}

// WithHTTPClient configures the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) func(*Client) {
	return func(client *Client) {
		if httpClient != nil {
			client.httpClient = httpClient
		}
	}
}

// WithRefreshFunc configures the credential refresh function.
func WithRefreshFunc(refresh workerchannel.RefreshFunc) func(*Client) {
	return func(client *Client) {
		client.refresh = refresh
	}
}

// WithAuthorize configures the hook that applies credentials to each
// outgoing request.
func WithAuthorize(authorize func(*http.Request)) func(*Client) {
	return func(client *Client) {
		client.authorize = authorize
	}
}

// WithCoordinator configures a shared refresh coordinator.
func WithCoordinator(coordinator *workerchannel.RefreshCoordinator) func(*Client) {
	return func(client *Client) {
		client.coordinator = coordinator
	}
}

// WithRegistry configures a shared cancel registry.
func WithRegistry(registry *workerchannel.CancelRegistry) func(*Client) {
	return func(client *Client) {
		client.registry = registry
	}
}

// WithLogger configures the logger for the client.
func WithLogger(logger *slog.Logger) func(*Client) {
	return func(client *Client) {
		client.logger = logger
	}
}

// Registry returns the client's cancel registry. CancelAll on it aborts
// every request the client currently has in flight.
func (c *Client) Registry() *workerchannel.CancelRegistry {
	return c.registry
}

// Coordinator returns the client's refresh coordinator.
func (c *Client) Coordinator() *workerchannel.RefreshCoordinator {
	return c.coordinator
}

// Do sends the request. On a 401 response it refreshes the credentials,
// joining a refresh cycle already in flight instead of starting another,
// and retries the request once. The request is registered with the cancel
// registry for its whole lifetime, so a registry sweep aborts it; while a
// sweep window is open Do fails immediately without sending.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithCancelCause(req.Context())
	defer cancel(nil)

	op, err := c.registry.Add(req.URL.String(), cancel)
	if err != nil {
		return nil, err
	}
	defer c.registry.Remove(op)

	req = req.WithContext(ctx)

	resp, err := c.send(req)
	if err != nil {
		return nil, c.abortCause(ctx, err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// A request whose body cannot be rewound keeps its 401.
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if err := c.ensureFresh(); err != nil {
		return nil, err
	}

	retry := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		retry.Body = body
	}

	if c.logger != nil {
		c.logger.Debug("Retrying after refresh", "url", req.URL.String())
	}

	resp, err = c.send(retry)
	if err != nil {
		return nil, c.abortCause(ctx, err)
	}
	return resp, nil
}

// send applies credentials and performs one HTTP round trip.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	if c.authorize != nil {
		c.authorize(req)
	}
	return c.httpClient.Do(req)
}

// ensureFresh runs or joins a credential refresh. Joining a cycle already
// in flight means a burst of 401s causes exactly one refresh.
func (c *Client) ensureFresh() error {
	if c.coordinator.IsRefreshing() {
		return c.coordinator.WaitRefresh()
	}
	return c.coordinator.StartRefresh(c.refresh)
}

// abortCause surfaces the registry's sweep cause when that is what killed
// the request, instead of the transport's wrapped context error.
func (c *Client) abortCause(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return fmt.Errorf("request aborted: %w", cause)
	}
	return err
}
