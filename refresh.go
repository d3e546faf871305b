// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package workerchannel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// RefreshFunc performs one refresh cycle. The context is cancelled when
// the coordinator's Cancel method is called.
type RefreshFunc func(ctx context.Context) error

// RefreshCoordinator collapses concurrent refresh attempts into a single
// cycle. The first caller owns the cycle and runs the task; callers
// arriving while it runs join the cycle and receive the same outcome
// without running anything. Cancel rejects the running cycle's waiters
// immediately and leaves the coordinator in a sticky cancelled state
// until Reset.
type RefreshCoordinator struct {
	logger *slog.Logger // Logger instance

	mu         sync.Mutex
	refreshing bool
	cancelled  bool   // Sticky until Reset
	generation uint64 // Bumped per cycle and per Cancel, detects stale owners
	waiters    []chan error
	cancelRun  context.CancelFunc // Cancels the running task's context
}

// NewRefreshCoordinator creates a refresh coordinator.
func NewRefreshCoordinator(opts ...func(*RefreshCoordinator)) *RefreshCoordinator {
	coordinator := &RefreshCoordinator{
		logger: slog.Default(), // Default logger
	}

	// Apply configuration options
	for _, opt := range opts {
		opt(coordinator)
	}

	return coordinator
}

// WithRefreshLogger configures the logger for the coordinator.
func WithRefreshLogger(logger *slog.Logger) func(*RefreshCoordinator) {
	return func(coordinator *RefreshCoordinator) {
		coordinator.logger = logger
	}
}

// StartRefresh runs task as a new refresh cycle, or joins the cycle
// already running and returns its outcome without invoking task. All
// callers of the same cycle receive the same outcome. In the cancelled
// state it fails immediately.
func (r *RefreshCoordinator) StartRefresh(task RefreshFunc) error {
	if task == nil {
		return fmt.Errorf("refresh task must be provided")
	}

	r.mu.Lock()
	if r.cancelled {
		r.mu.Unlock()
		return newError(CodeRefreshCancelled, "refresh cancelled")
	}
	if r.refreshing {
		// A cycle is already running. Join it.
		w := make(chan error, 1)
		r.waiters = append(r.waiters, w)
		r.mu.Unlock()
		return <-w
	}
	r.refreshing = true
	r.generation++
	gen := r.generation
	ctx, cancel := context.WithCancel(context.Background())
	r.cancelRun = cancel
	r.mu.Unlock()

	err := task(ctx)
	cancel()

	r.mu.Lock()
	if r.generation != gen || r.cancelled {
		// Cancel won while the task ran. The waiters are already
		// rejected and this outcome is discarded.
		r.mu.Unlock()
		return newError(CodeRefreshCancelled, "refresh cancelled")
	}
	r.refreshing = false
	r.cancelRun = nil
	waiters := r.waiters
	r.waiters = nil
	r.mu.Unlock()

	var out error
	if err != nil {
		out = wrapError(CodeRefreshFailed, err, "refresh failed")
		if r.logger != nil {
			r.logger.Error("Refresh failed", "error", err)
		}
	}
	for _, w := range waiters {
		w <- out
	}
	return out
}

// WaitRefresh blocks until the running cycle settles and returns its
// outcome. It returns nil immediately when no cycle is running, and fails
// immediately in the cancelled state.
func (r *RefreshCoordinator) WaitRefresh() error {
	r.mu.Lock()
	if r.cancelled {
		r.mu.Unlock()
		return newError(CodeRefreshCancelled, "refresh cancelled")
	}
	if !r.refreshing {
		r.mu.Unlock()
		return nil
	}
	w := make(chan error, 1)
	r.waiters = append(r.waiters, w)
	r.mu.Unlock()
	return <-w
}

// Cancel aborts the running cycle, rejects its waiters immediately without
// waiting for the task to return, and puts the coordinator in the sticky
// cancelled state.
func (r *RefreshCoordinator) Cancel() {
	r.mu.Lock()
	r.cancelled = true
	r.refreshing = false
	r.generation++
	cancelRun := r.cancelRun
	r.cancelRun = nil
	waiters := r.waiters
	r.waiters = nil
	r.mu.Unlock()

	if cancelRun != nil {
		cancelRun()
	}
	for _, w := range waiters {
		w <- newError(CodeRefreshCancelled, "refresh cancelled")
	}

	if r.logger != nil {
		r.logger.Debug("Refresh cancelled", "rejectedWaiters", len(waiters))
	}
}

// Reset clears the cancelled state so new cycles may start. It does not
// revive the cycle Cancel aborted; that cycle's waiters are already
// rejected.
func (r *RefreshCoordinator) Reset() {
	r.mu.Lock()
	r.cancelled = false
	r.mu.Unlock()
}

// IsRefreshing reports whether a refresh cycle is currently running.
func (r *RefreshCoordinator) IsRefreshing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshing
}

// IsCancelled reports whether the coordinator is in the cancelled state.
func (r *RefreshCoordinator) IsCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}
