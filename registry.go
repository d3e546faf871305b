// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package workerchannel

import (
	"log/slog"
	"sync"
	"time"
)

// PendingOp is the registration token for one in-flight operation. Remove
// identifies operations by token, so registering the same URL twice yields
// two independent tokens.
type PendingOp struct {
	url   string
	abort func(cause error) // Aborts the operation, nil if not abortable
}

// URL returns the URL the operation was registered under.
func (op *PendingOp) URL() string {
	return op.url
}

// CancelRegistry tracks in-flight operations so they can be aborted as a
// batch. CancelAll opens a sweep window: every operation registered before
// the sweep is aborted, and registrations attempted while the window is
// open are aborted synchronously instead of being tracked. The window
// closes when the swept batch has fully deregistered, or after a guard
// timeout if some operation never does.
type CancelRegistry struct {
	logger *slog.Logger // Logger instance

	mu           sync.Mutex
	ops          []*PendingOp // Live registrations in registration order
	sweeping     bool
	sweepCause   error                   // Cause given to CancelAll, set while sweeping
	draining     map[*PendingOp]struct{} // Swept ops that have not deregistered yet
	guardTimer   *time.Timer             // Closes the window if draining stalls
	guardTimeout time.Duration
}

// NewCancelRegistry creates a cancel registry.
func NewCancelRegistry(opts ...func(*CancelRegistry)) *CancelRegistry {
	registry := &CancelRegistry{
		logger:       slog.Default(), // Default logger
		guardTimeout: time.Second,    // 1 second sweep guard window
	}

	// Apply configuration options
	for _, opt := range opts {
		opt(registry)
	}

	return registry
}

// WithRegistryLogger configures the logger for the registry.
func WithRegistryLogger(logger *slog.Logger) func(*CancelRegistry) {
	return func(registry *CancelRegistry) {
		registry.logger = logger
	}
}

func WithSweepGuardTimeout(timeout time.Duration) func(*CancelRegistry) {
	return func(registry *CancelRegistry) {
		if timeout > 0 {
			registry.guardTimeout = timeout
		}
	}
}

// Add registers an in-flight operation and returns its token. While a
// sweep window is open the registration is rejected: abort is invoked
// synchronously with the sweep cause, no token is created, and the
// returned error wraps the cause.
func (r *CancelRegistry) Add(url string, abort func(cause error)) (*PendingOp, error) {
	r.mu.Lock()
	if r.sweeping {
		cause := r.sweepCause
		r.mu.Unlock()
		if abort != nil {
			abort(cause)
		}
		return nil, wrapError(CodeSweepRejected, cause, "registration of %s rejected during sweep", url)
	}
	op := &PendingOp{url: url, abort: abort}
	r.ops = append(r.ops, op)
	r.mu.Unlock()
	return op, nil
}

// Remove deregisters an operation by token. Removing nil or an already
// removed token is a no-op. When the last operation of a swept batch
// deregisters, the sweep window closes.
func (r *CancelRegistry) Remove(op *PendingOp) {
	if op == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, candidate := range r.ops {
		if candidate == op {
			r.ops = append(r.ops[:i], r.ops[i+1:]...)
			break
		}
	}

	if _, ok := r.draining[op]; ok {
		delete(r.draining, op)
		if len(r.draining) == 0 {
			r.closeWindowLocked("batch drained")
		}
	}
}

// CancelAll aborts every registered operation with the given cause and
// opens the sweep window. A nil cause gets a generic cancellation error.
// Abort handles run in registration order and may reenter the registry.
// Calling CancelAll with no registrations, or while a sweep is already in
// progress, is a no-op.
func (r *CancelRegistry) CancelAll(cause error) {
	if cause == nil {
		cause = newError(CodeCancelledAll, "all pending operations cancelled")
	}

	r.mu.Lock()
	if r.sweeping {
		// Nothing new registered behind the open window.
		r.mu.Unlock()
		return
	}
	swept := r.ops
	r.ops = nil
	if len(swept) == 0 {
		r.mu.Unlock()
		return
	}
	r.sweeping = true
	r.sweepCause = cause
	r.draining = make(map[*PendingOp]struct{}, len(swept))
	for _, op := range swept {
		r.draining[op] = struct{}{}
	}
	r.guardTimer = time.AfterFunc(r.guardTimeout, r.expireWindow)
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.Debug("Sweeping pending operations", "count", len(swept), "cause", cause)
	}

	// Abort outside the lock. Handles may call back into Add or Remove.
	for _, op := range swept {
		if op.abort != nil {
			op.abort(cause)
		}
	}
}

// IsCancellingAll reports whether a sweep window is currently open.
func (r *CancelRegistry) IsCancellingAll() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweeping
}

// PendingCount returns the number of live registrations.
func (r *CancelRegistry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ops)
}

// PendingURLs returns the URLs of live registrations in registration
// order.
func (r *CancelRegistry) PendingURLs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	urls := make([]string, len(r.ops))
	for i, op := range r.ops {
		urls[i] = op.url
	}
	return urls
}

// expireWindow fires when the guard timeout elapses before the swept batch
// drains. A stalled drain means some abort handle never deregistered.
func (r *CancelRegistry) expireWindow() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.sweeping {
		return
	}
	if r.logger != nil {
		r.logger.Error("Sweep window expired before the swept batch drained", "pending", len(r.draining))
	}
	r.closeWindowLocked("guard timeout")
}

// closeWindowLocked clears the sweep state. The caller must hold r.mu.
func (r *CancelRegistry) closeWindowLocked(reason string) {
	r.sweeping = false
	r.sweepCause = nil
	r.draining = nil
	if r.guardTimer != nil {
		r.guardTimer.Stop()
		r.guardTimer = nil
	}
	if r.logger != nil {
		r.logger.Debug("Sweep window closed", "reason", reason)
	}
}
