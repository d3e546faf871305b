// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package workerchannel

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ChannelOption contains configuration options for the channel
type ChannelOption struct {
	handshakeTimeout time.Duration // Timeout for the unit readiness handshake
	requestTimeout   time.Duration // Default timeout for Request calls
	processTimeout   time.Duration // Default timeout for Send calls
	enqueueTimeout   time.Duration // Timeout for posting messages to the unit
	quantum          time.Duration // Slice length for compute workloads
	defaultWorkload  time.Duration // Workload used when a compute request names none
	queueSize        uint32        // Size of the unit's message queues
}

// readyState tracks the outcome of the readiness handshake.
type readyState int

const (
	readyPending readyState = iota
	readyOK
	readyFailed
)

// requestOutcome is the settlement value delivered to a waiting caller.
type requestOutcome struct {
	data     any
	digest   *resultMsg // Set for process requests
	err      error
	duration time.Duration
}

// pendingRequest tracks one in-flight request until it settles. Removing
// the entry from the pending table is the settlement ticket: whoever
// removes it is the only party allowed to send on settle.
type pendingRequest struct {
	id       uint64
	action   Action
	settle   chan *requestOutcome // Buffered with capacity 1
	progress func(percent int)
	sentAt   time.Time
}

// Channel coordinates correlated request/response traffic with a single
// execution unit. Every request settles exactly once: with the unit's
// response, a timeout, a cancellation, or a teardown error, whichever
// comes first.
type Channel struct {
	options        *ChannelOption // Configuration options
	handlerFactory HandlerFactory // Task handler factory for the unit
	unit           *unit          // Execution unit owned by this channel
	logger         *slog.Logger   // Logger instance

	mu             sync.Mutex
	pending        map[uint64]*pendingRequest
	closed         *Error // Rejection error for new requests once set
	ready          readyState
	readyErr       error
	readyCh        chan struct{} // Closed when the handshake settles
	handshakeTimer *time.Timer

	idCounter uint64 // Request id counter (atomic access)
}

// NewChannel creates a channel, spawns its execution unit, and begins the
// readiness handshake. The channel accepts requests immediately; requests
// posted before the unit is ready simply queue behind the handshake.
func NewChannel(opts ...func(*Channel)) (*Channel, error) {
	channel := &Channel{
		logger: slog.Default(), // Default logger
		options: &ChannelOption{
			handshakeTimeout: 5 * time.Second,        // 5 second readiness handshake
			requestTimeout:   10 * time.Second,       // 10 second default request timeout
			processTimeout:   60 * time.Second,       // 60 second default process timeout
			enqueueTimeout:   30 * time.Second,       // 30 second enqueue timeout
			quantum:          100 * time.Millisecond, // 100ms compute slices
			defaultWorkload:  2 * time.Second,        // 2 second default compute workload
			queueSize:        256,                    // Default queue size
		},
		handlerFactory: newBuiltinFactory(),
		pending:        make(map[uint64]*pendingRequest),
		readyCh:        make(chan struct{}),
	}

	// Apply configuration options
	for _, opt := range opts {
		opt(channel)
	}

	// Task handler factory is required
	if channel.handlerFactory == nil {
		return nil, fmt.Errorf("task handler factory must be provided")
	}

	channel.unit = newUnit(channel, "unit-1")

	// Arm the handshake timer before any goroutine starts so the field
	// is never written concurrently with a reader.
	channel.handshakeTimer = time.AfterFunc(channel.options.handshakeTimeout, channel.handshakeTimedOut)

	go channel.unit.run()
	go channel.dispatchLoop()

	// The inbox is empty at this point, so the init message is first in
	// line and every request queues behind it.
	channel.unit.inbox <- initMsg{}

	if channel.logger != nil {
		channel.logger.Debug("Channel started",
			"handshakeTimeout", channel.options.handshakeTimeout,
			"requestTimeout", channel.options.requestTimeout,
			"processTimeout", channel.options.processTimeout,
			"enqueueTimeout", channel.options.enqueueTimeout,
			"quantum", channel.options.quantum,
			"defaultWorkload", channel.options.defaultWorkload,
			"queueSize", channel.options.queueSize,
		)
	}

	return channel, nil
}

// WaitReady blocks until the unit either signals readiness or fails to
// come up. It returns nil once the channel is ready for traffic.
func (c *Channel) WaitReady() error {
	<-c.readyCh
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readyErr
}

// Request posts a correlated request to the unit and blocks until it
// settles. Exactly one outcome wins: the unit's response, the request
// timeout, a Cancel call, or channel teardown. On timeout the unit keeps
// working; its eventual reply is dropped.
func (c *Channel) Request(action Action, payload any, opts ...RequestOption) (*Response, error) {
	ro := newRequestOptions(c.options.requestTimeout)
	for _, opt := range opts {
		opt(ro)
	}

	p, err := c.register(action, ro.progress)
	if err != nil {
		return nil, err
	}

	msg := &requestMsg{
		id:       p.id,
		action:   action,
		payload:  payload,
		workload: ro.workload,
	}
	if err := c.post(msg); err != nil {
		c.take(p.id)
		return nil, err
	}

	// The id becomes observable only after the request message is in
	// the inbox, so a cancellation posted from the callback cannot
	// overtake the request.
	if ro.idCallback != nil {
		ro.idCallback(p.id)
	}

	out, err := c.await(p, ro.timeout)
	if err != nil {
		return nil, err
	}
	return &Response{Action: action, Data: out.data, Duration: out.duration}, nil
}

// Cancel settles the pending request id with a cancellation error and
// tells the unit to stop working on it at the next checkpoint. Cancelling
// an id that is not pending is a no-op.
func (c *Channel) Cancel(id uint64) {
	p := c.take(id)
	if p == nil {
		return
	}
	p.settle <- &requestOutcome{err: newError(CodeRequestCancelled, "request %d cancelled", id)}

	// Notify the unit asynchronously. The caller is already settled and
	// a slow inbox must not block the cancel path.
	go func(action Action) {
		if err := c.post(&cancelMsg{id: id}); err != nil && c.logger != nil {
			c.logger.Debug("Failed to notify unit of cancellation", "id", id, "action", action, "error", err)
		}
	}(p.action)
}

// Terminate tears the channel down: the unit stops at its next checkpoint,
// every pending request settles with a termination error, an unresolved
// handshake fails, and later requests are rejected. Terminate is
// idempotent.
func (c *Channel) Terminate() {
	c.shutdown(
		newError(CodeChannelTerminated, "channel terminated"),
		newError(CodeSendFailed, "channel terminated"),
	)
	if c.logger != nil {
		c.logger.Debug("Channel terminated", "unit", c.unit.name)
	}
}

// register assigns an id and tracks a new pending request. It fails once
// the channel stops accepting requests.
func (c *Channel) register(action Action, progress func(percent int)) (*pendingRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed != nil {
		return nil, c.closed
	}
	p := &pendingRequest{
		id:       atomic.AddUint64(&c.idCounter, 1),
		action:   action,
		settle:   make(chan *requestOutcome, 1),
		progress: progress,
		sentAt:   time.Now(),
	}
	c.pending[p.id] = p
	return p, nil
}

// take removes and returns the pending request for id, or nil if it
// already settled.
func (c *Channel) take(id uint64) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pending[id]
	if p != nil {
		delete(c.pending, id)
	}
	return p
}

// post delivers a message to the unit's inbox. It gives up when the unit
// has stopped or the inbox stays full past the enqueue timeout.
func (c *Channel) post(msg inboundMsg) error {
	select {
	case c.unit.inbox <- msg:
		return nil
	case <-c.unit.stop:
		return newError(CodeSendFailed, "channel terminated")
	case <-time.After(c.options.enqueueTimeout):
		return newError(CodeSendFailed, "unit queue full for %v", c.options.enqueueTimeout)
	}
}

// await blocks until the request settles or its timeout elapses. On
// timeout it claims the settlement ticket itself; losing that claim means
// a real settlement won the race, so it waits for that instead.
func (c *Channel) await(p *pendingRequest, timeout time.Duration) (*requestOutcome, error) {
	if timeout > 0 {
		select {
		case out := <-p.settle:
			if out.err != nil {
				return nil, out.err
			}
			return out, nil
		case <-time.After(timeout):
			if c.take(p.id) == nil {
				// A settlement is already in flight.
				out := <-p.settle
				if out.err != nil {
					return nil, out.err
				}
				return out, nil
			}
			// The unit may still be working on the task. Its eventual
			// reply no longer has a pending entry and will be dropped.
			return nil, newError(CodeRequestTimeout, "no response for request %d within %v", p.id, timeout)
		}
	}

	out := <-p.settle
	if out.err != nil {
		return nil, out.err
	}
	return out, nil
}

// dispatchLoop routes unit messages to waiting callers. It runs on its own
// goroutine and exits when the unit closes its outbox.
func (c *Channel) dispatchLoop() {
	for msg := range c.unit.outbox {
		switch m := msg.(type) {
		case readyMsg:
			c.settleReady(nil)
		case *progressMsg:
			c.mu.Lock()
			p := c.pending[m.id]
			c.mu.Unlock()
			if p != nil && p.progress != nil {
				p.progress(m.percent)
			}
		case *responseMsg:
			p := c.take(m.id)
			if p == nil {
				if c.logger != nil {
					c.logger.Debug("Dropping late response", "id", m.id)
				}
				continue
			}
			p.settle <- &requestOutcome{data: m.data, err: m.err, duration: m.duration}
		case *resultMsg:
			p := c.take(m.id)
			if p == nil {
				if c.logger != nil {
					c.logger.Debug("Dropping late result", "id", m.id)
				}
				continue
			}
			p.settle <- &requestOutcome{digest: m, duration: m.processTime}
		case *faultMsg:
			fault := wrapError(CodeUnitFault, m.err, "unit fault")
			c.shutdown(fault, fault)
			if c.logger != nil {
				c.logger.Error("Unit fault", "unit", c.unit.name, "error", m.err)
			}
		default:
			if c.logger != nil {
				c.logger.Error("Unknown message type", "message", fmt.Sprintf("%T", msg))
			}
		}
	}

	// The outbox closed. If the unit exited without reporting a fault,
	// treat it as termination so stragglers do not hang.
	c.shutdown(
		newError(CodeChannelTerminated, "channel terminated"),
		newError(CodeSendFailed, "channel terminated"),
	)
}

// settleReadyLocked records the handshake outcome. The first outcome wins.
// The caller must hold c.mu.
func (c *Channel) settleReadyLocked(err error) {
	if c.ready != readyPending {
		return
	}
	if err != nil {
		c.ready = readyFailed
		c.readyErr = err
	} else {
		c.ready = readyOK
	}
	close(c.readyCh)
}

// settleReady records the handshake outcome and disarms the handshake
// timer.
func (c *Channel) settleReady(err error) {
	c.mu.Lock()
	c.settleReadyLocked(err)
	c.mu.Unlock()
	c.handshakeTimer.Stop()
}

// handshakeTimedOut fires when the unit misses the readiness deadline. It
// is a no-op if the handshake already settled or the channel closed first.
func (c *Channel) handshakeTimedOut() {
	c.mu.Lock()
	if c.ready != readyPending || c.closed != nil {
		c.mu.Unlock()
		return
	}
	cause := newError(CodeHandshakeTimeout, "unit not ready within %v", c.options.handshakeTimeout)
	drained := c.closeLocked(cause, cause)
	c.mu.Unlock()

	c.finishShutdown(drained, cause)
	if c.logger != nil {
		c.logger.Error("Handshake timed out", "unit", c.unit.name, "timeout", c.options.handshakeTimeout)
	}
}

// shutdown closes the channel once. Later calls are no-ops.
func (c *Channel) shutdown(cause *Error, closedErr *Error) {
	c.mu.Lock()
	if c.closed != nil {
		c.mu.Unlock()
		return
	}
	drained := c.closeLocked(cause, closedErr)
	c.mu.Unlock()

	c.finishShutdown(drained, cause)
}

// closeLocked marks the channel closed and empties the pending table. The
// caller must hold c.mu and settle the drained requests after unlocking.
func (c *Channel) closeLocked(cause *Error, closedErr *Error) []*pendingRequest {
	c.closed = closedErr
	c.settleReadyLocked(cause)
	drained := make([]*pendingRequest, 0, len(c.pending))
	for id, p := range c.pending {
		drained = append(drained, p)
		delete(c.pending, id)
	}
	return drained
}

// finishShutdown runs the teardown effects that must not hold c.mu: it
// stops the unit, disarms the handshake timer, and settles the drained
// requests. At most one caller ever reaches it.
func (c *Channel) finishShutdown(drained []*pendingRequest, cause *Error) {
	close(c.unit.stop)
	c.handshakeTimer.Stop()
	for _, p := range drained {
		p.settle <- &requestOutcome{err: cause}
	}
}

// WithHandler configures the task handler factory for the channel's unit.
func WithHandler(factory HandlerFactory) func(*Channel) {
	return func(channel *Channel) {
		channel.handlerFactory = factory
	}
}

// WithLogger configures the logger for the channel.
func WithLogger(logger *slog.Logger) func(*Channel) {
	return func(channel *Channel) {
		channel.logger = logger
	}
}

func WithHandshakeTimeout(timeout time.Duration) func(*Channel) {
	return func(channel *Channel) {
		if timeout > 0 {
			channel.options.handshakeTimeout = timeout
		}
	}
}

func WithRequestTimeout(timeout time.Duration) func(*Channel) {
	return func(channel *Channel) {
		if timeout > 0 {
			channel.options.requestTimeout = timeout
		}
	}
}

func WithProcessTimeout(timeout time.Duration) func(*Channel) {
	return func(channel *Channel) {
		if timeout > 0 {
			channel.options.processTimeout = timeout
		}
	}
}

func WithEnqueueTimeout(timeout time.Duration) func(*Channel) {
	return func(channel *Channel) {
		if timeout > 0 {
			channel.options.enqueueTimeout = timeout
		}
	}
}

func WithQuantum(quantum time.Duration) func(*Channel) {
	return func(channel *Channel) {
		if quantum > 0 {
			channel.options.quantum = quantum
		}
	}
}

func WithDefaultWorkload(workload time.Duration) func(*Channel) {
	return func(channel *Channel) {
		if workload > 0 {
			channel.options.defaultWorkload = workload
		}
	}
}

func WithQueueSize(size uint32) func(*Channel) {
	return func(channel *Channel) {
		if size > 0 {
			channel.options.queueSize = size
		}
	}
}

// requestOptions contains per-call configuration for Request and Send.
type requestOptions struct {
	timeout    time.Duration
	workload   time.Duration
	progress   func(percent int)
	idCallback func(id uint64)
}

// newRequestOptions creates request options with the given default timeout.
func newRequestOptions(timeout time.Duration) *requestOptions {
	return &requestOptions{timeout: timeout}
}

// RequestOption configures a single Request or Send call.
type RequestOption func(*requestOptions)

func WithTimeout(timeout time.Duration) RequestOption {
	return func(o *requestOptions) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

func WithWorkload(workload time.Duration) RequestOption {
	return func(o *requestOptions) {
		if workload > 0 {
			o.workload = workload
		}
	}
}

// WithProgress registers a callback invoked with the completion percentage
// as the unit reports compute progress. Callbacks for one request are
// invoked in order from the channel's dispatch goroutine.
func WithProgress(progress func(percent int)) RequestOption {
	return func(o *requestOptions) {
		o.progress = progress
	}
}

// WithIDCallback registers a callback invoked with the request id after
// the request is posted and before the call blocks. The id is what Cancel
// takes.
func WithIDCallback(callback func(id uint64)) RequestOption {
	return func(o *requestOptions) {
		o.idCallback = callback
	}
}
