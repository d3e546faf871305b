// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package workerchannel

import (
	"fmt"
	"hash/crc32"
	"runtime"
	"time"
)

// ComputeResult is the data carried by a completed compute request.
type ComputeResult struct {
	Slices   int           `json:"slices"`   // Number of slices the workload was split into
	Workload time.Duration `json:"workload"` // Total simulated work performed
}

// sliceTask tracks an in-progress compute request between slices.
type sliceTask struct {
	id       uint64
	total    time.Duration // Total simulated work to perform
	consumed time.Duration // Work performed so far
	slices   int           // Slices completed so far
	started  time.Time
}

// unit is the isolated execution context that performs tasks for a channel.
// It owns a single goroutine; all task work happens there.
type unit struct {
	channel *Channel
	name    string
	inbox   chan inboundMsg
	outbox  chan outboundMsg
	stop    chan struct{}
	handler Handler
	active  map[uint64]struct{} // Compute ids not yet cancelled
	runq    []*sliceTask        // Compute tasks awaiting their next slice
}

// newUnit creates a unit bound to the given channel.
func newUnit(c *Channel, name string) *unit {
	return &unit{
		channel: c,
		name:    name,
		inbox:   make(chan inboundMsg, c.options.queueSize),
		outbox:  make(chan outboundMsg, c.options.queueSize),
		stop:    make(chan struct{}),
		active:  make(map[uint64]struct{}),
	}
}

// initHandler creates the unit's task handler.
func (u *unit) initHandler() error {
	handler, err := u.channel.handlerFactory()
	if err != nil {
		return fmt.Errorf("failed to create task handler: %w", err)
	}
	u.handler = handler
	return nil
}

// run is the unit's main loop. It must run on its own goroutine. The loop
// drains the inbox between slices so cancellations and new requests are
// observed at every checkpoint, and closes the outbox on exit so the
// channel learns the unit is gone.
func (u *unit) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(u.outbox)

	if err := u.initHandler(); err != nil {
		u.outbox <- &faultMsg{err: err}
		return
	}
	defer func() {
		if err := u.handler.Close(); err != nil && u.channel.logger != nil {
			u.channel.logger.Error("Failed to close task handler", "unit", u.name, "error", err)
		}
	}()

	for {
		if len(u.runq) == 0 {
			// Nothing to slice. Block until the next message arrives.
			select {
			case msg := <-u.inbox:
				if !u.dispatch(msg) {
					return
				}
			case <-u.stop:
				return
			}
			continue
		}

		// Work is queued. Dispatch every message already waiting in the
		// inbox before running the next slice.
		select {
		case msg := <-u.inbox:
			if !u.dispatch(msg) {
				return
			}
		case <-u.stop:
			return
		default:
			u.runSlice()
		}
	}
}

// dispatch handles a single inbound message. It returns false when the
// unit must exit because of an unrecoverable fault.
func (u *unit) dispatch(msg inboundMsg) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			u.outbox <- &faultMsg{err: fmt.Errorf("panic in unit %s: %v", u.name, r)}
			ok = false
		}
	}()

	switch m := msg.(type) {
	case initMsg:
		u.outbox <- readyMsg{}
	case *requestMsg:
		if m.action == ActionCompute {
			u.startCompute(m)
		} else {
			u.execute(m)
		}
	case *cancelMsg:
		delete(u.active, m.id)
	case *processMsg:
		u.digest(m)
	default:
		// The inbound set is closed; anything else is a programming error
		// that invalidates the unit.
		u.outbox <- &faultMsg{err: fmt.Errorf("unknown message type %T in unit %s", msg, u.name)}
		return false
	}
	return true
}

// startCompute queues a sliced workload. The request settles later, once
// the workload completes or a cancellation is observed at a checkpoint.
func (u *unit) startCompute(m *requestMsg) {
	total := m.workload
	if total <= 0 {
		total = u.channel.options.defaultWorkload
	}
	u.active[m.id] = struct{}{}
	u.runq = append(u.runq, &sliceTask{
		id:      m.id,
		total:   total,
		started: time.Now(),
	})
}

// runSlice performs one quantum of the front compute task, reports
// progress, and then settles or requeues the task. The cancellation check
// sits after the progress report, so the slice that observes a cancel
// still reports the work it performed.
func (u *unit) runSlice() {
	task := u.runq[0]
	u.runq = u.runq[1:]

	quantum := u.channel.options.quantum
	if remaining := task.total - task.consumed; quantum > remaining {
		quantum = remaining
	}
	time.Sleep(quantum)
	task.consumed += quantum
	task.slices++

	percent := int(task.consumed * 100 / task.total)
	if percent > 100 {
		percent = 100
	}
	u.outbox <- &progressMsg{id: task.id, percent: percent}

	if _, ok := u.active[task.id]; !ok {
		u.outbox <- &responseMsg{
			id:       task.id,
			action:   ActionCompute,
			err:      newError(CodeRequestCancelled, "task %d cancelled", task.id),
			duration: time.Since(task.started),
		}
		return
	}

	if task.consumed >= task.total {
		delete(u.active, task.id)
		u.outbox <- &responseMsg{
			id:       task.id,
			action:   ActionCompute,
			data:     &ComputeResult{Slices: task.slices, Workload: task.total},
			duration: time.Since(task.started),
		}
		return
	}

	u.runq = append(u.runq, task)
}

// execute runs a non-compute request through the task handler and settles
// it with the outcome.
func (u *unit) execute(m *requestMsg) {
	started := time.Now()
	data, err := u.handler.Handle(&Task{ID: m.id, Action: m.action, Payload: m.payload})
	if err != nil {
		u.outbox <- &responseMsg{
			id:       m.id,
			action:   m.action,
			err:      wrapError(CodeTaskFailed, err, "task %d failed", m.id),
			duration: time.Since(started),
		}
		return
	}
	u.outbox <- &responseMsg{
		id:       m.id,
		action:   m.action,
		data:     data,
		duration: time.Since(started),
	}
}

// digest checksums a process buffer and settles the request with the
// digest.
func (u *unit) digest(m *processMsg) {
	started := time.Now()
	checksum := crc32.ChecksumIEEE(m.data)
	u.outbox <- &resultMsg{
		id:          m.id,
		checksum:    checksum,
		byteLength:  len(m.data),
		processTime: time.Since(started),
	}
}
