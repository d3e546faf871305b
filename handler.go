// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package workerchannel

import (
	"fmt"
	"strings"
	"time"
)

// Action names the operation a task asks the unit to perform.
type Action string

const (
	// ActionEcho returns the task payload unchanged.
	ActionEcho Action = "echo"
	// ActionUppercase returns the upper-cased form of a string payload.
	ActionUppercase Action = "uppercase"
	// ActionCompute runs a sliced simulated workload. It is handled
	// natively by the unit, never by the Handler.
	ActionCompute Action = "compute"
)

// Task is the unit of work delivered to a Handler.
type Task struct {
	ID      uint64 `json:"id"`      // Correlation id assigned by the channel
	Action  Action `json:"action"`  // Operation to perform
	Payload any    `json:"payload"` // Action-specific input
}

// Response carries the outcome of a completed request back to the caller.
type Response struct {
	Action   Action        `json:"action"`   // Action that produced this response
	Data     any           `json:"data"`     // Action-specific output
	Duration time.Duration `json:"duration"` // Time the unit spent on the task
}

// Handler executes tasks on behalf of a unit. Implementations are only
// ever called from the unit's own goroutine, so they need not be safe for
// concurrent use.
type Handler interface {
	// Handle executes a single task and returns its result.
	Handle(task *Task) (any, error)
	// Close releases any resources held by the handler.
	Close() error
}

// HandlerFactory creates a Handler instance for a unit.
type HandlerFactory func() (Handler, error)

// builtinHandler implements the built-in echo and uppercase actions.
type builtinHandler struct{}

// newBuiltinFactory returns a factory producing the built-in handler.
func newBuiltinFactory() HandlerFactory {
	return func() (Handler, error) {
		return &builtinHandler{}, nil
	}
}

// Handle executes a built-in action.
func (h *builtinHandler) Handle(task *Task) (any, error) {
	switch task.Action {
	case ActionEcho:
		return task.Payload, nil
	case ActionUppercase:
		s, ok := task.Payload.(string)
		if !ok {
			return nil, fmt.Errorf("uppercase requires a string payload, got %T", task.Payload)
		}
		return strings.ToUpper(s), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, task.Action)
	}
}

// Close releases the handler. The built-in handler holds no resources.
func (h *builtinHandler) Close() error {
	return nil
}
