// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojahandler

import (
	_ "embed"
	"fmt"

	workerchannel "github.com/buke/worker-channel"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
)

//go:embed handler_rpc.js
var rpcScript string

// Handler implements the workerchannel.Handler interface using the Goja JS
// engine. It uses an event loop to ensure thread-safe execution of
// JavaScript, and dispatches each task to the global JS function named
// after the task's action.
type Handler struct {
	Loop   *eventloop.EventLoop // The event loop that owns and serializes access to the runtime.
	Option *HandlerOption       // Handler configuration options.
}

// NewFactory returns a workerchannel.HandlerFactory for creating Goja
// handlers. The factory is configured with the provided options.
func NewFactory(opts ...Option) workerchannel.HandlerFactory {
	return func() (workerchannel.Handler, error) {
		return newHandler(opts...)
	}
}

// newHandler creates a new Goja handler instance.
// It initializes a full-featured event loop that supports timers.
func newHandler(opts ...Option) (*Handler, error) {
	// The eventloop creates its own internal goja.Runtime
	loop := eventloop.NewEventLoop()

	h := &Handler{
		Loop:   loop,
		Option: &HandlerOption{}, // Initialize with default options
	}

	// Start the event loop *before* applying options
	loop.Start()

	// Apply the default FieldNameMapper first.
	// This can be overridden by user-provided options.
	WithFieldNameMapper(goja.TagFieldNameMapper("json", true))(h)

	// Apply all provided options. Each option will block until it's applied.
	for _, opt := range opts {
		if err := opt(h); err != nil {
			loop.Stop() // Ensure loop is stopped on configuration error
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	return h, nil
}

// Handle dispatches a task to the JavaScript function named after its
// action. It schedules the call on the event loop and waits for the
// returned promise to settle.
func (h *Handler) Handle(task *workerchannel.Task) (any, error) {
	if task == nil {
		return nil, fmt.Errorf("task cannot be nil")
	}

	resultChan := make(chan any, 1)
	errorChan := make(chan error, 1)

	// Schedule the job on the persistent event loop.
	h.Loop.RunOnLoop(func(vm *goja.Runtime) {
		fnValue, err := vm.RunScript("handler_rpc.js", rpcScript)
		if err != nil {
			errorChan <- fmt.Errorf("failed to load rpc script: %w", err)
			return
		}
		fn, ok := goja.AssertFunction(fnValue)
		if !ok {
			errorChan <- fmt.Errorf("rpc script did not return a function")
			return
		}

		resPromise, err := fn(goja.Undefined(), vm.ToValue(task))
		if err != nil {
			errorChan <- fmt.Errorf("failed to call rpc function: %w", err)
			return
		}

		// Check for null or undefined BEFORE calling ToObject to prevent a panic.
		if goja.IsUndefined(resPromise) || goja.IsNull(resPromise) {
			errorChan <- fmt.Errorf("rpc call did not return a promise-like object")
			return
		}

		promiseObj := resPromise.ToObject(vm)

		then, ok := goja.AssertFunction(promiseObj.Get("then"))
		if !ok {
			errorChan <- fmt.Errorf("rpc call did not return a promise (missing .then method)")
			return
		}

		onSuccess := func(call goja.FunctionCall) goja.Value {
			resultChan <- call.Argument(0).Export()
			return goja.Undefined()
		}

		onError := func(call goja.FunctionCall) goja.Value {
			errorChan <- fmt.Errorf("js execution error: %s", call.Argument(0).String())
			return goja.Undefined()
		}

		// Call 'then' with the promise object as its receiver.
		if _, err := then(promiseObj, vm.ToValue(onSuccess), vm.ToValue(onError)); err != nil {
			errorChan <- fmt.Errorf("failed to invoke promise.then: %w", err)
		}
	})

	// Wait for the result.
	select {
	case result := <-resultChan:
		return result, nil
	case err := <-errorChan:
		return nil, err
	}
}

// Close stops the event loop and releases associated resources.
func (h *Handler) Close() error {
	if h.Loop != nil {
		h.Loop.Stop()
	}
	return nil
}
