// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojahandler

import (
	"fmt"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
)

// HandlerOption holds configuration for a Goja handler instance.
type HandlerOption struct {
	MaxCallStackSize int
	EnableConsole    bool
	EnableRequire    bool
	FieldNameMapper  goja.FieldNameMapper
	Scripts          []*Script
}

// Script is a JavaScript source loaded into the handler's runtime when the
// handler is created.
type Script struct {
	FileName string
	Content  string
}

// Option configures a Goja handler instance.
type Option func(*Handler) error

// WithScript loads a script into the runtime. Global functions the script
// defines become callable actions.
func WithScript(script *Script) Option {
	return func(h *Handler) error {
		if script == nil {
			return nil
		}
		h.Option.Scripts = append(h.Option.Scripts, script)
		done := make(chan error, 1)
		h.Loop.RunOnLoop(func(vm *goja.Runtime) {
			if _, err := vm.RunScript(script.FileName, script.Content); err != nil {
				done <- fmt.Errorf("failed to execute script %s: %w", script.FileName, err)
				return
			}
			done <- nil // Signal success
		})
		return <-done
	}
}

// WithMaxCallStackSize sets the maximum call stack size for the runtime.
// A value of 0 or less means no limit.
func WithMaxCallStackSize(size int) Option {
	return func(h *Handler) error {
		h.Option.MaxCallStackSize = size
		done := make(chan struct{})
		h.Loop.RunOnLoop(func(vm *goja.Runtime) {
			vm.SetMaxCallStackSize(size)
			close(done)
		})
		<-done
		return nil
	}
}

// WithEnableConsole enables the console object (console.log, etc.) in the JS runtime.
func WithEnableConsole() Option {
	return func(h *Handler) error {
		h.Option.EnableConsole = true
		done := make(chan struct{})
		h.Loop.RunOnLoop(func(vm *goja.Runtime) {
			console.Enable(vm)
			close(done)
		})
		<-done
		return nil
	}
}

// WithRequire enables the require() function for loading CommonJS modules.
func WithRequire() Option {
	return func(h *Handler) error {
		h.Option.EnableRequire = true
		done := make(chan struct{})
		h.Loop.RunOnLoop(func(vm *goja.Runtime) {
			// Creates a new module registry and enables require()
			new(require.Registry).Enable(vm)
			close(done)
		})
		<-done
		return nil
	}
}

// WithFieldNameMapper sets the field name mapper for Go-to-JS struct conversions.
// This controls how Go struct field names are exposed in JavaScript.
func WithFieldNameMapper(mapper goja.FieldNameMapper) Option {
	return func(h *Handler) error {
		if mapper != nil {
			h.Option.FieldNameMapper = mapper
			done := make(chan struct{})
			h.Loop.RunOnLoop(func(vm *goja.Runtime) {
				vm.SetFieldNameMapper(mapper)
				close(done)
			})
			<-done
		}
		return nil
	}
}
