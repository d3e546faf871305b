// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package workerchannel

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the failure class of a coordination error.
type ErrorCode string

const (
	CodeHandshakeTimeout  ErrorCode = "HANDSHAKE_TIMEOUT"  // Unit did not signal readiness within the handshake window
	CodeRequestTimeout    ErrorCode = "REQUEST_TIMEOUT"    // No response for a request within its timeout
	CodeRequestCancelled  ErrorCode = "REQUEST_CANCELLED"  // Request cancelled by the caller
	CodeUnitFault         ErrorCode = "UNIT_FAULT"         // Unit reported an unrecoverable internal error
	CodeChannelTerminated ErrorCode = "CHANNEL_TERMINATED" // Channel torn down while the request was pending
	CodeSendFailed        ErrorCode = "SEND_FAILED"        // Message could not be posted to the unit
	CodeTaskFailed        ErrorCode = "TASK_FAILED"        // Task handler reported a failure
	CodeRefreshCancelled  ErrorCode = "REFRESH_CANCELLED"  // Refresh cycle cancelled
	CodeRefreshFailed     ErrorCode = "REFRESH_FAILED"     // Refresh task returned an error
	CodeCancelledAll      ErrorCode = "CANCELLED_ALL"      // Operation aborted by a registry sweep
	CodeSweepRejected     ErrorCode = "SWEEP_REJECTED"     // Registration rejected while a sweep window was open
)

// ErrUnknownAction is returned by handlers for actions outside their action set.
var ErrUnknownAction = errors.New("unknown action")

// Error is the error type surfaced by the coordination primitives in this
// package. It carries a stable code plus human-readable detail, and wraps
// the underlying cause when there is one.
type Error struct {
	Code   ErrorCode // Stable failure class
	Detail string    // Human-readable detail
	Err    error     // Underlying cause (nil if none)
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// newError creates an Error with a formatted detail message.
func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// wrapError creates an Error that wraps an underlying cause.
func wrapError(code ErrorCode, err error, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the ErrorCode carried by err, unwrapping as needed.
// It returns the empty string if err carries no code.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
