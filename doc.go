// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package workerchannel provides coordination primitives for asynchronous
// work units: a correlated request/response channel over an isolated
// execution unit, a single-flight refresh coordinator, and a registry for
// cancelling in-flight operations as a batch.
//
// The central type is Channel. It owns one execution unit (a dedicated
// goroutine, optionally backed by a custom Handler) and guarantees that
// every request settles exactly once, whether by response, timeout,
// cancellation, or teardown.
package workerchannel
