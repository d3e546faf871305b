// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package workerchannel

import "time"

// inboundMsg is a message travelling from the channel to the unit.
type inboundMsg interface {
	inbound()
}

// initMsg asks the unit to create its handler and signal readiness.
type initMsg struct{}

func (initMsg) inbound() {}

// requestMsg carries a correlated request to the unit.
type requestMsg struct {
	id       uint64
	action   Action
	payload  any
	workload time.Duration // Total simulated work for compute requests
}

func (*requestMsg) inbound() {}

// cancelMsg asks the unit to stop working on a request at the next checkpoint.
type cancelMsg struct {
	id uint64
}

func (*cancelMsg) inbound() {}

// processMsg carries a payload buffer for digesting.
type processMsg struct {
	id   uint64
	data []byte
}

func (*processMsg) inbound() {}

// outboundMsg is a message travelling from the unit back to the channel.
type outboundMsg interface {
	outbound()
}

// readyMsg signals that the unit finished initializing its handler.
type readyMsg struct{}

func (readyMsg) outbound() {}

// progressMsg reports partial completion of a compute request.
type progressMsg struct {
	id      uint64
	percent int
}

func (*progressMsg) outbound() {}

// responseMsg settles a request, either with data or with an error.
type responseMsg struct {
	id       uint64
	action   Action
	data     any
	err      error
	duration time.Duration // Time the unit spent on the task
}

func (*responseMsg) outbound() {}

// resultMsg settles a process request with the digest of its buffer.
type resultMsg struct {
	id          uint64
	checksum    uint32
	byteLength  int
	processTime time.Duration
}

func (*resultMsg) outbound() {}

// faultMsg reports an unrecoverable unit failure. The unit exits after
// sending it.
type faultMsg struct {
	err error
}

func (*faultMsg) outbound() {}
