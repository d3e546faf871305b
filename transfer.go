// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package workerchannel

import "time"

// actionProcess is the internal action carried by Send requests.
const actionProcess Action = "process"

// Send hands the buffer's contents to the unit for digesting and blocks
// until the digest arrives or the call settles otherwise. ModeClone copies
// the contents and leaves the caller's buffer intact. ModeTransfer moves
// them: the caller's buffer is empty from the moment Send takes ownership,
// before any response arrives, and is not restored if the call fails.
func (c *Channel) Send(buf *Buffer, mode TransferMode, opts ...RequestOption) (*ProcessResult, error) {
	if buf == nil {
		return nil, newError(CodeSendFailed, "nil buffer")
	}

	ro := newRequestOptions(c.options.processTimeout)
	for _, opt := range opts {
		opt(ro)
	}

	var data []byte
	switch mode {
	case ModeClone:
		data = buf.clone()
	case ModeTransfer:
		data = buf.take()
	default:
		return nil, newError(CodeSendFailed, "invalid transfer mode %d", mode)
	}
	if data == nil {
		return nil, newError(CodeSendFailed, "buffer has no backing storage")
	}

	// The caller-visible length right after the handoff. In transfer
	// mode it is already zero here.
	callerLen := buf.Len()

	p, err := c.register(actionProcess, ro.progress)
	if err != nil {
		return nil, err
	}

	if err := c.post(&processMsg{id: p.id, data: data}); err != nil {
		c.take(p.id)
		return nil, err
	}

	if ro.idCallback != nil {
		ro.idCallback(p.id)
	}

	out, err := c.await(p, ro.timeout)
	if err != nil {
		return nil, err
	}
	if out.digest == nil {
		return nil, newError(CodeSendFailed, "unit returned no digest")
	}

	return &ProcessResult{
		Checksum:        out.digest.checksum,
		ByteLength:      out.digest.byteLength,
		ProcessTime:     out.digest.processTime,
		RoundTrip:       time.Since(p.sentAt),
		Mode:            mode,
		CallerBufferLen: callerLen,
	}, nil
}
