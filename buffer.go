// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package workerchannel

import (
	"sync"
	"time"
)

// TransferMode controls how Send hands a buffer's contents to the unit.
type TransferMode int

const (
	// ModeClone copies the buffer contents. The caller keeps its data.
	ModeClone TransferMode = iota
	// ModeTransfer moves the buffer contents. The caller's buffer is
	// emptied as soon as Send takes ownership, before any response
	// arrives.
	ModeTransfer
)

// String returns the name of the transfer mode.
func (m TransferMode) String() string {
	switch m {
	case ModeClone:
		return "clone"
	case ModeTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// Buffer is a byte buffer whose contents can be handed to a unit either by
// copy or by ownership transfer. It is safe for concurrent use.
type Buffer struct {
	mu   sync.Mutex
	data []byte
}

// NewBuffer creates a buffer backed by data. The buffer takes ownership of
// the slice; the caller must not modify it afterwards.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Len returns the current length of the buffer. A transferred buffer
// reports zero.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Bytes returns the backing slice. It returns nil after a transfer.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// take moves the contents out of the buffer, leaving it empty.
func (b *Buffer) take() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	data := b.data
	b.data = nil
	return data
}

// clone copies the contents of the buffer.
func (b *Buffer) clone() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return nil
	}
	data := make([]byte, len(b.data))
	copy(data, b.data)
	return data
}

// ProcessResult carries the outcome of a Send call.
type ProcessResult struct {
	Checksum        uint32        `json:"checksum"`        // IEEE CRC-32 of the processed bytes
	ByteLength      int           `json:"byteLength"`      // Number of bytes the unit received
	ProcessTime     time.Duration `json:"processTime"`     // Time the unit spent digesting
	RoundTrip       time.Duration `json:"roundTrip"`       // Total time from post to settlement
	Mode            TransferMode  `json:"mode"`            // Transfer mode used
	CallerBufferLen int           `json:"callerBufferLen"` // Caller buffer length right after handoff
}
