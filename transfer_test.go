// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package workerchannel

import (
	"hash/crc32"
	"testing"
)

// TestTransferMode_String tests the names of the transfer modes.
func TestTransferMode_String(t *testing.T) {
	tests := []struct {
		mode TransferMode
		want string
	}{
		{ModeClone, "clone"},
		{ModeTransfer, "transfer"},
		{TransferMode(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.mode.String(); got != tt.want {
			t.Errorf("TransferMode(%d).String() = %q, want %q", tt.mode, got, tt.want)
		}
	}
}

// TestBuffer_LenAndBytes tests buffer accessors around a transfer.
func TestBuffer_LenAndBytes(t *testing.T) {
	buf := NewBuffer([]byte("hello"))
	if buf.Len() != 5 {
		t.Errorf("Expected length 5, got %d", buf.Len())
	}
	if string(buf.Bytes()) != "hello" {
		t.Errorf("Unexpected contents: %q", buf.Bytes())
	}

	data := buf.take()
	if string(data) != "hello" {
		t.Errorf("take returned %q", data)
	}
	if buf.Len() != 0 || buf.Bytes() != nil {
		t.Error("Expected buffer to be empty after take")
	}
	if buf.take() != nil {
		t.Error("Expected second take to return nil")
	}
	if buf.clone() != nil {
		t.Error("Expected clone of empty buffer to return nil")
	}
}

// TestChannel_Send_Clone tests digesting a buffer in clone mode. The
// caller's buffer keeps its contents.
func TestChannel_Send_Clone(t *testing.T) {
	channel, err := NewChannel()
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}
	defer channel.Terminate()

	data := []byte("the quick brown fox jumps over the lazy dog")
	buf := NewBuffer(data)

	result, err := channel.Send(buf, ModeClone)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if result.Checksum != crc32.ChecksumIEEE(data) {
		t.Errorf("Checksum mismatch: %d", result.Checksum)
	}
	if result.ByteLength != len(data) {
		t.Errorf("Expected byte length %d, got %d", len(data), result.ByteLength)
	}
	if result.Mode != ModeClone {
		t.Errorf("Expected clone mode, got %v", result.Mode)
	}
	if result.CallerBufferLen != len(data) {
		t.Errorf("Expected caller buffer length %d, got %d", len(data), result.CallerBufferLen)
	}
	if result.RoundTrip < result.ProcessTime {
		t.Errorf("Round trip %v shorter than process time %v", result.RoundTrip, result.ProcessTime)
	}
	if buf.Len() != len(data) {
		t.Errorf("Clone mode drained the caller's buffer: %d", buf.Len())
	}
}

// TestChannel_Send_Transfer tests digesting a buffer in transfer mode. The
// caller's buffer is empty before the response arrives.
func TestChannel_Send_Transfer(t *testing.T) {
	channel, err := NewChannel()
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}
	defer channel.Terminate()

	data := []byte("transfer me")
	checksum := crc32.ChecksumIEEE(data)
	buf := NewBuffer(data)

	lenAtPost := -1
	result, err := channel.Send(buf, ModeTransfer, WithIDCallback(func(id uint64) {
		lenAtPost = buf.Len()
	}))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if lenAtPost != 0 {
		t.Errorf("Expected buffer to be empty at post time, got length %d", lenAtPost)
	}
	if result.Checksum != checksum {
		t.Errorf("Checksum mismatch: %d", result.Checksum)
	}
	if result.ByteLength != len(data) {
		t.Errorf("Expected byte length %d, got %d", len(data), result.ByteLength)
	}
	if result.Mode != ModeTransfer {
		t.Errorf("Expected transfer mode, got %v", result.Mode)
	}
	if result.CallerBufferLen != 0 {
		t.Errorf("Expected caller buffer length 0, got %d", result.CallerBufferLen)
	}
	if buf.Len() != 0 || buf.Bytes() != nil {
		t.Error("Expected buffer to stay empty after transfer")
	}
}

// TestChannel_Send_TransferredBufferFails tests that a buffer cannot be
// sent again once its contents were moved out.
func TestChannel_Send_TransferredBufferFails(t *testing.T) {
	channel, err := NewChannel()
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}
	defer channel.Terminate()

	buf := NewBuffer([]byte("once"))
	if _, err := channel.Send(buf, ModeTransfer); err != nil {
		t.Fatalf("First send failed: %v", err)
	}

	_, err = channel.Send(buf, ModeTransfer)
	if CodeOf(err) != CodeSendFailed {
		t.Errorf("Expected %s, got: %v", CodeSendFailed, err)
	}
}

// TestChannel_Send_EmptyBuffer tests that an allocated but empty buffer
// still digests.
func TestChannel_Send_EmptyBuffer(t *testing.T) {
	channel, err := NewChannel()
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}
	defer channel.Terminate()

	result, err := channel.Send(NewBuffer([]byte{}), ModeClone)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if result.Checksum != 0 || result.ByteLength != 0 {
		t.Errorf("Unexpected result for empty buffer: %+v", result)
	}
}

// TestChannel_Send_NilBuffer tests that a nil buffer is rejected.
func TestChannel_Send_NilBuffer(t *testing.T) {
	channel, err := NewChannel()
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}
	defer channel.Terminate()

	_, err = channel.Send(nil, ModeClone)
	if CodeOf(err) != CodeSendFailed {
		t.Errorf("Expected %s, got: %v", CodeSendFailed, err)
	}
}

// TestChannel_Send_InvalidMode tests that an unknown transfer mode is
// rejected without touching the buffer.
func TestChannel_Send_InvalidMode(t *testing.T) {
	channel, err := NewChannel()
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}
	defer channel.Terminate()

	buf := NewBuffer([]byte("untouched"))
	_, err = channel.Send(buf, TransferMode(42))
	if CodeOf(err) != CodeSendFailed {
		t.Errorf("Expected %s, got: %v", CodeSendFailed, err)
	}
	if buf.Len() != len("untouched") {
		t.Errorf("Invalid mode drained the buffer: %d", buf.Len())
	}
}

// TestChannel_Send_AfterTerminate tests that Send fails fast on a
// terminated channel.
func TestChannel_Send_AfterTerminate(t *testing.T) {
	channel, err := NewChannel()
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}
	channel.Terminate()

	_, err = channel.Send(NewBuffer([]byte("late")), ModeClone)
	if CodeOf(err) != CodeSendFailed {
		t.Errorf("Expected %s, got: %v", CodeSendFailed, err)
	}
}
