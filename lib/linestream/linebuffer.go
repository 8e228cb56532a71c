// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

package linestream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
)

// DefaultLineBufferSize is sized for the largest single JSON record the
// annotation tool emits.
const DefaultLineBufferSize = 384 * 1024

// ErrLineTooLong is returned by LineBuffer.Write when an unterminated
// run of bytes would exceed the buffer capacity. It indicates the buffer
// is misconfigured for the producer, not a condition to retry.
var ErrLineTooLong = errors.New("unterminated line exceeds line buffer capacity")

// LineBuffer is an io.Writer that forwards only complete lines to the
// downstream writer: every downstream Write holds one or more whole
// newline-terminated lines. Bytes after the last newline of a write are
// held until a later write completes the line. LineBuffer is safe for
// concurrent use.
type LineBuffer struct {
	mu         sync.Mutex
	downstream io.Writer
	pending    []byte
	capacity   int
}

// NewLineBuffer returns a LineBuffer that holds at most capacity
// unterminated bytes. A non-positive capacity selects
// DefaultLineBufferSize.
func NewLineBuffer(downstream io.Writer, capacity int) *LineBuffer {
	if capacity <= 0 {
		capacity = DefaultLineBufferSize
	}
	return &LineBuffer{
		downstream: downstream,
		pending:    make([]byte, 0, capacity),
		capacity:   capacity,
	}
}

// Write forwards every complete line in p, prefixed by any held-back
// fragment, and holds the unterminated suffix of p. If the suffix does
// not fit in the remaining capacity, the complete lines are still
// forwarded, the suffix is not held, and ErrLineTooLong is returned
// with n counting the forwarded bytes. A fragment held from earlier
// writes stays held when p has no newline to complete it; callers
// recover the overlong line from Fragment and p[n:] and then Purge.
func (b *LineBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(p) == 0 {
		return 0, nil
	}

	consumed := 0
	if last := bytes.LastIndexByte(p, '\n'); last >= 0 {
		lines := p[:last+1]
		if len(b.pending) > 0 {
			first := bytes.IndexByte(lines, '\n')
			b.pending = append(b.pending, lines[:first+1]...)
			if _, err := b.downstream.Write(b.pending); err != nil {
				return 0, err
			}
			b.pending = b.pending[:0]
			lines = lines[first+1:]
		}
		if len(lines) > 0 {
			if _, err := b.downstream.Write(lines); err != nil {
				return 0, err
			}
		}
		consumed = last + 1
	}

	rest := p[consumed:]
	if len(b.pending)+len(rest) > b.capacity {
		return consumed, fmt.Errorf("%w: capacity %d, holding %d bytes, %d more without a newline",
			ErrLineTooLong, b.capacity, len(b.pending), len(rest))
	}
	b.pending = append(b.pending, rest...)
	return len(p), nil
}

// Purge discards the held-back fragment without forwarding it.
func (b *LineBuffer) Purge() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = b.pending[:0]
}

// Pending returns the number of held-back bytes.
func (b *LineBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Fragment returns a copy of the held-back bytes.
func (b *LineBuffer) Fragment() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.pending)
}

// Flush does nothing. Only complete lines may reach the downstream
// writer and those are forwarded by Write as soon as they are seen.
func (b *LineBuffer) Flush() error {
	return nil
}
