// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

package linestream

import (
	"errors"
	"io"
	"sync"
)

// ErrListClosed is returned by writes after JSONList.Close.
var ErrListClosed = errors.New("json list already closed")

// JSONList is an io.Writer that treats each non-blank input line as one
// JSON value and writes them out as a single JSON array:
//
//	{"a":1}\n{"b":2}\n  →  [\n{"a":1},\n{"b":2}]\n
//
// The opening bracket is written lazily with the first element, so a
// caller can still choose an error response while Started is false.
// Blank lines, and whitespace at the start of a line, are dropped.
// JSONList is safe for concurrent use.
type JSONList struct {
	mu  sync.Mutex
	out io.Writer

	// started is set once the opening bracket and first element
	// have been written.
	started bool

	// inElement is true while the current line has produced element
	// bytes and its newline has not been seen yet.
	inElement bool

	elements int
	closed   bool
}

// NewJSONList returns a JSONList writing to out.
func NewJSONList(out io.Writer) *JSONList {
	return &JSONList{out: out}
}

// Write consumes p as line-oriented input. Element bytes are passed
// through unchanged; separators are inserted only between elements.
func (l *JSONList) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrListClosed
	}

	index := 0
	for index < len(p) {
		if p[index] == '\n' {
			l.inElement = false
			index++
			continue
		}

		if !l.inElement {
			if isLeadingSpace(p[index]) {
				index++
				continue
			}
			if err := l.beginElement(); err != nil {
				return index, err
			}
		}

		end := index
		for end < len(p) && p[end] != '\n' {
			end++
		}
		if _, err := l.out.Write(p[index:end]); err != nil {
			return index, err
		}
		index = end
	}
	return len(p), nil
}

// beginElement writes the opening bracket or the separator that
// precedes a new element.
func (l *JSONList) beginElement() error {
	prefix := ",\n"
	if !l.started {
		prefix = "[\n"
	}
	if _, err := io.WriteString(l.out, prefix); err != nil {
		return err
	}
	l.started = true
	l.inElement = true
	l.elements++
	return nil
}

// Close terminates the array. With no elements written it produces the
// empty array "[\n]\n". Close does not close the underlying writer and
// is safe to call more than once; only the first call writes.
func (l *JSONList) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	closing := "]\n"
	if !l.started {
		closing = "[\n]\n"
	}
	_, err := io.WriteString(l.out, closing)
	return err
}

// Started reports whether anything has been written to the underlying
// writer.
func (l *JSONList) Started() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started
}

// Elements returns the number of array elements written so far.
func (l *JSONList) Elements() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.elements
}

func isLeadingSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r'
}
