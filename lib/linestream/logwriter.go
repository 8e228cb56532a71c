// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

package linestream

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

// LogWriter is an io.Writer that logs each complete line it receives
// and keeps the most recent lines for error reports. Over-long lines
// are logged truncated instead of failing the write, so a chatty
// producer cannot stop its own stderr from being drained.
type LogWriter struct {
	logger *slog.Logger
	level  slog.Level
	buffer *LineBuffer

	mu       sync.Mutex
	tail     []string
	tailSize int
}

// NewLogWriter returns a LogWriter that logs at level through logger
// and remembers the last tailSize lines. bufferSize bounds a single
// line; non-positive selects DefaultLineBufferSize.
func NewLogWriter(logger *slog.Logger, level slog.Level, tailSize, bufferSize int) *LogWriter {
	w := &LogWriter{
		logger:   logger,
		level:    level,
		tailSize: tailSize,
	}
	w.buffer = NewLineBuffer(lineSink{w}, bufferSize)
	return w
}

// Write implements io.Writer. It always consumes all of p.
func (w *LogWriter) Write(p []byte) (int, error) {
	n, err := w.buffer.Write(p)
	if errors.Is(err, ErrLineTooLong) {
		fragment := append(w.buffer.Fragment(), p[n:]...)
		w.buffer.Purge()
		w.emit(string(fragment) + " [truncated]")
		return len(p), nil
	}
	if err != nil {
		return n, err
	}
	return len(p), nil
}

// Close logs any held-back fragment as a final line.
func (w *LogWriter) Close() error {
	if fragment := w.buffer.Fragment(); len(fragment) > 0 {
		w.buffer.Purge()
		w.emit(string(fragment))
	}
	return nil
}

// Tail returns the remembered lines, oldest first.
func (w *LogWriter) Tail() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.tail...)
}

// TailText returns the remembered lines joined by newlines.
func (w *LogWriter) TailText() string {
	return strings.Join(w.Tail(), "\n")
}

func (w *LogWriter) emit(line string) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}
	if w.logger != nil {
		w.logger.Log(context.Background(), w.level, line)
	}
	if w.tailSize <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.tail) == w.tailSize {
		copy(w.tail, w.tail[1:])
		w.tail = w.tail[:len(w.tail)-1]
	}
	w.tail = append(w.tail, line)
}

// lineSink splits the complete lines forwarded by the LineBuffer.
type lineSink struct {
	w *LogWriter
}

func (s lineSink) Write(p []byte) (int, error) {
	for _, line := range bytes.Split(bytes.TrimSuffix(p, []byte("\n")), []byte("\n")) {
		s.w.emit(string(line))
	}
	return len(p), nil
}
