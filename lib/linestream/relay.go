// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

package linestream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/genome-nexus/vepwrap/lib/clock"
	"github.com/genome-nexus/vepwrap/lib/netutil"
)

// DefaultRelayBufferSize is the read chunk size.
const DefaultRelayBufferSize = 60 * 1024

// RelayConfig configures a Relay.
type RelayConfig struct {
	// Name identifies the relay in log messages ("stdout", "stderr").
	Name string

	// Source is the byte stream to drain, typically the read end of a
	// subprocess pipe. If it implements io.Closer, Interrupt closes it.
	Source io.Reader

	// Sink receives every chunk read before shutdown was requested. A
	// nil Sink discards the data.
	Sink io.Writer

	// BufferSize is the read chunk size. Defaults to
	// DefaultRelayBufferSize.
	BufferSize int

	// Logger receives sink failures. Defaults to slog.Default().
	Logger *slog.Logger
}

// Relay copies Source to Sink on its own goroutine until the source is
// exhausted, shutdown is requested, or the source is interrupted.
//
// A sink write failure does not stop the relay: the failure is recorded
// and the remaining input is read and discarded, so a producer writing
// to a pipe never blocks on a reader that has given up.
type Relay struct {
	name       string
	source     io.Reader
	sink       io.Writer
	bufferSize int
	logger     *slog.Logger

	startOnce     sync.Once
	shutdown      atomic.Bool
	interruptOnce sync.Once
	bytesRead     atomic.Int64
	done          chan struct{}

	// err is written by the relay goroutine before done is closed.
	err error
}

// NewRelay returns an unstarted Relay.
func NewRelay(config RelayConfig) *Relay {
	if config.Sink == nil {
		config.Sink = io.Discard
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultRelayBufferSize
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Relay{
		name:       config.Name,
		source:     config.Source,
		sink:       config.Sink,
		bufferSize: config.BufferSize,
		logger:     config.Logger,
		done:       make(chan struct{}),
	}
}

// Start launches the copy loop. Calling Start more than once has no
// further effect.
func (r *Relay) Start() {
	r.startOnce.Do(func() {
		go r.run()
	})
}

func (r *Relay) run() {
	defer close(r.done)

	buffer := make([]byte, r.bufferSize)
	var sinkErr error
	for {
		n, readErr := r.source.Read(buffer)
		if n > 0 {
			r.bytesRead.Add(int64(n))
			if r.shutdown.Load() {
				r.err = sinkErr
				return
			}
			if sinkErr == nil {
				if _, err := r.sink.Write(buffer[:n]); err != nil {
					sinkErr = err
					level := slog.LevelWarn
					if netutil.IsExpectedCloseError(err) {
						level = slog.LevelDebug
					}
					r.logger.Log(context.Background(), level, "relay sink failed, discarding remaining output",
						"relay", r.name,
						"error", err,
					)
				}
			}
		}
		if readErr != nil {
			r.err = sinkErr
			if sinkErr == nil && !r.expectedReadError(readErr) {
				r.err = readErr
			}
			return
		}
		if r.shutdown.Load() {
			r.err = sinkErr
			return
		}
	}
}

// expectedReadError reports whether a read error is a normal end of the
// stream: EOF, or a closed source after shutdown or interruption.
func (r *Relay) expectedReadError(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	if r.shutdown.Load() && (errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)) {
		return true
	}
	return false
}

// RequestShutdown asks the loop to stop at its next chunk boundary.
// Data read after the request is discarded. A loop blocked in Read
// stays blocked until data arrives, the source ends, or Interrupt is
// called.
func (r *Relay) RequestShutdown() {
	r.shutdown.Store(true)
}

// Interrupt requests shutdown and closes the source if it is an
// io.Closer, unblocking a pending Read.
func (r *Relay) Interrupt() {
	r.RequestShutdown()
	r.interruptOnce.Do(func() {
		if closer, ok := r.source.(io.Closer); ok {
			if err := closer.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
				r.logger.Debug("closing relay source", "relay", r.name, "error", err)
			}
		}
	})
}

// Stop requests shutdown, waits up to grace for the loop to finish on
// its own, then interrupts it and waits for it to exit.
func (r *Relay) Stop(clk clock.Clock, grace time.Duration) {
	r.RequestShutdown()
	select {
	case <-r.done:
		return
	case <-clk.After(grace):
	}
	r.Interrupt()
	<-r.done
}

// Done is closed when the copy loop has exited.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// Err returns the first sink error, or an unexpected read error, once
// Done is closed. It returns nil before then.
func (r *Relay) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// BytesRead returns the number of bytes read from the source so far,
// including bytes discarded after shutdown or a sink failure.
func (r *Relay) BytesRead() int64 {
	return r.bytesRead.Load()
}
