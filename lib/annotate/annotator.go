// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

package annotate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/genome-nexus/vepwrap/lib/config"
	"github.com/genome-nexus/vepwrap/lib/linestream"
	"github.com/genome-nexus/vepwrap/lib/supervisor"
	"github.com/genome-nexus/vepwrap/lib/toolrun"
)

// DefaultReleaseTimeout bounds the tool run that reports its release.
const DefaultReleaseTimeout = 60 * time.Second

// ErrNoRelease is returned when the tool's banner carries no release
// number.
var ErrNoRelease = errors.New("tool banner has no ensembl-vep release")

var releasePattern = regexp.MustCompile(`ensembl-vep\s*:\s*(\d+)`)

// Runner runs one tool invocation. *toolrun.Runner implements it.
type Runner interface {
	Run(ctx context.Context, request toolrun.Request, lines io.Writer) (toolrun.Result, error)
	RunJSON(ctx context.Context, request toolrun.Request, list *linestream.JSONList) (toolrun.Result, error)
}

// Config configures an Annotator.
type Config struct {
	Runner Runner

	// Tool supplies the command line settings.
	Tool config.ToolConfig

	// ToolPath is the resolved tool executable.
	ToolPath string

	// MaxParallel caps concurrent chunk runs per request. Defaults
	// to 1.
	MaxParallel int

	// ReleaseTimeout bounds the release probe. Defaults to
	// DefaultReleaseTimeout.
	ReleaseTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Annotator dispatches annotation requests to the tool.
type Annotator struct {
	runner         Runner
	tool           config.ToolConfig
	toolPath       string
	maxParallel    int
	releaseTimeout time.Duration
	logger         *slog.Logger

	releaseMu sync.Mutex
	release   int
}

// New returns an Annotator.
func New(config Config) *Annotator {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.MaxParallel < 1 {
		config.MaxParallel = 1
	}
	if config.ReleaseTimeout <= 0 {
		config.ReleaseTimeout = DefaultReleaseTimeout
	}
	return &Annotator{
		runner:         config.Runner,
		tool:           config.Tool,
		toolPath:       config.ToolPath,
		maxParallel:    config.MaxParallel,
		releaseTimeout: config.ReleaseTimeout,
		logger:         config.Logger,
	}
}

// Request is one annotation request, already split into chunks.
type Request struct {
	Format Format
	Chunks [][]string

	// Timeout bounds each chunk's run. Zero means no limit.
	Timeout time.Duration
}

// Outcome summarizes a finished request.
type Outcome struct {
	Chunks   int
	Failed   int
	TimedOut int
}

// Annotate runs every chunk and writes all results to list as one
// array. A single chunk streams into list as the tool produces it.
// Several chunks run concurrently and are emitted in chunk order.
//
// When every chunk fails the first failure is returned and list is
// left unwritten, so the caller can still answer with an error. When
// only some fail, the failures are logged and the rest are emitted.
// A timed-out chunk counts as a success with truncated output.
func (a *Annotator) Annotate(ctx context.Context, request Request, list *linestream.JSONList) (Outcome, error) {
	var chunks [][]string
	for _, chunk := range request.Chunks {
		if len(chunk) > 0 {
			chunks = append(chunks, chunk)
		}
	}

	switch len(chunks) {
	case 0:
		return Outcome{}, list.Close()
	case 1:
		return a.stream(ctx, request.Format, chunks[0], request.Timeout, list)
	default:
		return a.batch(ctx, request.Format, chunks, request.Timeout, list)
	}
}

func (a *Annotator) stream(ctx context.Context, format Format, chunk []string, timeout time.Duration, list *linestream.JSONList) (Outcome, error) {
	outcome := Outcome{Chunks: 1}
	result, err := a.runner.RunJSON(ctx, a.request(format, chunk, timeout), list)
	if result.TimedOut {
		outcome.TimedOut++
	}
	if err != nil {
		outcome.Failed++
		return outcome, fmt.Errorf("annotating %d variants: %w", len(chunk), err)
	}
	return outcome, nil
}

// chunkRun holds one chunk's buffered output and how its run ended.
type chunkRun struct {
	output bytes.Buffer
	result toolrun.Result
	err    error
}

func (a *Annotator) batch(ctx context.Context, format Format, chunks [][]string, timeout time.Duration, list *linestream.JSONList) (Outcome, error) {
	outcome := Outcome{Chunks: len(chunks)}
	runs := make([]chunkRun, len(chunks))

	var group errgroup.Group
	group.SetLimit(a.maxParallel)
	for index, chunk := range chunks {
		group.Go(func() error {
			run := &runs[index]
			run.result, run.err = a.runner.Run(ctx, a.request(format, chunk, timeout), &run.output)
			return ctx.Err()
		})
	}
	if err := group.Wait(); err != nil {
		return outcome, err
	}

	var firstErr error
	for index := range runs {
		run := &runs[index]
		if run.result.TimedOut {
			outcome.TimedOut++
		}
		if run.err != nil {
			outcome.Failed++
			a.logger.Warn("annotation chunk failed",
				"chunk", index,
				"variants", len(chunks[index]),
				"error", run.err,
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("annotating chunk %d of %d: %w", index+1, len(chunks), run.err)
			}
		}
	}
	if outcome.Failed == len(chunks) {
		return outcome, firstErr
	}

	for index := range runs {
		run := &runs[index]
		if run.err != nil {
			continue
		}
		if _, err := list.Write(run.output.Bytes()); err != nil {
			return outcome, fmt.Errorf("writing chunk %d: %w", index+1, err)
		}
	}
	return outcome, list.Close()
}

func (a *Annotator) request(format Format, variants []string, timeout time.Duration) toolrun.Request {
	return toolrun.Request{
		Spec:    a.spec(Flags(a.tool, format, variants)),
		Timeout: timeout,
	}
}

func (a *Annotator) spec(args []string) supervisor.LaunchSpec {
	return supervisor.LaunchSpec{
		Name: filepath.Base(a.toolPath),
		Path: a.toolPath,
		Args: args,
		Dir:  a.tool.WorkingDirectory,
	}
}

// Release returns the tool's release number, read from the banner it
// prints when run with no arguments. A successful probe is cached.
func (a *Annotator) Release(ctx context.Context) (int, error) {
	a.releaseMu.Lock()
	defer a.releaseMu.Unlock()
	if a.release > 0 {
		return a.release, nil
	}

	var banner bytes.Buffer
	result, err := a.runner.Run(ctx, toolrun.Request{
		Spec:    a.spec(nil),
		Timeout: a.releaseTimeout,
	}, &banner)

	match := releasePattern.FindSubmatch(banner.Bytes())
	if match == nil {
		match = releasePattern.FindSubmatch([]byte(result.Diagnostics))
	}
	if match == nil {
		if err != nil {
			return 0, fmt.Errorf("probing tool release: %w", err)
		}
		return 0, ErrNoRelease
	}

	release, err := strconv.Atoi(string(match[1]))
	if err != nil {
		return 0, fmt.Errorf("parsing tool release %q: %w", match[1], err)
	}
	a.release = release
	a.logger.Info("annotation tool release detected", "release", release)
	return release, nil
}
