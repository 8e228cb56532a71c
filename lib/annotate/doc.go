// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

// Package annotate turns variant lists into annotation tool runs.
//
// It builds the tool's command line from [config.ToolConfig], splits
// batch requests into chunks ([ChunkBySize], [ChunkByChromosome]),
// and dispatches chunks through a [toolrun.Runner]. A single chunk is
// streamed straight into the response's JSON array; several chunks run
// in parallel into memory and are emitted in chunk order, so the
// response is one array regardless of how the work was split.
package annotate
