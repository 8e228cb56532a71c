// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

package linestream

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLogWriterLogsCompleteLines(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	writer := NewLogWriter(logger, slog.LevelWarn, 2, 64)

	for _, chunk := range []string{"WARNING: first", " warning\n\nsecond\nthi", "rd\r\n"} {
		if _, err := writer.Write([]byte(chunk)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	output := logs.String()
	if got := strings.Count(output, "level=WARN"); got != 3 {
		t.Errorf("logged %d records, want 3:\n%s", got, output)
	}
	if !strings.Contains(output, `msg="WARNING: first warning"`) {
		t.Errorf("joined line missing from log:\n%s", output)
	}

	tail := writer.Tail()
	if len(tail) != 2 || tail[0] != "second" || tail[1] != "third" {
		t.Errorf("Tail() = %q, want [second third]", tail)
	}
	if got := writer.TailText(); got != "second\nthird" {
		t.Errorf("TailText() = %q", got)
	}
}

func TestLogWriterTruncatesOverlongLine(t *testing.T) {
	t.Parallel()

	writer := NewLogWriter(nil, slog.LevelInfo, 4, 8)

	input := []byte("short\n" + strings.Repeat("z", 20))
	n, err := writer.Write(input)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(input) {
		t.Fatalf("Write n = %d, want %d", n, len(input))
	}
	if _, err := writer.Write([]byte("after\n")); err != nil {
		t.Fatalf("Write after overflow: %v", err)
	}

	tail := writer.Tail()
	want := []string{"short", strings.Repeat("z", 20) + " [truncated]", "after"}
	if len(tail) != len(want) {
		t.Fatalf("Tail() = %q, want %q", tail, want)
	}
	for index := range want {
		if tail[index] != want[index] {
			t.Errorf("Tail()[%d] = %q, want %q", index, tail[index], want[index])
		}
	}
}

func TestLogWriterCloseEmitsFragment(t *testing.T) {
	t.Parallel()

	writer := NewLogWriter(nil, slog.LevelInfo, 4, 64)
	if _, err := writer.Write([]byte("no newline")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if tail := writer.Tail(); len(tail) != 1 || tail[0] != "no newline" {
		t.Errorf("Tail() = %q", tail)
	}
}
