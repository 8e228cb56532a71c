// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

package linestream

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
)

// recordingWriter records each Write call separately.
type recordingWriter struct {
	writes []string
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.writes = append(w.writes, string(p))
	return len(p), nil
}

func (w *recordingWriter) String() string {
	return strings.Join(w.writes, "")
}

func TestLineBufferForwardsOnlyCompleteLines(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		writes  []string
		want    string
		pending int
	}{
		{
			name:   "single complete line",
			writes: []string{"line\n"},
			want:   "line\n",
		},
		{
			name:    "fragment held",
			writes:  []string{"partial"},
			want:    "",
			pending: len("partial"),
		},
		{
			name:   "line split across writes",
			writes: []string{"fir", "st\nsec", "ond\n"},
			want:   "first\nsecond\n",
		},
		{
			name:    "several lines and a tail",
			writes:  []string{"a\nb\nc"},
			want:    "a\nb\n",
			pending: 1,
		},
		{
			name:   "blank lines pass through",
			writes: []string{"\n\nx\n"},
			want:   "\n\nx\n",
		},
		{
			name:   "newline alone completes fragment",
			writes: []string{"abc", "\n"},
			want:   "abc\n",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			buffer := NewLineBuffer(&out, 64)
			for _, chunk := range test.writes {
				n, err := buffer.Write([]byte(chunk))
				if err != nil {
					t.Fatalf("Write(%q) error: %v", chunk, err)
				}
				if n != len(chunk) {
					t.Fatalf("Write(%q) = %d, want %d", chunk, n, len(chunk))
				}
			}
			if got := out.String(); got != test.want {
				t.Errorf("forwarded %q, want %q", got, test.want)
			}
			if got := buffer.Pending(); got != test.pending {
				t.Errorf("Pending() = %d, want %d", got, test.pending)
			}
		})
	}
}

func TestLineBufferPurgeDropsFragment(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	buffer := NewLineBuffer(&out, 64)
	if _, err := buffer.Write([]byte("{\"a\":1}\n{\"b\":")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buffer.Purge()
	if _, err := buffer.Write([]byte("{\"c\":3}\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if got, want := out.String(), "{\"a\":1}\n{\"c\":3}\n"; got != want {
		t.Errorf("forwarded %q, want %q", got, want)
	}
}

func TestLineBufferFlushForwardsNothing(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	buffer := NewLineBuffer(&out, 64)
	if _, err := buffer.Write([]byte("no newline")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := buffer.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("Flush forwarded %q", out.String())
	}
}

func TestLineBufferOverflow(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	buffer := NewLineBuffer(&out, 8)

	// Exactly capacity unterminated bytes fit.
	if _, err := buffer.Write([]byte("12345678")); err != nil {
		t.Fatalf("Write at capacity: %v", err)
	}
	if _, err := buffer.Write([]byte("\n")); err != nil {
		t.Fatalf("Write newline: %v", err)
	}
	if got := out.String(); got != "12345678\n" {
		t.Fatalf("forwarded %q, want full line", got)
	}

	out.Reset()
	input := []byte("ok\n123456789")
	n, err := buffer.Write(input)
	if !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("Write error = %v, want ErrLineTooLong", err)
	}
	if n != len("ok\n") {
		t.Errorf("Write n = %d, want %d", n, len("ok\n"))
	}
	if got := out.String(); got != "ok\n" {
		t.Errorf("forwarded %q, want complete lines before overflow", got)
	}
	if buffer.Pending() != 0 {
		t.Errorf("Pending() = %d after overflow, want 0", buffer.Pending())
	}
}

func TestLineBufferOverflowKeepsEarlierFragment(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	buffer := NewLineBuffer(&out, 8)

	if _, err := buffer.Write([]byte("abcde")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	n, err := buffer.Write([]byte("fghij"))
	if !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("Write error = %v, want ErrLineTooLong", err)
	}
	if n != 0 {
		t.Errorf("Write n = %d, want 0", n)
	}
	if out.Len() != 0 {
		t.Errorf("forwarded %q, want nothing", out.String())
	}
	if buffer.Pending() != len("abcde") {
		t.Errorf("Pending() = %d, want %d", buffer.Pending(), len("abcde"))
	}
	if got := string(buffer.Fragment()); got != "abcde" {
		t.Errorf("Fragment() = %q, want %q", got, "abcde")
	}

	buffer.Purge()
	if _, err := buffer.Write([]byte("xy\n")); err != nil {
		t.Fatalf("Write after Purge: %v", err)
	}
	if got := out.String(); got != "xy\n" {
		t.Errorf("forwarded %q after Purge, want %q", got, "xy\n")
	}
}

func TestLineBufferCarriesFragmentIntoNextLine(t *testing.T) {
	t.Parallel()

	writer := &recordingWriter{}
	buffer := NewLineBuffer(writer, 64)
	for _, chunk := range []string{"ab", "cd", "ef\ngh\n"} {
		if _, err := buffer.Write([]byte(chunk)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if got := writer.String(); got != "abcdef\ngh\n" {
		t.Errorf("forwarded %q", got)
	}
	if len(writer.writes) != 2 || writer.writes[0] != "abcdef\n" {
		t.Errorf("downstream writes = %q, want the completed fragment first and alone", writer.writes)
	}
	for _, write := range writer.writes {
		if !strings.HasSuffix(write, "\n") {
			t.Errorf("downstream write %q does not end on a line boundary", write)
		}
	}
}

// Whatever the chunking, the forwarded bytes equal the input up to and
// including its last newline.
func TestLineBufferChunkingInvariance(t *testing.T) {
	t.Parallel()

	random := rand.New(rand.NewPCG(1, 2))
	alphabet := []byte("ab{}\":1\n")

	for iteration := range 200 {
		input := make([]byte, random.IntN(300))
		for index := range input {
			input[index] = alphabet[random.IntN(len(alphabet))]
		}

		var out bytes.Buffer
		buffer := NewLineBuffer(&out, len(input)+1)
		remaining := input
		for len(remaining) > 0 {
			size := 1 + random.IntN(min(len(remaining), 17))
			if _, err := buffer.Write(remaining[:size]); err != nil {
				t.Fatalf("iteration %d: Write: %v", iteration, err)
			}
			remaining = remaining[size:]
		}

		want := input[:bytes.LastIndexByte(input, '\n')+1]
		if !bytes.Equal(out.Bytes(), want) {
			t.Fatalf("iteration %d: forwarded %q, want %q", iteration, out.Bytes(), want)
		}
		if got := buffer.Pending(); got != len(input)-len(want) {
			t.Fatalf("iteration %d: Pending() = %d, want %d", iteration, got, len(input)-len(want))
		}
	}
}
