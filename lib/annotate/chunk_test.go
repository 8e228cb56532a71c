// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

package annotate

import (
	"errors"
	"reflect"
	"testing"
)

func TestChunkBySize(t *testing.T) {
	variants := []string{"a", "b", "c", "d", "e", "f", "g"}

	tests := []struct {
		name      string
		variants  []string
		chunkSize int
		maxChunks int
		want      [][]string
	}{
		{
			name:      "one per chunk within limit",
			variants:  variants[:3],
			chunkSize: 1,
			maxChunks: 4,
			want:      [][]string{{"a"}, {"b"}, {"c"}},
		},
		{
			name:      "chunk size grows to respect limit",
			variants:  variants,
			chunkSize: 1,
			maxChunks: 3,
			want:      [][]string{{"a", "b", "c"}, {"d", "e", "f"}, {"g"}},
		},
		{
			name:      "even split",
			variants:  variants[:6],
			chunkSize: 1,
			maxChunks: 2,
			want:      [][]string{{"a", "b", "c"}, {"d", "e", "f"}},
		},
		{
			name:      "larger chunk size kept",
			variants:  variants,
			chunkSize: 5,
			maxChunks: 4,
			want:      [][]string{{"a", "b", "c", "d", "e"}, {"f", "g"}},
		},
		{
			name:      "empty",
			variants:  nil,
			chunkSize: 1,
			maxChunks: 4,
			want:      nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChunkBySize(tt.variants, tt.chunkSize, tt.maxChunks)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ChunkBySize() = %q, want %q", got, tt.want)
			}
			if len(got) > tt.maxChunks {
				t.Errorf("got %d chunks, limit %d", len(got), tt.maxChunks)
			}
		})
	}
}

func TestChunkBySizeDoesNotAlias(t *testing.T) {
	variants := []string{"a", "b", "c", "d"}
	chunks := ChunkBySize(variants, 2, 4)
	chunks[0] = append(chunks[0], "x")
	if variants[2] != "c" {
		t.Errorf("appending to a chunk overwrote the input: %q", variants)
	}
}

func TestChunkByChromosome(t *testing.T) {
	regions := []string{
		"X:100-100:1/A",
		"2:200-200:1/C",
		"1:10-10:1/G",
		"chr2:300-300:1/T",
		"y:5-5:1/A",
		"1:20-20:1/T",
	}
	got, err := ChunkByChromosome(regions)
	if err != nil {
		t.Fatalf("ChunkByChromosome: %v", err)
	}
	want := [][]string{
		{"1:10-10:1/G", "1:20-20:1/T"},
		{"2:200-200:1/C", "chr2:300-300:1/T"},
		{"X:100-100:1/A"},
		{"y:5-5:1/A"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ChunkByChromosome() = %q, want %q", got, want)
	}
}

func TestChunkByChromosomeRejectsUnknown(t *testing.T) {
	for _, region := range []string{"MT:1-1:1/A", "23:1-1:1/A", "0:1-1:1/A", ""} {
		_, err := ChunkByChromosome([]string{"1:1-1:1/A", region})
		if !errors.Is(err, ErrBadChromosome) {
			t.Errorf("region %q: error = %v, want ErrBadChromosome", region, err)
		}
	}
}
