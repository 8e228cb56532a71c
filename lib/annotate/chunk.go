// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

package annotate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBadChromosome is returned for a region whose chromosome is not
// 1-22, X, or Y.
var ErrBadChromosome = errors.New("unrecognized chromosome")

// chromosomeCount is the number of chromosome buckets: 1-22, X, Y.
const chromosomeCount = 24

// ChunkBySize splits variants into chunks of chunkSize, growing the
// chunk size as needed so there are never more than maxChunks chunks.
// Order is preserved.
func ChunkBySize(variants []string, chunkSize, maxChunks int) [][]string {
	if len(variants) == 0 {
		return nil
	}
	chunkSize = max(chunkSize, 1)
	maxChunks = max(maxChunks, 1)
	if (len(variants)+chunkSize-1)/chunkSize > maxChunks {
		chunkSize = (len(variants) + maxChunks - 1) / maxChunks
	}

	chunks := make([][]string, 0, (len(variants)+chunkSize-1)/chunkSize)
	for start := 0; start < len(variants); start += chunkSize {
		end := min(start+chunkSize, len(variants))
		chunks = append(chunks, variants[start:end:end])
	}
	return chunks
}

// ChunkByChromosome groups regions by the chromosome before the first
// ':' and returns the non-empty groups in chromosome order (1-22, X,
// Y). A "chr" prefix is accepted.
func ChunkByChromosome(regions []string) ([][]string, error) {
	var buckets [chromosomeCount][]string
	for _, region := range regions {
		index, err := chromosomeIndex(region)
		if err != nil {
			return nil, err
		}
		buckets[index] = append(buckets[index], region)
	}

	var chunks [][]string
	for _, bucket := range buckets {
		if len(bucket) > 0 {
			chunks = append(chunks, bucket)
		}
	}
	return chunks, nil
}

func chromosomeIndex(region string) (int, error) {
	name, _, _ := strings.Cut(strings.TrimSpace(region), ":")
	name = strings.ToLower(name)
	name = strings.TrimPrefix(name, "chr")
	switch name {
	case "x":
		return 22, nil
	case "y":
		return 23, nil
	}
	number, err := strconv.Atoi(name)
	if err != nil || number < 1 || number > 22 {
		return 0, fmt.Errorf("%w in region %q", ErrBadChromosome, region)
	}
	return number - 1, nil
}
