// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

package procsurvey

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
)

// columnCount is the number of columns requested from ps.
const columnCount = 4

// Parse parses complete ps output. Rows that do not describe a process
// are dropped.
func Parse(output []byte) []Item {
	var items []Item
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		if item, ok := ParseLine(scanner.Text()); ok {
			items = append(items, item)
		}
	}
	return items
}

// ParseLine parses one row of `ps axo pid,ppid,state,comm` output:
//
//	  PID  PPID S COMMAND
//	    1     0 S vepwrap
//	   46     1 S perl
//
// Leading whitespace is optional. The second return value is false for
// any row that is not a process row: too few columns, a non-numeric
// pid or ppid (the header), or a state column longer than one
// character. A command name containing spaces is kept whole.
func ParseLine(line string) (Item, bool) {
	fields := strings.Fields(line)
	if len(fields) < columnCount {
		return Item{}, false
	}

	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return Item{}, false
	}
	parentPID, err := strconv.Atoi(fields[1])
	if err != nil {
		return Item{}, false
	}
	if len(fields[2]) != 1 {
		return Item{}, false
	}

	return Item{
		PID:       pid,
		ParentPID: parentPID,
		State:     fields[2][0],
		Command:   strings.Join(fields[3:], " "),
	}, true
}
