// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// ShellTool writes body as an executable /bin/sh script named name in a
// fresh temporary directory and returns the script path. The test is
// skipped when /bin/sh is unavailable.
func ShellTool(t *testing.T, name, body string) string {
	t.Helper()

	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skipf("/bin/sh not available: %v", err)
	}

	path := filepath.Join(t.TempDir(), name)
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("writing tool script %s: %v", path, err)
	}
	return path
}
