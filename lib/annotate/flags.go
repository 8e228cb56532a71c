// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

package annotate

import (
	"path"
	"strconv"
	"strings"

	"github.com/genome-nexus/vepwrap/lib/config"
)

// Format is the tool's input format.
type Format string

const (
	FormatHGVS   Format = "hgvs"
	FormatRegion Format = "region"
)

// Flags returns the tool arguments for annotating variants.
func Flags(tool config.ToolConfig, format Format, variants []string) []string {
	database := tool.Database
	flags := []string{
		"--database",
		"--host=" + database.Host,
		"--port=" + strconv.Itoa(database.Port),
		"--user=" + database.User,
		"--password=" + database.Password,
		"--fork=" + strconv.Itoa(tool.Forks),
		"--format=" + string(format),
		"--input_data=" + strings.Join(variants, "\n"),
		"--output_file=STDOUT",
		"--warning_file=STDERR",
		"--everything",
		"--hgvsg",
		"--no_stats",
		"--xref_refseq",
		"--json",
	}
	if tool.PolyphenSiftFile != "" {
		flags = append(flags, "--plugin=PolyPhen_SIFT,db="+path.Join(tool.PluginDirectory, tool.PolyphenSiftFile))
	}
	if tool.AlphaMissenseFile != "" {
		flags = append(flags, "--plugin=AlphaMissense,file="+path.Join(tool.PluginDirectory, tool.AlphaMissenseFile))
	}
	return append(flags, tool.ExtraFlags...)
}
