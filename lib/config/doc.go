// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for vepwrap.
//
// Configuration is loaded from a single file specified by either the
// VEPWRAP_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no file discovery. Without a file the
// binary runs on [Default].
//
// Variable expansion is performed after loading on path and database
// credential fields: ${HOME}, ${VEPWRAP_HOME}, and ${VAR:-default}
// patterns are expanded, so credentials can be kept out of the file.
// No other environment variables override config values.
//
// Durations are written as strings ("2s", "250ms") and checked by
// [Config.Validate]; the typed accessors assume a validated config.
//
// This package depends on no other vepwrap packages.
package config
