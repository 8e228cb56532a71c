// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the vepwrap service.
type Config struct {
	// ListenAddress is the HTTP listen address.
	// Default: :8080
	ListenAddress string `yaml:"listen_address"`

	// ServerVersion is reported as "server" by /info/software. Empty
	// means the binary's build version.
	ServerVersion string `yaml:"server_version"`

	// Tool configures the annotation tool and its command line.
	Tool ToolConfig `yaml:"tool"`

	// Batch configures how multi-variant requests are split.
	Batch BatchConfig `yaml:"batch"`

	// Supervisor configures process tracking and orphan reclamation.
	Supervisor SupervisorConfig `yaml:"supervisor"`

	// Stream configures the output pipeline.
	Stream StreamConfig `yaml:"stream"`

	// HTTP configures the HTTP server.
	HTTP HTTPConfig `yaml:"http"`
}

// ToolConfig configures the annotation tool.
type ToolConfig struct {
	// Path is the tool executable. A bare name is looked up in PATH;
	// a relative path is resolved against WorkingDirectory.
	// Default: ${VEPWRAP_HOME:-.}/scripts/vep
	Path string `yaml:"path"`

	// WorkingDirectory is the tool's working directory. Empty means
	// the service's own.
	WorkingDirectory string `yaml:"working_directory"`

	// Interpreter is the command name of the tool's worker processes,
	// used to recognize orphans.
	// Default: perl
	Interpreter string `yaml:"interpreter"`

	// Database is the annotation database connection.
	Database DatabaseConfig `yaml:"database"`

	// Forks is the tool's --fork value.
	// Default: 4
	Forks int `yaml:"forks"`

	// PluginDirectory holds plugin data files.
	// Default: /plugin-data
	PluginDirectory string `yaml:"plugin_directory"`

	// PolyphenSiftFile enables the PolyPhen_SIFT plugin when set.
	PolyphenSiftFile string `yaml:"polyphen_sift_file"`

	// AlphaMissenseFile enables the AlphaMissense plugin when set.
	AlphaMissenseFile string `yaml:"alpha_missense_file"`

	// ExtraFlags are appended to every annotation command line.
	ExtraFlags []string `yaml:"extra_flags"`
}

// DatabaseConfig is the annotation database connection.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// BatchConfig configures batch splitting.
type BatchConfig struct {
	// ChunkSize is the preferred number of variants per tool run.
	// Default: 1
	ChunkSize int `yaml:"chunk_size"`

	// MaxParallel caps the number of chunks, and so the number of
	// concurrent tool runs per request.
	// Default: 4
	MaxParallel int `yaml:"max_parallel"`
}

// SupervisorConfig configures the process supervisor.
type SupervisorConfig struct {
	// ReclaimInterval is the reclamation loop period.
	// Default: 2s
	ReclaimInterval string `yaml:"reclaim_interval"`

	// PIDProbeWait is the retry wait for a pid not yet assigned.
	// Default: 250ms
	PIDProbeWait string `yaml:"pid_probe_wait"`

	// DestroyWait bounds the wait for a killed process to exit.
	// Default: 10s
	DestroyWait string `yaml:"destroy_wait"`

	// ShutdownWait bounds the wait for the reclamation loop to stop
	// at service shutdown.
	// Default: 20s
	ShutdownWait string `yaml:"shutdown_wait"`

	// BecomeSubreaper makes orphaned tool descendants reparent to the
	// service (Linux only).
	// Default: true
	BecomeSubreaper bool `yaml:"become_subreaper"`
}

// StreamConfig configures the output pipeline.
type StreamConfig struct {
	// LineBufferSize bounds one output record in bytes.
	// Default: 393216
	LineBufferSize int `yaml:"line_buffer_size"`

	// RelayBufferSize is the pipe read chunk size in bytes.
	// Default: 61440
	RelayBufferSize int `yaml:"relay_buffer_size"`

	// RelayGrace is how long relays may drain after the tool exits
	// or is destroyed.
	// Default: 2s
	RelayGrace string `yaml:"relay_grace"`

	// PollInterval is the longest single wait between exit checks.
	// Default: 100ms
	PollInterval string `yaml:"poll_interval"`

	// DefaultTimeout applies when a request gives no
	// responseTimeout. "0s" means no limit.
	// Default: 0s
	DefaultTimeout string `yaml:"default_timeout"`

	// DiagnosticLines is how many trailing stderr lines are kept for
	// error responses.
	// Default: 20
	DiagnosticLines int `yaml:"diagnostic_lines"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	// Compress gzips responses for clients that accept it.
	// Default: false
	Compress bool `yaml:"compress"`

	// ShutdownTimeout bounds the wait for in-flight requests at
	// shutdown.
	// Default: 10s
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// Default returns the default configuration. These defaults are the
// base the config file is merged into.
func Default() *Config {
	return &Config{
		ListenAddress: ":8080",
		Tool: ToolConfig{
			Path:            "${VEPWRAP_HOME:-.}/scripts/vep",
			Interpreter:     "perl",
			Forks:           4,
			PluginDirectory: "/plugin-data",
		},
		Batch: BatchConfig{
			ChunkSize:   1,
			MaxParallel: 4,
		},
		Supervisor: SupervisorConfig{
			ReclaimInterval: "2s",
			PIDProbeWait:    "250ms",
			DestroyWait:     "10s",
			ShutdownWait:    "20s",
			BecomeSubreaper: true,
		},
		Stream: StreamConfig{
			LineBufferSize:  384 * 1024,
			RelayBufferSize: 60 * 1024,
			RelayGrace:      "2s",
			PollInterval:    "100ms",
			DefaultTimeout:  "0s",
			DiagnosticLines: 20,
		},
		HTTP: HTTPConfig{
			ShutdownTimeout: "10s",
		},
	}
}

// Load loads configuration from the VEPWRAP_CONFIG environment
// variable. It fails if the variable is not set.
func Load() (*Config, error) {
	configPath := os.Getenv("VEPWRAP_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("VEPWRAP_CONFIG environment variable not set; " +
			"set it to the path of your vepwrap.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merged over
// Default and with variables expanded.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.ExpandVariables()
	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// ExpandVariables expands ${VAR} and ${VAR:-default} patterns in path
// and credential fields. LoadFile calls it; callers using Default
// directly call it themselves.
func (c *Config) ExpandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Tool.Path = expandVars(c.Tool.Path, vars)
	c.Tool.WorkingDirectory = expandVars(c.Tool.WorkingDirectory, vars)
	c.Tool.PluginDirectory = expandVars(c.Tool.PluginDirectory, vars)
	c.Tool.Database.Host = expandVars(c.Tool.Database.Host, vars)
	c.Tool.Database.User = expandVars(c.Tool.Database.User, vars)
	c.Tool.Database.Password = expandVars(c.Tool.Database.Password, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors, reporting all of them.
func (c *Config) Validate() error {
	var errs []error

	if c.ListenAddress == "" {
		errs = append(errs, fmt.Errorf("listen_address is required"))
	}
	if c.Tool.Path == "" {
		errs = append(errs, fmt.Errorf("tool.path is required"))
	}
	if c.Tool.Interpreter == "" {
		errs = append(errs, fmt.Errorf("tool.interpreter is required"))
	}
	if c.Tool.Forks < 1 {
		errs = append(errs, fmt.Errorf("tool.forks must be at least 1, got %d", c.Tool.Forks))
	}
	if c.Batch.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("batch.chunk_size must be at least 1, got %d", c.Batch.ChunkSize))
	}
	if c.Batch.MaxParallel < 1 {
		errs = append(errs, fmt.Errorf("batch.max_parallel must be at least 1, got %d", c.Batch.MaxParallel))
	}
	if c.Stream.LineBufferSize < 1 {
		errs = append(errs, fmt.Errorf("stream.line_buffer_size must be positive, got %d", c.Stream.LineBufferSize))
	}
	if c.Stream.RelayBufferSize < 1 {
		errs = append(errs, fmt.Errorf("stream.relay_buffer_size must be positive, got %d", c.Stream.RelayBufferSize))
	}

	durations := []struct {
		field     string
		value     string
		allowZero bool
	}{
		{"supervisor.reclaim_interval", c.Supervisor.ReclaimInterval, false},
		{"supervisor.pid_probe_wait", c.Supervisor.PIDProbeWait, false},
		{"supervisor.destroy_wait", c.Supervisor.DestroyWait, false},
		{"supervisor.shutdown_wait", c.Supervisor.ShutdownWait, false},
		{"stream.relay_grace", c.Stream.RelayGrace, false},
		{"stream.poll_interval", c.Stream.PollInterval, false},
		{"stream.default_timeout", c.Stream.DefaultTimeout, true},
		{"http.shutdown_timeout", c.HTTP.ShutdownTimeout, false},
	}
	for _, duration := range durations {
		if err := checkDuration(duration.field, duration.value, duration.allowZero); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func checkDuration(field, value string, allowZero bool) error {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if parsed < 0 || (parsed == 0 && !allowZero) {
		return fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return nil
}

// mustDuration parses a duration that Validate has already checked.
// An unparseable value yields zero, which every consumer replaces
// with its own default.
func mustDuration(value string) time.Duration {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return parsed
}

// ReclaimIntervalDuration returns ReclaimInterval as a time.Duration.
func (s SupervisorConfig) ReclaimIntervalDuration() time.Duration {
	return mustDuration(s.ReclaimInterval)
}

// PIDProbeWaitDuration returns PIDProbeWait as a time.Duration.
func (s SupervisorConfig) PIDProbeWaitDuration() time.Duration {
	return mustDuration(s.PIDProbeWait)
}

// DestroyWaitDuration returns DestroyWait as a time.Duration.
func (s SupervisorConfig) DestroyWaitDuration() time.Duration {
	return mustDuration(s.DestroyWait)
}

// ShutdownWaitDuration returns ShutdownWait as a time.Duration.
func (s SupervisorConfig) ShutdownWaitDuration() time.Duration {
	return mustDuration(s.ShutdownWait)
}

// RelayGraceDuration returns RelayGrace as a time.Duration.
func (s StreamConfig) RelayGraceDuration() time.Duration {
	return mustDuration(s.RelayGrace)
}

// PollIntervalDuration returns PollInterval as a time.Duration.
func (s StreamConfig) PollIntervalDuration() time.Duration {
	return mustDuration(s.PollInterval)
}

// DefaultTimeoutDuration returns DefaultTimeout as a time.Duration.
func (s StreamConfig) DefaultTimeoutDuration() time.Duration {
	return mustDuration(s.DefaultTimeout)
}

// ShutdownTimeoutDuration returns ShutdownTimeout as a time.Duration.
func (h HTTPConfig) ShutdownTimeoutDuration() time.Duration {
	return mustDuration(h.ShutdownTimeout)
}

// ToolPath returns the absolute path of the tool executable. A bare
// name is looked up in PATH; a relative path is resolved against
// WorkingDirectory (or the current directory).
func (c *Config) ToolPath() (string, error) {
	path := c.Tool.Path
	if !strings.ContainsRune(path, filepath.Separator) {
		resolved, err := exec.LookPath(path)
		if err != nil {
			return "", fmt.Errorf("%s not found in PATH", path)
		}
		return resolved, nil
	}
	if !filepath.IsAbs(path) && c.Tool.WorkingDirectory != "" {
		path = filepath.Join(c.Tool.WorkingDirectory, path)
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving tool path %s: %w", path, err)
	}
	return absolute, nil
}
