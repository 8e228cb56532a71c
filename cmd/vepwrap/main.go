// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

// Vepwrap serves variant annotations over HTTP by running the Ensembl
// Variant Effect Predictor once per request chunk.
//
// Each tool run is launched through the process supervisor, which
// tracks it and periodically reclaims orphaned tool workers left
// behind when a run is destroyed at its deadline. The tool's stdout is
// streamed to the client as one JSON array, cut at a line boundary if
// the run times out; its stderr goes to the log.
//
// Configuration comes from the file named by --config or
// VEPWRAP_CONFIG. Without either, built-in defaults are used.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/genome-nexus/vepwrap/lib/annotate"
	"github.com/genome-nexus/vepwrap/lib/clock"
	"github.com/genome-nexus/vepwrap/lib/config"
	"github.com/genome-nexus/vepwrap/lib/process"
	"github.com/genome-nexus/vepwrap/lib/service"
	"github.com/genome-nexus/vepwrap/lib/supervisor"
	"github.com/genome-nexus/vepwrap/lib/toolrun"
	"github.com/genome-nexus/vepwrap/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath    string
		listenAddress string
		logLevel      string
		logFormat     string
		showVersion   bool
	)

	flagSet := pflag.NewFlagSet("vepwrap", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to vepwrap.yaml (default: $VEPWRAP_CONFIG, then built-in defaults)")
	flagSet.StringVar(&listenAddress, "listen", "", "HTTP listen address, overriding listen_address")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flagSet.StringVar(&logFormat, "log-format", "json", "log format: json or text")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("vepwrap %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if listenAddress != "" {
		cfg.ListenAddress = listenAddress
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := newLogger(logLevel, logFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	toolPath, err := cfg.ToolPath()
	if err != nil {
		return fmt.Errorf("locating annotation tool: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Supervisor.BecomeSubreaper {
		if err := supervisor.BecomeSubreaper(); err != nil {
			logger.Warn("cannot become child subreaper, orphaned tool workers may escape reclamation",
				"error", err)
		}
	}

	sup := supervisor.New(supervisor.Config{
		Logger:          logger.With("component", "supervisor"),
		InterpreterName: cfg.Tool.Interpreter,
		ReclaimInterval: cfg.Supervisor.ReclaimIntervalDuration(),
		PIDProbeWait:    cfg.Supervisor.PIDProbeWaitDuration(),
		DestroyWait:     cfg.Supervisor.DestroyWaitDuration(),
	})
	sup.EnsureReclaimer()

	runner := toolrun.New(toolrun.Config{
		Launcher:        sup,
		Logger:          logger.With("component", "toolrun"),
		LineBufferSize:  cfg.Stream.LineBufferSize,
		RelayBufferSize: cfg.Stream.RelayBufferSize,
		PollInterval:    cfg.Stream.PollIntervalDuration(),
		RelayGrace:      cfg.Stream.RelayGraceDuration(),
		DiagnosticLines: cfg.Stream.DiagnosticLines,
	})

	annotator := annotate.New(annotate.Config{
		Runner:      runner,
		Tool:        cfg.Tool,
		ToolPath:    toolPath,
		MaxParallel: cfg.Batch.MaxParallel,
		Logger:      logger.With("component", "annotate"),
	})

	serverVersion := cfg.ServerVersion
	if serverVersion == "" {
		serverVersion = version.Short()
	}

	server := service.NewHTTPServer(service.HTTPServerConfig{
		Address: cfg.ListenAddress,
		Handler: newHandler(handlerConfig{
			Annotations:    annotator,
			Health:         sup,
			ServerVersion:  serverVersion,
			ChunkSize:      cfg.Batch.ChunkSize,
			MaxParallel:    cfg.Batch.MaxParallel,
			DefaultTimeout: cfg.Stream.DefaultTimeoutDuration(),
			Logger:         logger.With("component", "http"),
			Clock:          clock.Real(),
		}),
		Compress:        cfg.HTTP.Compress,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeoutDuration(),
		Logger:          logger,
	})

	logger.Info("vepwrap starting",
		"version", version.Info(),
		"tool", toolPath,
		"listen_address", cfg.ListenAddress,
		"capabilities", formatCapabilities(sup.Capabilities()),
	)

	serveErr := server.Serve(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Supervisor.ShutdownWaitDuration())
	defer cancel()
	if err := sup.Shutdown(shutdownCtx); err != nil {
		logger.Warn("supervisor did not stop cleanly", "error", err)
	}
	logger.Info("vepwrap stopped")
	return serveErr
}

// loadConfig reads the --config file, else the VEPWRAP_CONFIG file,
// else falls back to defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("VEPWRAP_CONFIG") != "" {
		return config.Load()
	}
	cfg := config.Default()
	cfg.ExpandVariables()
	return cfg, nil
}

func newLogger(level, format string) (*slog.Logger, error) {
	var slogLevel slog.Level
	if err := slogLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	options := &slog.HandlerOptions{Level: slogLevel}

	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, options)), nil
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, options)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q: must be json or text", format)
	}
}

func formatCapabilities(capabilities map[string]supervisor.Capability) map[string]string {
	formatted := make(map[string]string, len(capabilities))
	for name, capability := range capabilities {
		formatted[name] = capability.String()
	}
	return formatted
}
