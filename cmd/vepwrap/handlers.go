// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/genome-nexus/vepwrap/lib/annotate"
	"github.com/genome-nexus/vepwrap/lib/clock"
	"github.com/genome-nexus/vepwrap/lib/linestream"
	"github.com/genome-nexus/vepwrap/lib/netutil"
	"github.com/genome-nexus/vepwrap/lib/supervisor"
	"github.com/genome-nexus/vepwrap/lib/toolrun"
)

// maxRequestBody bounds POST bodies.
const maxRequestBody = 32 << 20

// annotationService runs annotation requests. *annotate.Annotator
// implements it.
type annotationService interface {
	Annotate(ctx context.Context, request annotate.Request, list *linestream.JSONList) (annotate.Outcome, error)
	Release(ctx context.Context) (int, error)
}

// healthSource reports supervisor state. *supervisor.Supervisor
// implements it.
type healthSource interface {
	IsRunning() bool
	Tracked() []*supervisor.Process
	Capabilities() map[string]supervisor.Capability
}

type handlerConfig struct {
	Annotations    annotationService
	Health         healthSource
	ServerVersion  string
	ChunkSize      int
	MaxParallel    int
	DefaultTimeout time.Duration
	Logger         *slog.Logger

	// Clock times requests for logging. Defaults to clock.Real().
	Clock clock.Clock
}

type handler struct {
	handlerConfig
}

func newHandler(config handlerConfig) http.Handler {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	h := &handler{handlerConfig: config}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /vep/human/hgvs/{variant}", h.handleHGVS)
	mux.HandleFunc("POST /vep/human/hgvs", h.handleHGVSBatch)
	mux.HandleFunc("GET /vep/human/region/{region...}", h.handleRegion)
	mux.HandleFunc("POST /vep/human/region", h.handleRegionBatch)
	mux.HandleFunc("GET /info/software", h.handleSoftware)
	mux.HandleFunc("GET /health", h.handleHealth)
	return h.withRequestID(mux)
}

type requestIDKey struct{}

// withRequestID tags each request with an ID, echoed in the
// X-Request-Id response header and attached to its log records.
func (h *handler) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, requestID)))
	})
}

func (h *handler) requestLogger(r *http.Request) *slog.Logger {
	requestID, _ := r.Context().Value(requestIDKey{}).(string)
	return h.Logger.With("request_id", requestID, "method", r.Method, "path", r.URL.Path)
}

func (h *handler) handleHGVS(w http.ResponseWriter, r *http.Request) {
	variant := r.PathValue("variant")
	h.annotate(w, r, annotate.FormatHGVS, [][]string{{variant}})
}

func (h *handler) handleHGVSBatch(w http.ResponseWriter, r *http.Request) {
	var body map[string][]string
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	variants, ok := body["hgvs_notations"]
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing key: 'hgvs_notations'")
		return
	}
	h.annotate(w, r, annotate.FormatHGVS, annotate.ChunkBySize(variants, h.ChunkSize, h.MaxParallel))
}

func (h *handler) handleRegion(w http.ResponseWriter, r *http.Request) {
	region := strings.TrimPrefix(r.PathValue("region"), "/")
	if region == "" {
		writeError(w, http.StatusBadRequest, "missing region")
		return
	}
	h.annotate(w, r, annotate.FormatRegion, [][]string{{region}})
}

func (h *handler) handleRegionBatch(w http.ResponseWriter, r *http.Request) {
	var regions []string
	if err := decodeBody(r, &regions); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	chunks, err := annotate.ChunkByChromosome(regions)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.annotate(w, r, annotate.FormatRegion, chunks)
}

// annotate runs the request and streams the JSON array to the client.
// The status is committed by the first array element, so a failure
// before any output still becomes an error response; a failure after
// that can only be logged.
func (h *handler) annotate(w http.ResponseWriter, r *http.Request, format annotate.Format, chunks [][]string) {
	logger := h.requestLogger(r)

	timeout, err := h.responseTimeout(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	list := linestream.NewJSONList(&flushWriter{w: w})

	start := h.Clock.Now()
	outcome, err := h.Annotations.Annotate(r.Context(), annotate.Request{
		Format:  format,
		Chunks:  chunks,
		Timeout: timeout,
	}, list)

	logger.Info("annotation request finished",
		"format", format,
		"chunks", outcome.Chunks,
		"failed_chunks", outcome.Failed,
		"timed_out_chunks", outcome.TimedOut,
		"elements", list.Elements(),
		"duration", h.Clock.Now().Sub(start),
		"error", err,
	)

	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) || netutil.IsExpectedCloseError(err) {
		return
	}
	if list.Started() {
		logger.Error("annotation failed after the response was committed", "error", err)
		list.Close()
		return
	}
	writeError(w, http.StatusInternalServerError, errorMessage(err))
}

// responseTimeout reads the responseTimeout query parameter in
// seconds. Zero means no limit; absent means the configured default.
func (h *handler) responseTimeout(r *http.Request) (time.Duration, error) {
	value := r.URL.Query().Get("responseTimeout")
	if value == "" {
		return h.DefaultTimeout, nil
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("responseTimeout must be a non-negative integer number of seconds, got %q", value)
	}
	return time.Duration(seconds) * time.Second, nil
}

func (h *handler) handleSoftware(w http.ResponseWriter, r *http.Request) {
	release, err := h.Annotations.Release(r.Context())
	if err != nil {
		h.requestLogger(r).Error("reading tool release failed", "error", err)
		writeError(w, http.StatusInternalServerError, errorMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"server":  h.ServerVersion,
		"release": release,
	})
}

type healthResponse struct {
	Status           string            `json:"status"`
	ReclaimerRunning bool              `json:"reclaimer_running"`
	TrackedProcesses int               `json:"tracked_processes"`
	Capabilities     map[string]string `json:"capabilities"`
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:           "ok",
		ReclaimerRunning: h.Health.IsRunning(),
		TrackedProcesses: len(h.Health.Tracked()),
		Capabilities:     formatCapabilities(h.Health.Capabilities()),
	})
}

// errorMessage prefers the tool's own diagnostics for abnormal exits.
func errorMessage(err error) string {
	var exitErr *toolrun.ExitError
	if errors.As(err, &exitErr) && exitErr.Diagnostics != "" {
		return exitErr.Diagnostics
	}
	return err.Error()
}

func decodeBody(r *http.Request, target any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("malformed request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// flushWriter flushes after every write so array elements reach the
// client as the tool produces them.
type flushWriter struct {
	w http.ResponseWriter
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if flusher, ok := f.w.(http.Flusher); ok {
		flusher.Flush()
	}
	return n, err
}
