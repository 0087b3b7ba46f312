// Copyright 2026 The Seamster Authors
// SPDX-License-Identifier: Apache-2.0

// Package delivery translates HTTP requests into pipeline operations
// and streams the results. Routing is by path prefix: /download,
// /raw, /rebuild, /diag, and /health are pipeline operations;
// everything else falls through to static file serving with directory
// listings suppressed.
//
// Every delivery operation resolves its response headers before the
// first body byte. Once streaming has started, a failure can only be
// appended as trailing diagnostic text — never converted into a
// different status code. A client disconnect mid-stream ends the
// write loop silently.
package delivery

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/seamster-project/seamster/lib/assemble"
	"github.com/seamster-project/seamster/lib/config"
	"github.com/seamster-project/seamster/lib/manifest"
	"github.com/seamster-project/seamster/lib/materialize"
	"github.com/seamster-project/seamster/lib/rebuild"
)

// Config configures a Handler.
type Config struct {
	// Manifest describes the artifact this deployment serves.
	// Required.
	Manifest *manifest.Manifest

	// PartsDir is the absolute directory holding the part files.
	// Required.
	PartsDir string

	// PublicDir is the static serving root. Required.
	PublicDir string

	// Mode is the configured pipeline mode (config.ModeConcat,
	// ModeExtract, or ModeRepackage).
	Mode string

	// Cache is the rebuild cache. Nil in concat mode, where nothing
	// is materialized.
	Cache *rebuild.Cache

	// Placeholder is the part-file stand-in detection policy passed
	// to the locator.
	Placeholder manifest.PlaceholderFunc

	// Tool, when non-nil, is the configured external extractor whose
	// availability the diagnostic report checks.
	Tool *materialize.ToolExtractor

	// ChunkSize is the streaming write unit. <= 0 selects the
	// assemble default.
	ChunkSize int

	// Version is the server version string shown by /diag.
	Version string

	// Logger is the structured logger. Required.
	Logger *slog.Logger
}

// Handler is the HTTP delivery handler.
type Handler struct {
	config Config
	static http.Handler
}

// New creates the Handler.
func New(config Config) *Handler {
	if config.Manifest == nil {
		panic("delivery.Handler: Manifest is required")
	}
	if config.Logger == nil {
		panic("delivery.Handler: Logger is required")
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = assemble.DefaultChunkSize
	}
	return &Handler{
		config: config,
		static: http.FileServer(noListingFileSystem{http.Dir(config.PublicDir)}),
	}
}

// ServeHTTP routes by path prefix.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasPrefix(r.URL.Path, "/download"):
		h.handleDownload(w, r)
	case strings.HasPrefix(r.URL.Path, "/raw"):
		h.handleRaw(w, r)
	case strings.HasPrefix(r.URL.Path, "/rebuild"):
		h.handleRebuild(w, r)
	case strings.HasPrefix(r.URL.Path, "/diag"):
		h.handleDiag(w, r)
	case strings.HasPrefix(r.URL.Path, "/health"):
		h.writeText(w, http.StatusOK, "ok")
	default:
		h.static.ServeHTTP(w, r)
	}
}

// locate runs the part locator with the handler's policies.
func (h *Handler) locate() ([]manifest.LocatedPart, error) {
	return manifest.Locate(h.config.PartsDir, h.config.Manifest, manifest.LocateOptions{
		Placeholder: h.config.Placeholder,
	})
}

// --- Download ---

// handleDownload streams the artifact: the raw concatenation in
// concat mode, the cached materialized output otherwise.
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	parts, err := h.locate()
	if err != nil {
		h.writeError(w, err)
		return
	}

	if h.config.Mode == config.ModeConcat || h.config.Cache == nil {
		h.streamConcatenation(w, parts)
		return
	}

	entry, err := h.config.Cache.Get(r.Context(), parts, false)
	if err != nil {
		h.writeError(w, err)
		return
	}

	file, err := os.Open(h.config.Cache.OutputPath(entry))
	if err != nil {
		h.writeError(w, fmt.Errorf("opening cached output: %w", err))
		return
	}
	defer file.Close()

	h.setDownloadHeaders(w, entry.OutputName, contentTypeFor(entry.OutputName), entry.Size)
	h.stream(w, file)
}

// handleRaw always streams the plain byte-exact concatenation,
// regardless of the configured mode.
func (h *Handler) handleRaw(w http.ResponseWriter, r *http.Request) {
	parts, err := h.locate()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.streamConcatenation(w, parts)
}

func (h *Handler) streamConcatenation(w http.ResponseWriter, parts []manifest.LocatedPart) {
	concatenator := assemble.New(parts, h.config.ChunkSize)
	defer concatenator.Close()

	h.setDownloadHeaders(w,
		h.config.Manifest.OutputName,
		h.config.Manifest.ResolvedContentType(),
		concatenator.TotalSize(),
	)
	h.stream(w, concatenator)
}

// setDownloadHeaders resolves all success headers before any body
// byte is written.
func (h *Handler) setDownloadHeaders(w http.ResponseWriter, filename, contentType string, size int64) {
	header := w.Header()
	header.Set("Content-Type", contentType)
	if size > 0 {
		header.Set("Content-Length", strconv.FormatInt(size, 10))
	}
	header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	header.Set("Cache-Control", "no-store")
	// Tell buffering reverse proxies (nginx) to pass chunks through
	// as they are written.
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

// stream copies src to the response in chunk-sized writes. A write
// failure means the client went away: stop silently. A read failure
// is ours: the status line is already on the wire, so the error can
// only be appended as trailing diagnostic text.
func (h *Handler) stream(w http.ResponseWriter, src io.Reader) {
	buffer := make([]byte, h.config.ChunkSize)
	for {
		n, readErr := src.Read(buffer)
		if n > 0 {
			if _, writeErr := w.Write(buffer[:n]); writeErr != nil {
				h.config.Logger.Debug("client disconnected mid-stream", "error", writeErr)
				return
			}
		}
		if readErr == io.EOF {
			return
		}
		if readErr != nil {
			h.config.Logger.Error("stream read failed", "error", readErr)
			fmt.Fprintf(w, "\n\nERROR: %v\n", readErr)
			return
		}
	}
}

// --- Rebuild ---

// handleRebuild validates the parts and rebuilds the cached output.
// ?force=1 discards a fresh cache entry; without it a fresh entry is
// a cache hit and extraction is skipped.
func (h *Handler) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if h.config.Cache == nil {
		h.writeText(w, http.StatusOK,
			"pipeline mode is concat: nothing is materialized, nothing to rebuild")
		return
	}

	parts, err := h.locate()
	if err != nil {
		h.writeError(w, err)
		return
	}

	force := isTruthy(r.URL.Query().Get("force"))
	entry, err := h.config.Cache.Get(r.Context(), parts, force)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeText(w, http.StatusOK, fmt.Sprintf(
		"output: %s\nsize: %d\nblake3: %s\nbuilt_at: %s",
		entry.OutputName, entry.Size, entry.HashHex(), entry.BuiltAt.UTC().Format("2006-01-02T15:04:05Z"),
	))
}

// contentTypeFor infers a MIME type from the served filename's
// extension, defaulting to application/octet-stream.
func contentTypeFor(filename string) string {
	if inferred := mime.TypeByExtension(filepath.Ext(filename)); inferred != "" {
		return inferred
	}
	return "application/octet-stream"
}

func isTruthy(value string) bool {
	switch strings.ToLower(value) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// --- Diagnostics ---

// handleDiag reports configuration, part presence and sizes, tool
// availability, and the cache state. It never fails; problems are
// reported inline.
func (h *Handler) handleDiag(w http.ResponseWriter, r *http.Request) {
	var report strings.Builder

	fmt.Fprintf(&report, "seamster %s\n", h.config.Version)
	fmt.Fprintf(&report, "mode: %s\n", h.config.Mode)
	fmt.Fprintf(&report, "output: %s\n", h.config.Manifest.OutputName)
	fmt.Fprintf(&report, "parts_dir: %s\n\n", h.config.PartsDir)

	fmt.Fprintf(&report, "parts (%d):\n", len(h.config.Manifest.Parts))
	var total int64
	for _, part := range h.config.Manifest.Parts {
		info, err := os.Stat(filepath.Join(h.config.PartsDir, filepath.FromSlash(part.RelPath)))
		switch {
		case err != nil:
			fmt.Fprintf(&report, "  %-40s MISSING\n", part.RelPath)
		case info.Size() == 0:
			fmt.Fprintf(&report, "  %-40s EMPTY\n", part.RelPath)
		default:
			fmt.Fprintf(&report, "  %-40s %d bytes, modified %s\n",
				part.RelPath, info.Size(), info.ModTime().UTC().Format("2006-01-02T15:04:05Z"))
			total += info.Size()
		}
	}
	fmt.Fprintf(&report, "total present: %d bytes\n\n", total)

	if _, err := h.locate(); err != nil {
		fmt.Fprintf(&report, "validation: FAILED\n%v\n\n", err)
	} else {
		fmt.Fprintf(&report, "validation: ok\n\n")
	}

	if h.config.Tool != nil {
		if err := h.config.Tool.Available(); err != nil {
			fmt.Fprintf(&report, "extraction tool: UNAVAILABLE (%v)\n", err)
		} else {
			fmt.Fprintf(&report, "extraction tool: %s (available)\n", h.config.Tool.Binary)
		}
	} else {
		fmt.Fprintf(&report, "extraction tool: built-in zip reader\n")
	}

	if h.config.Cache != nil {
		if entry := h.config.Cache.Peek(); entry != nil {
			fmt.Fprintf(&report, "cache: ready (%s, %d bytes, blake3 %s)\n",
				entry.OutputName, entry.Size, entry.HashHex())
		} else {
			fmt.Fprintf(&report, "cache: absent\n")
		}
	}

	h.writeText(w, http.StatusOK, report.String())
}

// --- Error boundary ---

// writeError converts a pipeline failure into a plain-text diagnostic
// response. Missing or placeholder parts are the operator's 404-class
// problems; everything else is a 500.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var missing *manifest.MissingPartsError
	var placeholders *manifest.PlaceholderPartsError
	if errors.As(err, &missing) || errors.As(err, &placeholders) {
		status = http.StatusNotFound
	}

	h.config.Logger.Warn("request failed", "status", status, "error", err)
	h.writeText(w, status, err.Error())
}

func (h *Handler) writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	io.WriteString(w, body)
}

// --- Static fallback ---

// noListingFileSystem wraps an http.FileSystem and refuses to serve
// directory listings: a directory without an index.html reads as not
// found. http.FileServer still rewrites "/" to "/index.html".
type noListingFileSystem struct {
	inner http.FileSystem
}

func (fs noListingFileSystem) Open(name string) (http.File, error) {
	file, err := fs.inner.Open(name)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	if info.IsDir() {
		index := strings.TrimSuffix(name, "/") + "/index.html"
		indexFile, err := fs.inner.Open(index)
		if err != nil {
			file.Close()
			return nil, os.ErrNotExist
		}
		indexFile.Close()
	}

	return file, nil
}
