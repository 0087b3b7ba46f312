// Copyright 2026 The Seamster Authors
// SPDX-License-Identifier: Apache-2.0

// Package materialize turns a reassembled byte stream into servable
// files: it opens the stream as a compressed-archive container,
// extracts the members into a working directory, optionally
// repackages them into one normalized single-volume archive, and
// selects the artifact to serve.
package materialize

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Extractor unpacks an archive file into a destination directory. Two
// implementations exist: ZipExtractor reads the container's own index
// in-process, and ToolExtractor shells out to an external unpacker
// for multi-volume layouts a plain index reader cannot span.
type Extractor interface {
	// Extract unpacks archivePath into destDir. destDir exists and
	// is empty when called. An unreadable container yields a
	// *CorruptArchiveError; an uninvocable external tool yields a
	// *ToolUnavailableError.
	Extract(ctx context.Context, archivePath, destDir string) error
}

// ZipExtractor reads the archive with an in-process ZIP index reader.
type ZipExtractor struct{}

// Extract opens archivePath as a ZIP container and extracts every
// member into destDir. Member paths are sanitized: entries that would
// escape destDir are rejected.
func (ZipExtractor) Extract(ctx context.Context, archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return &CorruptArchiveError{Err: err}
	}
	defer reader.Close()

	for _, member := range reader.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := extractMember(member, destDir); err != nil {
			return err
		}
	}
	return nil
}

// extractMember writes one archive member under destDir.
func extractMember(member *zip.File, destDir string) error {
	cleaned := filepath.Clean(filepath.FromSlash(member.Name))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(os.PathSeparator)) || filepath.IsAbs(cleaned) {
		return &CorruptArchiveError{Err: fmt.Errorf("member %q escapes the extraction directory", member.Name)}
	}
	target := filepath.Join(destDir, cleaned)

	if member.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", member.Name, err)
	}

	source, err := member.Open()
	if err != nil {
		return &CorruptArchiveError{Err: fmt.Errorf("opening member %s: %w", member.Name, err)}
	}
	defer source.Close()

	destination, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}

	if _, err := io.Copy(destination, source); err != nil {
		destination.Close()
		os.Remove(target)
		return &CorruptArchiveError{Err: fmt.Errorf("extracting member %s: %w", member.Name, err)}
	}
	return destination.Close()
}

// ToolExtractor invokes an external unpacking tool. The invocation is
// 7-Zip style (`<binary> x -y -o<dest> <archive>`), which also covers
// p7zip's 7z/7za/7zz binaries. Multi-volume ZIP layouts that store
// members spanning volume boundaries need this — the in-process
// reader can only handle containers whose members fall entirely
// inside the concatenated stream's final index.
type ToolExtractor struct {
	// Binary is the tool name or path, resolved via PATH lookup.
	Binary string
}

// Available reports whether the tool binary can be resolved. Used by
// the diagnostic report.
func (t ToolExtractor) Available() error {
	if _, err := exec.LookPath(t.Binary); err != nil {
		return &ToolUnavailableError{Binary: t.Binary, Err: err}
	}
	return nil
}

// Extract runs the external tool. A missing binary yields
// *ToolUnavailableError; a failing run yields *CorruptArchiveError
// carrying the tool's combined output.
func (t ToolExtractor) Extract(ctx context.Context, archivePath, destDir string) error {
	binaryPath, err := exec.LookPath(t.Binary)
	if err != nil {
		return &ToolUnavailableError{Binary: t.Binary, Err: err}
	}

	command := exec.CommandContext(ctx, binaryPath, "x", "-y", "-o"+destDir, archivePath)
	output, err := command.CombinedOutput()
	if err != nil {
		return &CorruptArchiveError{Err: fmt.Errorf("%s failed: %w: %s",
			t.Binary, err, strings.TrimSpace(string(output)))}
	}
	return nil
}
