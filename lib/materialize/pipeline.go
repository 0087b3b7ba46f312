// Copyright 2026 The Seamster Authors
// SPDX-License-Identifier: Apache-2.0

package materialize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/seamster-project/seamster/lib/assemble"
	"github.com/seamster-project/seamster/lib/manifest"
)

// Pipeline materializes an artifact from its located parts:
// Concatenate → Extract → [Repackage] → Select. It is the build
// function the rebuild cache memoizes.
type Pipeline struct {
	// Extractor unpacks the spooled archive. Required.
	Extractor Extractor

	// Selector picks the member to serve when Repack is empty.
	// Required.
	Selector SelectorFunc

	// Repack, when non-empty, recompresses the extracted tree into
	// one normalized single-volume archive of this format instead of
	// serving a member directly.
	Repack Format

	// OutputName is the manifest's declared output filename; the
	// repackaged archive's name is derived from it by swapping the
	// extension for the repack format's.
	OutputName string

	// ChunkSize is the spooling read unit. <= 0 selects the default.
	ChunkSize int
}

// Output describes the file a pipeline build produced inside the
// scratch directory.
type Output struct {
	// Path is the absolute path of the built file, somewhere under
	// the scratch directory passed to Build.
	Path string

	// Name is the filename the artifact should be served as.
	Name string

	// Size is the built file's size in bytes.
	Size int64
}

// Build materializes the artifact into scratchDir. Everything Build
// writes stays under scratchDir — the caller publishes the output
// atomically and removes the rest. The spooled concatenation is
// deleted as soon as extraction finishes, so peak scratch usage is
// one archive plus one extracted tree.
func (p *Pipeline) Build(ctx context.Context, scratchDir string, parts []manifest.LocatedPart) (Output, error) {
	spoolPath, err := assemble.SpoolToFile(parts, p.ChunkSize, scratchDir)
	if err != nil {
		return Output{}, err
	}

	extractedDir := filepath.Join(scratchDir, "extracted")
	if err := os.MkdirAll(extractedDir, 0o755); err != nil {
		os.Remove(spoolPath)
		return Output{}, fmt.Errorf("creating extraction directory: %w", err)
	}

	extractErr := p.Extractor.Extract(ctx, spoolPath, extractedDir)
	os.Remove(spoolPath)
	if extractErr != nil {
		return Output{}, extractErr
	}

	if p.Repack != "" {
		name := strings.TrimSuffix(p.OutputName, filepath.Ext(p.OutputName)) + p.Repack.Extension()
		destPath := filepath.Join(scratchDir, name)
		if err := Repackage(extractedDir, destPath, p.Repack); err != nil {
			return Output{}, err
		}
		return outputFor(destPath, name)
	}

	selected, err := p.Selector(extractedDir)
	if err != nil {
		return Output{}, err
	}
	return outputFor(selected, filepath.Base(selected))
}

func outputFor(path, name string) (Output, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Output{}, fmt.Errorf("stat built output %s: %w", path, err)
	}
	return Output{Path: path, Name: name, Size: info.Size()}, nil
}
