// Copyright 2026 The Seamster Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest describes the single artifact a Seamster
// deployment serves: its output name, content type, and the ordered
// list of volume files whose concatenation reconstructs it.
//
// Two equivalent representations exist: an implicit manifest derived
// from a fixed naming convention and count (FromConvention), and an
// explicit manifest loaded from a JSONC descriptor file (LoadFile).
// Both produce the same ordered part list semantics. The manifest is
// immutable for the lifetime of a deployment.
package manifest

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
)

// PartDescriptor identifies one volume file in the ordered sequence.
// Ordering is significant — parts must be concatenated in ascending
// Index order to reconstruct a valid archive.
type PartDescriptor struct {
	// Index is the zero-based position in the concatenation order.
	Index int `json:"-"`

	// RelPath is the file's path relative to the parts directory.
	RelPath string `json:"path"`

	// Size is the expected byte size, or 0 when not declared. A
	// declared size is verified by the locator.
	Size int64 `json:"size,omitempty"`
}

// Manifest is the artifact description. Owned by configuration;
// read-only to the pipeline.
type Manifest struct {
	// OutputName is the filename presented to the downloading client.
	OutputName string `json:"output"`

	// ContentType is the MIME type of the reassembled artifact.
	// Empty means "infer from OutputName, default
	// application/octet-stream".
	ContentType string `json:"content_type,omitempty"`

	// Parts is the ordered list of volume files.
	Parts []PartDescriptor `json:"parts"`
}

// FromConvention builds the implicit manifest for the fixed naming
// convention: <base>.z01 .. <base>.zNN, followed by the trailing
// <base>.zip final volume. pad is the zero-padding width of the
// numeric extension (z01..z09 is 2).
func FromConvention(base string, count, pad int) *Manifest {
	parts := make([]PartDescriptor, 0, count+1)
	for i := 1; i <= count; i++ {
		parts = append(parts, PartDescriptor{
			Index:   i - 1,
			RelPath: fmt.Sprintf("%s.z%0*d", base, pad, i),
		})
	}
	// The .zip final volume carries the archive's central directory
	// and is always last.
	parts = append(parts, PartDescriptor{
		Index:   count,
		RelPath: base + ".zip",
	})

	return &Manifest{
		OutputName:  base + ".zip",
		ContentType: "application/zip",
		Parts:       parts,
	}
}

// LoadFile loads an explicit manifest from a JSONC descriptor file.
// Comments and trailing commas are stripped before unmarshalling.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	stripped := jsonc.ToJSON(data)

	var m Manifest
	if err := json.Unmarshal(stripped, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}

	for i := range m.Parts {
		m.Parts[i].Index = i
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks that a Manifest is internally consistent.
func (m *Manifest) Validate() error {
	if m.OutputName == "" {
		return fmt.Errorf("output name is empty")
	}
	if len(m.Parts) == 0 {
		return fmt.Errorf("no parts")
	}

	seen := make(map[string]struct{}, len(m.Parts))
	for i, part := range m.Parts {
		if part.RelPath == "" {
			return fmt.Errorf("part %d: path is empty", i)
		}
		if !filepath.IsLocal(filepath.FromSlash(part.RelPath)) {
			return fmt.Errorf("part %d: path %q escapes the parts directory", i, part.RelPath)
		}
		if part.Size < 0 {
			return fmt.Errorf("part %d: size %d is negative", i, part.Size)
		}
		if _, duplicate := seen[part.RelPath]; duplicate {
			return fmt.Errorf("part %d: duplicate path %q", i, part.RelPath)
		}
		seen[part.RelPath] = struct{}{}
	}

	return nil
}

// ResolvedContentType returns the declared MIME type, or one inferred
// from the output filename's extension, or application/octet-stream.
func (m *Manifest) ResolvedContentType() string {
	if m.ContentType != "" {
		return m.ContentType
	}
	if inferred := mime.TypeByExtension(filepath.Ext(m.OutputName)); inferred != "" {
		return inferred
	}
	return "application/octet-stream"
}
