// Copyright 2026 The Seamster Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocatedPart is a PartDescriptor resolved to an existing on-disk
// file.
type LocatedPart struct {
	PartDescriptor

	// AbsPath is the resolved absolute filesystem path.
	AbsPath string

	// Size is the actual on-disk size in bytes.
	Size int64

	// ModTime is the file's modification time in Unix nanoseconds.
	// The rebuild cache compares this against its recorded source
	// timestamp to detect part replacement.
	ModTime int64
}

// placeholderSniffLen is how many leading bytes of each part are
// inspected for a placeholder signature.
const placeholderSniffLen = 256

// PlaceholderFunc decides whether a part file is a stand-in reference
// rather than real binary content, given its leading bytes and total
// size. The detection heuristic is a policy choice, not a protocol
// requirement — substitute a custom function to change it.
type PlaceholderFunc func(prefix []byte, size int64) bool

// lfsPointerSignature is the first line of a Git LFS pointer file,
// the most common placeholder found where large binaries should be.
var lfsPointerSignature = []byte("version https://git-lfs.github.com/spec/v1")

// DefaultPlaceholder flags Git LFS pointer files and files below
// minSize bytes. Real split-archive volumes are large binary blobs; a
// tiny or LFS-signed file where a volume should be means the binary
// content was never fetched.
func DefaultPlaceholder(minSize int64) PlaceholderFunc {
	return func(prefix []byte, size int64) bool {
		if bytes.HasPrefix(prefix, lfsPointerSignature) {
			return true
		}
		return size < minSize
	}
}

// LocateOptions configures Locate.
type LocateOptions struct {
	// Placeholder is the stand-in detection policy. Nil disables
	// placeholder detection.
	Placeholder PlaceholderFunc
}

// Locate resolves every part of the manifest to an absolute path
// under dir and validates it: the file must exist, be non-empty, not
// be a placeholder, and match its declared size when one is given.
//
// All absent parts are collected into a single MissingPartsError and
// all placeholders into a single PlaceholderPartsError — the complete
// report lets an operator fix every gap in one pass rather than
// replaying requests to discover them one at a time. Locate only
// probes the filesystem; it has no side effects.
func Locate(dir string, m *Manifest, opts LocateOptions) ([]LocatedPart, error) {
	located := make([]LocatedPart, 0, len(m.Parts))
	var missing []string
	var placeholders []string

	for _, part := range m.Parts {
		absPath := filepath.Join(dir, filepath.FromSlash(part.RelPath))

		info, err := os.Stat(absPath)
		if err != nil || info.IsDir() || info.Size() == 0 {
			missing = append(missing, part.RelPath)
			continue
		}

		if part.Size > 0 && info.Size() != part.Size {
			missing = append(missing, fmt.Sprintf("%s (size %d, declared %d)",
				part.RelPath, info.Size(), part.Size))
			continue
		}

		if opts.Placeholder != nil {
			prefix, err := readPrefix(absPath)
			if err != nil {
				missing = append(missing, part.RelPath)
				continue
			}
			if opts.Placeholder(prefix, info.Size()) {
				placeholders = append(placeholders, part.RelPath)
				continue
			}
		}

		located = append(located, LocatedPart{
			PartDescriptor: part,
			AbsPath:        absPath,
			Size:           info.Size(),
			ModTime:        info.ModTime().UnixNano(),
		})
	}

	if len(missing) > 0 {
		return nil, &MissingPartsError{Paths: missing}
	}
	if len(placeholders) > 0 {
		return nil, &PlaceholderPartsError{Paths: placeholders}
	}
	return located, nil
}

// readPrefix reads up to placeholderSniffLen leading bytes of the
// file at path.
func readPrefix(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	prefix := make([]byte, placeholderSniffLen)
	n, err := io.ReadFull(file, prefix)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return prefix[:n], nil
}

// TotalSize returns the sum of the located parts' on-disk sizes: the
// exact byte length of the reassembled stream.
func TotalSize(parts []LocatedPart) int64 {
	var total int64
	for _, part := range parts {
		total += part.Size
	}
	return total
}

// LatestModTime returns the most recent modification time (Unix
// nanoseconds) across the located parts. The rebuild cache records
// this as its source fingerprint.
func LatestModTime(parts []LocatedPart) int64 {
	var latest int64
	for _, part := range parts {
		if part.ModTime > latest {
			latest = part.ModTime
		}
	}
	return latest
}

// MissingPartsError reports every expected part file that is absent
// (or empty, or the wrong declared size). Paths are relative to the
// parts directory.
type MissingPartsError struct {
	Paths []string
}

func (e *MissingPartsError) Error() string {
	return fmt.Sprintf("missing part files:\n- %s", strings.Join(e.Paths, "\n- "))
}

// PlaceholderPartsError reports part files that are stand-in
// references (e.g. Git LFS pointers) rather than real binary content.
type PlaceholderPartsError struct {
	Paths []string
}

func (e *PlaceholderPartsError) Error() string {
	return fmt.Sprintf(
		"placeholder part files detected (pointer stand-ins, not binary content):\n- %s\n"+
			"fetch the real files (e.g. git lfs pull) and redeploy",
		strings.Join(e.Paths, "\n- "))
}
