// Copyright 2026 The Seamster Authors
// SPDX-License-Identifier: Apache-2.0

package materialize

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// SelectorFunc picks exactly one file to serve from an extracted
// directory tree, returning its absolute path. The selection policy
// is a deliberate policy choice, not a protocol requirement — inject
// a different function to change it.
type SelectorFunc func(root string) (string, error)

// PreferredOrLargest returns the standard selector: if preferred is
// non-empty and a file with that name (compared case-insensitively)
// exists anywhere in the tree, it wins regardless of size; otherwise
// the largest regular file wins, ties broken by first encounter.
// filepath.WalkDir visits entries in lexical order, so the tie-break
// is deterministic across runs and filesystems.
//
// A tree with no regular files yields *EmptyExtractionError.
func PreferredOrLargest(preferred string) SelectorFunc {
	return func(root string) (string, error) {
		var preferredMatch string
		var largest string
		var largestSize int64 = -1

		err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !entry.Type().IsRegular() {
				return nil
			}

			if preferred != "" && preferredMatch == "" &&
				strings.EqualFold(entry.Name(), preferred) {
				preferredMatch = path
			}

			info, err := entry.Info()
			if err != nil {
				return err
			}
			if info.Size() > largestSize {
				largestSize = info.Size()
				largest = path
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("walking extracted tree: %w", err)
		}

		if preferredMatch != "" {
			return preferredMatch, nil
		}
		if largest == "" {
			return "", &EmptyExtractionError{Dir: root}
		}
		return largest, nil
	}
}
