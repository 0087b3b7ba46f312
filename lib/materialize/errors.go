// Copyright 2026 The Seamster Authors
// SPDX-License-Identifier: Apache-2.0

package materialize

import "fmt"

// CorruptArchiveError means the concatenated stream could not be
// opened or indexed as a valid archive. This is the primary signal
// that parts are missing, out of order, or truncated — the message
// names those likely causes for the operator.
type CorruptArchiveError struct {
	Err error
}

func (e *CorruptArchiveError) Error() string {
	return fmt.Sprintf(
		"reassembled archive is unreadable: %v (likely causes: parts concatenated "+
			"in the wrong order, wrong part count, or a truncated part)", e.Err)
}

func (e *CorruptArchiveError) Unwrap() error { return e.Err }

// ToolUnavailableError means the configured external extraction tool
// could not be invoked. A deployment-time concern, distinct from a
// corrupt archive: the parts may be fine.
type ToolUnavailableError struct {
	Binary string
	Err    error
}

func (e *ToolUnavailableError) Error() string {
	return fmt.Sprintf("extraction tool %q is unavailable: %v (install it or clear pipeline.tool_binary)",
		e.Binary, e.Err)
}

func (e *ToolUnavailableError) Unwrap() error { return e.Err }

// EmptyExtractionError means the archive opened successfully but
// produced no regular files.
type EmptyExtractionError struct {
	Dir string
}

func (e *EmptyExtractionError) Error() string {
	return fmt.Sprintf("archive extracted successfully but contains no files (in %s)", e.Dir)
}
