// Copyright 2026 The Seamster Authors
// SPDX-License-Identifier: Apache-2.0

// Package assemble produces the logical concatenation of an
// artifact's validated volume files as a single forward-only byte
// stream. This is byte-exact concatenation, nothing smarter: the
// archive format's own framing is irrelevant at this layer. Parts are
// read strictly in ascending order, one open file handle at a time,
// in fixed-size chunks.
package assemble

import (
	"fmt"
	"io"
	"os"

	"github.com/seamster-project/seamster/lib/manifest"
)

// DefaultChunkSize is the read unit used when no chunk size is
// configured. 2 MiB balances syscall overhead against memory held per
// in-flight request.
const DefaultChunkSize = 2 << 20

// Concatenator reads the ordered parts as one continuous stream. It
// implements io.ReadCloser; a Concatenator belongs to a single
// request and must be closed on completion, error, or client
// disconnect. No more than one chunk is buffered at a time, and each
// part's handle is closed before the next is opened.
type Concatenator struct {
	parts     []manifest.LocatedPart
	chunkSize int

	next    int      // index of the next part to open
	current *os.File // nil between parts and after Close
}

// New creates a Concatenator over the located parts. chunkSize <= 0
// selects DefaultChunkSize.
func New(parts []manifest.LocatedPart, chunkSize int) *Concatenator {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Concatenator{
		parts:     parts,
		chunkSize: chunkSize,
	}
}

// TotalSize returns the exact number of bytes the full stream yields.
func (c *Concatenator) TotalSize() int64 {
	return manifest.TotalSize(c.parts)
}

// Read yields the next bytes of the concatenation, at most one chunk
// per call. Returns io.EOF after the final byte of the last part.
func (c *Concatenator) Read(p []byte) (int, error) {
	if len(p) > c.chunkSize {
		p = p[:c.chunkSize]
	}

	for {
		if c.current == nil {
			if c.next >= len(c.parts) {
				return 0, io.EOF
			}
			file, err := os.Open(c.parts[c.next].AbsPath)
			if err != nil {
				return 0, fmt.Errorf("opening part %s: %w", c.parts[c.next].RelPath, err)
			}
			c.current = file
			c.next++
		}

		n, err := c.current.Read(p)
		if err == io.EOF {
			closeErr := c.current.Close()
			c.current = nil
			if closeErr != nil {
				return n, fmt.Errorf("closing part %s: %w", c.parts[c.next-1].RelPath, closeErr)
			}
			if n > 0 {
				return n, nil
			}
			continue // advance to the next part
		}
		if err != nil {
			return n, fmt.Errorf("reading part %s: %w", c.parts[c.next-1].RelPath, err)
		}
		return n, nil
	}
}

// WriteTo streams the whole concatenation to w in chunk-sized writes.
// Implements io.WriterTo so io.Copy avoids an intermediate buffer of
// its own choosing.
func (c *Concatenator) WriteTo(w io.Writer) (int64, error) {
	buffer := make([]byte, c.chunkSize)
	var written int64

	for {
		n, readErr := c.Read(buffer)
		if n > 0 {
			wn, writeErr := w.Write(buffer[:n])
			written += int64(wn)
			if writeErr != nil {
				return written, writeErr
			}
			if wn < n {
				return written, io.ErrShortWrite
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

// Close releases the currently open part handle, if any. Safe to call
// multiple times.
func (c *Concatenator) Close() error {
	if c.current == nil {
		return nil
	}
	err := c.current.Close()
	c.current = nil
	return err
}

// SpoolToFile writes the full concatenation to a temporary file in
// dir and returns its path. The caller owns the file and must remove
// it. Disk-backed spooling keeps the archive reader's need for random
// access from forcing the whole artifact into memory.
func SpoolToFile(parts []manifest.LocatedPart, chunkSize int, dir string) (string, error) {
	concatenator := New(parts, chunkSize)
	defer concatenator.Close()

	spool, err := os.CreateTemp(dir, "assemble-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating spool file: %w", err)
	}

	if _, err := concatenator.WriteTo(spool); err != nil {
		spool.Close()
		os.Remove(spool.Name())
		return "", fmt.Errorf("spooling parts: %w", err)
	}
	if err := spool.Close(); err != nil {
		os.Remove(spool.Name())
		return "", fmt.Errorf("closing spool file: %w", err)
	}

	return spool.Name(), nil
}
