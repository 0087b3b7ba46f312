// Copyright 2026 The Seamster Authors
// SPDX-License-Identifier: Apache-2.0

// Package rebuild memoizes artifact materialization. The cache holds
// at most one published output per deployment, plus a CBOR entry
// record describing it. An entry is served while it is fresh:
// no source part modified after the recorded timestamp, output file
// present and non-empty, and no forced rebuild requested. Rebuilds
// run in an isolated scratch directory and publish by atomic rename,
// so a concurrent reader never observes a half-written cache.
package rebuild

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/seamster-project/seamster/lib/clock"
	"github.com/seamster-project/seamster/lib/codec"
	"github.com/seamster-project/seamster/lib/manifest"
	"github.com/seamster-project/seamster/lib/materialize"
)

// EntryVersion is the current entry record format version.
const EntryVersion = 1

// entryFileName is the record's filename inside the cache directory.
const entryFileName = "entry.cbor"

// Entry is the persisted record of one successful rebuild. Stored on
// disk as CBOR using Core Deterministic Encoding.
type Entry struct {
	// Version is the record format version. Currently 1.
	Version int `cbor:"version"`

	// OutputName is the filename the artifact is served as, and also
	// the published output's filename inside the cache directory.
	OutputName string `cbor:"output_name"`

	// Size is the published output's size in bytes.
	Size int64 `cbor:"size"`

	// OutputHash is the 32-byte BLAKE3 hash of the published output.
	// Reported by /rebuild and /diag so operators can compare
	// deployments; it is not used for validation.
	OutputHash []byte `cbor:"output_hash"`

	// SourceModTime is the most recent modification time (Unix
	// nanoseconds) observed across the source parts at build time.
	// Any part newer than this makes the entry stale.
	SourceModTime int64 `cbor:"source_mod_time"`

	// BuiltAt is when the rebuild completed.
	BuiltAt time.Time `cbor:"built_at"`
}

// HashHex returns the output hash as a hex string.
func (e *Entry) HashHex() string {
	return hex.EncodeToString(e.OutputHash)
}

// BuildFunc materializes the artifact into scratchDir and returns the
// built output. Everything it writes must stay under scratchDir.
type BuildFunc func(ctx context.Context, scratchDir string, parts []manifest.LocatedPart) (materialize.Output, error)

// Config configures a Cache.
type Config struct {
	// Dir is the cache directory. Both the published output and the
	// entry record live directly in it; scratch directories are
	// created under it so publishing is a same-filesystem rename.
	// Required.
	Dir string

	// Build is the materialization function to memoize. Required.
	Build BuildFunc

	// Clock provides build timestamps. Required.
	Clock clock.Clock

	// Logger is the structured logger. Required.
	Logger *slog.Logger
}

// Cache memoizes a BuildFunc keyed on the source parts' modification
// times. Safe for concurrent use; rebuilds are serialized, so a
// second caller arriving during a build waits for it rather than
// racing a duplicate build onto the published path.
type Cache struct {
	dir    string
	build  BuildFunc
	clock  clock.Clock
	logger *slog.Logger

	// mu serializes Get end to end: freshness check, build, and
	// publish form one atomic unit. Streaming of the published
	// output happens after Get returns, outside the lock.
	mu sync.Mutex
}

// New creates a Cache. The directory is created if absent.
func New(config Config) (*Cache, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if config.Build == nil {
		return nil, fmt.Errorf("build function is required")
	}
	if config.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &Cache{
		dir:    config.Dir,
		build:  config.Build,
		clock:  config.Clock,
		logger: config.Logger,
	}, nil
}

// OutputPath returns the published output's path for an entry.
func (c *Cache) OutputPath(entry *Entry) string {
	return filepath.Join(c.dir, entry.OutputName)
}

// Peek loads the current entry record without triggering a rebuild.
// Returns nil when no entry is published. Read-only; used by the
// diagnostic report.
func (c *Cache) Peek() *Entry {
	entry, err := c.loadEntry()
	if err != nil {
		return nil
	}
	return entry
}

// Get returns a fresh entry, rebuilding first when the published one
// is absent, stale, forced out, or its output file is missing or
// empty. On rebuild failure the previously published entry is left
// intact for other callers; the error goes to this caller only.
func (c *Cache) Get(ctx context.Context, parts []manifest.LocatedPart, force bool) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sourceModTime := manifest.LatestModTime(parts)

	if !force {
		if entry, err := c.loadEntry(); err == nil && c.fresh(entry, sourceModTime) {
			return entry, nil
		}
	}

	return c.rebuild(ctx, parts, sourceModTime)
}

// fresh reports whether the entry can be served as-is for sources
// with the given latest modification time.
func (c *Cache) fresh(entry *Entry, sourceModTime int64) bool {
	if entry == nil || sourceModTime > entry.SourceModTime {
		return false
	}
	info, err := os.Stat(c.OutputPath(entry))
	return err == nil && info.Size() > 0 && info.Size() == entry.Size
}

// rebuild runs the build function in an isolated scratch directory
// and publishes the result. Caller holds mu.
func (c *Cache) rebuild(ctx context.Context, parts []manifest.LocatedPart, sourceModTime int64) (*Entry, error) {
	// The cache directory may have been deleted out from under us by
	// an operator; recreate it so a forced rebuild always succeeds.
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	scratchDir, err := os.MkdirTemp(c.dir, "build-*")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(scratchDir)

	started := c.clock.Now()
	output, err := c.build(ctx, scratchDir, parts)
	if err != nil {
		return nil, err
	}

	outputHash, err := hashFile(output.Path)
	if err != nil {
		return nil, fmt.Errorf("hashing built output: %w", err)
	}

	entry := &Entry{
		Version:       EntryVersion,
		OutputName:    output.Name,
		Size:          output.Size,
		OutputHash:    outputHash,
		SourceModTime: sourceModTime,
		BuiltAt:       c.clock.Now(),
	}

	if err := c.publish(output.Path, entry); err != nil {
		return nil, err
	}

	c.logger.Info("artifact rebuilt",
		"output", entry.OutputName,
		"size", entry.Size,
		"hash", entry.HashHex(),
		"duration", c.clock.Now().Sub(started).String(),
	)
	return entry, nil
}

// publish atomically replaces the published output and entry record.
// The scratch directory lives inside the cache directory, so both
// renames stay on one filesystem. A previously published output under
// a different name is removed after the new one lands.
func (c *Cache) publish(builtPath string, entry *Entry) error {
	previous, _ := c.loadEntry()

	if err := os.Rename(builtPath, c.OutputPath(entry)); err != nil {
		return fmt.Errorf("publishing output: %w", err)
	}

	record, err := codec.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding entry record: %w", err)
	}
	recordPath := filepath.Join(c.dir, entryFileName)
	temporary := recordPath + ".tmp"
	if err := os.WriteFile(temporary, record, 0o644); err != nil {
		return fmt.Errorf("writing entry record: %w", err)
	}
	if err := os.Rename(temporary, recordPath); err != nil {
		os.Remove(temporary)
		return fmt.Errorf("publishing entry record: %w", err)
	}

	if previous != nil && previous.OutputName != entry.OutputName {
		os.Remove(c.OutputPath(previous))
	}
	return nil
}

// loadEntry reads and validates the entry record. Returns (nil, err)
// when the record is absent or unreadable.
func (c *Cache) loadEntry() (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(c.dir, entryFileName))
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := codec.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decoding entry record: %w", err)
	}
	if entry.Version < 1 {
		return nil, fmt.Errorf("entry record version %d is invalid (minimum 1)", entry.Version)
	}
	if entry.OutputName == "" {
		return nil, fmt.Errorf("entry record has no output name")
	}
	return &entry, nil
}

// hashFile computes the BLAKE3 hash of the file at path, streaming.
func hashFile(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return nil, err
	}
	return hasher.Sum(nil), nil
}
