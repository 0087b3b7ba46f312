// Copyright 2026 The Seamster Authors
// SPDX-License-Identifier: Apache-2.0

package rebuild

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/seamster-project/seamster/lib/clock"
	"github.com/seamster-project/seamster/lib/manifest"
	"github.com/seamster-project/seamster/lib/materialize"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingBuild returns a BuildFunc that writes a small output and
// counts its invocations through the returned counter.
func countingBuild(content []byte) (BuildFunc, *int) {
	calls := new(int)
	build := func(ctx context.Context, scratchDir string, parts []manifest.LocatedPart) (materialize.Output, error) {
		*calls++
		path := filepath.Join(scratchDir, "artifact.zip")
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return materialize.Output{}, err
		}
		return materialize.Output{Path: path, Name: "artifact.zip", Size: int64(len(content))}, nil
	}
	return build, calls
}

func partsModifiedAt(modTime int64) []manifest.LocatedPart {
	return []manifest.LocatedPart{
		{PartDescriptor: manifest.PartDescriptor{Index: 0, RelPath: "a.z01"}, Size: 100, ModTime: modTime},
		{PartDescriptor: manifest.PartDescriptor{Index: 1, RelPath: "a.zip"}, Size: 50, ModTime: modTime - 1000},
	}
}

func newTestCache(t *testing.T, build BuildFunc) *Cache {
	t.Helper()
	cache, err := New(Config{
		Dir:    filepath.Join(t.TempDir(), "cache"),
		Build:  build,
		Clock:  clock.Fake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)),
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return cache
}

func TestGetBuildsOnceWhileFresh(t *testing.T) {
	build, calls := countingBuild([]byte("artifact content"))
	cache := newTestCache(t, build)
	parts := partsModifiedAt(1000)

	first, err := cache.Get(context.Background(), parts, false)
	if err != nil {
		t.Fatalf("first Get failed: %v", err)
	}
	second, err := cache.Get(context.Background(), parts, false)
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}

	if *calls != 1 {
		t.Errorf("build ran %d times, want 1", *calls)
	}
	if first.HashHex() != second.HashHex() {
		t.Error("cache hit returned a different entry")
	}

	published, err := os.ReadFile(cache.OutputPath(second))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(published, []byte("artifact content")) {
		t.Error("published output differs from built content")
	}
}

func TestGetRebuildsWhenSourceIsNewer(t *testing.T) {
	build, calls := countingBuild([]byte("v1"))
	cache := newTestCache(t, build)

	if _, err := cache.Get(context.Background(), partsModifiedAt(1000), false); err != nil {
		t.Fatalf("first Get failed: %v", err)
	}
	if _, err := cache.Get(context.Background(), partsModifiedAt(2000), false); err != nil {
		t.Fatalf("second Get failed: %v", err)
	}

	if *calls != 2 {
		t.Errorf("build ran %d times, want 2 (newer source must invalidate)", *calls)
	}
}

func TestGetForceRebuilds(t *testing.T) {
	build, calls := countingBuild([]byte("forced"))
	cache := newTestCache(t, build)
	parts := partsModifiedAt(1000)

	if _, err := cache.Get(context.Background(), parts, false); err != nil {
		t.Fatalf("first Get failed: %v", err)
	}
	if _, err := cache.Get(context.Background(), parts, true); err != nil {
		t.Fatalf("forced Get failed: %v", err)
	}

	if *calls != 2 {
		t.Errorf("build ran %d times, want 2 (force must bypass freshness)", *calls)
	}
}

func TestGetRebuildsWhenOutputFileVanishes(t *testing.T) {
	build, calls := countingBuild([]byte("restorable"))
	cache := newTestCache(t, build)
	parts := partsModifiedAt(1000)

	entry, err := cache.Get(context.Background(), parts, false)
	if err != nil {
		t.Fatalf("first Get failed: %v", err)
	}
	if err := os.Remove(cache.OutputPath(entry)); err != nil {
		t.Fatal(err)
	}

	if _, err := cache.Get(context.Background(), parts, false); err != nil {
		t.Fatalf("Get after output removal failed: %v", err)
	}
	if *calls != 2 {
		t.Errorf("build ran %d times, want 2 (missing output must rebuild)", *calls)
	}
	if _, err := os.Stat(cache.OutputPath(entry)); err != nil {
		t.Errorf("output not republished: %v", err)
	}
}

func TestFailedRebuildPreservesPreviousEntry(t *testing.T) {
	failNext := false
	build, _ := countingBuild([]byte("good output"))
	wrapped := func(ctx context.Context, scratchDir string, parts []manifest.LocatedPart) (materialize.Output, error) {
		if failNext {
			return materialize.Output{}, fmt.Errorf("simulated build failure")
		}
		return build(ctx, scratchDir, parts)
	}
	cache := newTestCache(t, wrapped)

	good, err := cache.Get(context.Background(), partsModifiedAt(1000), false)
	if err != nil {
		t.Fatalf("first Get failed: %v", err)
	}

	failNext = true
	if _, err := cache.Get(context.Background(), partsModifiedAt(2000), true); err == nil {
		t.Fatal("Get should surface the build failure")
	}

	// The failed attempt must not have disturbed the published entry.
	peeked := cache.Peek()
	if peeked == nil {
		t.Fatal("entry record lost after failed rebuild")
	}
	if peeked.HashHex() != good.HashHex() {
		t.Error("entry record changed after failed rebuild")
	}
	published, err := os.ReadFile(cache.OutputPath(peeked))
	if err != nil {
		t.Fatalf("published output lost after failed rebuild: %v", err)
	}
	if !bytes.Equal(published, []byte("good output")) {
		t.Error("published output changed after failed rebuild")
	}
}

func TestForcedRebuildSurvivesCacheDirDeletion(t *testing.T) {
	build, calls := countingBuild([]byte("rebuilt after wipe"))
	cache := newTestCache(t, build)
	parts := partsModifiedAt(1000)

	first, err := cache.Get(context.Background(), parts, true)
	if err != nil {
		t.Fatalf("first forced Get failed: %v", err)
	}

	// An operator wiping the whole cache directory between rebuilds
	// must not wedge the cache.
	if err := os.RemoveAll(cache.dir); err != nil {
		t.Fatal(err)
	}

	second, err := cache.Get(context.Background(), parts, true)
	if err != nil {
		t.Fatalf("forced Get after cache dir deletion failed: %v", err)
	}
	if *calls != 2 {
		t.Errorf("build ran %d times, want 2", *calls)
	}
	if second.OutputName != first.OutputName || second.Size != first.Size {
		t.Errorf("rebuilt entry = %s/%d, want %s/%d",
			second.OutputName, second.Size, first.OutputName, first.Size)
	}

	published, err := os.ReadFile(cache.OutputPath(second))
	if err != nil {
		t.Fatalf("output not republished: %v", err)
	}
	if !bytes.Equal(published, []byte("rebuilt after wipe")) {
		t.Error("republished output differs from built content")
	}
}

func TestRebuildCleansScratchDirectories(t *testing.T) {
	build, _ := countingBuild([]byte("tidy"))
	cache := newTestCache(t, build)

	if _, err := cache.Get(context.Background(), partsModifiedAt(1000), false); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	entries, err := os.ReadDir(cache.dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if matched, _ := filepath.Match("build-*", entry.Name()); matched {
			t.Errorf("scratch directory %s left behind", entry.Name())
		}
	}
}

func TestPublishReplacesRenamedOutput(t *testing.T) {
	name := "first.zip"
	build := func(ctx context.Context, scratchDir string, parts []manifest.LocatedPart) (materialize.Output, error) {
		path := filepath.Join(scratchDir, name)
		if err := os.WriteFile(path, []byte(name), 0o644); err != nil {
			return materialize.Output{}, err
		}
		return materialize.Output{Path: path, Name: name, Size: int64(len(name))}, nil
	}
	cache := newTestCache(t, build)

	first, err := cache.Get(context.Background(), partsModifiedAt(1000), false)
	if err != nil {
		t.Fatalf("first Get failed: %v", err)
	}

	name = "second.zip"
	second, err := cache.Get(context.Background(), partsModifiedAt(2000), false)
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}

	if _, err := os.Stat(cache.OutputPath(second)); err != nil {
		t.Errorf("new output missing: %v", err)
	}
	if _, err := os.Stat(cache.OutputPath(first)); !os.IsNotExist(err) {
		t.Error("superseded output under the old name was not removed")
	}
}

func TestPeekWithoutEntry(t *testing.T) {
	build, calls := countingBuild(nil)
	cache := newTestCache(t, build)

	if entry := cache.Peek(); entry != nil {
		t.Errorf("Peek on an empty cache = %+v, want nil", entry)
	}
	if *calls != 0 {
		t.Error("Peek must not trigger a build")
	}
}

func TestNewValidatesConfig(t *testing.T) {
	build, _ := countingBuild(nil)
	valid := Config{
		Dir:    t.TempDir(),
		Build:  build,
		Clock:  clock.Real(),
		Logger: testLogger(),
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing dir", func(c *Config) { c.Dir = "" }},
		{"missing build", func(c *Config) { c.Build = nil }},
		{"missing clock", func(c *Config) { c.Clock = nil }},
		{"missing logger", func(c *Config) { c.Logger = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid
			tt.mutate(&config)
			if _, err := New(config); err == nil {
				t.Error("New should fail")
			}
		})
	}
}
