// Copyright 2026 The Seamster Authors
// SPDX-License-Identifier: Apache-2.0

package materialize

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// populateTree writes files (relative slash path → size) under a new
// temp directory and returns its root.
func populateTree(t *testing.T, files map[string]int) string {
	t.Helper()
	root := t.TempDir()
	for name, size := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, bytes.Repeat([]byte{1}, size), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestSelectLargestFile(t *testing.T) {
	root := populateTree(t, map[string]int{
		"setup.exe":        5000,
		"docs/readme.txt":  100,
		"data/huge.pak":    90_000,
		"data/small.cfg":   10,
		"nested/a/b/c.bin": 200,
	})

	selected, err := PreferredOrLargest("")(root)
	if err != nil {
		t.Fatalf("selector failed: %v", err)
	}
	if filepath.Base(selected) != "huge.pak" {
		t.Errorf("selected %s, want huge.pak", selected)
	}
}

func TestSelectLargestIsDeterministic(t *testing.T) {
	// Two files of equal size: the lexically first wins, every run.
	root := populateTree(t, map[string]int{
		"bravo.bin": 1000,
		"alpha.bin": 1000,
	})

	selector := PreferredOrLargest("")
	for i := 0; i < 5; i++ {
		selected, err := selector(root)
		if err != nil {
			t.Fatalf("selector failed: %v", err)
		}
		if filepath.Base(selected) != "alpha.bin" {
			t.Fatalf("run %d selected %s, want alpha.bin", i, selected)
		}
	}
}

func TestSelectPreferredBeatsSize(t *testing.T) {
	root := populateTree(t, map[string]int{
		"installer.exe": 100,
		"payload.pak":   100_000,
	})

	selected, err := PreferredOrLargest("installer.exe")(root)
	if err != nil {
		t.Fatalf("selector failed: %v", err)
	}
	if filepath.Base(selected) != "installer.exe" {
		t.Errorf("selected %s, want installer.exe", selected)
	}
}

func TestSelectPreferredIsCaseInsensitive(t *testing.T) {
	root := populateTree(t, map[string]int{
		"sub/Setup.EXE": 100,
		"payload.pak":   100_000,
	})

	selected, err := PreferredOrLargest("setup.exe")(root)
	if err != nil {
		t.Fatalf("selector failed: %v", err)
	}
	if filepath.Base(selected) != "Setup.EXE" {
		t.Errorf("selected %s, want Setup.EXE", selected)
	}
}

func TestSelectPreferredMissingFallsBackToLargest(t *testing.T) {
	root := populateTree(t, map[string]int{
		"a.bin": 10,
		"b.bin": 20,
	})

	selected, err := PreferredOrLargest("absent.exe")(root)
	if err != nil {
		t.Fatalf("selector failed: %v", err)
	}
	if filepath.Base(selected) != "b.bin" {
		t.Errorf("selected %s, want b.bin", selected)
	}
}

func TestSelectEmptyTree(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "only", "directories"), 0o755); err != nil {
		t.Fatal(err)
	}

	_, err := PreferredOrLargest("")(root)
	var empty *EmptyExtractionError
	if !errors.As(err, &empty) {
		t.Fatalf("selector error = %v, want *EmptyExtractionError", err)
	}
}
