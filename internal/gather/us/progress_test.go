package us

import (
	"os"
	"path/filepath"
	"testing"
)

func TestProgressTrackerMarkEmpty(t *testing.T) {
	dir := t.TempDir()

	pt, err := newProgressTracker(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := pt.Begin("2025-02-10"); err != nil {
		t.Fatal(err)
	}
	if err := pt.MarkEmpty([]string{"AAAA", "BBBB", "CCCC"}); err != nil {
		t.Fatal(err)
	}

	// Reload and verify.
	pt2, err := newProgressTracker(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, sym := range []string{"AAAA", "BBBB", "CCCC"} {
		if !pt2.IsEmpty(sym) {
			t.Errorf("expected %q to be empty after reload", sym)
		}
	}
	if pt2.IsEmpty("DDDD") {
		t.Error("DDDD should not be empty")
	}
}

func TestProgressTrackerCompleted(t *testing.T) {
	pt, err := newProgressTracker(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if pt.IsCompleted("2025-02-10") {
		t.Error("should not be completed before marking")
	}
	if err := pt.MarkCompleted("2025-02-10"); err != nil {
		t.Fatal(err)
	}
	if !pt.IsCompleted("2025-02-10") {
		t.Error("should be completed after marking")
	}
	if pt.IsCompleted("2025-02-11") {
		t.Error("different date should not be completed")
	}
}

func TestProgressTrackerNewTargetDropsEmpty(t *testing.T) {
	dir := t.TempDir()

	pt, err := newProgressTracker(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := pt.Begin("2025-02-10"); err != nil {
		t.Fatal(err)
	}
	if err := pt.MarkEmpty([]string{"AAAA"}); err != nil {
		t.Fatal(err)
	}

	// Resuming the same target keeps markers.
	if err := pt.Begin("2025-02-10"); err != nil {
		t.Fatal(err)
	}
	if !pt.IsEmpty("AAAA") {
		t.Fatal("AAAA should survive a resume")
	}

	if err := pt.Begin("2025-02-11"); err != nil {
		t.Fatal(err)
	}
	if pt.IsEmpty("AAAA") {
		t.Error("AAAA should not be empty for a new target")
	}
	if _, err := os.Stat(filepath.Join(dir, stateFile)); err != nil {
		t.Errorf("state file missing: %v", err)
	}
}
