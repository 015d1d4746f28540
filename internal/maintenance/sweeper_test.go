package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSweepMedia_RemovesOnlyOldFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.jpg")
	fresh := filepath.Join(dir, "fresh.jpg")
	for _, p := range []string{old, fresh} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	stale := time.Now().AddDate(0, 0, -40)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatal(err)
	}

	s := New("0 3 * * *", dir, 30, nil, 0)
	if removed := s.sweepMedia(); removed != 1 {
		t.Errorf("removed = %d", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("old file survived the sweep")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh file was removed")
	}
}

func TestSweepMedia_DisabledWithoutRetention(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "keep.jpg")
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().AddDate(0, 0, -400)
	if err := os.Chtimes(p, stale, stale); err != nil {
		t.Fatal(err)
	}

	s := New("0 3 * * *", dir, 0, nil, 0)
	if removed := s.sweepMedia(); removed != 0 {
		t.Errorf("removed = %d, want retention disabled", removed)
	}
}

func TestSweep_MissingMediaDirIsFine(t *testing.T) {
	s := New("0 3 * * *", filepath.Join(t.TempDir(), "nope"), 30, nil, 0)
	s.Sweep(context.Background())
}
