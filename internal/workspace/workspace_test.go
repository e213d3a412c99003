package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"adweave/internal/logging"
)

func TestOpenCreatesSubdirs(t *testing.T) {
	base := t.TempDir()
	ws, err := Open(base, "/videos/demo.mp4", logging.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ws.Close(true, false)

	for _, sub := range []string{DirAudio, DirKeyframes, DirTranscriptions, DirAdMaterials, DirVideos} {
		info, err := os.Stat(ws.Dir(sub))
		if err != nil || !info.IsDir() {
			t.Errorf("missing subdir %s: %v", sub, err)
		}
	}
}

func TestCloseRemovesOnSuccess(t *testing.T) {
	base := t.TempDir()
	ws, err := Open(base, "/videos/demo.mp4", logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	root := ws.Root()
	if err := ws.Close(true, true); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatal("workspace should be removed after a successful run")
	}
}

func TestCloseKeepsOnErrorWhenConfigured(t *testing.T) {
	base := t.TempDir()
	ws, err := Open(base, "/videos/demo.mp4", logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	root := ws.Root()
	if err := ws.Close(false, true); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(root); err != nil {
		t.Fatal("workspace should survive a failed run with keep-on-error")
	}
}

func TestCloseRemovesOnErrorWithoutKeep(t *testing.T) {
	base := t.TempDir()
	ws, err := Open(base, "/videos/demo.mp4", logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	root := ws.Root()
	if err := ws.Close(false, false); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatal("workspace should be removed when keep-on-error is off")
	}
}

func TestSweepExpired(t *testing.T) {
	base := t.TempDir()

	old := filepath.Join(base, "old_run")
	if err := os.MkdirAll(old, 0o755); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatal(err)
	}

	fresh := filepath.Join(base, "fresh_run")
	if err := os.MkdirAll(fresh, 0o755); err != nil {
		t.Fatal(err)
	}

	removed, err := SweepExpired(base, 24*time.Hour, logging.NewNop())
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("stale workspace should be gone")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatal("fresh workspace should survive")
	}
}

func TestSweepExpiredSkipsHeldWorkspace(t *testing.T) {
	base := t.TempDir()
	ws, err := Open(base, "/videos/busy.mp4", logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close(true, false)

	stale := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(ws.Root(), stale, stale); err != nil {
		t.Fatal(err)
	}

	removed, err := SweepExpired(base, 24*time.Hour, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if removed != 0 {
		t.Fatalf("held workspace should be skipped, removed %d", removed)
	}
	if _, err := os.Stat(ws.Root()); err != nil {
		t.Fatal("held workspace should still exist")
	}
}

func TestSweepExpiredMissingBase(t *testing.T) {
	removed, err := SweepExpired(filepath.Join(t.TempDir(), "nope"), time.Hour, logging.NewNop())
	if err != nil || removed != 0 {
		t.Fatalf("missing base should be a no-op: %d, %v", removed, err)
	}
}
