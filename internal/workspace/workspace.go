// Package workspace manages the scoped per-video temp directory tree a
// pipeline run writes into. Each run owns exactly one workspace, guarded by a
// file lock so concurrent runs (and the TTL sweeper) never touch each other's
// files.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"adweave/internal/fileutil"
	"adweave/internal/logging"
)

// Subdirectories every workspace carries.
const (
	DirAudio          = "audio"
	DirKeyframes      = "keyframes"
	DirTranscriptions = "transcriptions"
	DirAdMaterials    = "ad_materials"
	DirVideos         = "videos"
)

var subdirs = []string{DirAudio, DirKeyframes, DirTranscriptions, DirAdMaterials, DirVideos}

const lockFileName = ".adweave.lock"

// Workspace is a locked per-video temp directory.
type Workspace struct {
	root   string
	lock   *flock.Flock
	logger *slog.Logger
}

// Open creates (or reuses) the workspace for the given video under baseDir
// and acquires its lock. It fails if another process holds the workspace.
func Open(baseDir, videoPath string, logger *slog.Logger) (*Workspace, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	name := fmt.Sprintf("%s_%d", fileutil.Stem(videoPath), time.Now().UnixNano())
	root := filepath.Join(baseDir, name)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	for _, sub := range subdirs {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create workspace subdir %s: %w", sub, err)
		}
	}

	lock := flock.New(filepath.Join(root, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock workspace: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("workspace %s is held by another process", root)
	}

	logger.Debug("workspace opened", logging.String("root", root))
	return &Workspace{root: root, lock: lock, logger: logger}, nil
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string { return w.root }

// Dir returns the absolute path of a named subdirectory.
func (w *Workspace) Dir(name string) string { return filepath.Join(w.root, name) }

// Path joins the given elements under the workspace root.
func (w *Workspace) Path(elems ...string) string {
	return filepath.Join(append([]string{w.root}, elems...)...)
}

// Close releases the lock and, depending on the run outcome and the retention
// policy, removes the workspace tree. A failed run with keepOnError leaves
// everything in place for inspection.
func (w *Workspace) Close(succeeded, keepOnError bool) error {
	if w.lock != nil {
		if err := w.lock.Unlock(); err != nil {
			w.logger.Warn("unlock workspace", logging.Error(err))
		}
		w.lock = nil
	}

	if !succeeded && keepOnError {
		w.logger.Info("keeping workspace for inspection", logging.String("root", w.root))
		return nil
	}

	if err := os.RemoveAll(w.root); err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}
	w.logger.Debug("workspace removed", logging.String("root", w.root))
	return nil
}

// SweepExpired removes workspaces under baseDir whose last modification is
// older than ttl. Locked workspaces are skipped. Returns how many were
// removed.
func SweepExpired(baseDir string, ttl time.Duration, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if ttl <= 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read workspace base: %w", err)
	}

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(baseDir, entry.Name())
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		lock := flock.New(filepath.Join(dir, lockFileName))
		locked, err := lock.TryLock()
		if err != nil || !locked {
			logger.Debug("skipping held workspace", logging.String("root", dir))
			continue
		}
		_ = lock.Unlock()

		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("sweep workspace", logging.String("root", dir), logging.Error(err))
			continue
		}
		removed++
		logger.Info("swept expired workspace", logging.String("root", dir))
	}
	return removed, nil
}
