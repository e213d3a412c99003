// Package separation isolates the vocal track from a mixed audio file using
// the Demucs engine through uvx. Only the vocal stem is retained; it feeds
// speaker verification and reference-audio slicing.
package separation

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"adweave/internal/fileutil"
)

// Config captures runtime settings for source separation.
type Config struct {
	// Model is the Demucs model name (e.g., "htdemucs").
	Model string
	// Device selects the compute device ("cuda" or "cpu"). Empty lets the
	// engine decide.
	Device string
}

const (
	// DefaultModel is the Demucs model used when none is configured.
	DefaultModel = "htdemucs"
	// UVXCommand launches the engine without a local install.
	UVXCommand = "uvx"
)

// Service runs two-stem source separation.
type Service struct {
	cfg           Config
	uvxBinary     string
	commandRunner func(ctx context.Context, name string, args ...string) error
}

// NewService creates a separation service with the given configuration.
func NewService(cfg Config, uvxBinary string) *Service {
	if uvxBinary == "" {
		uvxBinary = UVXCommand
	}
	return &Service{cfg: cfg, uvxBinary: uvxBinary}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	s.commandRunner = runner
}

func (s *Service) model() string {
	if s.cfg.Model != "" {
		return s.cfg.Model
	}
	return DefaultModel
}

func (s *Service) run(ctx context.Context, name string, args ...string) error {
	if s.commandRunner != nil {
		return s.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Result holds the retained stem.
type Result struct {
	// VocalsPath is the isolated voice track, workDir/vocals.wav.
	VocalsPath string
}

// Separate isolates the vocal stem of source into workDir/vocals.wav. The
// engine writes both stems into workDir/<model>/<stem>/; the vocals are moved
// up to workDir and the intermediate stem directory is deleted.
func (s *Service) Separate(ctx context.Context, source, workDir string) (Result, error) {
	var result Result

	if source == "" {
		return result, fmt.Errorf("separate: source path required")
	}
	if workDir == "" {
		return result, fmt.Errorf("separate: workDir required")
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return result, fmt.Errorf("separate: ensure workDir: %w", err)
	}

	args := []string{
		"demucs",
		"--two-stems", "vocals",
		"-n", s.model(),
	}
	if s.cfg.Device != "" {
		args = append(args, "--device", s.cfg.Device)
	}
	args = append(args, "-o", workDir, source)
	if err := s.run(ctx, s.uvxBinary, args...); err != nil {
		return result, fmt.Errorf("demucs: %w", err)
	}

	stemDir := filepath.Join(workDir, s.model(), fileutil.Stem(source))
	stemVocals := filepath.Join(stemDir, "vocals.wav")
	if _, err := os.Stat(stemVocals); err != nil {
		return result, fmt.Errorf("demucs: vocals stem missing: %w", err)
	}

	result.VocalsPath = filepath.Join(workDir, "vocals.wav")
	if err := os.Rename(stemVocals, result.VocalsPath); err != nil {
		return result, fmt.Errorf("demucs: retain vocals: %w", err)
	}
	if err := os.RemoveAll(filepath.Join(workDir, s.model())); err != nil {
		return result, fmt.Errorf("demucs: remove stem dir: %w", err)
	}
	return result, nil
}
