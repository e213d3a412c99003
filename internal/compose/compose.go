// Package compose assembles the final deliverable: the host video split at
// the insertion time with the generated ad clip spliced in between.
package compose

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"adweave/internal/fileutil"
	"adweave/internal/logging"
	"adweave/internal/media"
)

// Composer splices ad clips into host videos with ffmpeg.
type Composer struct {
	toolkit *media.Toolkit
	logger  *slog.Logger
}

// NewComposer wires the ffmpeg toolkit into a composer.
func NewComposer(toolkit *media.Toolkit, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Composer{toolkit: toolkit, logger: logger}
}

// Params describe one splice. The host metadata comes from the ingest probe;
// the composer trusts it rather than probing again.
type Params struct {
	// HostPath is the original narrated video.
	HostPath string
	// AdClipPath is the generated digital-human clip.
	AdClipPath string
	// InsertionTime is where the host is split, in seconds.
	InsertionTime float64
	// Duration is the host duration in seconds.
	Duration float64
	// Width and Height are the host resolution the ad clip is conformed to.
	Width, Height int
	// FPS is the host frame rate.
	FPS float64
	// WorkDir receives the intermediate parts.
	WorkDir string
	// OutputDir receives the final file.
	OutputDir string
}

// InsertAdClip splits the host at the insertion time, conforms the ad clip
// to the host's resolution and frame rate, and concatenates prefix, ad and
// suffix into `<host stem>_with_ad.mp4` under OutputDir. The returned path
// never overwrites an existing file.
func (c *Composer) InsertAdClip(ctx context.Context, params Params) (string, error) {
	if params.InsertionTime <= 0 || params.InsertionTime >= params.Duration {
		return "", fmt.Errorf("compose: insertion time %.2fs outside (0, %.2fs)", params.InsertionTime, params.Duration)
	}
	if err := os.MkdirAll(params.WorkDir, 0o755); err != nil {
		return "", fmt.Errorf("compose: %w", err)
	}
	if err := os.MkdirAll(params.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("compose: %w", err)
	}

	c.logger.Info("splitting host video",
		logging.String("host", filepath.Base(params.HostPath)),
		logging.Float64("at", params.InsertionTime))

	prefixPath := filepath.Join(params.WorkDir, "part1.mp4")
	if err := c.toolkit.CutVideo(ctx, params.HostPath, 0, params.InsertionTime, prefixPath); err != nil {
		return "", fmt.Errorf("compose: cut prefix: %w", err)
	}
	suffixPath := filepath.Join(params.WorkDir, "part2.mp4")
	if err := c.toolkit.CutVideo(ctx, params.HostPath, params.InsertionTime, -1, suffixPath); err != nil {
		return "", fmt.Errorf("compose: cut suffix: %w", err)
	}

	// The generated clip rarely matches the host's parameters; conform it
	// so the concat demuxer sees three compatible streams.
	normalizedPath := filepath.Join(params.WorkDir, "ad_normalized.mp4")
	if err := c.toolkit.NormalizeClip(ctx, params.AdClipPath, params.Width, params.Height, params.FPS, normalizedPath); err != nil {
		return "", fmt.Errorf("compose: normalize ad clip: %w", err)
	}

	outputPath, err := fileutil.UniquePath(filepath.Join(params.OutputDir, fileutil.Stem(params.HostPath)+"_with_ad.mp4"))
	if err != nil {
		return "", fmt.Errorf("compose: %w", err)
	}
	if err := c.toolkit.ConcatVideos(ctx, []string{prefixPath, normalizedPath, suffixPath}, outputPath); err != nil {
		return "", fmt.Errorf("compose: concat: %w", err)
	}

	c.logger.Info("composition complete", logging.String("output", outputPath))
	return outputPath, nil
}
