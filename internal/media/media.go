// Package media wraps the ffmpeg operations the pipeline needs: audio
// demuxing, reference-window slicing, keyframe grabs, image transcodes, and
// the cut/normalize/concat steps used to assemble the final video.
package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"adweave/internal/media/ffprobe"
)

// Toolkit executes ffmpeg and ffprobe. The command runner can be swapped out
// in tests.
type Toolkit struct {
	ffmpegBinary  string
	ffprobeBinary string
	commandRunner func(ctx context.Context, name string, args ...string) error
}

// NewToolkit creates a toolkit using the given binaries. Empty names fall
// back to the standard executables on PATH.
func NewToolkit(ffmpegBinary, ffprobeBinary string) *Toolkit {
	if ffmpegBinary == "" {
		ffmpegBinary = "ffmpeg"
	}
	if ffprobeBinary == "" {
		ffprobeBinary = "ffprobe"
	}
	return &Toolkit{ffmpegBinary: ffmpegBinary, ffprobeBinary: ffprobeBinary}
}

// WithCommandRunner sets a custom command runner (for testing).
func (t *Toolkit) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	t.commandRunner = runner
}

func (t *Toolkit) run(ctx context.Context, name string, args ...string) error {
	if t.commandRunner != nil {
		return t.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Probe inspects a media file.
func (t *Toolkit) Probe(ctx context.Context, path string) (ffprobe.Result, error) {
	return ffprobe.Inspect(ctx, t.ffprobeBinary, path)
}

// ExtractAudio demuxes the full audio track to a 44.1kHz 16-bit PCM WAV
// file, the format the separation and cloning stages expect.
func (t *Toolkit) ExtractAudio(ctx context.Context, source, dest string) error {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", source,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "44100",
		"-ac", "2",
		"-y", dest,
	}
	if err := t.run(ctx, t.ffmpegBinary, args...); err != nil {
		return fmt.Errorf("extract audio: %w", err)
	}
	return nil
}

// ExtractAudioSegment slices [start, start+duration) seconds out of an audio
// file, keeping the PCM WAV format.
func (t *Toolkit) ExtractAudioSegment(ctx context.Context, source string, start, duration float64, dest string) error {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-ss", formatSeconds(start),
		"-i", source,
		"-t", formatSeconds(duration),
		"-acodec", "pcm_s16le",
		"-ar", "44100",
		"-ac", "2",
		"-y", dest,
	}
	if err := t.run(ctx, t.ffmpegBinary, args...); err != nil {
		return fmt.Errorf("extract audio segment: %w", err)
	}
	return nil
}

// ExtractFrame grabs a single frame at the given timestamp.
func (t *Toolkit) ExtractFrame(ctx context.Context, source string, timestamp float64, dest string) error {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-ss", formatSeconds(timestamp),
		"-i", source,
		"-frames:v", "1",
		"-q:v", "2",
		"-y", dest,
	}
	if err := t.run(ctx, t.ffmpegBinary, args...); err != nil {
		return fmt.Errorf("extract frame: %w", err)
	}
	return nil
}

// TranscodeToPNG rewrites an image file as PNG next to nothing else changing.
func (t *Toolkit) TranscodeToPNG(ctx context.Context, source, dest string) error {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", source,
		"-frames:v", "1",
		"-y", dest,
	}
	if err := t.run(ctx, t.ffmpegBinary, args...); err != nil {
		return fmt.Errorf("transcode to png: %w", err)
	}
	return nil
}

// CutVideo re-encodes the [start, end) range of a video into dest. A
// negative end means "to the end of the input".
func (t *Toolkit) CutVideo(ctx context.Context, source string, start, end float64, dest string) error {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-ss", formatSeconds(start),
		"-i", source,
	}
	if end >= 0 {
		args = append(args, "-t", formatSeconds(end-start))
	}
	args = append(args,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "18",
		"-c:a", "aac",
		"-avoid_negative_ts", "make_zero",
		"-y", dest,
	)
	if err := t.run(ctx, t.ffmpegBinary, args...); err != nil {
		return fmt.Errorf("cut video: %w", err)
	}
	return nil
}

// NormalizeClip re-encodes a clip to the given dimensions and frame rate so
// the concat step sees uniform streams. The scale filter letterboxes rather
// than distorts.
func (t *Toolkit) NormalizeClip(ctx context.Context, source string, width, height int, fps float64, dest string) error {
	filter := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,fps=%s",
		width, height, width, height, formatSeconds(fps),
	)
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", source,
		"-vf", filter,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "18",
		"-c:a", "aac",
		"-ar", "44100",
		"-y", dest,
	}
	if err := t.run(ctx, t.ffmpegBinary, args...); err != nil {
		return fmt.Errorf("normalize clip: %w", err)
	}
	return nil
}

// ConcatVideos joins the given parts in order using the concat demuxer. All
// parts must already share codec, dimensions, and frame rate.
func (t *Toolkit) ConcatVideos(ctx context.Context, parts []string, dest string) error {
	if len(parts) == 0 {
		return fmt.Errorf("concat videos: no parts")
	}

	listPath := filepath.Join(filepath.Dir(dest), "concat_list.txt")
	var sb strings.Builder
	for _, part := range parts {
		fmt.Fprintf(&sb, "file '%s'\n", strings.ReplaceAll(part, "'", `'\''`))
	}
	if err := os.WriteFile(listPath, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("concat videos: write list: %w", err)
	}
	defer os.Remove(listPath)

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y", dest,
	}
	if err := t.run(ctx, t.ffmpegBinary, args...); err != nil {
		return fmt.Errorf("concat videos: %w", err)
	}
	return nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
