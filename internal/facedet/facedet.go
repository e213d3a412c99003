// Package facedet detects faces in keyframes through an external detector
// command. The detector receives an image path and prints one JSON document
// describing the faces it found; this package filters, normalizes, and sorts
// the observations for the speaker-analysis stage.
package facedet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

// Face is a single observation with coordinates normalized to [0, 1].
type Face struct {
	// CenterX and CenterY locate the face center.
	CenterX float64
	CenterY float64
	// Width and Height are the box dimensions.
	Width  float64
	Height float64
	// Confidence is the detector's score in [0, 1].
	Confidence float64
}

// Area returns the normalized box area, the "size ratio" used by speaker
// thresholds.
func (f Face) Area() float64 { return f.Width * f.Height }

// Detector finds faces in an image file.
type Detector interface {
	DetectFaces(ctx context.Context, imagePath string) ([]Face, error)
}

// Config tunes the exec-based detector.
type Config struct {
	// Command is the external detector executable.
	Command string
	// MinConfidence drops observations below this score.
	MinConfidence float64
	// MinFaceSize drops faces smaller than this many pixels on either edge.
	MinFaceSize int
}

// ExecDetector shells out to the configured detector command.
type ExecDetector struct {
	cfg           Config
	commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewExecDetector creates a detector using the configured command.
func NewExecDetector(cfg Config) *ExecDetector {
	if cfg.Command == "" {
		cfg.Command = "adweave-facedet"
	}
	return &ExecDetector{cfg: cfg}
}

// WithCommandRunner sets a custom command runner (for testing).
func (d *ExecDetector) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) ([]byte, error)) {
	d.commandRunner = runner
}

// detectorOutput is the JSON document the detector command prints. Box
// coordinates are pixels in the source image.
type detectorOutput struct {
	ImageWidth  int `json:"image_width"`
	ImageHeight int `json:"image_height"`
	Faces       []struct {
		X1         float64 `json:"x1"`
		Y1         float64 `json:"y1"`
		X2         float64 `json:"x2"`
		Y2         float64 `json:"y2"`
		Confidence float64 `json:"confidence"`
	} `json:"faces"`
}

// DetectFaces runs the detector on one image and returns the filtered
// observations sorted by confidence, best first.
func (d *ExecDetector) DetectFaces(ctx context.Context, imagePath string) ([]Face, error) {
	if strings.TrimSpace(imagePath) == "" {
		return nil, fmt.Errorf("detect faces: image path required")
	}

	output, err := d.run(ctx, d.cfg.Command, imagePath)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	var parsed detectorOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, fmt.Errorf("detect faces: parse output: %w", err)
	}
	if parsed.ImageWidth <= 0 || parsed.ImageHeight <= 0 {
		return nil, fmt.Errorf("detect faces: detector reported image %dx%d", parsed.ImageWidth, parsed.ImageHeight)
	}

	imgW := float64(parsed.ImageWidth)
	imgH := float64(parsed.ImageHeight)
	minEdge := float64(d.cfg.MinFaceSize)

	faces := make([]Face, 0, len(parsed.Faces))
	for _, raw := range parsed.Faces {
		if raw.Confidence < d.cfg.MinConfidence {
			continue
		}
		width := raw.X2 - raw.X1
		height := raw.Y2 - raw.Y1
		if width <= 0 || height <= 0 {
			continue
		}
		if width < minEdge || height < minEdge {
			continue
		}
		faces = append(faces, Face{
			CenterX:    (raw.X1 + raw.X2) / 2 / imgW,
			CenterY:    (raw.Y1 + raw.Y2) / 2 / imgH,
			Width:      width / imgW,
			Height:     height / imgH,
			Confidence: raw.Confidence,
		})
	}

	sort.SliceStable(faces, func(i, j int) bool {
		return faces[i].Confidence > faces[j].Confidence
	})
	return faces, nil
}

func (d *ExecDetector) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if d.commandRunner != nil {
		return d.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return output, nil
}
