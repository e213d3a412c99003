package speaker

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"adweave/internal/facedet"
	"adweave/internal/logging"
	"adweave/internal/media"
)

// Analyzer samples keyframes from a video and runs face analysis on them.
type Analyzer struct {
	detector       facedet.Detector
	toolkit        *media.Toolkit
	thresholds     Thresholds
	sampleInterval float64
	logger         *slog.Logger
}

// NewAnalyzer wires a face detector and the ffmpeg toolkit into an analyzer.
func NewAnalyzer(detector facedet.Detector, toolkit *media.Toolkit, thresholds Thresholds, sampleInterval float64, logger *slog.Logger) *Analyzer {
	if sampleInterval <= 0 {
		sampleInterval = 5
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Analyzer{
		detector:       detector,
		toolkit:        toolkit,
		thresholds:     thresholds,
		sampleInterval: sampleInterval,
		logger:         logger,
	}
}

// AnalyzeScene samples the video every sampleInterval seconds, detects faces
// on each keyframe, and classifies the scene. Keyframes are written under
// keyframesDir and referenced by the resulting profile.
func (a *Analyzer) AnalyzeScene(ctx context.Context, videoPath string, duration float64, keyframesDir string) (Scene, error) {
	var observations []Observation

	index := 0
	for t := 0.0; t < duration; t += a.sampleInterval {
		framePath := filepath.Join(keyframesDir, fmt.Sprintf("sample_%04d.jpg", index))
		index++
		if err := a.toolkit.ExtractFrame(ctx, videoPath, t, framePath); err != nil {
			// Frames near the very end can fail to decode; skip them
			// like any unreadable frame.
			a.logger.Debug("keyframe extraction failed",
				logging.Float64("time", t), logging.Error(err))
			continue
		}
		faces, err := a.detector.DetectFaces(ctx, framePath)
		if err != nil {
			return Scene{}, fmt.Errorf("analyze scene: detect at %.1fs: %w", t, err)
		}
		observations = append(observations, Observation{
			Time:      t,
			FramePath: framePath,
			Faces:     faces,
		})
	}

	a.logger.Info("scene sampling complete",
		logging.Int("sampled_frames", len(observations)))

	return BuildScene(observations, a.thresholds, a.logger), nil
}
