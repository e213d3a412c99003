package speaker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"

	"adweave/internal/logging"
	"adweave/internal/planning"
)

// Candidate scoring weights. With a presenter profile the face evidence
// dominates; without one, semantics and face quality weigh equally.
const (
	semanticWeightWithProfile = 0.4
	faceWeightWithProfile     = 0.6
	weightWithoutProfile      = 0.5
)

// ErrNoSpeakerFrame reports that neither the planner's candidates nor the
// presenter profile produced a frame with a usable speaker.
var ErrNoSpeakerFrame = errors.New("no insertion frame shows a usable speaker")

// Selection is the final insertion decision.
type Selection struct {
	// Point carries the semantic context for copy generation.
	Point planning.InsertionPoint
	// Time is where the ad clip is actually inserted.
	Time float64
	// KeyframePath is the frame handed to image cleanup and synthesis.
	KeyframePath string
	// FaceConfidence is the detector score of the matched face.
	FaceConfidence float64
	// Score is the combined semantic/face score (zero for a profile
	// best-frame fallback).
	Score float64
	// UsedProfileFrame marks the best-frame fallback path.
	UsedProfileFrame bool
}

// SelectInsertion evaluates the planner's candidates against the video. Each
// candidate is judged on the frame one frame period before its time, the last
// frame shown before the ad clip starts. A candidate survives only if that
// frame shows a face, and, when a profile exists, only if the face matches
// the presenter. When every candidate fails but a profile exists, the
// profile's best frame is used with the first candidate's semantics. With no
// profile either, the selection fails with ErrNoSpeakerFrame.
func (a *Analyzer) SelectInsertion(ctx context.Context, videoPath string, points []planning.InsertionPoint, fps float64, profile *Profile, keyframesDir string) (Selection, error) {
	if len(points) == 0 {
		return Selection{}, fmt.Errorf("select insertion: no candidates")
	}

	maxPriority := 0
	for _, point := range points {
		if point.Priority > maxPriority {
			maxPriority = point.Priority
		}
	}
	if maxPriority < 1 {
		maxPriority = 1
	}

	var best *Selection
	for i, point := range points {
		frameTime := point.Time
		if fps > 0 {
			frameTime = math.Max(0, point.Time-1/fps)
		}
		framePath := filepath.Join(keyframesDir, fmt.Sprintf("candidate_%02d.jpg", i))
		if err := a.toolkit.ExtractFrame(ctx, videoPath, frameTime, framePath); err != nil {
			a.logger.Debug("candidate frame unreadable",
				logging.Float64("time", point.Time), logging.Error(err))
			continue
		}
		faces, err := a.detector.DetectFaces(ctx, framePath)
		if err != nil {
			return Selection{}, fmt.Errorf("select insertion: detect at %.1fs: %w", point.Time, err)
		}
		if len(faces) == 0 {
			a.logger.Info("candidate rejected: no face",
				logging.Float64("time", point.Time))
			continue
		}

		semantic := float64(maxPriority+1-point.Priority) / float64(maxPriority)

		var confidence, score float64
		if profile != nil {
			face, ok := MatchProfile(faces, *profile)
			if !ok {
				a.logger.Info("candidate rejected: face is not the presenter",
					logging.Float64("time", point.Time))
				continue
			}
			confidence = face.Confidence
			score = semantic*semanticWeightWithProfile + confidence*faceWeightWithProfile
		} else {
			face := faces[0]
			for _, f := range faces[1:] {
				if f.Confidence > face.Confidence {
					face = f
				}
			}
			confidence = face.Confidence
			score = semantic*weightWithoutProfile + confidence*weightWithoutProfile
		}

		a.logger.Info("candidate accepted",
			logging.Float64("time", point.Time),
			logging.Float64("confidence", confidence),
			logging.Float64("score", score))

		if best == nil || score > best.Score {
			best = &Selection{
				Point:          point,
				Time:           point.Time,
				KeyframePath:   framePath,
				FaceConfidence: confidence,
				Score:          score,
			}
		}
	}

	if best != nil {
		return *best, nil
	}

	if profile != nil && profile.BestFramePath != "" {
		a.logger.Warn("no candidate matched, using presenter best frame",
			logging.Float64("time", profile.BestFrameTime))
		return Selection{
			Point:            points[0],
			Time:             profile.BestFrameTime,
			KeyframePath:     profile.BestFramePath,
			FaceConfidence:   profile.AvgConfidence,
			UsedProfileFrame: true,
		}, nil
	}

	return Selection{}, ErrNoSpeakerFrame
}

// ReferenceWindow returns the [start, end) range of host audio to slice as
// the voice-clone reference: ten seconds centered on the insertion time,
// shifted one-sided at the edges, never shorter than five seconds (capped by
// the video itself).
func ReferenceWindow(insertionTime, duration float64) (start, end float64) {
	const window = 10.0
	const minWindow = 5.0

	start = math.Max(0, insertionTime-window/2)
	end = math.Min(duration, insertionTime+window/2)

	if end-start < minWindow {
		if start == 0 {
			end = math.Min(minWindow, duration)
		} else {
			start = math.Max(0, duration-minWindow)
		}
	}
	return start, end
}
