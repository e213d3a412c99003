// Package speaker decides whether a video is a single-presenter piece, builds
// the presenter's profile from sampled keyframes, and verifies that a chosen
// insertion frame actually shows that presenter.
package speaker

import (
	"log/slog"
	"math"

	"adweave/internal/facedet"
	"adweave/internal/logging"
)

// Clustering and matching constants. Two observations belong to the same
// cluster when their centers are within clusterMaxCenterDist and their
// relative size difference stays under clusterMaxSizeDiff.
const (
	clusterMaxCenterDist      = 0.2
	clusterMaxSizeDiff        = 0.5
	bestFrameConfidenceFactor = 0.95
	profileMatchMaxDist       = 0.25
)

// Observation is one sampled keyframe with its face detections.
type Observation struct {
	Time      float64
	FramePath string
	Faces     []facedet.Face
}

// Profile aggregates the presenter's appearance across the sampled frames.
// Positions and sizes are normalized to [0, 1].
type Profile struct {
	FaceID           int
	AppearanceCount  int
	AvgX             float64
	AvgY             float64
	AvgSize          float64
	PositionVariance float64
	AvgConfidence    float64
	BestFramePath    string
	BestFrameTime    float64
}

// Thresholds gates the main-speaker decision. The center region and position
// variance are advisory: violations are logged but do not reject a profile.
type Thresholds struct {
	MinAppearanceRatio  float64
	MinFaceSizeRatio    float64
	MaxPositionVariance float64
	CenterMinX          float64
	CenterMaxX          float64
	CenterMinY          float64
	CenterMaxY          float64
}

// Scene is the outcome of scene analysis.
type Scene struct {
	IsSingleSpeaker bool
	Profile         *Profile
	SampledFrames   int
	FramesWithFaces int
	UniqueSpeakers  int
}

// largestFace returns the biggest face in the observation, assumed to be the
// presenter when several people are visible.
func largestFace(faces []facedet.Face) (facedet.Face, bool) {
	if len(faces) == 0 {
		return facedet.Face{}, false
	}
	best := faces[0]
	for _, face := range faces[1:] {
		if face.Area() > best.Area() {
			best = face
		}
	}
	return best, true
}

// ClusterFaces groups the largest face of each observation into clusters by
// position and size, updating cluster means incrementally. The best frame of
// a cluster is replaced whenever a new member's confidence reaches 95% of
// the cluster's running mean.
func ClusterFaces(observations []Observation) []Profile {
	var clusters []Profile

	for _, obs := range observations {
		face, ok := largestFace(obs.Faces)
		if !ok {
			continue
		}
		size := face.Area()

		matched := false
		for i := range clusters {
			cluster := &clusters[i]
			dist := math.Hypot(face.CenterX-cluster.AvgX, face.CenterY-cluster.AvgY)
			sizeDiff := math.Abs(size-cluster.AvgSize) / math.Max(cluster.AvgSize, 0.01)
			if dist >= clusterMaxCenterDist || sizeDiff >= clusterMaxSizeDiff {
				continue
			}

			n := float64(cluster.AppearanceCount)
			cluster.AvgX = (cluster.AvgX*n + face.CenterX) / (n + 1)
			cluster.AvgY = (cluster.AvgY*n + face.CenterY) / (n + 1)
			cluster.AvgSize = (cluster.AvgSize*n + size) / (n + 1)
			cluster.AvgConfidence = (cluster.AvgConfidence*n + face.Confidence) / (n + 1)
			cluster.AppearanceCount++

			if face.Confidence > cluster.AvgConfidence*bestFrameConfidenceFactor {
				cluster.BestFramePath = obs.FramePath
				cluster.BestFrameTime = obs.Time
			}
			matched = true
			break
		}

		if !matched {
			clusters = append(clusters, Profile{
				FaceID:          len(clusters),
				AppearanceCount: 1,
				AvgX:            face.CenterX,
				AvgY:            face.CenterY,
				AvgSize:         size,
				AvgConfidence:   face.Confidence,
				BestFramePath:   obs.FramePath,
				BestFrameTime:   obs.Time,
			})
		}
	}

	for i := range clusters {
		clusters[i].PositionVariance = positionVariance(observations, clusters[i])
	}
	return clusters
}

// positionVariance measures how much the cluster's face wanders. It pools
// the x and y coordinates of every observation whose largest face sits
// within clustering distance of the final cluster center.
func positionVariance(observations []Observation, cluster Profile) float64 {
	var coords []float64
	members := 0
	for _, obs := range observations {
		face, ok := largestFace(obs.Faces)
		if !ok {
			continue
		}
		dist := math.Hypot(face.CenterX-cluster.AvgX, face.CenterY-cluster.AvgY)
		if dist < clusterMaxCenterDist {
			coords = append(coords, face.CenterX, face.CenterY)
			members++
		}
	}
	if members <= 1 {
		return 0
	}

	mean := 0.0
	for _, v := range coords {
		mean += v
	}
	mean /= float64(len(coords))

	variance := 0.0
	for _, v := range coords {
		d := v - mean
		variance += d * d
	}
	return variance / float64(len(coords))
}

// IdentifyMainSpeaker picks the most frequent cluster and checks it against
// the thresholds. Appearance ratio and face size are hard requirements; the
// center-region and variance checks only log.
func IdentifyMainSpeaker(observations []Observation, thresholds Thresholds, logger *slog.Logger) *Profile {
	if logger == nil {
		logger = logging.NewNop()
	}
	if len(observations) == 0 {
		return nil
	}

	clusters := ClusterFaces(observations)
	if len(clusters) == 0 {
		return nil
	}

	main := clusters[0]
	for _, cluster := range clusters[1:] {
		if cluster.AppearanceCount > main.AppearanceCount {
			main = cluster
		}
	}

	ratio := float64(main.AppearanceCount) / float64(len(observations))
	if ratio < thresholds.MinAppearanceRatio {
		logger.Debug("main cluster below appearance threshold",
			logging.Float64("ratio", ratio),
			logging.Float64("threshold", thresholds.MinAppearanceRatio))
		return nil
	}

	inCenter := main.AvgX >= thresholds.CenterMinX && main.AvgX <= thresholds.CenterMaxX &&
		main.AvgY >= thresholds.CenterMinY && main.AvgY <= thresholds.CenterMaxY
	if !inCenter {
		logger.Debug("speaker outside center region, continuing anyway",
			logging.Float64("x", main.AvgX),
			logging.Float64("y", main.AvgY))
	}

	if main.AvgSize < thresholds.MinFaceSizeRatio {
		logger.Debug("main cluster face too small",
			logging.Float64("size", main.AvgSize),
			logging.Float64("threshold", thresholds.MinFaceSizeRatio))
		return nil
	}

	if main.PositionVariance > thresholds.MaxPositionVariance {
		logger.Debug("speaker position unstable, continuing anyway",
			logging.Float64("variance", main.PositionVariance),
			logging.Float64("threshold", thresholds.MaxPositionVariance))
	}

	return &main
}

// MatchProfile reports whether the largest face in the frame sits close
// enough to the profile's average position to be the presenter.
func MatchProfile(faces []facedet.Face, profile Profile) (facedet.Face, bool) {
	face, ok := largestFace(faces)
	if !ok {
		return facedet.Face{}, false
	}
	dist := math.Hypot(face.CenterX-profile.AvgX, face.CenterY-profile.AvgY)
	if dist >= profileMatchMaxDist {
		return facedet.Face{}, false
	}
	return face, true
}

// BuildScene assembles the scene summary from the sampled observations.
func BuildScene(observations []Observation, thresholds Thresholds, logger *slog.Logger) Scene {
	if logger == nil {
		logger = logging.NewNop()
	}

	framesWithFaces := 0
	totalFaces := 0
	for _, obs := range observations {
		if len(obs.Faces) > 0 {
			framesWithFaces++
			totalFaces += len(obs.Faces)
		}
	}

	scene := Scene{
		SampledFrames:   len(observations),
		FramesWithFaces: framesWithFaces,
	}

	profile := IdentifyMainSpeaker(observations, thresholds, logger)
	if profile != nil {
		scene.IsSingleSpeaker = true
		scene.Profile = profile
		scene.UniqueSpeakers = 1
		return scene
	}

	if framesWithFaces > 0 {
		avgFacesPerFrame := float64(totalFaces) / float64(framesWithFaces)
		scene.UniqueSpeakers = int(avgFacesPerFrame)
		if scene.UniqueSpeakers < 1 {
			scene.UniqueSpeakers = 1
		}
	}

	switch {
	case len(observations) > 0 && float64(framesWithFaces) < float64(len(observations))*0.3:
		logger.Warn("faces appear too rarely for a presenter video",
			logging.Int("frames_with_faces", framesWithFaces),
			logging.Int("sampled_frames", len(observations)))
	case scene.UniqueSpeakers > 1:
		logger.Warn("multiple people in frame on average",
			logging.Int("unique_speakers", scene.UniqueSpeakers))
	default:
		logger.Warn("no stable presenter identified")
	}
	return scene
}
