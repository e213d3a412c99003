package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that the configuration is internally consistent. It returns
// a single error aggregating every violation found.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		problems = append(problems, "paths.output_dir must not be empty")
	}

	if c.LLM.TimeoutSeconds <= 0 {
		problems = append(problems, "llm.timeout_seconds must be positive")
	}

	switch c.ComfyUI.Protocol {
	case "http", "https":
	default:
		problems = append(problems, fmt.Sprintf("comfyui.protocol must be http or https, got %q", c.ComfyUI.Protocol))
	}
	if c.ComfyUI.Port <= 0 || c.ComfyUI.Port > 65535 {
		problems = append(problems, fmt.Sprintf("comfyui.port must be in 1..65535, got %d", c.ComfyUI.Port))
	}
	if c.ComfyUI.PollIntervalSeconds <= 0 {
		problems = append(problems, "comfyui.poll_interval_seconds must be positive")
	}

	if c.Video.MinDuration <= 0 {
		problems = append(problems, "video.min_duration must be positive")
	}
	if c.Video.MaxDuration < c.Video.MinDuration {
		problems = append(problems, "video.max_duration must be >= video.min_duration")
	}
	if c.Video.AvoidStart < 0 || c.Video.AvoidEnd < 0 {
		problems = append(problems, "video.avoid_start and video.avoid_end must not be negative")
	}
	if c.Video.CandidateCount <= 0 {
		problems = append(problems, "video.candidate_count must be positive")
	}

	if c.AdCopy.MinLength <= 0 {
		problems = append(problems, "ad_copy.min_length must be positive")
	}
	if c.AdCopy.MaxLength < c.AdCopy.MinLength {
		problems = append(problems, "ad_copy.max_length must be >= ad_copy.min_length")
	}

	if c.FaceDetect.MinConfidence <= 0 || c.FaceDetect.MinConfidence > 1 {
		problems = append(problems, "face_detect.min_confidence must be in (0, 1]")
	}
	if c.FaceDetect.MinFaceSize <= 0 {
		problems = append(problems, "face_detect.min_face_size must be positive")
	}

	if c.Speaker.SampleInterval <= 0 {
		problems = append(problems, "speaker.sample_interval must be positive")
	}
	if c.Speaker.MinAppearanceRatio <= 0 || c.Speaker.MinAppearanceRatio > 1 {
		problems = append(problems, "speaker.min_appearance_ratio must be in (0, 1]")
	}
	if c.Speaker.MinFaceSizeRatio <= 0 || c.Speaker.MinFaceSizeRatio > 1 {
		problems = append(problems, "speaker.min_face_size_ratio must be in (0, 1]")
	}
	if c.Speaker.CenterRegionMinX >= c.Speaker.CenterRegionMaxX {
		problems = append(problems, "speaker.center_region_min_x must be < speaker.center_region_max_x")
	}
	if c.Speaker.CenterRegionMinY >= c.Speaker.CenterRegionMaxY {
		problems = append(problems, "speaker.center_region_min_y must be < speaker.center_region_max_y")
	}

	if c.Cleanup.TempFilesTTLSeconds < 0 {
		problems = append(problems, "cleanup.temp_files_ttl_seconds must not be negative")
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format must be console or json, got %q", c.Logging.Format))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
