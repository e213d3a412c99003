// Package transcribe runs the WhisperX engine through uvx and parses its
// word-timed JSON output into the segment model the planner consumes.
package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	langpkg "adweave/internal/language"
)

// Config captures runtime settings for transcription.
type Config struct {
	// Model is the WhisperX model to use (e.g., "large-v3").
	Model string
	// Device selects the compute device: "auto", "cpu", or "cuda".
	Device string
}

// Engine configuration constants.
const (
	DefaultModel      = "large-v3"
	BatchSize         = "4"
	SegmentResolution = "sentence"
	OutputFormat      = "all"
	CPUComputeType    = "float32"
	UVXCommand        = "uvx"
)

// Service provides transcription through the WhisperX engine.
type Service struct {
	cfg           Config
	uvxBinary     string
	commandRunner func(ctx context.Context, name string, args ...string) error
}

// NewService creates a transcription service with the given configuration.
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

// Model returns the configured model name for logging.
func (s *Service) Model() string {
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

// Result contains the artifacts of a transcription run.
type Result struct {
	// Text is the plain text transcription.
	Text string
	// Segments are the sentence-resolution segments with word timings.
	Segments []Segment
	// SRTPath is the path to the generated SRT file (if available).
	SRTPath string
	// JSONPath is the path to the generated JSON file.
	JSONPath string
	// Language is the detected language as reported by the engine.
	Language string
}

// Context returns the segment texts immediately before and after the given
// timestamp. A segment spanning the timestamp counts as "before".
func (r Result) Context(at float64) (before, after string) {
	for _, segment := range r.Segments {
		if segment.Start <= at {
			before = segment.Text
			continue
		}
		after = segment.Text
		break
	}
	return before, after
}

// TranscribeFile transcribes an audio file. The source should be a WAV file;
// outputDir is where the engine writes its output files.
func (s *Service) TranscribeFile(ctx context.Context, source, outputDir, language string) (Result, error) {
	var result Result

	if source == "" {
		return result, fmt.Errorf("transcribe: source path required")
	}
	if outputDir == "" {
		outputDir = filepath.Dir(source)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return result, fmt.Errorf("transcribe: ensure output dir: %w", err)
	}

	args := s.buildArgs(source, outputDir, language)
	if err := s.run(ctx, s.uvxBinary, args...); err != nil {
		return result, fmt.Errorf("whisperx: %w", err)
	}

	baseName := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	result.SRTPath = filepath.Join(outputDir, baseName+".srt")
	result.JSONPath = filepath.Join(outputDir, baseName+".json")

	payload, err := loadPayload(result.JSONPath)
	if err != nil {
		return result, fmt.Errorf("transcribe: read output: %w", err)
	}
	result.Segments = payload.Segments
	result.Language = payload.Language
	result.Text = joinSegmentText(payload.Segments)
	return result, nil
}

// buildArgs constructs the uvx command arguments for WhisperX.
func (s *Service) buildArgs(source, outputDir, language string) []string {
	model := s.cfg.Model
	if model == "" {
		model = DefaultModel
	}

	args := []string{
		"whisperx",
		source,
		"--model", model,
		"--batch_size", BatchSize,
		"--output_dir", outputDir,
		"--output_format", OutputFormat,
		"--segment_resolution", SegmentResolution,
	}

	if lang := langpkg.ToISO2(language); lang != "" {
		args = append(args, "--language", lang)
	}

	switch s.cfg.Device {
	case "cuda":
		args = append(args, "--device", "cuda")
	case "cpu":
		args = append(args, "--device", "cpu", "--compute_type", CPUComputeType)
	}

	return args
}

// Word represents a single word with timing from the engine output.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment represents a transcribed sentence-level segment.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Words []Word  `json:"words"`
}

type payload struct {
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
}

// LoadSegments loads segments from an engine JSON output file.
func LoadSegments(jsonPath string) ([]Segment, error) {
	p, err := loadPayload(jsonPath)
	if err != nil {
		return nil, err
	}
	return p.Segments, nil
}

func loadPayload(jsonPath string) (payload, error) {
	var p payload
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse whisperx json: %w", err)
	}
	return p, nil
}

func joinSegmentText(segments []Segment) string {
	var parts []string
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// ContextAround returns the transcript text overlapping [start, end],
// giving the planner prompt local context around an insertion candidate.
func ContextAround(segments []Segment, start, end float64) string {
	var parts []string
	for _, seg := range segments {
		if seg.End < start || seg.Start > end {
			continue
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
