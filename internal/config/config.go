package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	OutputDir string `toml:"output_dir"`
	CacheDir  string `toml:"cache_dir"`
	LogDir    string `toml:"log_dir"`
}

// LLM contains the chat-completion API connection settings.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ComfyUI contains the remote job-graph service endpoint settings.
type ComfyUI struct {
	Host                string `toml:"host"`
	Port                int    `toml:"port"`
	Protocol            string `toml:"protocol"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
}

// Workflows contains paths to the three job-graph templates.
type Workflows struct {
	ImageEdit    string `toml:"image_edit"`
	VoiceClone   string `toml:"voice_clone"`
	DigitalHuman string `toml:"digital_human"`
}

// Video contains host-video acceptance bounds and planner settings.
type Video struct {
	MinDuration    float64 `toml:"min_duration"`
	MaxDuration    float64 `toml:"max_duration"`
	AvoidStart     float64 `toml:"avoid_start"`
	AvoidEnd       float64 `toml:"avoid_end"`
	CandidateCount int     `toml:"candidate_count"`
}

// AdCopy contains generated ad-copy length bounds (in runes).
type AdCopy struct {
	MinLength int `toml:"min_length"`
	MaxLength int `toml:"max_length"`
}

// Ads contains the catalog location.
type Ads struct {
	CatalogPath string `toml:"catalog_path"`
}

// Transcribe contains the local transcription engine settings.
type Transcribe struct {
	Model  string `toml:"model"`
	Device string `toml:"device"`
}

// Separation contains the source-separation engine settings.
type Separation struct {
	Model  string `toml:"model"`
	Device string `toml:"device"`
}

// FaceDetect contains the face detector adapter settings.
type FaceDetect struct {
	Command       string  `toml:"command"`
	MinConfidence float64 `toml:"min_confidence"`
	MinFaceSize   int     `toml:"min_face_size"`
}

// Speaker contains main-speaker identification thresholds. The center-region
// and variance values are advisory: scene analysis logs violations but does
// not reject a profile over them.
type Speaker struct {
	SampleInterval      float64 `toml:"sample_interval"`
	MinAppearanceRatio  float64 `toml:"min_appearance_ratio"`
	MinFaceSizeRatio    float64 `toml:"min_face_size_ratio"`
	MaxPositionVariance float64 `toml:"max_position_variance"`
	CenterRegionMinX    float64 `toml:"center_region_min_x"`
	CenterRegionMaxX    float64 `toml:"center_region_max_x"`
	CenterRegionMinY    float64 `toml:"center_region_min_y"`
	CenterRegionMaxY    float64 `toml:"center_region_max_y"`
}

// Cleanup contains temp-workspace retention settings.
type Cleanup struct {
	KeepTempFilesOnError bool `toml:"keep_temp_files_on_error"`
	TempFilesTTLSeconds  int  `toml:"temp_files_ttl_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for adweave.
//
// Configuration sections by subsystem:
//   - Paths: output, cache, and log directories
//   - LLM: chat-completion API used for planning and copy generation
//   - ComfyUI: remote job-graph service endpoint
//   - Workflows: job-graph template file paths
//   - Video: duration acceptance bounds and insertion edge-avoid bounds
//   - AdCopy: generated copy length bounds
//   - Ads: ad catalog path
//   - Transcribe / Separation / FaceDetect: external engine settings
//   - Speaker: main-speaker identification thresholds
//   - Cleanup: workspace retention policy
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	LLM        LLM        `toml:"llm"`
	ComfyUI    ComfyUI    `toml:"comfyui"`
	Workflows  Workflows  `toml:"workflows"`
	Video      Video      `toml:"video"`
	AdCopy     AdCopy     `toml:"ad_copy"`
	Ads        Ads        `toml:"ads"`
	Transcribe Transcribe `toml:"transcribe"`
	Separation Separation `toml:"separation"`
	FaceDetect FaceDetect `toml:"face_detect"`
	Speaker    Speaker    `toml:"speaker"`
	Cleanup    Cleanup    `toml:"cleanup"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/adweave/config.toml")
}

// Load locates, parses, and validates a configuration file, then applies the
// environment overrides. The returned config has all path fields expanded.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides(os.Getenv)

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("adweave.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories a pipeline run needs.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.OutputDir, c.Paths.CacheDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the ffmpeg executable name.
func (c *Config) FFmpegBinary() string { return "ffmpeg" }

// FFprobeBinary returns the ffprobe executable name used for media inspection.
func (c *Config) FFprobeBinary() string { return "ffprobe" }

// UVXBinary returns the uvx launcher used for the transcription and
// separation engines.
func (c *Config) UVXBinary() string { return "uvx" }

// ComfyBaseURL assembles the remote job service base URL.
func (c *Config) ComfyBaseURL() string {
	return fmt.Sprintf("%s://%s:%d", c.ComfyUI.Protocol, c.ComfyUI.Host, c.ComfyUI.Port)
}

// WorkflowPath returns the template path for the named generative stage.
func (c *Config) WorkflowPath(stage string) (string, error) {
	switch stage {
	case "image_edit":
		return c.Workflows.ImageEdit, nil
	case "voice_clone":
		return c.Workflows.VoiceClone, nil
	case "digital_human":
		return c.Workflows.DigitalHuman, nil
	default:
		return "", fmt.Errorf("unknown workflow stage %q", stage)
	}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
