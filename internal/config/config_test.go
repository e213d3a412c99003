package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize default config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")
	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if resolved == "" {
		t.Fatal("expected resolved path even when the file is missing")
	}
	if cfg.ComfyUI.Port != 8188 {
		t.Fatalf("expected default port 8188, got %d", cfg.ComfyUI.Port)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[comfyui]
host = "gpu-box"
port = 9000

[video]
min_duration = 20.0
max_duration = 120.0
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, _, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected exists=true")
	}
	if cfg.ComfyUI.Host != "gpu-box" || cfg.ComfyUI.Port != 9000 {
		t.Fatalf("file values not applied: %+v", cfg.ComfyUI)
	}
	if cfg.Video.MinDuration != 20 || cfg.Video.MaxDuration != 120 {
		t.Fatalf("video bounds not applied: %+v", cfg.Video)
	}
	// Untouched sections keep defaults.
	if cfg.Speaker.MinAppearanceRatio != 0.5 {
		t.Fatalf("expected default appearance ratio, got %v", cfg.Speaker.MinAppearanceRatio)
	}
}

func TestEnvOverrides(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"OPENAI_API_KEY":           "sk-test",
		"COMFYUI_HOST":             "10.0.0.5",
		"COMFYUI_PORT":             "8288",
		"MIN_VIDEO_DURATION":       "30",
		"KEEP_TEMP_FILES_ON_ERROR": "false",
		"TEMP_FILES_TTL":           "3600",
		"COMFYUI_PROTOCOL":         "",
	}
	cfg.applyEnvOverrides(func(key string) string { return env[key] })

	if cfg.LLM.APIKey != "sk-test" {
		t.Fatalf("api key not overridden: %q", cfg.LLM.APIKey)
	}
	if cfg.ComfyUI.Host != "10.0.0.5" || cfg.ComfyUI.Port != 8288 {
		t.Fatalf("comfy endpoint not overridden: %+v", cfg.ComfyUI)
	}
	if cfg.Video.MinDuration != 30 {
		t.Fatalf("min duration not overridden: %v", cfg.Video.MinDuration)
	}
	if cfg.Cleanup.KeepTempFilesOnError {
		t.Fatal("keep_temp_files_on_error not overridden")
	}
	if cfg.Cleanup.TempFilesTTLSeconds != 3600 {
		t.Fatalf("ttl not overridden: %d", cfg.Cleanup.TempFilesTTLSeconds)
	}
	// Empty env values leave defaults alone.
	if cfg.ComfyUI.Protocol != "http" {
		t.Fatalf("empty env value should not override, got %q", cfg.ComfyUI.Protocol)
	}
}

func TestEnvOverridesIgnoreMalformedNumbers(t *testing.T) {
	cfg := Default()
	cfg.applyEnvOverrides(func(key string) string {
		if key == "COMFYUI_PORT" {
			return "not-a-port"
		}
		return ""
	})
	if cfg.ComfyUI.Port != 8188 {
		t.Fatalf("malformed value should be ignored, got %d", cfg.ComfyUI.Port)
	}
}

func TestValidateAggregatesProblems(t *testing.T) {
	cfg := Default()
	cfg.ComfyUI.Protocol = "gopher"
	cfg.Video.MinDuration = -1
	cfg.AdCopy.MaxLength = 1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"comfyui.protocol", "video.min_duration", "ad_copy.max_length"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s: %v", want, err)
		}
	}
}

func TestExpandPathTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := expandPath("~/adweave/output")
	if err != nil {
		t.Fatalf("expandPath: %v", err)
	}
	if got != filepath.Join(home, "adweave", "output") {
		t.Fatalf("unexpected expansion: %s", got)
	}
}

func TestWorkflowPath(t *testing.T) {
	cfg := Default()
	for _, stage := range []string{"image_edit", "voice_clone", "digital_human"} {
		if _, err := cfg.WorkflowPath(stage); err != nil {
			t.Errorf("WorkflowPath(%s): %v", stage, err)
		}
	}
	if _, err := cfg.WorkflowPath("upscale"); err == nil {
		t.Fatal("expected error for unknown stage")
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "[comfyui]") {
		t.Fatal("sample config missing comfyui section")
	}
}
