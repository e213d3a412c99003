package config

import (
	"fmt"
	"strconv"
	"strings"
)

// applyEnvOverrides layers a fixed set of environment variables over the
// decoded file values. Unset or empty variables leave the file value alone;
// malformed numeric values are ignored rather than fatal so a stray export
// cannot block a run.
func (c *Config) applyEnvOverrides(getenv func(string) string) {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				*dst = parsed
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = parsed
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			if parsed, err := strconv.ParseBool(v); err == nil {
				*dst = parsed
			}
		}
	}

	setString("OPENAI_API_KEY", &c.LLM.APIKey)
	setString("OPENAI_BASE_URL", &c.LLM.BaseURL)
	setString("OPENAI_MODEL", &c.LLM.Model)

	setString("COMFYUI_HOST", &c.ComfyUI.Host)
	setInt("COMFYUI_PORT", &c.ComfyUI.Port)
	setString("COMFYUI_PROTOCOL", &c.ComfyUI.Protocol)

	setFloat("MIN_VIDEO_DURATION", &c.Video.MinDuration)
	setFloat("MAX_VIDEO_DURATION", &c.Video.MaxDuration)
	setFloat("AVOID_START_SECONDS", &c.Video.AvoidStart)
	setFloat("AVOID_END_SECONDS", &c.Video.AvoidEnd)

	setInt("AD_COPY_MIN_LENGTH", &c.AdCopy.MinLength)
	setInt("AD_COPY_MAX_LENGTH", &c.AdCopy.MaxLength)

	setString("IMAGE_EDIT_WORKFLOW", &c.Workflows.ImageEdit)
	setString("VOICE_CLONE_WORKFLOW", &c.Workflows.VoiceClone)
	setString("DIGITAL_HUMAN_WORKFLOW", &c.Workflows.DigitalHuman)

	setBool("KEEP_TEMP_FILES_ON_ERROR", &c.Cleanup.KeepTempFilesOnError)
	setInt("TEMP_FILES_TTL", &c.Cleanup.TempFilesTTLSeconds)
}

// normalize expands paths and canonicalizes enum-like string fields.
func (c *Config) normalize() error {
	pathFields := []struct {
		name  string
		value *string
	}{
		{"paths.output_dir", &c.Paths.OutputDir},
		{"paths.cache_dir", &c.Paths.CacheDir},
		{"paths.log_dir", &c.Paths.LogDir},
		{"workflows.image_edit", &c.Workflows.ImageEdit},
		{"workflows.voice_clone", &c.Workflows.VoiceClone},
		{"workflows.digital_human", &c.Workflows.DigitalHuman},
		{"ads.catalog_path", &c.Ads.CatalogPath},
	}
	for _, field := range pathFields {
		expanded, err := expandPath(*field.value)
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}

	c.ComfyUI.Protocol = strings.ToLower(strings.TrimSpace(c.ComfyUI.Protocol))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Transcribe.Device = strings.ToLower(strings.TrimSpace(c.Transcribe.Device))
	c.Separation.Device = strings.ToLower(strings.TrimSpace(c.Separation.Device))

	return nil
}
