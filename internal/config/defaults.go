package config

// Default returns the built-in configuration values. A config file and the
// environment overrides are layered on top of these.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir: "~/adweave/output",
			CacheDir:  "~/.cache/adweave",
			LogDir:    "~/adweave/logs",
		},
		LLM: LLM{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o",
			TimeoutSeconds: 120,
		},
		ComfyUI: ComfyUI{
			Host:                "127.0.0.1",
			Port:                8188,
			Protocol:            "http",
			PollIntervalSeconds: 3,
		},
		Workflows: Workflows{
			ImageEdit:    "workflows/image_edit.json",
			VoiceClone:   "workflows/voice_clone.json",
			DigitalHuman: "workflows/digital_human.json",
		},
		Video: Video{
			MinDuration:    15,
			MaxDuration:    300,
			AvoidStart:     3,
			AvoidEnd:       5,
			CandidateCount: 5,
		},
		AdCopy: AdCopy{
			MinLength: 15,
			MaxLength: 50,
		},
		Ads: Ads{
			CatalogPath: "ads.json",
		},
		Transcribe: Transcribe{
			Model:  "large-v3",
			Device: "auto",
		},
		Separation: Separation{
			Model: "htdemucs",
		},
		FaceDetect: FaceDetect{
			Command:       "adweave-facedet",
			MinConfidence: 0.9,
			MinFaceSize:   20,
		},
		Speaker: Speaker{
			SampleInterval:      5,
			MinAppearanceRatio:  0.5,
			MinFaceSizeRatio:    0.03,
			MaxPositionVariance: 0.15,
			CenterRegionMinX:    0.2,
			CenterRegionMaxX:    0.8,
			CenterRegionMinY:    0.1,
			CenterRegionMaxY:    0.9,
		},
		Cleanup: Cleanup{
			KeepTempFilesOnError: true,
			TempFilesTTLSeconds:  24 * 60 * 60,
		},
		Logging: Logging{
			Format: "console",
			Level:  "info",
		},
	}
}
