// Package synthesis runs the three-stage generative chain that turns the
// chosen keyframe, a reference voice clip and the ad copy into a finished
// digital-human ad clip: image cleanup, voice clone, then video generation.
// Each stage is a job-graph submission to the remote service.
package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"adweave/internal/comfy"
	"adweave/internal/fileutil"
	"adweave/internal/logging"
	"adweave/internal/media"
	"adweave/internal/workflowgraph"
)

const (
	// Each stage gets two attempts. The sleep after a failed attempt is the
	// stage's backoff unit times the attempt number.
	stageAttempts      = 2
	imageBackoffUnit   = 2 * time.Second
	voiceBackoffUnit   = 2 * time.Second
	videoBackoffUnit   = 3 * time.Second
	imageStageTimeout  = 5 * time.Minute
	voiceStageTimeout  = 5 * time.Minute
	videoStageTimeout  = 60 * time.Minute
	defaultFPS         = 25
	defaultPollGap     = 3 * time.Second
	cleanedImageName   = "cleaned_keyframe.png"
	adVoiceName        = "ad_voice.wav"
	adVideoName        = "ad_video.mp4"
	cleanupPositive    = "Remove all text, watermarks, logos and overlay elements from the image, keep the person and background clear and natural"
	cleanupNegative    = "text, subtitles, watermark, logo"
	imageOutputType    = "images"
	voiceOutputType    = "audio"
	videoOutputType    = "gifs" // the video-combine node labels mp4 output "gifs"
)

// JobClient is the slice of the remote client the stages use.
type JobClient interface {
	UploadFile(ctx context.Context, path string) (comfy.UploadResult, error)
	SubmitPrompt(ctx context.Context, graph map[string]any) (string, error)
	AwaitCompletion(ctx context.Context, promptID string, timeout, pollInterval time.Duration) (comfy.Outputs, error)
	DownloadOutput(ctx context.Context, file comfy.OutputFile, destPath string) error
	Ping(ctx context.Context) error
}

// Config carries the template paths and poll cadence for the stages.
type Config struct {
	ImageEditTemplate    string
	VoiceCloneTemplate   string
	DigitalHumanTemplate string
	PollInterval         time.Duration
}

// Service drives the generative chain against one remote endpoint.
type Service struct {
	client  JobClient
	toolkit *media.Toolkit
	cfg     Config
	logger  *slog.Logger
	sleeper func(time.Duration)
}

// NewService wires the remote client and the local ffmpeg toolkit.
func NewService(client JobClient, toolkit *media.Toolkit, cfg Config, logger *slog.Logger) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollGap
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		client:  client,
		toolkit: toolkit,
		cfg:     cfg,
		logger:  logger,
		sleeper: time.Sleep,
	}
}

// WithSleeper overrides how retry backoff sleeps are performed (useful for
// tests).
func (s *Service) WithSleeper(sleeper func(time.Duration)) {
	if sleeper != nil {
		s.sleeper = sleeper
	}
}

// Params are the inputs to one ad-clip generation.
type Params struct {
	// KeyframePath is the chosen insertion frame.
	KeyframePath string
	// ReferenceAudio is the sliced vocal clip the voice clone mimics.
	ReferenceAudio string
	// AdCopy is the text the digital human speaks.
	AdCopy string
	// FPS is the target frame rate (defaults to 25).
	FPS int
	// Width and Height carry the host resolution for the scale cap. Zero
	// disables scale injection and lets the template decide.
	Width, Height int
	// OutputDir receives the stage artifacts.
	OutputDir string
}

// Result records the artifacts the chain produced.
type Result struct {
	CleanedImagePath string
	VoicePath        string
	VideoPath        string
	// CleanupDegraded marks that image cleanup failed permanently and the
	// original keyframe was used instead.
	CleanupDegraded bool
}

// GenerateAdClip runs cleanup, voice clone and video generation in order.
// Cleanup failures degrade to the original keyframe; the other stages fail
// the whole chain.
func (s *Service) GenerateAdClip(ctx context.Context, params Params) (Result, error) {
	if params.FPS <= 0 {
		params.FPS = defaultFPS
	}
	var result Result

	cleaned, err := s.runStage(ctx, "image cleanup", imageBackoffUnit, func() (string, error) {
		return s.cleanKeyframe(ctx, params)
	})
	if err != nil {
		s.logger.Warn("image cleanup failed permanently, continuing with the original keyframe",
			logging.Error(err))
		cleaned = params.KeyframePath
		result.CleanupDegraded = true
	}
	result.CleanedImagePath = cleaned

	voice, err := s.runStage(ctx, "voice clone", voiceBackoffUnit, func() (string, error) {
		return s.cloneVoice(ctx, params)
	})
	if err != nil {
		return Result{}, err
	}
	result.VoicePath = voice

	video, err := s.runStage(ctx, "digital human", videoBackoffUnit, func() (string, error) {
		return s.generateVideo(ctx, cleaned, voice, params)
	})
	if err != nil {
		return Result{}, err
	}
	result.VideoPath = video

	return result, nil
}

// cleanKeyframe submits the image-edit graph against the keyframe and
// downloads the cleaned frame.
func (s *Service) cleanKeyframe(ctx context.Context, params Params) (string, error) {
	template, err := workflowgraph.Load(s.cfg.ImageEditTemplate)
	if err != nil {
		return "", err
	}

	uploaded, err := s.client.UploadFile(ctx, s.uploadableKeyframe(ctx, params.KeyframePath, params.OutputDir))
	if err != nil {
		return "", fmt.Errorf("image cleanup: %w", err)
	}

	graph := template.Clone()
	graph.SetLoadImage(uploaded.Name)
	graph.SetEncodedPrompts(cleanupPositive, cleanupNegative)

	dest := filepath.Join(params.OutputDir, cleanedImageName)
	if err := s.runGraph(ctx, "image cleanup", graph, imageStageTimeout, imageOutputType, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// uploadableKeyframe re-encodes the keyframe to PNG so the remote decoder
// never chokes on an odd JPEG. Transcode failure falls back to the original.
func (s *Service) uploadableKeyframe(ctx context.Context, keyframePath, outputDir string) string {
	pngPath := filepath.Join(outputDir, fileutil.Stem(keyframePath)+"_upload.png")
	if err := s.toolkit.TranscodeToPNG(ctx, keyframePath, pngPath); err != nil {
		s.logger.Warn("png transcode failed, uploading original keyframe",
			logging.String("keyframe", keyframePath), logging.Error(err))
		return keyframePath
	}
	return pngPath
}

// cloneVoice submits the voice-clone graph with the reference clip and the
// ad copy, and downloads the generated narration.
func (s *Service) cloneVoice(ctx context.Context, params Params) (string, error) {
	template, err := workflowgraph.Load(s.cfg.VoiceCloneTemplate)
	if err != nil {
		return "", err
	}

	uploaded, err := s.client.UploadFile(ctx, params.ReferenceAudio)
	if err != nil {
		return "", fmt.Errorf("voice clone: %w", err)
	}

	graph := template.Clone()
	graph.SetLoadAudio(uploaded.Name)
	graph.SetPromptText(params.AdCopy)

	dest := filepath.Join(params.OutputDir, adVoiceName)
	if err := s.runGraph(ctx, "voice clone", graph, voiceStageTimeout, voiceOutputType, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// generateVideo submits the digital-human graph with the cleaned frame and
// the cloned voice and downloads the animated clip.
func (s *Service) generateVideo(ctx context.Context, imagePath, voicePath string, params Params) (string, error) {
	template, err := workflowgraph.Load(s.cfg.DigitalHumanTemplate)
	if err != nil {
		return "", err
	}

	uploadedImage, err := s.client.UploadFile(ctx, imagePath)
	if err != nil {
		return "", fmt.Errorf("digital human: %w", err)
	}
	uploadedAudio, err := s.client.UploadFile(ctx, voicePath)
	if err != nil {
		return "", fmt.Errorf("digital human: %w", err)
	}

	graph := template.Clone()
	graph.SetLoadImage(uploadedImage.Name)
	graph.SetLoadAudio(uploadedAudio.Name)
	graph.SetFPS(params.FPS)
	graph.SetScaleForResolution(params.Width, params.Height)
	graph.TuneRender()

	dest := filepath.Join(params.OutputDir, adVideoName)
	if err := s.runGraph(ctx, "digital human", graph, videoStageTimeout, videoOutputType, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// runGraph submits a prepared graph, waits for it and downloads the first
// output of the wanted type.
func (s *Service) runGraph(ctx context.Context, stage string, graph workflowgraph.Graph, timeout time.Duration, outputType, dest string) error {
	promptID, err := s.client.SubmitPrompt(ctx, graph)
	if err != nil {
		return fmt.Errorf("%s: %w", stage, err)
	}
	outputs, err := s.client.AwaitCompletion(ctx, promptID, timeout, s.cfg.PollInterval)
	if err != nil {
		return fmt.Errorf("%s: %w", stage, err)
	}
	file, err := outputs.FileByType(outputType)
	if err != nil {
		return fmt.Errorf("%s: %w", stage, err)
	}
	if err := s.client.DownloadOutput(ctx, file, dest); err != nil {
		return fmt.Errorf("%s: %w", stage, err)
	}
	return nil
}

// runStage retries a stage, sleeping backoffUnit times the attempt number
// after each failure.
func (s *Service) runStage(ctx context.Context, stage string, backoffUnit time.Duration, fn func() (string, error)) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= stageAttempts; attempt++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		path, err := fn()
		if err == nil {
			return path, nil
		}
		lastErr = err
		wait := backoffUnit * time.Duration(attempt)
		s.logger.Warn("stage attempt failed",
			logging.String("stage", stage),
			logging.Int("attempt", attempt),
			logging.Duration("backoff", wait),
			logging.Error(err))
		s.sleeper(wait)
	}
	return "", fmt.Errorf("%s: failed after %d attempts: %w", stage, stageAttempts, lastErr)
}
