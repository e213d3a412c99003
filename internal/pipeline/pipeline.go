// Package pipeline orchestrates a full run: ingest the host video, understand
// its content, stage the insertion assets, synthesize the digital-human ad
// clip, and compose the final video. Phase components are injected behind
// small interfaces so the flow can be exercised without external tools.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"adweave/internal/ads"
	"adweave/internal/comfy"
	"adweave/internal/compose"
	"adweave/internal/config"
	"adweave/internal/facedet"
	"adweave/internal/fileutil"
	"adweave/internal/logging"
	"adweave/internal/media"
	"adweave/internal/media/ffprobe"
	"adweave/internal/planning"
	"adweave/internal/runlog"
	"adweave/internal/separation"
	"adweave/internal/speaker"
	"adweave/internal/synthesis"
	"adweave/internal/transcribe"
	"adweave/internal/workspace"
)

// Video containers the batch scanner picks up.
var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".avi":  true,
	".webm": true,
}

// Transcriber produces the timed transcript of an audio file.
type Transcriber interface {
	TranscribeFile(ctx context.Context, source, outputDir, language string) (transcribe.Result, error)
}

// Separator splits an audio file into vocals and accompaniment.
type Separator interface {
	Separate(ctx context.Context, source, workDir string) (separation.Result, error)
}

// Planner is the language-model side: content analysis and ad copy.
type Planner interface {
	AnalyzeContent(ctx context.Context, segments []transcribe.Segment, opts planning.AnalyzeOptions) (planning.Analysis, error)
	GenerateAdCopy(ctx context.Context, params planning.CopyParams, logger *slog.Logger) (string, error)
}

// SceneAnalyzer identifies the main speaker and picks the insertion frame.
type SceneAnalyzer interface {
	AnalyzeScene(ctx context.Context, videoPath string, duration float64, keyframesDir string) (speaker.Scene, error)
	SelectInsertion(ctx context.Context, videoPath string, points []planning.InsertionPoint, fps float64, profile *speaker.Profile, keyframesDir string) (speaker.Selection, error)
}

// Synthesizer runs the remote generative chain.
type Synthesizer interface {
	GenerateAdClip(ctx context.Context, params synthesis.Params) (synthesis.Result, error)
}

// Splicer assembles the final video.
type Splicer interface {
	InsertAdClip(ctx context.Context, params compose.Params) (string, error)
}

// Pinger checks the remote job service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunRecorder persists finished runs.
type RunRecorder interface {
	Record(ctx context.Context, run runlog.Run) (int64, error)
}

// Components bundles the phase implementations. Tests swap in fakes; New
// builds the real set from configuration.
type Components struct {
	Toolkit     *media.Toolkit
	Prober      func(ctx context.Context, path string) (ffprobe.Result, error)
	Detector    facedet.Detector
	Transcriber Transcriber
	Separator   Separator
	Planner     Planner
	Scene       SceneAnalyzer
	Synthesizer Synthesizer
	Splicer     Splicer
	Pinger      Pinger
	Catalog     *ads.Catalog
	Recorder    RunRecorder
}

// Pipeline processes host videos end to end.
type Pipeline struct {
	cfg    *config.Config
	logger *slog.Logger
	comps  Components
}

// New builds a pipeline with the real components the configuration names.
func New(cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	catalog, err := ads.LoadCatalog(cfg.Ads.CatalogPath)
	if err != nil {
		return nil, Wrap(ErrConfiguration, "setup", "load ad catalog", "", err)
	}

	toolkit := media.NewToolkit(cfg.FFmpegBinary(), cfg.FFprobeBinary())
	detector := facedet.NewExecDetector(facedet.Config{
		Command:       cfg.FaceDetect.Command,
		MinConfidence: cfg.FaceDetect.MinConfidence,
		MinFaceSize:   cfg.FaceDetect.MinFaceSize,
	})
	analyzer := speaker.NewAnalyzer(detector, toolkit, speaker.Thresholds{
		MinAppearanceRatio:  cfg.Speaker.MinAppearanceRatio,
		MinFaceSizeRatio:    cfg.Speaker.MinFaceSizeRatio,
		MaxPositionVariance: cfg.Speaker.MaxPositionVariance,
		CenterMinX:          cfg.Speaker.CenterRegionMinX,
		CenterMaxX:          cfg.Speaker.CenterRegionMaxX,
		CenterMinY:          cfg.Speaker.CenterRegionMinY,
		CenterMaxY:          cfg.Speaker.CenterRegionMaxY,
	}, cfg.Speaker.SampleInterval, logger)

	imageEdit, err := cfg.WorkflowPath("image_edit")
	if err != nil {
		return nil, Wrap(ErrConfiguration, "setup", "resolve workflow", "", err)
	}
	voiceClone, err := cfg.WorkflowPath("voice_clone")
	if err != nil {
		return nil, Wrap(ErrConfiguration, "setup", "resolve workflow", "", err)
	}
	digitalHuman, err := cfg.WorkflowPath("digital_human")
	if err != nil {
		return nil, Wrap(ErrConfiguration, "setup", "resolve workflow", "", err)
	}

	comfyClient := comfy.NewClient(cfg.ComfyBaseURL(), comfy.WithLogger(logger))
	synthesizer := synthesis.NewService(comfyClient, toolkit, synthesis.Config{
		ImageEditTemplate:    imageEdit,
		VoiceCloneTemplate:   voiceClone,
		DigitalHumanTemplate: digitalHuman,
		PollInterval:         time.Duration(cfg.ComfyUI.PollIntervalSeconds) * time.Second,
	}, logger)

	comps := Components{
		Toolkit:     toolkit,
		Prober:      toolkit.Probe,
		Detector:    detector,
		Transcriber: transcribe.NewService(transcribe.Config{Model: cfg.Transcribe.Model, Device: cfg.Transcribe.Device}, cfg.UVXBinary()),
		Separator:   separation.NewService(separation.Config{Model: cfg.Separation.Model, Device: cfg.Separation.Device}, cfg.UVXBinary()),
		Planner: planning.NewClient(planning.ClientConfig{
			APIKey:         cfg.LLM.APIKey,
			BaseURL:        cfg.LLM.BaseURL,
			Model:          cfg.LLM.Model,
			TimeoutSeconds: cfg.LLM.TimeoutSeconds,
		}),
		Scene:       analyzer,
		Synthesizer: synthesizer,
		Splicer:     compose.NewComposer(toolkit, logger),
		Pinger:      comfyClient,
		Catalog:     catalog,
	}
	return NewWithComponents(cfg, logger, comps)
}

// NewWithComponents builds a pipeline from pre-built components. The
// Recorder is optional; everything else must be present.
func NewWithComponents(cfg *config.Config, logger *slog.Logger, comps Components) (*Pipeline, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if comps.Toolkit == nil || comps.Prober == nil || comps.Detector == nil ||
		comps.Transcriber == nil || comps.Separator == nil || comps.Planner == nil ||
		comps.Scene == nil || comps.Synthesizer == nil || comps.Splicer == nil ||
		comps.Pinger == nil || comps.Catalog == nil {
		return nil, Wrap(ErrConfiguration, "setup", "components", "missing pipeline component", nil)
	}
	return &Pipeline{cfg: cfg, logger: logger, comps: comps}, nil
}

// SetRecorder attaches a run-history store.
func (p *Pipeline) SetRecorder(recorder RunRecorder) {
	p.comps.Recorder = recorder
}

// Result summarizes one run.
type Result struct {
	VideoPath        string
	Success          bool
	OutputPath       string
	InsertionTime    float64
	AdID             string
	AdCopy           string
	Theme            string
	CleanupDegraded  bool
	UsedProfileFrame bool
	ErrorKind        string
	ErrorMessage     string
	WorkspaceRoot    string
	StartedAt        time.Time
	FinishedAt       time.Time
}

// ProcessOne runs the full pipeline for a single host video. The returned
// Result is always populated and recorded; the error is non-nil on failure.
func (p *Pipeline) ProcessOne(ctx context.Context, videoPath string) (Result, error) {
	started := time.Now()
	result, err := p.process(ctx, videoPath)
	result.VideoPath = videoPath
	result.StartedAt = started
	result.FinishedAt = time.Now()

	if err != nil {
		result.Success = false
		result.ErrorKind = KindLabel(err)
		result.ErrorMessage = err.Error()
		p.logger.Error("pipeline failed",
			logging.String("video", videoPath),
			logging.String("kind", result.ErrorKind),
			logging.Error(err))
	} else {
		result.Success = true
		p.logger.Info("pipeline succeeded",
			logging.String("video", videoPath),
			logging.String("output", result.OutputPath),
			logging.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)))
	}

	p.record(ctx, result)
	return result, err
}

// ProcessBatch runs every video file directly under dir, serially, and
// returns all results. Individual failures do not stop the batch.
func (p *Pipeline) ProcessBatch(ctx context.Context, dir string) ([]Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, Wrap(ErrInputMissing, "ingest", "scan batch dir", "", err)
	}

	var videos []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if videoExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			videos = append(videos, filepath.Join(dir, entry.Name()))
		}
	}
	if len(videos) == 0 {
		return nil, Wrap(ErrInputMissing, "ingest", "scan batch dir", "no video files found", nil)
	}
	sort.Strings(videos)

	results := make([]Result, 0, len(videos))
	for _, video := range videos {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		result, _ := p.ProcessOne(ctx, video)
		results = append(results, result)
	}
	return results, nil
}

func (p *Pipeline) process(ctx context.Context, videoPath string) (Result, error) {
	var res Result
	cfg := p.cfg

	info, err := os.Stat(videoPath)
	if err != nil || info.IsDir() {
		return res, Wrap(ErrInputMissing, "ingest", "stat input", videoPath, err)
	}

	probe, err := p.comps.Prober(ctx, videoPath)
	if err != nil {
		return res, Wrap(ErrExternalTool, "ingest", "probe", "", err)
	}
	duration := probe.DurationSeconds()
	width, height := probe.Dimensions()
	fps := probe.FrameRate()
	if probe.AudioStreamCount() == 0 {
		return res, Wrap(ErrNoAudioTrack, "ingest", "validate", "no audio track", nil)
	}
	if duration < cfg.Video.MinDuration || duration > cfg.Video.MaxDuration {
		return res, Wrap(ErrDurationOutOfRange, "ingest", "validate",
			fmt.Sprintf("duration %.1fs outside [%.0fs, %.0fs]", duration, cfg.Video.MinDuration, cfg.Video.MaxDuration), nil)
	}
	p.logger.Info("ingested host video",
		logging.String("video", filepath.Base(videoPath)),
		logging.Float64("duration", duration),
		logging.Int("width", width),
		logging.Int("height", height),
		logging.Float64("fps", fps))

	ws, err := workspace.Open(cfg.Paths.CacheDir, videoPath, p.logger)
	if err != nil {
		return res, Wrap(ErrConfiguration, "ingest", "open workspace", "", err)
	}
	res.WorkspaceRoot = ws.Root()
	succeeded := false
	defer func() {
		// A cancelled run always leaves its workspace behind so the
		// interrupted state stays inspectable.
		keepOnError := cfg.Cleanup.KeepTempFilesOnError || ctx.Err() != nil
		if closeErr := ws.Close(succeeded, keepOnError); closeErr != nil {
			p.logger.Warn("close workspace", logging.Error(closeErr))
		}
	}()

	// Phase 1: audio extraction and separation.
	originalWav := ws.Path(workspace.DirAudio, "original.wav")
	if err := p.comps.Toolkit.ExtractAudio(ctx, videoPath, originalWav); err != nil {
		return res, Wrap(ErrExternalTool, "ingest", "extract audio", "", err)
	}
	sep, err := p.comps.Separator.Separate(ctx, originalWav, ws.Dir(workspace.DirAudio))
	if err != nil {
		return res, Wrap(ErrExternalTool, "understand", "separate vocals", "", err)
	}

	// Phase 2: transcription and content analysis.
	transcript, err := p.comps.Transcriber.TranscribeFile(ctx, sep.VocalsPath, ws.Dir(workspace.DirTranscriptions), "")
	if err != nil {
		return res, Wrap(ErrTranscribeFailed, "understand", "transcribe", "", err)
	}
	p.persistTranscript(ws, transcript)

	analysis, err := p.comps.Planner.AnalyzeContent(ctx, transcript.Segments, planning.AnalyzeOptions{
		Duration:       duration,
		AvoidStart:     cfg.Video.AvoidStart,
		AvoidEnd:       cfg.Video.AvoidEnd,
		CandidateCount: cfg.Video.CandidateCount,
	})
	if err != nil {
		if errors.Is(err, planning.ErrMalformedPlan) {
			return res, Wrap(ErrPlanMalformed, "understand", "analyze content", "", err)
		}
		return res, Wrap(ErrRemoteJob, "understand", "analyze content", "", err)
	}
	if len(analysis.InsertionPoints) == 0 {
		return res, Wrap(ErrNoViableCandidates, "understand", "filter candidates", "no viable insertion candidates", nil)
	}
	res.Theme = analysis.Theme

	// Phase 3: scene analysis, ad selection, insertion choice.
	scene, err := p.comps.Scene.AnalyzeScene(ctx, videoPath, duration, ws.Dir(workspace.DirKeyframes))
	if err != nil {
		return res, Wrap(ErrExternalTool, "localize", "analyze scene", "", err)
	}
	var profile *speaker.Profile
	if scene.IsSingleSpeaker {
		profile = scene.Profile
		p.persistBestFrame(ws, profile)
	} else {
		p.logger.Info("no stable main speaker, selection falls back to any face",
			logging.Int("unique_speakers", scene.UniqueSpeakers))
	}

	ad, ok := p.comps.Catalog.SelectForTheme(analysis.Theme)
	if !ok {
		return res, Wrap(ErrNoAdAvailable, "localize", "choose ad", "catalog has no enabled ads", nil)
	}
	res.AdID = ad.ID

	selection, err := p.comps.Scene.SelectInsertion(ctx, videoPath, analysis.InsertionPoints, fps, profile, ws.Dir(workspace.DirKeyframes))
	if err != nil {
		if errors.Is(err, speaker.ErrNoSpeakerFrame) {
			return res, Wrap(ErrNoUsableInsertion, "localize", "match speaker", "", err)
		}
		return res, Wrap(ErrExternalTool, "localize", "select insertion", "", err)
	}
	res.InsertionTime = selection.Time
	res.UsedProfileFrame = selection.UsedProfileFrame
	contextBefore, contextAfter := transcript.Context(selection.Time)
	p.logger.Info("insertion point chosen",
		logging.Float64("time", selection.Time),
		logging.String("context_before", contextBefore),
		logging.String("context_after", contextAfter))
	p.confirmKeyframe(ctx, selection.KeyframePath)

	copyText, err := p.comps.Planner.GenerateAdCopy(ctx, planning.CopyParams{
		Analysis:  analysis,
		Point:     selection.Point,
		Ad:        ad,
		Settings:  p.comps.Catalog.Settings,
		Language:  transcript.Language,
		MinLength: cfg.AdCopy.MinLength,
		MaxLength: cfg.AdCopy.MaxLength,
	}, p.logger)
	if err != nil {
		return res, Wrap(ErrRemoteJob, "localize", "generate ad copy", "", err)
	}
	res.AdCopy = copyText

	// Stage the reference audio: demux the window from the original mix,
	// then isolate its vocals with a second separation pass.
	start, end := speaker.ReferenceWindow(selection.Time, duration)
	p.logger.Debug("reference window speech",
		logging.String("text", transcribe.ContextAround(transcript.Segments, start, end)))
	referenceClip := ws.Path(workspace.DirAudio, "reference_clip.wav")
	if err := p.comps.Toolkit.ExtractAudioSegment(ctx, originalWav, start, end-start, referenceClip); err != nil {
		return res, Wrap(ErrExternalTool, "localize", "slice reference audio", "", err)
	}
	refDir := ws.Path(workspace.DirAudio, "reference_sep")
	refSep, err := p.comps.Separator.Separate(ctx, referenceClip, refDir)
	if err != nil {
		return res, Wrap(ErrExternalTool, "localize", "separate reference vocals", "", err)
	}
	referenceVocals := ws.Path(workspace.DirAudio, "reference_vocals_clip.wav")
	if err := os.Rename(refSep.VocalsPath, referenceVocals); err != nil {
		return res, Wrap(ErrExternalTool, "localize", "retain reference vocals", "", err)
	}
	if err := os.RemoveAll(refDir); err != nil {
		p.logger.Warn("remove reference separation dir", logging.Error(err))
	}

	// Phase 4: remote synthesis.
	if err := p.comps.Pinger.Ping(ctx); err != nil {
		return res, Wrap(ErrRemoteJob, "synthesize", "health check", "", err)
	}
	clip, err := p.comps.Synthesizer.GenerateAdClip(ctx, synthesis.Params{
		KeyframePath:   selection.KeyframePath,
		ReferenceAudio: referenceVocals,
		AdCopy:         copyText,
		FPS:            int(math.Round(fps)),
		Width:          width,
		Height:         height,
		OutputDir:      ws.Dir(workspace.DirAdMaterials),
	})
	if err != nil {
		if errors.Is(err, comfy.ErrJobTimeout) {
			return res, Wrap(ErrTimeout, "synthesize", "generate ad clip", "", err)
		}
		return res, Wrap(ErrRemoteJob, "synthesize", "generate ad clip", "", err)
	}
	res.CleanupDegraded = clip.CleanupDegraded

	// Phase 5: final composition.
	outputPath, err := p.comps.Splicer.InsertAdClip(ctx, compose.Params{
		HostPath:      videoPath,
		AdClipPath:    clip.VideoPath,
		InsertionTime: selection.Time,
		Duration:      duration,
		Width:         width,
		Height:        height,
		FPS:           fps,
		WorkDir:       ws.Dir(workspace.DirVideos),
		OutputDir:     cfg.Paths.OutputDir,
	})
	if err != nil {
		return res, Wrap(ErrComposeFailed, "compose", "insert ad clip", "", err)
	}
	res.OutputPath = outputPath

	succeeded = true
	return res, nil
}

// persistTranscript writes the plain-text transcript and a stable-named SRT
// copy into the workspace. Both are best effort.
func (p *Pipeline) persistTranscript(ws *workspace.Workspace, transcript transcribe.Result) {
	textPath := ws.Path(workspace.DirTranscriptions, "transcription.txt")
	if err := fileutil.WriteFileAtomic(textPath, []byte(transcript.Text), 0o644); err != nil {
		p.logger.Warn("persist transcript text", logging.Error(err))
	}
	if transcript.SRTPath != "" {
		if _, err := os.Stat(transcript.SRTPath); err == nil {
			srtPath := ws.Path(workspace.DirTranscriptions, "subtitles.srt")
			if err := fileutil.CopyFile(transcript.SRTPath, srtPath); err != nil {
				p.logger.Warn("persist subtitles", logging.Error(err))
			}
		}
	}
}

// persistBestFrame keeps the presenter's representative frame under a stable
// name for inspection and reuse.
func (p *Pipeline) persistBestFrame(ws *workspace.Workspace, profile *speaker.Profile) {
	if profile == nil || profile.BestFramePath == "" {
		return
	}
	dest := ws.Path(workspace.DirKeyframes, "best_face_frame.jpg")
	if err := fileutil.CopyFile(profile.BestFramePath, dest); err != nil {
		p.logger.Warn("persist best face frame", logging.Error(err))
	}
}

// confirmKeyframe re-detects faces on the chosen frame and logs the best
// confidence. Advisory only; the selection stands either way.
func (p *Pipeline) confirmKeyframe(ctx context.Context, keyframePath string) {
	faces, err := p.comps.Detector.DetectFaces(ctx, keyframePath)
	if err != nil || len(faces) == 0 {
		p.logger.Debug("keyframe confirmation found no face",
			logging.String("keyframe", keyframePath))
		return
	}
	best := faces[0].Confidence
	for _, face := range faces[1:] {
		if face.Confidence > best {
			best = face.Confidence
		}
	}
	p.logger.Info("keyframe face quality",
		logging.String("keyframe", filepath.Base(keyframePath)),
		logging.Float64("confidence", best))
}

func (p *Pipeline) record(ctx context.Context, result Result) {
	if p.comps.Recorder == nil {
		return
	}
	status := runlog.StatusSucceeded
	if !result.Success {
		status = runlog.StatusFailed
	}
	run := runlog.Run{
		VideoPath:     result.VideoPath,
		Status:        status,
		ErrorKind:     result.ErrorKind,
		ErrorMessage:  result.ErrorMessage,
		OutputPath:    result.OutputPath,
		InsertionTime: result.InsertionTime,
		AdID:          result.AdID,
		Theme:         result.Theme,
		StartedAt:     result.StartedAt,
		FinishedAt:    result.FinishedAt,
	}
	if _, err := p.comps.Recorder.Record(ctx, run); err != nil {
		p.logger.Warn("record run", logging.Error(err))
	}
}
