package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"adweave/internal/comfy"
	"adweave/internal/logging"
	"adweave/internal/media"
)

const imageTemplate = `{
  "76": {"class_type": "TextEncodeQwenImageEdit", "inputs": {"prompt": "placeholder"}},
  "77": {"class_type": "TextEncodeQwenImageEdit", "inputs": {"prompt": ""}},
  "78": {"class_type": "LoadImage", "inputs": {"image": ""}}
}`

const voiceTemplate = `{
  "101": {"class_type": "LoadAudio", "inputs": {"audio": ""}},
  "102": {"class_type": "MultiLinePromptIndex", "inputs": {"multi_line_prompt": ""}}
}`

const videoTemplate = `{
  "1": {"class_type": "LoadImage", "inputs": {"image": ""}},
  "2": {"class_type": "LoadAudio", "inputs": {"audio": ""}},
  "3": {"class_type": "MultiTalkWav2VecEmbeds", "inputs": {"fps": 25}},
  "4": {"class_type": "VHS_VideoCombine", "inputs": {"frame_rate": 25}},
  "5": {"class_type": "LayerUtility: ImageScaleByAspectRatio V2", "inputs": {"scale_to_length": 1024}},
  "6": {"class_type": "WanVideoImageToVideoMultiTalk", "inputs": {"colormatch": "disabled"}},
  "7": {"class_type": "WanVideoDecode", "inputs": {"normalization": "default"}}
}`

// fakeJob scripts the remote service per stage. Stages are recognized by the
// class types in the submitted graph.
type fakeJob struct {
	uploads    []string
	submits    []map[string]any
	downloads  []string
	failStages map[string]int
}

func stageOf(graph map[string]any) string {
	for _, raw := range graph {
		node, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		switch node["class_type"] {
		case "MultiTalkWav2VecEmbeds":
			return "video"
		case "MultiLinePromptIndex":
			return "voice"
		case "TextEncodeQwenImageEdit":
			return "image"
		}
	}
	return "unknown"
}

func (f *fakeJob) UploadFile(_ context.Context, path string) (comfy.UploadResult, error) {
	f.uploads = append(f.uploads, path)
	return comfy.UploadResult{Name: filepath.Base(path), Type: "input"}, nil
}

func (f *fakeJob) SubmitPrompt(_ context.Context, graph map[string]any) (string, error) {
	f.submits = append(f.submits, graph)
	return stageOf(graph), nil
}

func (f *fakeJob) AwaitCompletion(_ context.Context, promptID string, _, _ time.Duration) (comfy.Outputs, error) {
	if f.failStages[promptID] > 0 {
		f.failStages[promptID]--
		return nil, comfy.ErrJobFailed
	}
	switch promptID {
	case "image":
		return comfy.Outputs{"9": {"images": json.RawMessage(`[{"filename":"clean.png"}]`)}}, nil
	case "voice":
		return comfy.Outputs{"173": {"audio": json.RawMessage(`[{"filename":"voice.wav"}]`)}}, nil
	case "video":
		return comfy.Outputs{"385": {"gifs": json.RawMessage(`[{"filename":"out.mp4"}]`)}}, nil
	}
	return nil, errors.New("unknown stage")
}

func (f *fakeJob) DownloadOutput(_ context.Context, _ comfy.OutputFile, destPath string) error {
	f.downloads = append(f.downloads, destPath)
	return os.WriteFile(destPath, []byte("artifact"), 0o644)
}

func (f *fakeJob) Ping(context.Context) error { return nil }

func writeTemplates(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		ImageEditTemplate:    filepath.Join(dir, "image_edit.json"),
		VoiceCloneTemplate:   filepath.Join(dir, "voice_clone.json"),
		DigitalHumanTemplate: filepath.Join(dir, "digital_human.json"),
		PollInterval:         time.Millisecond,
	}
	for path, body := range map[string]string{
		cfg.ImageEditTemplate:    imageTemplate,
		cfg.VoiceCloneTemplate:   voiceTemplate,
		cfg.DigitalHumanTemplate: videoTemplate,
	} {
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return cfg
}

func newTestService(t *testing.T, job *fakeJob) *Service {
	t.Helper()
	toolkit := media.NewToolkit("", "")
	toolkit.WithCommandRunner(func(context.Context, string, ...string) error { return nil })
	svc := NewService(job, toolkit, writeTemplates(t), logging.NewNop())
	svc.WithSleeper(func(time.Duration) {})
	return svc
}

func testParams(dir string) Params {
	return Params{
		KeyframePath:   "/frames/insertion_keyframe.png",
		ReferenceAudio: "/audio/reference_vocals_clip.wav",
		AdCopy:         "try our new blender today",
		Width:          1920,
		Height:         1080,
		OutputDir:      dir,
	}
}

func graphInput(t *testing.T, graph map[string]any, nodeID, key string) any {
	t.Helper()
	node := graph[nodeID].(map[string]any)
	return node["inputs"].(map[string]any)[key]
}

func TestGenerateAdClipHappyPath(t *testing.T) {
	job := &fakeJob{}
	svc := newTestService(t, job)
	dir := t.TempDir()

	result, err := svc.GenerateAdClip(context.Background(), testParams(dir))
	if err != nil {
		t.Fatalf("GenerateAdClip: %v", err)
	}
	if result.CleanupDegraded {
		t.Fatal("cleanup should not degrade")
	}
	if result.CleanedImagePath != filepath.Join(dir, "cleaned_keyframe.png") {
		t.Fatalf("cleaned image = %s", result.CleanedImagePath)
	}
	if result.VoicePath != filepath.Join(dir, "ad_voice.wav") {
		t.Fatalf("voice = %s", result.VoicePath)
	}
	if result.VideoPath != filepath.Join(dir, "ad_video.mp4") {
		t.Fatalf("video = %s", result.VideoPath)
	}

	// Keyframe is re-encoded to PNG before the first upload.
	if len(job.uploads) != 4 {
		t.Fatalf("uploads = %v", job.uploads)
	}
	if !strings.HasSuffix(job.uploads[0], "insertion_keyframe_upload.png") {
		t.Fatalf("first upload = %s", job.uploads[0])
	}

	if len(job.submits) != 3 {
		t.Fatalf("submits = %d", len(job.submits))
	}
	// Image stage carries the cleanup prompts.
	if got := graphInput(t, job.submits[0], "77", "prompt"); got == "" {
		t.Fatal("negative prompt not injected")
	}
	// Voice stage speaks the ad copy.
	if got := graphInput(t, job.submits[1], "102", "multi_line_prompt"); got != "try our new blender today" {
		t.Fatalf("ad copy = %v", got)
	}
	// Video stage points at the cleaned frame and the cloned voice.
	if got := graphInput(t, job.submits[2], "1", "image"); got != "cleaned_keyframe.png" {
		t.Fatalf("video image input = %v", got)
	}
	if got := graphInput(t, job.submits[2], "2", "audio"); got != "ad_voice.wav" {
		t.Fatalf("video audio input = %v", got)
	}
	// 1080p host trips the min-edge cap.
	if got := graphInput(t, job.submits[2], "5", "scale_to_length"); got != 853 {
		t.Fatalf("scale_to_length = %v", got)
	}
	if got := graphInput(t, job.submits[2], "6", "colormatch"); got != "hm-mvgd-hm" {
		t.Fatalf("colormatch = %v", got)
	}
}

func TestGenerateAdClipDegradesOnCleanupFailure(t *testing.T) {
	job := &fakeJob{failStages: map[string]int{"image": 2}}
	svc := newTestService(t, job)
	dir := t.TempDir()
	params := testParams(dir)

	result, err := svc.GenerateAdClip(context.Background(), params)
	if err != nil {
		t.Fatalf("GenerateAdClip: %v", err)
	}
	if !result.CleanupDegraded {
		t.Fatal("expected cleanup degradation")
	}
	if result.CleanedImagePath != params.KeyframePath {
		t.Fatalf("degraded path = %s", result.CleanedImagePath)
	}
	// The video stage animates the original keyframe instead.
	last := job.submits[len(job.submits)-1]
	if got := graphInput(t, last, "1", "image"); got != "insertion_keyframe.png" {
		t.Fatalf("video image input = %v", got)
	}
}

func TestGenerateAdClipVoiceFailureIsFatal(t *testing.T) {
	job := &fakeJob{failStages: map[string]int{"voice": 2}}
	svc := newTestService(t, job)

	_, err := svc.GenerateAdClip(context.Background(), testParams(t.TempDir()))
	if !errors.Is(err, comfy.ErrJobFailed) {
		t.Fatalf("expected fatal voice failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "voice clone") {
		t.Fatalf("error should name the stage: %v", err)
	}
	for _, graph := range job.submits {
		if stageOf(graph) == "video" {
			t.Fatal("video stage must not run after a fatal voice failure")
		}
	}
}

func TestGenerateAdClipRetriesOnceWithBackoff(t *testing.T) {
	job := &fakeJob{failStages: map[string]int{"voice": 1}}
	toolkit := media.NewToolkit("", "")
	toolkit.WithCommandRunner(func(context.Context, string, ...string) error { return nil })
	svc := NewService(job, toolkit, writeTemplates(t), logging.NewNop())
	var slept []time.Duration
	svc.WithSleeper(func(d time.Duration) { slept = append(slept, d) })

	result, err := svc.GenerateAdClip(context.Background(), testParams(t.TempDir()))
	if err != nil {
		t.Fatalf("second attempt should succeed: %v", err)
	}
	if result.VideoPath == "" {
		t.Fatal("missing video path")
	}
	if len(slept) != 1 || slept[0] != 2*time.Second {
		t.Fatalf("backoff = %v", slept)
	}
}

func TestGenerateAdClipVideoFailureBackoff(t *testing.T) {
	job := &fakeJob{failStages: map[string]int{"video": 2}}
	toolkit := media.NewToolkit("", "")
	toolkit.WithCommandRunner(func(context.Context, string, ...string) error { return nil })
	svc := NewService(job, toolkit, writeTemplates(t), logging.NewNop())
	var slept []time.Duration
	svc.WithSleeper(func(d time.Duration) { slept = append(slept, d) })

	_, err := svc.GenerateAdClip(context.Background(), testParams(t.TempDir()))
	if err == nil {
		t.Fatal("expected fatal video failure")
	}
	if len(slept) != 2 || slept[0] != 3*time.Second || slept[1] != 6*time.Second {
		t.Fatalf("backoff = %v", slept)
	}
}
