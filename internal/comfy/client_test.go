package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL,
		WithRetryBackoff(0),
		WithSleeper(func(time.Duration) {}),
	)
}

func TestUploadFileRoutesAudioAndImage(t *testing.T) {
	dir := t.TempDir()
	audioPath := filepath.Join(dir, "reference.wav")
	imagePath := filepath.Join(dir, "keyframe.png")
	for _, path := range []string{audioPath, imagePath} {
		if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	var gotPath, gotField, gotOverwrite string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotOverwrite = r.FormValue("overwrite")
		for field := range r.MultipartForm.File {
			gotField = field
		}
		name := r.MultipartForm.File[gotField][0].Filename
		fmt.Fprintf(w, `{"name":%q,"subfolder":"","type":"input"}`, name)
	}))

	result, err := client.UploadFile(context.Background(), audioPath)
	if err != nil {
		t.Fatalf("upload audio: %v", err)
	}
	if gotPath != "/upload/audio" || gotField != "audio" {
		t.Fatalf("audio routed to %s field %s", gotPath, gotField)
	}
	if gotOverwrite != "true" {
		t.Fatalf("overwrite = %q", gotOverwrite)
	}
	if result.Name != "reference.wav" {
		t.Fatalf("result = %+v", result)
	}

	if _, err := client.UploadFile(context.Background(), imagePath); err != nil {
		t.Fatalf("upload image: %v", err)
	}
	if gotPath != "/upload/image" || gotField != "image" {
		t.Fatalf("image routed to %s field %s", gotPath, gotField)
	}
}

func TestSubmitPromptReturnsID(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/prompt" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		var payload struct {
			Prompt   map[string]any `json:"prompt"`
			ClientID string         `json:"client_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload.ClientID == "" {
			t.Fatal("missing client_id")
		}
		if _, ok := payload.Prompt["7"]; !ok {
			t.Fatalf("graph not forwarded: %v", payload.Prompt)
		}
		fmt.Fprint(w, `{"prompt_id":"job-1","node_errors":{}}`)
	}))

	graph := map[string]any{"7": map[string]any{"class_type": "LoadImage"}}
	id, err := client.SubmitPrompt(context.Background(), graph)
	if err != nil {
		t.Fatalf("SubmitPrompt: %v", err)
	}
	if id != "job-1" {
		t.Fatalf("prompt id = %s", id)
	}
}

func TestSubmitPromptRejectsNodeErrors(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"prompt_id":"job-1","node_errors":{"12":{"errors":["bad input"]}}}`)
	}))
	_, err := client.SubmitPrompt(context.Background(), map[string]any{})
	if err == nil || !strings.Contains(err.Error(), "graph rejected") {
		t.Fatalf("expected node error rejection, got %v", err)
	}
}

func TestAwaitCompletionPollsToSuccess(t *testing.T) {
	calls := 0
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/history/job-1" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		calls++
		switch calls {
		case 1:
			fmt.Fprint(w, `{}`) // still queued
		case 2:
			fmt.Fprint(w, `{"job-1":{"status":{"status_str":"running","completed":false}}}`)
		default:
			fmt.Fprint(w, `{"job-1":{"status":{"status_str":"success","completed":true},
				"outputs":{"60":{"gifs":[{"filename":"out.mp4","subfolder":"ads","type":"output"}]}}}}`)
		}
	}))

	outputs, err := client.AwaitCompletion(context.Background(), "job-1", time.Minute, time.Millisecond)
	if err != nil {
		t.Fatalf("AwaitCompletion: %v", err)
	}
	if calls != 3 {
		t.Fatalf("polled %d times", calls)
	}
	file, err := outputs.File("60", "gifs")
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if file.Filename != "out.mp4" || file.Subfolder != "ads" {
		t.Fatalf("file = %+v", file)
	}
}

func TestAwaitCompletionReportsJobError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"job-1":{"status":{"status_str":"error","completed":true,"messages":[["execution_error"]]}}}`)
	}))
	_, err := client.AwaitCompletion(context.Background(), "job-1", time.Minute, time.Millisecond)
	if !errors.Is(err, ErrJobFailed) {
		t.Fatalf("expected ErrJobFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "execution_error") {
		t.Fatalf("error should carry service messages: %v", err)
	}
}

func TestAwaitCompletionTimesOut(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	_, err := client.AwaitCompletion(context.Background(), "job-1", time.Millisecond, time.Millisecond)
	if !errors.Is(err, ErrJobTimeout) {
		t.Fatalf("expected ErrJobTimeout, got %v", err)
	}
}

func TestOutputsFileMissingType(t *testing.T) {
	outputs := Outputs{"60": {"images": json.RawMessage(`[{"filename":"a.png"}]`)}}
	if _, err := outputs.File("60", "gifs"); err == nil || !strings.Contains(err.Error(), "images") {
		t.Fatalf("error should list available types, got %v", err)
	}
	if _, err := outputs.File("61", "images"); err == nil {
		t.Fatal("expected error for unknown node")
	}
}

func TestOutputsFileByType(t *testing.T) {
	outputs := Outputs{
		"10": {"text": json.RawMessage(`["ignored"]`)},
		"60": {"audio": json.RawMessage(`[{"filename":"voice.wav","type":"output"}]`)},
	}
	file, err := outputs.FileByType("audio")
	if err != nil {
		t.Fatalf("FileByType: %v", err)
	}
	if file.Filename != "voice.wav" {
		t.Fatalf("file = %+v", file)
	}
	if _, err := outputs.FileByType("gifs"); err == nil {
		t.Fatal("expected error when no node carries the type")
	}
}

func TestDownloadOutputWritesFile(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/view" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		query := r.URL.Query()
		if query.Get("filename") != "out.mp4" || query.Get("subfolder") != "ads" || query.Get("type") != "output" {
			t.Fatalf("query = %v", query)
		}
		w.Write([]byte("video-bytes"))
	}))

	dest := filepath.Join(t.TempDir(), "nested", "ad_video.mp4")
	file := OutputFile{Filename: "out.mp4", Subfolder: "ads", Type: "output"}
	if err := client.DownloadOutput(context.Background(), file, dest); err != nil {
		t.Fatalf("DownloadOutput: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "video-bytes" {
		t.Fatalf("content = %q", data)
	}
}

func TestDoRequestRetriesServerErrors(t *testing.T) {
	calls := 0
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "overloaded", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"system":{}}`)
	}))

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoRequestDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		http.Error(w, "no such file", http.StatusNotFound)
	}))

	err := client.Ping(context.Background())
	if err == nil || !strings.Contains(err.Error(), "http 404") {
		t.Fatalf("expected terminal 404, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("4xx must not retry, attempts = %d", calls)
	}
}

func TestDoRequestGivesUpAfterBudget(t *testing.T) {
	calls := 0
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		http.Error(w, "down", http.StatusInternalServerError)
	}))

	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected failure after retry budget")
	}
	if calls != defaultMaxAttempts {
		t.Fatalf("attempts = %d", calls)
	}
}
