package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

// writeTestConfig lays out a minimal valid configuration with every path
// pointed into the test's temp space.
func writeTestConfig(t *testing.T, imageEdit, voiceClone, digitalHuman string) string {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "adweave.toml")
	body := fmt.Sprintf(`[paths]
output_dir = %q
cache_dir = %q
log_dir = %q

[workflows]
image_edit = %q
voice_clone = %q
digital_human = %q
`,
		filepath.Join(dir, "output"),
		filepath.Join(dir, "cache"),
		filepath.Join(dir, "logs"),
		imageEdit, voiceClone, digitalHuman,
	)
	writeFile(t, cfgPath, body)
	return cfgPath
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestConfigInitWritesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "conf", "adweave.toml")

	output, err := runCommand(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(output, "Wrote sample configuration") {
		t.Fatalf("output: %q", output)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample not written: %v", err)
	}

	// A second init without --overwrite must refuse.
	if _, err := runCommand(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected refusal without --overwrite")
	}
	if _, err := runCommand(t, "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
}

func TestWorkflowsCheckReportsOK(t *testing.T) {
	dir := t.TempDir()
	imageEdit := filepath.Join(dir, "image_edit.json")
	voiceClone := filepath.Join(dir, "voice_clone.json")
	digitalHuman := filepath.Join(dir, "digital_human.json")

	writeFile(t, imageEdit, `{
  "1": {"class_type": "LoadImage", "inputs": {"image": ""}},
  "2": {"class_type": "TextEncodeQwenImageEdit", "inputs": {"prompt": "placeholder"}}
}`)
	writeFile(t, voiceClone, `{
  "1": {"class_type": "LoadAudio", "inputs": {"audio": ""}},
  "2": {"class_type": "MultiLinePromptIndex", "inputs": {"multi_line_prompt": ""}}
}`)
	writeFile(t, digitalHuman, `{
  "1": {"class_type": "LoadImage", "inputs": {"image": ""}},
  "2": {"class_type": "LoadAudio", "inputs": {"audio": ""}},
  "3": {"class_type": "VHS_VideoCombine", "inputs": {"frame_rate": 25}}
}`)

	cfgPath := writeTestConfig(t, imageEdit, voiceClone, digitalHuman)
	output, err := runCommand(t, "workflows", "check", "--config", cfgPath)
	if err != nil {
		t.Fatalf("workflows check: %v\n%s", err, output)
	}
	if strings.Count(output, "ok") < 3 {
		t.Fatalf("output: %q", output)
	}
}

func TestWorkflowsCheckFlagsMissingClasses(t *testing.T) {
	dir := t.TempDir()
	imageEdit := filepath.Join(dir, "image_edit.json")
	voiceClone := filepath.Join(dir, "voice_clone.json")
	digitalHuman := filepath.Join(dir, "digital_human.json")

	// The image template lacks any text-encode node.
	writeFile(t, imageEdit, `{
  "1": {"class_type": "LoadImage", "inputs": {"image": ""}}
}`)
	writeFile(t, voiceClone, `{
  "1": {"class_type": "LoadAudio", "inputs": {"audio": ""}},
  "2": {"class_type": "MultiLinePromptIndex", "inputs": {"multi_line_prompt": ""}}
}`)
	writeFile(t, digitalHuman, `{
  "1": {"class_type": "LoadImage", "inputs": {"image": ""}},
  "2": {"class_type": "LoadAudio", "inputs": {"audio": ""}},
  "3": {"class_type": "VHS_VideoCombine", "inputs": {"frame_rate": 25}}
}`)

	cfgPath := writeTestConfig(t, imageEdit, voiceClone, digitalHuman)
	output, err := runCommand(t, "workflows", "check", "--config", cfgPath)
	if err == nil {
		t.Fatalf("expected failure, output: %q", output)
	}
	if !strings.Contains(output, "missing TextEncode*") {
		t.Fatalf("output: %q", output)
	}
}

func TestConfigShowMasksAPIKey(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "adweave.toml")
	writeFile(t, cfgPath, fmt.Sprintf(`[paths]
output_dir = %q

[llm]
api_key = "sk-very-secret"
`, filepath.Join(dir, "output")))

	output, err := runCommand(t, "config", "show", "--config", cfgPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(output, "sk-very-secret") {
		t.Fatal("api key leaked into output")
	}
	if !strings.Contains(output, "********") {
		t.Fatalf("output: %q", output)
	}
}

func TestHistoryCommandEmpty(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t,
		filepath.Join(dir, "a.json"), filepath.Join(dir, "b.json"), filepath.Join(dir, "c.json"))

	output, err := runCommand(t, "history", "--config", cfgPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(output, "No runs recorded yet.") {
		t.Fatalf("output: %q", output)
	}
}

func TestBatchErrorOnPartialFailure(t *testing.T) {
	if err := batchError(0, 3); err != nil {
		t.Fatalf("clean batch must not error: %v", err)
	}
	// One failed video is enough for a non-zero exit.
	err := batchError(1, 3)
	if err == nil {
		t.Fatal("partial failure must error")
	}
	if !strings.Contains(err.Error(), "1 of 3") {
		t.Fatalf("error = %v", err)
	}
	if batchError(3, 3) == nil {
		t.Fatal("full failure must error")
	}
}

func TestRenderTableAlignsAndPads(t *testing.T) {
	out := renderTable(
		[]string{"ID", "Name"},
		[][]string{{"1", "alpha"}, {"2"}},
		0,
	)
	if !strings.Contains(out, "ID") || !strings.Contains(out, "alpha") {
		t.Fatalf("table: %q", out)
	}
	if len(strings.Split(out, "\n")) < 4 {
		t.Fatalf("table too short: %q", out)
	}
}
