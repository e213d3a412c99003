package separation

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSeparateResolvesStemPaths(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "mix.wav")
	if err := os.WriteFile(source, []byte("wav"), 0o644); err != nil {
		t.Fatal(err)
	}
	workDir := filepath.Join(dir, "sep")

	svc := NewService(Config{Model: "htdemucs"}, "")
	var joined string
	svc.WithCommandRunner(func(_ context.Context, name string, args ...string) error {
		joined = name + " " + strings.Join(args, " ")
		stemDir := filepath.Join(workDir, "htdemucs", "mix")
		if err := os.MkdirAll(stemDir, 0o755); err != nil {
			return err
		}
		for _, f := range []string{"vocals.wav", "no_vocals.wav"} {
			if err := os.WriteFile(filepath.Join(stemDir, f), []byte("stem"), 0o644); err != nil {
				return err
			}
		}
		return nil
	})

	result, err := svc.Separate(context.Background(), source, workDir)
	if err != nil {
		t.Fatalf("Separate: %v", err)
	}
	if result.VocalsPath != filepath.Join(workDir, "vocals.wav") {
		t.Fatalf("vocals path = %s", result.VocalsPath)
	}
	if _, err := os.Stat(result.VocalsPath); err != nil {
		t.Fatalf("vocals not retained: %v", err)
	}
	// The intermediate stems are gone.
	if _, err := os.Stat(filepath.Join(workDir, "htdemucs")); !os.IsNotExist(err) {
		t.Fatalf("stem dir still present: %v", err)
	}
	for _, fragment := range []string{"uvx", "demucs", "--two-stems vocals", "-n htdemucs"} {
		if !strings.Contains(joined, fragment) {
			t.Errorf("command missing %q: %s", fragment, joined)
		}
	}
	if strings.Contains(joined, "--device") {
		t.Fatalf("device flag passed without configuration: %s", joined)
	}
}

func TestSeparateForwardsDevice(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "mix.wav")
	if err := os.WriteFile(source, []byte("wav"), 0o644); err != nil {
		t.Fatal(err)
	}
	workDir := filepath.Join(dir, "sep")

	svc := NewService(Config{Model: "htdemucs", Device: "cuda"}, "")
	var joined string
	svc.WithCommandRunner(func(_ context.Context, name string, args ...string) error {
		joined = name + " " + strings.Join(args, " ")
		stemDir := filepath.Join(workDir, "htdemucs", "mix")
		if err := os.MkdirAll(stemDir, 0o755); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(stemDir, "vocals.wav"), []byte("stem"), 0o644)
	})

	if _, err := svc.Separate(context.Background(), source, workDir); err != nil {
		t.Fatalf("Separate: %v", err)
	}
	if !strings.Contains(joined, "--device cuda") {
		t.Fatalf("device flag missing: %s", joined)
	}
}

func TestSeparateFailsWhenStemMissing(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "mix.wav")
	if err := os.WriteFile(source, []byte("wav"), 0o644); err != nil {
		t.Fatal(err)
	}

	svc := NewService(Config{}, "")
	svc.WithCommandRunner(func(_ context.Context, _ string, _ ...string) error {
		// Engine "succeeds" without writing anything.
		return nil
	})
	if _, err := svc.Separate(context.Background(), source, filepath.Join(dir, "sep")); err == nil {
		t.Fatal("expected error when vocals stem is missing")
	}
}

func TestSeparateRequiresArgs(t *testing.T) {
	svc := NewService(Config{}, "")
	if _, err := svc.Separate(context.Background(), "", "work"); err == nil {
		t.Fatal("expected error for empty source")
	}
	if _, err := svc.Separate(context.Background(), "src.wav", ""); err == nil {
		t.Fatal("expected error for empty workDir")
	}
}
