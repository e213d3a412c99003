package facedet

import (
	"context"
	"math"
	"testing"
)

const detectorJSON = `{
  "image_width": 1920,
  "image_height": 1080,
  "faces": [
    {"x1": 100, "y1": 100, "x2": 110, "y2": 110, "confidence": 0.99},
    {"x1": 800, "y1": 300, "x2": 1120, "y2": 700, "confidence": 0.97},
    {"x1": 200, "y1": 200, "x2": 400, "y2": 400, "confidence": 0.5},
    {"x1": 50, "y1": 50, "x2": 250, "y2": 250, "confidence": 0.92}
  ]
}`

func stubDetector(output string) *ExecDetector {
	det := NewExecDetector(Config{MinConfidence: 0.9, MinFaceSize: 20})
	det.WithCommandRunner(func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		return []byte(output), nil
	})
	return det
}

func TestDetectFacesFiltersAndNormalizes(t *testing.T) {
	faces, err := stubDetector(detectorJSON).DetectFaces(context.Background(), "frame.jpg")
	if err != nil {
		t.Fatalf("DetectFaces: %v", err)
	}
	// 10px face dropped for size, 0.5 confidence dropped for score.
	if len(faces) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(faces))
	}
	// Sorted best confidence first.
	if faces[0].Confidence != 0.97 || faces[1].Confidence != 0.92 {
		t.Fatalf("unexpected order: %+v", faces)
	}

	main := faces[0]
	if math.Abs(main.CenterX-0.5) > 1e-9 {
		t.Fatalf("center x = %v", main.CenterX)
	}
	if math.Abs(main.CenterY-(500.0/1080.0)) > 1e-9 {
		t.Fatalf("center y = %v", main.CenterY)
	}
	wantArea := (320.0 / 1920.0) * (400.0 / 1080.0)
	if math.Abs(main.Area()-wantArea) > 1e-9 {
		t.Fatalf("area = %v, want %v", main.Area(), wantArea)
	}
}

func TestDetectFacesNoFaces(t *testing.T) {
	faces, err := stubDetector(`{"image_width": 640, "image_height": 480, "faces": []}`).
		DetectFaces(context.Background(), "frame.jpg")
	if err != nil {
		t.Fatalf("DetectFaces: %v", err)
	}
	if len(faces) != 0 {
		t.Fatalf("expected no faces, got %d", len(faces))
	}
}

func TestDetectFacesRejectsBadDimensions(t *testing.T) {
	if _, err := stubDetector(`{"image_width": 0, "image_height": 0, "faces": []}`).
		DetectFaces(context.Background(), "frame.jpg"); err == nil {
		t.Fatal("expected error for zero image dimensions")
	}
}

func TestDetectFacesRejectsBadJSON(t *testing.T) {
	if _, err := stubDetector("not json").DetectFaces(context.Background(), "frame.jpg"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDetectFacesRequiresPath(t *testing.T) {
	if _, err := stubDetector("{}").DetectFaces(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
