// Package planning drives the language-model side of the pipeline: content
// analysis with insertion-point candidates, and ad copy generation with a
// template fallback.
package planning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"adweave/internal/transcribe"
)

// ErrMalformedPlan marks an analysis payload that decoded but is missing
// required fields.
var ErrMalformedPlan = errors.New("malformed analysis payload")

// InsertionPoint is one candidate position for the ad clip, with the local
// context the copy generator needs.
type InsertionPoint struct {
	Time           float64 `json:"time"`
	Priority       int     `json:"priority"`
	Reason         string  `json:"reason"`
	ContextBefore  string  `json:"context_before"`
	ContextAfter   string  `json:"context_after"`
	TransitionHint string  `json:"transition_hint"`
}

// Analysis is the model's read of the video plus its ranked insertion
// candidates, already filtered against the edge-avoid bounds.
type Analysis struct {
	Theme           string           `json:"theme"`
	Category        string           `json:"category"`
	KeyPoints       []string         `json:"key_points"`
	Tone            string           `json:"tone"`
	TargetAudience  string           `json:"target_audience"`
	InsertionPoints []InsertionPoint `json:"insertion_points"`
}

// MaxPriority returns the largest priority value among the candidates, used
// to turn priorities into a normalized semantic score.
func (a Analysis) MaxPriority() int {
	maxPriority := 0
	for _, point := range a.InsertionPoints {
		if point.Priority > maxPriority {
			maxPriority = point.Priority
		}
	}
	return maxPriority
}

// AnalyzeOptions bounds the analysis request.
type AnalyzeOptions struct {
	Duration       float64
	AvoidStart     float64
	AvoidEnd       float64
	CandidateCount int
}

const analyzeSystemPrompt = `You are a professional video content analyst who finds natural ad insertion points in narrated short videos.

Your tasks:
1. Analyze the video's theme, category, key points, tone, and target audience.
2. Propose the requested number of insertion points. Each must:
   - avoid the opening and closing of the video
   - sit on a natural transition (topic change, end of a section)
   - not break the flow of the content
   - come with the surrounding context (2-3 sentences before, 1-2 after)

Respond with JSON only.`

// AnalyzeContent asks the model for a content analysis and ranked insertion
// candidates, then drops candidates falling inside the edge-avoid bounds.
func (c *Client) AnalyzeContent(ctx context.Context, segments []transcribe.Segment, opts AnalyzeOptions) (Analysis, error) {
	var analysis Analysis
	if len(segments) == 0 {
		return analysis, fmt.Errorf("analyze content: no transcript segments")
	}
	if opts.CandidateCount <= 0 {
		opts.CandidateCount = 3
	}

	userPrompt := buildAnalyzePrompt(segments, opts)
	content, err := c.Complete(ctx, Request{
		System:      analyzeSystemPrompt,
		User:        userPrompt,
		Temperature: 0.7,
		JSONOnly:    true,
	}, "analyze content")
	if err != nil {
		return analysis, err
	}

	if err := DecodeModelJSON(content, &analysis); err != nil {
		return analysis, fmt.Errorf("analyze content: parse payload: %w: %w", ErrMalformedPlan, err)
	}

	analysis.Theme = strings.TrimSpace(analysis.Theme)
	analysis.Category = strings.TrimSpace(analysis.Category)
	if err := validateAnalysis(analysis); err != nil {
		return analysis, fmt.Errorf("analyze content: %w", err)
	}
	analysis.InsertionPoints = FilterInsertionPoints(analysis.InsertionPoints, opts.Duration, opts.AvoidStart, opts.AvoidEnd)
	return analysis, nil
}

// validateAnalysis rejects payloads the model returned structurally valid but
// incomplete. Every field of the analysis is required.
func validateAnalysis(analysis Analysis) error {
	switch {
	case analysis.Theme == "":
		return fmt.Errorf("%w: missing theme", ErrMalformedPlan)
	case analysis.Category == "":
		return fmt.Errorf("%w: missing category", ErrMalformedPlan)
	case strings.TrimSpace(analysis.Tone) == "":
		return fmt.Errorf("%w: missing tone", ErrMalformedPlan)
	case strings.TrimSpace(analysis.TargetAudience) == "":
		return fmt.Errorf("%w: missing target_audience", ErrMalformedPlan)
	case len(analysis.KeyPoints) == 0:
		return fmt.Errorf("%w: missing key_points", ErrMalformedPlan)
	case len(analysis.InsertionPoints) == 0:
		return fmt.Errorf("%w: missing insertion_points", ErrMalformedPlan)
	}
	for i, point := range analysis.InsertionPoints {
		if point.Time < 0 {
			return fmt.Errorf("%w: insertion point %d has negative time", ErrMalformedPlan, i)
		}
		if point.Priority < 1 {
			return fmt.Errorf("%w: insertion point %d has priority %d", ErrMalformedPlan, i, point.Priority)
		}
	}
	return nil
}

func buildAnalyzePrompt(segments []transcribe.Segment, opts AnalyzeOptions) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Analyze this video transcript.\n\n")
	fmt.Fprintf(&sb, "Video duration: %.1f seconds\n", opts.Duration)
	fmt.Fprintf(&sb, "Keep clear of the first %.0f seconds and the last %.0f seconds.\n\n", opts.AvoidStart, opts.AvoidEnd)
	sb.WriteString("Transcript:\n")
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&sb, "[%.1fs - %.1fs] %s\n", seg.Start, seg.End, text)
	}
	fmt.Fprintf(&sb, `
---

Return JSON with these fields:
{
  "theme": "one-sentence description of the video",
  "category": "content category (tech, education, lifestyle, entertainment, ...)",
  "key_points": ["point 1", "point 2", "point 3"],
  "tone": "tone of voice (formal, casual, humorous, professional, ...)",
  "target_audience": "who the video is for",
  "insertion_points": [
    {
      "time": <seconds, float>,
      "priority": <1 = best, 2 = next, ...>,
      "reason": "why this position works",
      "context_before": "the 2-3 sentences before the point",
      "context_after": "the 1-2 sentences after the point",
      "transition_hint": "how to segue into the ad naturally"
    }
  ]
}
Provide %d insertion points.`, opts.CandidateCount)
	return sb.String()
}

// FilterInsertionPoints drops candidates outside [avoidStart, duration -
// avoidEnd], both ends inclusive. The survivors keep the order the model
// returned them in.
func FilterInsertionPoints(points []InsertionPoint, duration, avoidStart, avoidEnd float64) []InsertionPoint {
	upper := duration - avoidEnd
	filtered := make([]InsertionPoint, 0, len(points))
	for _, point := range points {
		if point.Time < avoidStart || point.Time > upper {
			continue
		}
		filtered = append(filtered, point)
	}
	return filtered
}
