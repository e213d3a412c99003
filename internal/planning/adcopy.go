package planning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"adweave/internal/ads"
	"adweave/internal/language"
	"adweave/internal/logging"
)

// CopyParams carries everything ad copy generation needs: the analyzed video
// traits, the chosen insertion point, the ad itself, the transcript language,
// and the length bounds.
type CopyParams struct {
	Analysis  Analysis
	Point     InsertionPoint
	Ad        ads.Ad
	Settings  ads.Settings
	Language  string
	MinLength int
	MaxLength int
}

const adCopySystemPrompt = `You are a professional copywriter who creates soft, natural-sounding ad reads.

Your tasks:
1. Write one short ad line that fits the surrounding video content.
2. The line must flow naturally and never feel abrupt.
3. Work in the product's core selling points.
4. Match the tone of the video.
5. Stay within the requested length.`

// GenerateAdCopy produces the spoken ad line. Model output that misses the
// length bounds degrades gracefully: too short falls back to the catalog
// template, too long is truncated. A failed model call also falls back to
// the template when one exists.
func (c *Client) GenerateAdCopy(ctx context.Context, params CopyParams, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	template := params.Ad.Template(params.Analysis.Category)

	content, err := c.Complete(ctx, Request{
		System:      adCopySystemPrompt,
		User:        buildAdCopyPrompt(params, template),
		Temperature: 0.8,
		MaxTokens:   100,
	}, "generate ad copy")
	if err != nil {
		if template != "" {
			logger.Warn("ad copy generation failed, using template", logging.Error(err))
			return template, nil
		}
		return "", err
	}

	script := strings.TrimSpace(content)
	runes := []rune(script)
	switch {
	case len(runes) < params.MinLength:
		if template == "" {
			return "", fmt.Errorf("generate ad copy: output too short (%d runes) and no template available", len(runes))
		}
		logger.Warn("ad copy too short, using template", logging.Int("length", len(runes)))
		return template, nil
	case params.MaxLength > 0 && len(runes) > params.MaxLength:
		logger.Warn("ad copy too long, truncating", logging.Int("length", len(runes)))
		return string(runes[:params.MaxLength]), nil
	}
	return script, nil
}

func buildAdCopyPrompt(params CopyParams, template string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Video:\n- theme: %s\n- category: %s\n- tone: %s\n- language: %s\n\n",
		params.Analysis.Theme, params.Analysis.Category, params.Analysis.Tone,
		language.DisplayName(params.Language))
	fmt.Fprintf(&sb, "Product:\n- name: %s\n- selling points: %s\n",
		params.Ad.Product, params.Ad.SellingPointsText())
	if params.Settings.ScriptStyle != "" || params.Settings.ScriptTone != "" {
		fmt.Fprintf(&sb, "- style: %s %s\n", params.Settings.ScriptStyle, params.Settings.ScriptTone)
	}
	fmt.Fprintf(&sb, "\nInsertion context:\nbefore: %s\nafter: %s\n",
		params.Point.ContextBefore, params.Point.ContextAfter)
	if hint := strings.TrimSpace(params.Point.TransitionHint); hint != "" {
		fmt.Fprintf(&sb, "transition hint: %s\n", hint)
	}
	if template != "" {
		fmt.Fprintf(&sb, "\nReference template (adapt freely):\n%s\n", template)
	}
	fmt.Fprintf(&sb, `
---

Write one natural ad line:
1. in %s, the language the video is spoken in
2. %d to %d characters
3. flows from the surrounding context
4. highlights the selling points
5. keeps the video's tone

Return only the ad line, no explanation or markup.`,
		language.DisplayName(params.Language), params.MinLength, params.MaxLength)
	return sb.String()
}
