// Package language normalizes the language hints that flow between the
// transcription engine, the planner prompts, and the run log. It builds on
// golang.org/x/text for tag parsing and display names instead of a
// hand-maintained code table.
package language

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

var namer = display.English.Languages()

// ToISO2 normalizes any recognizable language hint ("en", "eng", "English",
// "zh-CN") to its ISO 639-1 base code. Returns empty string for input no
// parser recognizes.
func ToISO2(hint string) string {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return ""
	}

	tag, err := language.Parse(hint)
	if err != nil {
		// Hints like "English" come back from transcription engines;
		// try matching a display name.
		if tag, ok := parseDisplayName(hint); ok {
			base, _ := tag.Base()
			return base.String()
		}
		return ""
	}
	base, confidence := tag.Base()
	if confidence == language.No {
		return ""
	}
	code := base.String()
	if len(code) != 2 {
		return ""
	}
	return code
}

// DisplayName returns a human-readable English name for the hint, or
// "Unknown" when it cannot be parsed.
func DisplayName(hint string) string {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return "Unknown"
	}
	tag, err := language.Parse(hint)
	if err != nil {
		if t, ok := parseDisplayName(hint); ok {
			tag = t
		} else {
			return strings.ToUpper(hint)
		}
	}
	if name := namer.Name(tag); name != "" {
		return name
	}
	return strings.ToUpper(hint)
}

// commonNames covers the display-name spellings transcription engines emit.
var commonNames = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
	"mandarin":   "zh",
	"russian":    "ru",
	"arabic":     "ar",
	"hindi":      "hi",
	"dutch":      "nl",
}

func parseDisplayName(name string) (language.Tag, bool) {
	code, ok := commonNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return language.Und, false
	}
	tag, err := language.Parse(code)
	if err != nil {
		return language.Und, false
	}
	return tag, true
}
