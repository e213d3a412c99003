// Package ads loads the ad catalog and picks the ad a video should carry.
// Selection prefers the first enabled ad whose target scenarios match the
// video theme, falling back to the highest-priority enabled ad.
package ads

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// GeneralTemplateKey is the template bucket used when no category-specific
// template exists.
const GeneralTemplateKey = "general"

// Ad describes a single product in the catalog.
type Ad struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	Product         string              `json:"product"`
	Category        string              `json:"category"`
	Enabled         bool                `json:"enabled"`
	Priority        int                 `json:"priority"`
	Description     string              `json:"description"`
	SellingPoints   []string            `json:"selling_points"`
	TargetScenarios []string            `json:"target_scenarios"`
	Templates       map[string][]string `json:"templates"`
}

// SellingPointsText joins the selling points for prompt building.
func (a Ad) SellingPointsText() string {
	return strings.Join(a.SellingPoints, ", ")
}

// Template returns the first template for the given category, falling back
// to the general bucket. Empty string when neither exists.
func (a Ad) Template(category string) string {
	if list := a.Templates[category]; len(list) > 0 {
		return list[0]
	}
	if category != GeneralTemplateKey {
		if list := a.Templates[GeneralTemplateKey]; len(list) > 0 {
			return list[0]
		}
	}
	return ""
}

// Settings tunes how generated copy should read.
type Settings struct {
	ScriptStyle string `json:"ad_script_style"`
	ScriptTone  string `json:"ad_script_tone"`
}

// Catalog is the parsed ad configuration file.
type Catalog struct {
	Ads      []Ad     `json:"ads"`
	Settings Settings `json:"settings"`
}

// LoadCatalog reads and parses the catalog JSON file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ad catalog: %w", err)
	}
	var catalog Catalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse ad catalog: %w", err)
	}
	for i, ad := range catalog.Ads {
		if strings.TrimSpace(ad.ID) == "" {
			return nil, fmt.Errorf("ad catalog: entry %d has no id", i)
		}
	}
	return &catalog, nil
}

// Enabled returns the enabled ads in catalog order.
func (c *Catalog) Enabled() []Ad {
	var enabled []Ad
	for _, ad := range c.Ads {
		if ad.Enabled {
			enabled = append(enabled, ad)
		}
	}
	return enabled
}

// ByID looks an ad up by identifier.
func (c *Catalog) ByID(id string) (Ad, bool) {
	for _, ad := range c.Ads {
		if ad.ID == id {
			return ad, true
		}
	}
	return Ad{}, false
}

// Primary returns the enabled ad with the smallest priority value.
func (c *Catalog) Primary() (Ad, bool) {
	enabled := c.Enabled()
	if len(enabled) == 0 {
		return Ad{}, false
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Priority < enabled[j].Priority
	})
	return enabled[0], true
}

// SelectForTheme picks the first enabled ad whose target scenarios occur in
// the video theme, falling back to the primary ad. The second return is
// false only when no ad is enabled at all.
func (c *Catalog) SelectForTheme(theme string) (Ad, bool) {
	enabled := c.Enabled()
	if len(enabled) == 0 {
		return Ad{}, false
	}
	for _, ad := range enabled {
		for _, scenario := range ad.TargetScenarios {
			if scenario != "" && strings.Contains(theme, scenario) {
				return ad, true
			}
		}
	}
	return c.Primary()
}
