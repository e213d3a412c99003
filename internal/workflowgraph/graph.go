// Package workflowgraph loads and parameterizes the job-graph templates the
// synthesis stages submit to the remote service. Templates are JSON blobs of
// nodes keyed by id; they are edited by non-developers, so the code never
// addresses nodes by id. It walks by class_type label and writes known input
// fields, leaving everything else untouched.
package workflowgraph

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Node class labels the injection rules key on. TextEncode and
// MultiLinePrompt match as prefixes since the concrete class names vary by
// template revision.
const (
	classLoadImage        = "LoadImage"
	classLoadAudio        = "LoadAudio"
	classTextEncodePrefix = "TextEncode"
	classMultiLinePrefix  = "MultiLinePrompt"
	classWavEmbeds        = "MultiTalkWav2VecEmbeds"
	classVideoCombine     = "VHS_VideoCombine"
	classImageScale       = "LayerUtility: ImageScaleByAspectRatio V2"
	classImageToVideo     = "WanVideoImageToVideoMultiTalk"
	classVideoDecode      = "WanVideoDecode"
)

// minEdgeLimit caps the shorter edge of the synthesized video. The animation
// model renders 81 frames per job and runs out of GPU memory above this.
const minEdgeLimit = 480

// Graph is a parsed job-graph template: node id to node object. Unknown node
// fields survive a load/submit round trip untouched.
type Graph map[string]any

// Load parses a template file.
func Load(path string) (Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load workflow template: %w", err)
	}
	var graph Graph
	if err := json.Unmarshal(data, &graph); err != nil {
		return nil, fmt.Errorf("load workflow template %s: %w", path, err)
	}
	if len(graph) == 0 {
		return nil, fmt.Errorf("load workflow template %s: no nodes", path)
	}
	return graph, nil
}

// Clone deep-copies the graph so injections never mutate the loaded template.
func (g Graph) Clone() Graph {
	data, err := json.Marshal(g)
	if err != nil {
		return Graph{}
	}
	var clone Graph
	if err := json.Unmarshal(data, &clone); err != nil {
		return Graph{}
	}
	return clone
}

// NodeCount returns the number of nodes carrying a class_type.
func (g Graph) NodeCount() int {
	count := 0
	g.forEach(func(string, string, map[string]any) { count++ })
	return count
}

// ClassTypes returns the sorted distinct class labels in the graph.
func (g Graph) ClassTypes() []string {
	seen := map[string]bool{}
	g.forEach(func(_ string, classType string, _ map[string]any) {
		seen[classType] = true
	})
	classes := make([]string, 0, len(seen))
	for class := range seen {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	return classes
}

// HasClass reports whether any node matches the class label (exact, or
// prefix when the label ends with '*').
func (g Graph) HasClass(label string) bool {
	prefix := strings.HasSuffix(label, "*")
	label = strings.TrimSuffix(label, "*")
	found := false
	g.forEach(func(_ string, classType string, _ map[string]any) {
		if classType == label || (prefix && strings.HasPrefix(classType, label)) {
			found = true
		}
	})
	return found
}

// SetLoadImage points every LoadImage node at an uploaded image and returns
// the number of nodes touched.
func (g Graph) SetLoadImage(filename string) int {
	return g.setByClass(classLoadImage, false, "image", filename, false)
}

// SetLoadAudio points every LoadAudio node at an uploaded audio file.
func (g Graph) SetLoadAudio(filename string) int {
	return g.setByClass(classLoadAudio, false, "audio", filename, false)
}

// SetEncodedPrompts fills the text-encode node pair. The template marks the
// positive node with a non-empty placeholder prompt and leaves the negative
// node's prompt empty; that convention decides which text goes where.
func (g Graph) SetEncodedPrompts(positive, negative string) int {
	touched := 0
	g.forEach(func(_ string, classType string, inputs map[string]any) {
		if !strings.HasPrefix(classType, classTextEncodePrefix) {
			return
		}
		current, _ := inputs["prompt"].(string)
		if current != "" {
			inputs["prompt"] = positive
		} else {
			inputs["prompt"] = negative
		}
		touched++
	})
	return touched
}

// SetPromptText fills every multi-line prompt node with the text to speak.
func (g Graph) SetPromptText(text string) int {
	touched := 0
	g.forEach(func(_ string, classType string, inputs map[string]any) {
		if !strings.HasPrefix(classType, classMultiLinePrefix) {
			return
		}
		inputs["multi_line_prompt"] = text
		touched++
	})
	return touched
}

// SetFPS aligns the audio-embedding fps and the video-combine frame rate.
// Nodes that do not carry the field are left alone.
func (g Graph) SetFPS(fps int) int {
	touched := g.setByClass(classWavEmbeds, false, "fps", fps, true)
	touched += g.setByClass(classVideoCombine, false, "frame_rate", fps, true)
	return touched
}

// SetScaleForResolution sets the image-scale node's target length from the
// source frame resolution, capped so the shorter edge never exceeds 480.
func (g Graph) SetScaleForResolution(width, height int) int {
	if width <= 0 || height <= 0 {
		return 0
	}
	return g.setByClass(classImageScale, false, "scale_to_length", CappedScaleLength(width, height), false)
}

// TuneRender forces the strongest color-match mode and minmax VAE
// normalization, which keeps brightness stable across the generated frames.
func (g Graph) TuneRender() int {
	touched := g.setByClass(classImageToVideo, false, "colormatch", "hm-mvgd-hm", true)
	touched += g.setByClass(classVideoDecode, false, "normalization", "minmax", true)
	return touched
}

// CappedScaleLength returns the long-edge target the image-scale node should
// render at. When the short edge exceeds 480 the frame is scaled down so the
// short edge lands exactly at 480; otherwise the original long edge is kept.
func CappedScaleLength(width, height int) int {
	minEdge, maxEdge := width, height
	if minEdge > maxEdge {
		minEdge, maxEdge = maxEdge, minEdge
	}
	if minEdge <= minEdgeLimit {
		return maxEdge
	}
	ratio := float64(minEdgeLimit) / float64(minEdge)
	return int(float64(maxEdge) * ratio)
}

func (g Graph) setByClass(class string, prefix bool, key string, value any, onlyIfPresent bool) int {
	touched := 0
	g.forEach(func(_ string, classType string, inputs map[string]any) {
		if prefix {
			if !strings.HasPrefix(classType, class) {
				return
			}
		} else if classType != class {
			return
		}
		if onlyIfPresent {
			if _, ok := inputs[key]; !ok {
				return
			}
		}
		inputs[key] = value
		touched++
	})
	return touched
}

func (g Graph) forEach(fn func(id string, classType string, inputs map[string]any)) {
	for id, raw := range g {
		node, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		classType, _ := node["class_type"].(string)
		if classType == "" {
			continue
		}
		inputs, ok := node["inputs"].(map[string]any)
		if !ok {
			continue
		}
		fn(id, classType, inputs)
	}
}
