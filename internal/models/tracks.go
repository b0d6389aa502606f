package models

import "github.com/desertthunder/stemx/internal/shared"

// StemInfo is the display identity for a stem name.
type StemInfo struct {
	Icon  string
	Color string
}

// KnownStems lists recognised stem names in display order.
var KnownStems = []string{"vocals", "drums", "bass", "other"}

var stemInfo = map[string]StemInfo{
	"vocals": {Icon: "🎤", Color: "#ef4444"},
	"drums":  {Icon: "🥁", Color: "#f59e0b"},
	"bass":   {Icon: "🎸", Color: "#10b981"},
	"other":  {Icon: "🎹", Color: "#3b82f6"},
}

// FallbackStem is used for any output name outside [KnownStems].
var FallbackStem = StemInfo{Icon: "🎵", Color: "#6b7280"}

// LookupStem returns the display identity for name and whether it is a known stem.
func LookupStem(name string) (StemInfo, bool) {
	info, ok := stemInfo[name]
	if !ok {
		return FallbackStem, false
	}
	return info, true
}

// StemRank is the position of name in [KnownStems], or -1.
func StemRank(name string) int {
	for i, s := range KnownStems {
		if s == name {
			return i
		}
	}
	return -1
}

// StemTrack is one addressable output of a completed task.
type StemTrack struct {
	Name       string `json:"name"`
	Label      string `json:"label"`
	ResourceID string `json:"resource_id"`
	Icon       string `json:"icon"`
	Color      string `json:"color"`
	Known      bool   `json:"known"`
}

// NewStemTrack builds the display record for one (name, resource id) pair.
func NewStemTrack(name, resourceID string) StemTrack {
	info, known := LookupStem(name)
	return StemTrack{
		Name:       name,
		Label:      shared.TitleCase(name),
		ResourceID: resourceID,
		Icon:       info.Icon,
		Color:      info.Color,
		Known:      known,
	}
}

// TrackSet is the materialized output of one completed task.
type TrackSet struct {
	TaskID string      `json:"task_id"`
	Tracks []StemTrack `json:"tracks"`
}

// Len returns the number of tracks.
func (ts *TrackSet) Len() int {
	if ts == nil {
		return 0
	}
	return len(ts.Tracks)
}

// Get returns the track named name.
func (ts *TrackSet) Get(name string) (StemTrack, bool) {
	if ts == nil {
		return StemTrack{}, false
	}
	for _, t := range ts.Tracks {
		if t.Name == name {
			return t, true
		}
	}
	return StemTrack{}, false
}
