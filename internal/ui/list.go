package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"

	"github.com/desertthunder/stemx/internal/models"
)

var (
	_ list.Item = operationItem{}
	_ list.Item = stemItem{}
)

// operationItem is one choice in the operation menu.
//
// build turns the parameter input into a request; prompt is empty when no input is needed.
type operationItem struct {
	title  string
	desc   string
	prompt string
	build  func(input string) (models.TransformRequest, error)
}

func (i operationItem) FilterValue() string { return i.title }
func (i operationItem) Title() string       { return i.title }
func (i operationItem) Description() string { return i.desc }

// stemItem wraps [models.StemTrack] to implement [list.Item].
type stemItem struct {
	track models.StemTrack
	url   string
}

func (i stemItem) FilterValue() string { return i.track.Name }
func (i stemItem) Title() string       { return StemLabel(i.track) }
func (i stemItem) Description() string {
	if i.url == "" {
		return i.track.ResourceID
	}
	return fmt.Sprintf("%s • %s", i.track.ResourceID, i.url)
}

func stemItems(set *models.TrackSet, urlFor func(models.StemTrack) string) []list.Item {
	items := make([]list.Item, 0, set.Len())
	if set == nil {
		return items
	}
	for _, track := range set.Tracks {
		item := stemItem{track: track}
		if urlFor != nil {
			item.url = urlFor(track)
		}
		items = append(items, item)
	}
	return items
}
