package tasks

import (
	"fmt"
	"slices"
	"strings"

	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/shared"
)

// Materialize maps a completed task's result into a [models.TrackSet].
//
// Every (name, resource id) pair is kept. Known stems come first in their canonical order and
// unrecognised names follow, sorted, with the fallback icon and color. task is not modified.
func Materialize(task models.Task) (*models.TrackSet, error) {
	if task.Status != models.StatusCompleted {
		return nil, fmt.Errorf("%w: task %s is %s", shared.ErrTaskNotCompleted, task.ID, task.Status)
	}

	tracks := make([]models.StemTrack, 0, len(task.Result))
	for name, resourceID := range task.Result {
		tracks = append(tracks, models.NewStemTrack(name, resourceID))
	}

	slices.SortFunc(tracks, func(a, b models.StemTrack) int {
		ra, rb := models.StemRank(a.Name), models.StemRank(b.Name)
		switch {
		case ra >= 0 && rb >= 0:
			return ra - rb
		case ra >= 0:
			return -1
		case rb >= 0:
			return 1
		default:
			return strings.Compare(a.Name, b.Name)
		}
	})

	return &models.TrackSet{TaskID: task.ID, Tracks: tracks}, nil
}
