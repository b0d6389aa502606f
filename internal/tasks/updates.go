package tasks

import (
	"fmt"

	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/shared"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Fraction returns Step/Total, or 0 when Total is unknown.
func (u ProgressUpdate) Fraction() float64 {
	if u.Total <= 0 {
		return 0
	}
	return float64(u.Step) / float64(u.Total)
}

// Operation phase enumeration
type Phase int

const (
	Upload Phase = iota
	Submit
	Process
	Collect
	Download
)

func (p Phase) String() string {
	switch p {
	case Upload:
		return "upload"
	case Submit:
		return "submit"
	case Process:
		return "process"
	case Collect:
		return "collect"
	case Download:
		return "download"
	default:
		return ""
	}
}

// percentSteps is the Total used for fraction based phases.
const percentSteps = 100

func uploadUpdate(name string, fraction float64) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Upload,
		Step:    int(fraction*percentSteps + 0.5),
		Total:   percentSteps,
		Message: fmt.Sprintf("Uploading %s... %s", name, shared.FormatPercent(fraction)),
	}
}

func uploadedUpdate(file *models.AudioFile) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Upload,
		Step:    percentSteps,
		Total:   percentSteps,
		Message: fmt.Sprintf("Uploaded %s (%s)", file.Filename, file.ID),
		Data:    file,
	}
}

func submitUpdate(req models.TransformRequest, fileID string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Submit,
		Step:    0,
		Total:   1,
		Message: fmt.Sprintf("Submitting %s for %s...", req.Kind(), fileID),
	}
}

func submittedUpdate(handle *models.JobHandle) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Submit,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Task %s: %s", handle.TaskID, handle.Message),
		Data:    handle,
	}
}

func processUpdate(task models.Task) ProgressUpdate {
	msg := task.Message
	if msg == "" {
		msg = string(task.Status)
	}
	return ProgressUpdate{
		Phase:   Process,
		Step:    int(task.Progress*percentSteps + 0.5),
		Total:   percentSteps,
		Message: fmt.Sprintf("[%s] %s", shared.FormatPercent(task.Progress), msg),
		Data:    task,
	}
}

func materializedUpdate(set *models.TrackSet) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Collect,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Task %s produced %d output(s)", set.TaskID, set.Len()),
		Data:    set,
	}
}

func downloadingUpdate(step, total int, track models.StemTrack) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Download,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Downloading %s...", step, total, track.Label),
	}
}

func downloadCompletedUpdate(step, total int, res StemDownloadResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Download,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s (%s)", step, total, res.Track.Label, shared.FormatBytes(res.Bytes)),
		Data:    res,
	}
}

func downloadFailedUpdate(step, total int, res StemDownloadResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Download,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, res.Track.Label, res.Error),
		Data:    res,
	}
}
