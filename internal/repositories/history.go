package repositories

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/desertthunder/stemx/internal/models"
)

// History implements tasks.HistoryRecorder using [UploadRepository] and [ResultRepository].
//
// Recording is idempotent: an upload already stored under the same file id, or an output already
// stored for the same task and name, is silently skipped (UNIQUE constraint violations).
type History struct {
	uploads *UploadRepository
	results *ResultRepository
}

// NewHistory creates a new History backed by db
func NewHistory(db *sql.DB) *History {
	return &History{uploads: NewUploadRepository(db), results: NewResultRepository(db)}
}

func (h *History) Uploads() *UploadRepository { return h.uploads }
func (h *History) Results() *ResultRepository { return h.results }

// RecordUpload stores file unless it is already known.
func (h *History) RecordUpload(file models.AudioFile) error {
	if existing, err := h.uploads.GetByFileID(file.ID); err == nil && existing != nil {
		return nil
	}

	err := h.uploads.Create(models.NewUploadRecord(0, file))
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("failed to record upload: %w", err)
	}
	return nil
}

// RecordResults stores every output of set.
func (h *History) RecordResults(op models.Operation, sourceFileID string, set *models.TrackSet) error {
	if set == nil {
		return nil
	}

	var errs []error
	for _, track := range set.Tracks {
		rec := models.NewResultRecord(set.TaskID, op, sourceFileID, track.Name, track.ResourceID)
		if err := h.results.Create(rec); err != nil && !isUniqueViolation(err) {
			errs = append(errs, fmt.Errorf("%s: %w", track.Name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to record results: %w", errors.Join(errs...))
	}
	return nil
}

// Outputs returns the recorded (output name -> resource id) map of taskID.
func (h *History) Outputs(taskID string) (map[string]string, models.Operation, error) {
	records, err := h.results.ListByTask(taskID)
	if err != nil {
		return nil, "", err
	}
	if len(records) == 0 {
		return nil, "", fmt.Errorf("%w: no outputs recorded for task %s", ErrNotFound, taskID)
	}

	outputs := make(map[string]string, len(records))
	for _, rec := range records {
		outputs[rec.OutputName()] = rec.ResourceID()
	}
	return outputs, records[0].Operation(), nil
}

// Forget soft-deletes the upload with fileID. Unknown ids are ignored.
func (h *History) Forget(fileID string) error {
	if err := h.uploads.DeleteByFileID(fileID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}
