package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/services"
	"github.com/desertthunder/stemx/internal/shared"
)

// FileUploader streams a local file to the backend.
type FileUploader interface {
	Upload(ctx context.Context, src services.UploadSource, onProgress services.ProgressFunc) (*models.AudioFile, error)
}

// JobSubmitter posts transformation requests.
type JobSubmitter interface {
	Submit(ctx context.Context, fileID string, req models.TransformRequest) (*models.JobHandle, error)
}

// HistoryRecorder persists uploads and task outputs for later listing.
type HistoryRecorder interface {
	RecordUpload(file models.AudioFile) error
	RecordResults(op models.Operation, sourceFileID string, set *models.TrackSet) error
}

// ProcessOpts configures a single transformation run.
type ProcessOpts struct {
	Request      models.TransformRequest // Operation and parameters to submit
	PollInterval time.Duration           // Status poll interval (default: [DefaultPollInterval])
	Download     bool                    // Save outputs locally after completion
	DownloadOpts DownloadOpts            // Used when Download is set
}

// RunResult contains everything produced by a pipeline run.
type RunResult struct {
	File      *models.AudioFile // Uploaded source file (nil when processing an existing file id)
	Job       *models.JobHandle // Submitted job
	Task      models.Task       // Last observed task snapshot
	Tracks    *models.TrackSet  // Outputs, set when the task completed
	Downloads *DownloadResult   // Set when outputs were downloaded
}

// Engine defines the end-to-end operations on top of the processing backend.
type Engine interface {
	// Run uploads src, submits the request, tracks the task to completion and materializes its outputs.
	Run(ctx context.Context, progress chan<- ProgressUpdate, src services.UploadSource, opts ProcessOpts) (*RunResult, error)

	// Process does the same as Run for a file that is already stored on the backend.
	Process(ctx context.Context, progress chan<- ProgressUpdate, fileID string, opts ProcessOpts) (*RunResult, error)

	// DownloadStems saves materialized outputs to disk.
	DownloadStems(ctx context.Context, progress chan<- ProgressUpdate, set *models.TrackSet, opts DownloadOpts) (*DownloadResult, error)
}

// JobEngine implements [Engine].
type JobEngine struct {
	uploader     FileUploader
	submitter    JobSubmitter
	orchestrator *Orchestrator
	files        StemFetcher
	history      HistoryRecorder
	logger       *log.Logger
}

// NewJobEngine creates a [JobEngine] wired to client. A nil logger discards output.
func NewJobEngine(client *services.Client, logger *log.Logger) *JobEngine {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &JobEngine{
		uploader:     services.NewUploader(client),
		submitter:    services.NewDispatcher(client),
		orchestrator: NewOrchestrator(client, logger),
		files:        client,
		logger:       logger,
	}
}

// SetHistory enables persistence of uploads and outputs. Recording errors are logged and otherwise ignored.
func (e *JobEngine) SetHistory(h HistoryRecorder) { e.history = h }

// Orchestrator exposes the task tracker used by the engine.
func (e *JobEngine) Orchestrator() *Orchestrator { return e.orchestrator }

// sendProgress sends a progress update through the channel without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func (e *JobEngine) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// Run uploads src and then behaves like [JobEngine.Process].
func (e *JobEngine) Run(ctx context.Context, progress chan<- ProgressUpdate, src services.UploadSource, opts ProcessOpts) (*RunResult, error) {
	if e.uploader == nil {
		return nil, fmt.Errorf("%w: uploader not initialized", shared.ErrServiceUnavailable)
	}
	if opts.Request == nil {
		return nil, shared.NewValidationError("operation", "no operation given")
	}
	if err := opts.Request.Validate(); err != nil {
		return nil, err
	}

	e.sendProgress(progress, uploadUpdate(src.Name, 0))
	file, err := e.uploader.Upload(ctx, src, func(fraction float64) {
		e.sendProgress(progress, uploadUpdate(src.Name, fraction))
	})
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	e.sendProgress(progress, uploadedUpdate(file))

	if e.history != nil {
		if err := e.history.RecordUpload(*file); err != nil {
			e.logger.Warn("failed to record upload", "file_id", file.ID, "error", err)
		}
	}

	result, err := e.Process(ctx, progress, file.ID, opts)
	if result != nil {
		result.File = file
	}
	return result, err
}

// Process submits opts.Request for fileID and tracks the resulting task.
//
// A partially filled result is returned alongside any error after submission so callers can
// report the task id.
func (e *JobEngine) Process(ctx context.Context, progress chan<- ProgressUpdate, fileID string, opts ProcessOpts) (*RunResult, error) {
	if e.submitter == nil || e.orchestrator == nil {
		return nil, fmt.Errorf("%w: engine not initialized", shared.ErrServiceUnavailable)
	}
	if opts.Request == nil {
		return nil, shared.NewValidationError("operation", "no operation given")
	}

	e.sendProgress(progress, submitUpdate(opts.Request, fileID))
	handle, err := e.submitter.Submit(ctx, fileID, opts.Request)
	if err != nil {
		return nil, err
	}
	e.sendProgress(progress, submittedUpdate(handle))

	result := &RunResult{Job: handle}

	task, err := e.orchestrator.Await(ctx, handle.TaskID, TrackOptions{
		PollInterval: opts.PollInterval,
		OnUpdate: func(task models.Task) {
			e.sendProgress(progress, processUpdate(task))
		},
	})
	result.Task = task
	if err != nil {
		return result, err
	}
	e.sendProgress(progress, processUpdate(task))

	set, err := Materialize(task)
	if err != nil {
		return result, err
	}
	result.Tracks = set
	e.sendProgress(progress, materializedUpdate(set))

	if e.history != nil {
		if err := e.history.RecordResults(opts.Request.Kind(), fileID, set); err != nil {
			e.logger.Warn("failed to record outputs", "task_id", set.TaskID, "error", err)
		}
	}

	if opts.Download {
		downloads, err := e.DownloadStems(ctx, progress, set, opts.DownloadOpts)
		result.Downloads = downloads
		if err != nil {
			return result, err
		}
	}
	return result, nil
}
