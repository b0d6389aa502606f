package services

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/shared"
)

// Dispatcher validates transformation requests and submits them to the backend.
//
// It neither tracks nor retries: a rejected submission is reported once and the caller decides
// whether to resubmit.
type Dispatcher struct {
	client *Client
	logger *log.Logger
}

// NewDispatcher creates a [Dispatcher] on top of client.
func NewDispatcher(client *Client) *Dispatcher {
	return &Dispatcher{client: client, logger: client.logger}
}

// Separate submits a source separation of fileID.
func (d *Dispatcher) Separate(ctx context.Context, fileID string, params models.Separation) (*models.JobHandle, error) {
	return d.Submit(ctx, fileID, params)
}

// Transpose submits a pitch shift of fileID.
func (d *Dispatcher) Transpose(ctx context.Context, fileID string, params models.Transpose) (*models.JobHandle, error) {
	return d.Submit(ctx, fileID, params)
}

// ChangeTempo submits a tempo change of fileID.
func (d *Dispatcher) ChangeTempo(ctx context.Context, fileID string, params models.Tempo) (*models.JobHandle, error) {
	return d.Submit(ctx, fileID, params)
}

// Submit validates req and posts it for fileID, returning the server-issued task id unchanged.
//
// Invalid input fails with a [shared.ValidationError] before any network call.
func (d *Dispatcher) Submit(ctx context.Context, fileID string, req models.TransformRequest) (*models.JobHandle, error) {
	if strings.TrimSpace(fileID) == "" {
		return nil, shared.NewValidationError("file_id", "a file id is required")
	}
	if req == nil {
		return nil, shared.NewValidationError("operation", "no operation given")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body, err := req.Body(fileID)
	if err != nil {
		return nil, err
	}

	handle, err := d.client.submit(ctx, req.Kind(), body)
	if err != nil {
		d.logger.Warn("submission failed", "op", req.Kind(), "file_id", fileID, "error", err)
		return nil, err
	}

	d.logger.Info("task submitted", "op", req.Kind(), "file_id", fileID, "task_id", handle.TaskID)
	return handle, nil
}
