package models

import (
	"fmt"
	"time"
)

// UploadRecord is the persisted history entry for one uploaded [AudioFile].
type UploadRecord struct {
	id        string
	sequence  int
	file      AudioFile
	createdAt time.Time
	deletedAt *time.Time
}

// NewUploadRecord creates a new [UploadRecord] for file.
func NewUploadRecord(sequence int, file AudioFile) *UploadRecord {
	return &UploadRecord{sequence: sequence, file: file, createdAt: time.Now().UTC()}
}

func (u *UploadRecord) ID() string            { return u.id }
func (u *UploadRecord) Sequence() int         { return u.sequence }
func (u *UploadRecord) File() AudioFile       { return u.file }
func (u *UploadRecord) CreatedAt() time.Time  { return u.createdAt }
func (u *UploadRecord) DeletedAt() *time.Time { return u.deletedAt }

func (u *UploadRecord) SetID(id string)           { u.id = id }
func (u *UploadRecord) SetSequence(seq int)       { u.sequence = seq }
func (u *UploadRecord) SetCreatedAt(t time.Time)  { u.createdAt = t }
func (u *UploadRecord) SetDeletedAt(t *time.Time) { u.deletedAt = t }
func (u *UploadRecord) IsDeleted() bool           { return u.deletedAt != nil }

// Validate requires the server-assigned file id and a filename.
func (u *UploadRecord) Validate() error {
	if u.file.ID == "" {
		return fmt.Errorf("file id is required")
	}
	if u.file.Filename == "" {
		return fmt.Errorf("filename is required")
	}
	if u.file.FileSizeBytes < 0 {
		return fmt.Errorf("file size cannot be negative")
	}
	return nil
}

// ResultRecord is one (output name, resource id) pair produced by a completed task.
type ResultRecord struct {
	id           string
	sequence     int
	taskID       string
	operation    Operation
	sourceFileID string
	outputName   string
	resourceID   string
	createdAt    time.Time
}

// NewResultRecord creates a new [ResultRecord].
func NewResultRecord(taskID string, op Operation, sourceFileID, outputName, resourceID string) *ResultRecord {
	return &ResultRecord{
		taskID:       taskID,
		operation:    op,
		sourceFileID: sourceFileID,
		outputName:   outputName,
		resourceID:   resourceID,
		createdAt:    time.Now().UTC(),
	}
}

func (r *ResultRecord) ID() string           { return r.id }
func (r *ResultRecord) Sequence() int        { return r.sequence }
func (r *ResultRecord) TaskID() string       { return r.taskID }
func (r *ResultRecord) Operation() Operation { return r.operation }
func (r *ResultRecord) SourceFileID() string { return r.sourceFileID }
func (r *ResultRecord) OutputName() string   { return r.outputName }
func (r *ResultRecord) ResourceID() string   { return r.resourceID }
func (r *ResultRecord) CreatedAt() time.Time { return r.createdAt }

func (r *ResultRecord) SetID(id string)          { r.id = id }
func (r *ResultRecord) SetSequence(seq int)      { r.sequence = seq }
func (r *ResultRecord) SetCreatedAt(t time.Time) { r.createdAt = t }

func (r *ResultRecord) Validate() error {
	switch {
	case r.taskID == "":
		return fmt.Errorf("task id is required")
	case r.outputName == "":
		return fmt.Errorf("output name is required")
	case r.resourceID == "":
		return fmt.Errorf("resource id is required")
	}
	switch r.operation {
	case OpSeparate, OpTranspose, OpTempo:
	default:
		return fmt.Errorf("unknown operation %q", r.operation)
	}
	return nil
}
