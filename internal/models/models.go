// package models defines the data model for the stemx audio processing client
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Model defines the base interface for persistent history records.
type Model interface {
	ID() string           // ID returns the unique identifier for this model
	CreatedAt() time.Time // CreatedAt returns when this model was created
	Validate() error      // Validate checks if the model's data is valid and returns an error if not
}

// Repository defines the interface for data access operations.
// Implementations handle database interactions for specific model types.
type Repository[T Model] interface {
	Create(model T) error                      // Create inserts a new model into the database
	Get(id string) (T, error)                  // Get retrieves a model by its ID
	Delete(id string) error                    // Delete removes a model from the database by its ID
	List(criteria map[string]any) ([]T, error) // List retrieves all models matching the given criteria
}

// AudioFile is the identity and metadata of an uploaded or produced audio resource.
//
// ID is assigned by the server once the upload is persisted.
type AudioFile struct {
	ID              string   `json:"file_id"`
	Filename        string   `json:"filename"`
	DurationSeconds *float64 `json:"duration,omitempty"`
	SampleRateHz    *int     `json:"sample_rate,omitempty"`
	ChannelCount    *int     `json:"channels,omitempty"`
	FileSizeBytes   int64    `json:"file_size"`
}

// Directory names the backend storage area a resource lives in.
type Directory string

const (
	DirectoryUpload    Directory = "upload"
	DirectoryProcessed Directory = "processed"
)

// Valid reports whether d is a known directory.
func (d Directory) Valid() bool {
	return d == DirectoryUpload || d == DirectoryProcessed
}

// TaskStatus is the lifecycle state of a server-side job.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusCancelled  TaskStatus = "cancelled"
)

// Known reports whether s is one of the five statuses the backend emits.
func (s TaskStatus) Known() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition can occur from s.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// rank orders statuses along the state machine. Terminal states share the highest rank.
func (s TaskStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed, StatusCancelled:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next follows the state machine.
//
// Staying in the same non-terminal state is allowed (a poll may observe no change).
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	if !s.Known() || !next.Known() || s.Terminal() {
		return false
	}
	return next.rank() >= s.rank()
}

// Task is the client-side mirror of a server-side job.
type Task struct {
	ID        string            `json:"task_id"`
	Status    TaskStatus        `json:"status"`
	Progress  float64           `json:"progress"`
	Message   string            `json:"message,omitempty"`
	Result    map[string]string `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	CreatedAt Timestamp         `json:"created_at"`
	UpdatedAt Timestamp         `json:"updated_at"`
}

// NewPendingTask returns the local record created the moment a submission returns a job id.
func NewPendingTask(id string) Task {
	now := Timestamp(time.Now().UTC())
	return Task{ID: id, Status: StatusPending, CreatedAt: now, UpdatedAt: now}
}

// Clone returns a copy of t that shares no maps with it.
func (t Task) Clone() Task {
	if t.Result != nil {
		result := make(map[string]string, len(t.Result))
		for k, v := range t.Result {
			result[k] = v
		}
		t.Result = result
	}
	return t
}

// CheckConsistency verifies the result/error invariants of a fetched task.
func (t Task) CheckConsistency() error {
	switch {
	case !t.Status.Known():
		return fmt.Errorf("unknown task status %q", t.Status)
	case t.Progress < 0 || t.Progress > 1:
		return fmt.Errorf("progress %v outside [0,1]", t.Progress)
	case t.Status == StatusCompleted && t.Result == nil:
		return fmt.Errorf("completed task has no result")
	case t.Status != StatusCompleted && t.Result != nil:
		return fmt.Errorf("%s task carries a result", t.Status)
	}
	return nil
}

// JobHandle is what the dispatcher returns for an accepted submission.
type JobHandle struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

// Timestamp is a [time.Time] that decodes both RFC 3339 and zone-less ISO-8601 values.
//
// Zone-less values are read as UTC.
type Timestamp time.Time

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// MarshalJSON implements json.Marshaler.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.Time().IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.Time().Format(time.RFC3339Nano))
}

// UnmarshalJSON implements json.Unmarshaler.
func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}

	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*ts = Timestamp(t.UTC())
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

// Time returns the underlying time.Time value.
func (ts Timestamp) Time() time.Time {
	return time.Time(ts)
}
