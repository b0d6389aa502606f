package tasks

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/shared"
)

const testInterval = time.Millisecond

// step is one scripted answer to GetTask.
type step struct {
	task models.Task
	err  error
}

func snapshot(status models.TaskStatus, progress float64) step {
	return step{task: models.Task{Status: status, Progress: progress}}
}

func completed(result map[string]string) step {
	return step{task: models.Task{Status: models.StatusCompleted, Progress: 1, Result: result}}
}

// fakeTasks answers polls from per-task scripts; the last step repeats.
//
// When gate is set every GetTask blocks until the gate is closed or the request context ends,
// and announces itself on entered first. With ignoreCtx the gate is the only way out, so a
// response can arrive after the poll was cancelled.
type fakeTasks struct {
	mu        sync.Mutex
	script    map[string][]step
	gets      map[string]int
	cancels   []string
	cancelErr error
	gate      chan struct{}
	entered   chan string
	ignoreCtx bool
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{script: map[string][]step{}, gets: map[string]int{}}
}

func (f *fakeTasks) set(id string, steps ...step) *fakeTasks {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[id] = steps
	return f
}

func (f *fakeTasks) gated() *fakeTasks {
	f.gate = make(chan struct{})
	f.entered = make(chan string, 16)
	return f
}

func (f *fakeTasks) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	f.mu.Lock()
	f.gets[taskID]++
	f.mu.Unlock()

	if f.gate != nil {
		select {
		case f.entered <- taskID:
		default:
		}
		if f.ignoreCtx {
			<-f.gate
		} else {
			select {
			case <-f.gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	steps := f.script[taskID]
	if len(steps) == 0 {
		return nil, &shared.ServerRejectedError{StatusCode: 404, Detail: "Task not found"}
	}
	s := steps[0]
	if len(steps) > 1 {
		f.script[taskID] = steps[1:]
	}
	if s.err != nil {
		return nil, s.err
	}

	task := s.task.Clone()
	if task.ID == "" {
		task.ID = taskID
	}
	return &task, nil
}

func (f *fakeTasks) CancelTask(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, taskID)
	return f.cancelErr
}

func (f *fakeTasks) cancelled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.cancels)
}

// callbacks records every callback a session fires.
type callbacks struct {
	mu      sync.Mutex
	updates []models.Task
	results []map[string]string
	errs    []error
}

func (c *callbacks) options() TrackOptions {
	return TrackOptions{
		PollInterval: testInterval,
		OnUpdate: func(task models.Task) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.updates = append(c.updates, task)
		},
		OnComplete: func(result map[string]string) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.results = append(c.results, result)
		},
		OnError: func(err error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.errs = append(c.errs, err)
		},
	}
}

func (c *callbacks) counts() (updates, completes, errs int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.updates), len(c.results), len(c.errs)
}

func waitEntered(t *testing.T, f *fakeTasks) {
	t.Helper()
	select {
	case <-f.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a poll")
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session %s did not finish", s.ID())
	}
}

func TestOrchestrator(t *testing.T) {
	stems := map[string]string{"vocals": "f2", "drums": "f3", "bass": "f4", "other": "f5"}

	t.Run("Completes And Reports Progress", func(t *testing.T) {
		client := newFakeTasks().set("t1",
			step{task: models.Task{Status: models.StatusProcessing, Progress: 0.1, Message: "Separating stems..."}},
			snapshot(models.StatusProcessing, 0.6),
			completed(stems),
		)
		orch := NewOrchestrator(client, nil)
		cb := &callbacks{}

		task, err := orch.Await(context.Background(), "t1", cb.options())
		if err != nil {
			t.Fatalf("Await failed: %v", err)
		}
		if task.Status != models.StatusCompleted || len(task.Result) != 4 {
			t.Errorf("unexpected final task %+v", task)
		}

		updates, completes, errs := cb.counts()
		if updates != 2 || completes != 1 || errs != 0 {
			t.Errorf("expected 2 updates, 1 completion and no errors, got %d/%d/%d", updates, completes, errs)
		}
		if cb.updates[0].Message != "Separating stems..." || cb.updates[1].Progress != 0.6 {
			t.Errorf("unexpected updates %+v", cb.updates)
		}
		if cb.results[0]["vocals"] != "f2" {
			t.Errorf("unexpected result %v", cb.results[0])
		}
		if active := orch.Active(); len(active) != 0 {
			t.Errorf("expected no active sessions, got %v", active)
		}
	})

	t.Run("Failed Task", func(t *testing.T) {
		tc := []struct {
			name   string
			reason string
			want   string
		}{
			{"with reason", "Separation failed: out of memory", "Separation failed: out of memory"},
			{"without reason", "", "Processing failed"},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				client := newFakeTasks().set("t1",
					snapshot(models.StatusProcessing, 0.4),
					step{task: models.Task{Status: models.StatusFailed, Progress: 0.4, Error: tt.reason}},
				)
				cb := &callbacks{}

				task, err := NewOrchestrator(client, nil).Await(context.Background(), "t1", cb.options())
				if !errors.Is(err, shared.ErrTaskFailed) {
					t.Fatalf("expected ErrTaskFailed, got %v", err)
				}

				var failed *shared.TaskFailedError
				if !errors.As(err, &failed) || failed.Reason != tt.want {
					t.Errorf("expected reason %q, got %v", tt.want, err)
				}
				if task.Status != models.StatusFailed {
					t.Errorf("expected failed snapshot, got %s", task.Status)
				}
				if _, completes, errs := cb.counts(); completes != 0 || errs != 1 {
					t.Errorf("expected exactly one error callback, got %d completes / %d errors", completes, errs)
				}
			})
		}
	})

	t.Run("Transport Error Ends Tracking", func(t *testing.T) {
		client := newFakeTasks().set("t1",
			snapshot(models.StatusProcessing, 0.2),
			step{err: &shared.TransportError{Op: "get task", Err: errors.New("connection refused")}},
			completed(stems),
		)
		cb := &callbacks{}

		task, err := NewOrchestrator(client, nil).Await(context.Background(), "t1", cb.options())
		if !errors.Is(err, shared.ErrTransport) {
			t.Fatalf("expected ErrTransport, got %v", err)
		}
		if task.Progress != 0.2 {
			t.Errorf("expected last good snapshot to survive, got %+v", task)
		}
		if client.gets["t1"] != 2 {
			t.Errorf("expected polling to stop after the failure, got %d polls", client.gets["t1"])
		}
		if _, _, errs := cb.counts(); errs != 1 {
			t.Errorf("expected one error callback, got %d", errs)
		}
	})

	t.Run("Server Rejection Ends Tracking", func(t *testing.T) {
		client := newFakeTasks()
		_, err := NewOrchestrator(client, nil).Await(context.Background(), "missing", TrackOptions{PollInterval: testInterval})
		if !errors.Is(err, shared.ErrServerRejected) {
			t.Errorf("expected ErrServerRejected, got %v", err)
		}
	})

	t.Run("Protocol Violations", func(t *testing.T) {
		tc := []struct {
			name  string
			steps []step
		}{
			{"unknown status", []step{snapshot("exploded", 0.1)}},
			{"status regression", []step{snapshot(models.StatusProcessing, 0.3), snapshot(models.StatusPending, 0.3)}},
			{"completed without result", []step{snapshot(models.StatusCompleted, 1)}},
			{"progress out of range", []step{snapshot(models.StatusProcessing, 1.5)}},
			{"result before completion", []step{{task: models.Task{Status: models.StatusProcessing, Result: stems}}}},
			{"mismatched id", []step{{task: models.Task{ID: "t2", Status: models.StatusProcessing}}}},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				client := newFakeTasks().set("t1", tt.steps...)
				cb := &callbacks{}

				_, err := NewOrchestrator(client, nil).Await(context.Background(), "t1", cb.options())
				if !errors.Is(err, shared.ErrProtocolViolation) {
					t.Fatalf("expected ErrProtocolViolation, got %v", err)
				}
				if _, completes, errs := cb.counts(); completes != 0 || errs != 1 {
					t.Errorf("expected a single error callback, got %d completes / %d errors", completes, errs)
				}
			})
		}
	})

	t.Run("Cancelled On Server", func(t *testing.T) {
		client := newFakeTasks().set("t1",
			snapshot(models.StatusProcessing, 0.3),
			snapshot(models.StatusCancelled, 0.3),
		)

		_, err := NewOrchestrator(client, nil).Await(context.Background(), "t1", TrackOptions{PollInterval: testInterval})
		if !errors.Is(err, shared.ErrTaskCancelled) {
			t.Errorf("expected ErrTaskCancelled, got %v", err)
		}
	})

	t.Run("Progress Never Decreases", func(t *testing.T) {
		client := newFakeTasks().set("t1",
			snapshot(models.StatusProcessing, 0.6),
			snapshot(models.StatusProcessing, 0.3),
			snapshot(models.StatusProcessing, 0.7),
			completed(stems),
		)
		cb := &callbacks{}

		if _, err := NewOrchestrator(client, nil).Await(context.Background(), "t1", cb.options()); err != nil {
			t.Fatalf("Await failed: %v", err)
		}

		var got []float64
		for _, u := range cb.updates {
			got = append(got, u.Progress)
		}
		if want := []float64{0.6, 0.6, 0.7}; !slices.Equal(got, want) {
			t.Errorf("expected progress %v, got %v", want, got)
		}
	})

	t.Run("Cancel During In-Flight Poll Fires No Callbacks", func(t *testing.T) {
		client := newFakeTasks().set("t1", completed(stems)).gated()
		orch := NewOrchestrator(client, nil)
		cb := &callbacks{}

		s, err := orch.Track(context.Background(), "t1", cb.options())
		if err != nil {
			t.Fatalf("Track failed: %v", err)
		}
		waitEntered(t, client)

		if err := orch.Cancel(context.Background(), "t1"); err != nil {
			t.Fatalf("Cancel failed: %v", err)
		}
		close(client.gate)
		waitDone(t, s)

		if updates, completes, errs := cb.counts(); updates+completes+errs != 0 {
			t.Errorf("expected no callbacks after cancel, got %d/%d/%d", updates, completes, errs)
		}
		if !errors.Is(s.Err(), shared.ErrTrackingStopped) {
			t.Errorf("expected ErrTrackingStopped, got %v", s.Err())
		}
		if got := client.cancelled(); !slices.Equal(got, []string{"t1"}) {
			t.Errorf("expected one remote cancel, got %v", got)
		}
		if _, ok := orch.Session("t1"); ok {
			t.Error("cancelled session should not be registered")
		}
	})

	t.Run("Completed Response Arriving After Cancel Is Discarded", func(t *testing.T) {
		client := newFakeTasks().set("t1", completed(stems)).gated()
		client.ignoreCtx = true
		orch := NewOrchestrator(client, nil)
		cb := &callbacks{}

		s, err := orch.Track(context.Background(), "t1", cb.options())
		if err != nil {
			t.Fatalf("Track failed: %v", err)
		}
		waitEntered(t, client)

		if err := orch.Cancel(context.Background(), "t1"); err != nil {
			t.Fatalf("Cancel failed: %v", err)
		}
		// The in-flight poll now returns a completed snapshot despite its cancelled context.
		close(client.gate)
		waitDone(t, s)

		if updates, completes, errs := cb.counts(); updates+completes+errs != 0 {
			t.Errorf("expected the late completion to be dropped, got %d/%d/%d", updates, completes, errs)
		}
		if !errors.Is(s.Err(), shared.ErrTrackingStopped) {
			t.Errorf("expected ErrTrackingStopped, got %v", s.Err())
		}
		if got := client.cancelled(); !slices.Equal(got, []string{"t1"}) {
			t.Errorf("expected one remote cancel, got %v", got)
		}
	})

	t.Run("Cancel After Completion Is A No-Op", func(t *testing.T) {
		client := newFakeTasks().set("t1", completed(stems))
		orch := NewOrchestrator(client, nil)

		if _, err := orch.Await(context.Background(), "t1", TrackOptions{PollInterval: testInterval}); err != nil {
			t.Fatalf("Await failed: %v", err)
		}
		if err := orch.Cancel(context.Background(), "t1"); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
		if got := client.cancelled(); len(got) != 0 {
			t.Errorf("expected no remote cancel, got %v", got)
		}
	})

	t.Run("Remote Cancel Failure Still Stops Tracking", func(t *testing.T) {
		client := newFakeTasks().set("t1", snapshot(models.StatusProcessing, 0.1)).gated()
		client.cancelErr = &shared.ServerRejectedError{StatusCode: 400, Detail: "Task not found or already completed"}
		orch := NewOrchestrator(client, nil)

		s, err := orch.Track(context.Background(), "t1", TrackOptions{PollInterval: testInterval})
		if err != nil {
			t.Fatalf("Track failed: %v", err)
		}
		waitEntered(t, client)

		err = orch.Cancel(context.Background(), "t1")
		if !errors.Is(err, shared.ErrServerRejected) {
			t.Errorf("expected the remote error, got %v", err)
		}
		waitDone(t, s)
		if active := orch.Active(); len(active) != 0 {
			t.Errorf("expected no active sessions, got %v", active)
		}
	})

	t.Run("Dispose Is Idempotent", func(t *testing.T) {
		client := newFakeTasks().set("t1", snapshot(models.StatusProcessing, 0.1)).gated()
		orch := NewOrchestrator(client, nil)
		cb := &callbacks{}

		s, err := orch.Track(context.Background(), "t1", cb.options())
		if err != nil {
			t.Fatalf("Track failed: %v", err)
		}
		waitEntered(t, client)

		orch.Dispose("t1")
		orch.Dispose("t1")
		orch.Dispose("never-tracked")
		waitDone(t, s)

		if got := client.cancelled(); len(got) != 0 {
			t.Errorf("dispose must not contact the backend, got %v", got)
		}
		if updates, completes, errs := cb.counts(); updates+completes+errs != 0 {
			t.Errorf("expected no callbacks after dispose, got %d/%d/%d", updates, completes, errs)
		}
	})

	t.Run("Tracks Tasks Independently", func(t *testing.T) {
		client := newFakeTasks().
			set("t1", snapshot(models.StatusProcessing, 0.5), completed(map[string]string{"vocals": "a"})).
			set("t2", snapshot(models.StatusProcessing, 0.2), step{task: models.Task{Status: models.StatusFailed, Error: "boom"}}).
			set("t3", snapshot(models.StatusProcessing, 0.9), completed(map[string]string{"audio": "c"}))
		orch := NewOrchestrator(client, nil)

		sessions := map[string]*Session{}
		for _, id := range []string{"t1", "t2", "t3"} {
			s, err := orch.Track(context.Background(), id, TrackOptions{PollInterval: testInterval})
			if err != nil {
				t.Fatalf("Track(%s) failed: %v", id, err)
			}
			sessions[id] = s
		}
		for _, s := range sessions {
			waitDone(t, s)
		}

		if err := sessions["t1"].Err(); err != nil {
			t.Errorf("t1: expected success, got %v", err)
		}
		if err := sessions["t2"].Err(); !errors.Is(err, shared.ErrTaskFailed) {
			t.Errorf("t2: expected failure, got %v", err)
		}
		if got := sessions["t3"].Task().Result["audio"]; got != "c" {
			t.Errorf("t3: expected its own result, got %q", got)
		}
	})

	t.Run("Rejects Duplicate Tracking", func(t *testing.T) {
		client := newFakeTasks().set("t1", snapshot(models.StatusProcessing, 0.1)).gated()
		orch := NewOrchestrator(client, nil)
		t.Cleanup(orch.Shutdown)

		if _, err := orch.Track(context.Background(), "t1", TrackOptions{}); err != nil {
			t.Fatalf("Track failed: %v", err)
		}
		if _, err := orch.Track(context.Background(), "t1", TrackOptions{}); !errors.Is(err, shared.ErrAlreadyTracked) {
			t.Errorf("expected ErrAlreadyTracked, got %v", err)
		}
		if _, err := orch.Track(context.Background(), "", TrackOptions{}); !errors.Is(err, shared.ErrValidation) {
			t.Errorf("expected ErrValidation for empty id, got %v", err)
		}
	})

	t.Run("Context Cancellation Stops Silently", func(t *testing.T) {
		client := newFakeTasks().set("t1", snapshot(models.StatusProcessing, 0.1)).gated()
		orch := NewOrchestrator(client, nil)
		cb := &callbacks{}

		ctx, cancel := context.WithCancel(context.Background())
		s, err := orch.Track(ctx, "t1", cb.options())
		if err != nil {
			t.Fatalf("Track failed: %v", err)
		}
		waitEntered(t, client)

		cancel()
		waitDone(t, s)

		if !errors.Is(s.Err(), shared.ErrTrackingStopped) {
			t.Errorf("expected ErrTrackingStopped, got %v", s.Err())
		}
		if updates, completes, errs := cb.counts(); updates+completes+errs != 0 {
			t.Errorf("expected no callbacks, got %d/%d/%d", updates, completes, errs)
		}
		if active := orch.Active(); len(active) != 0 {
			t.Errorf("expected no active sessions, got %v", active)
		}
	})

	t.Run("Callbacks May Re-Enter", func(t *testing.T) {
		client := newFakeTasks().set("t1", snapshot(models.StatusProcessing, 0.1), completed(stems))
		orch := NewOrchestrator(client, nil)

		s, err := orch.Track(context.Background(), "t1", TrackOptions{
			PollInterval: testInterval,
			OnUpdate: func(models.Task) {
				orch.Dispose("t1")
			},
		})
		if err != nil {
			t.Fatalf("Track failed: %v", err)
		}
		waitDone(t, s)

		if !errors.Is(s.Err(), shared.ErrTrackingStopped) {
			t.Errorf("expected dispose from a callback to stop tracking, got %v", s.Err())
		}
	})
}
