package tasks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/shared"
)

// DefaultPollInterval is used when [TrackOptions.PollInterval] is not set.
const DefaultPollInterval = time.Second

const failedWithoutReason = "Processing failed"

// TaskClient is the part of the backend the [Orchestrator] talks to.
type TaskClient interface {
	GetTask(ctx context.Context, taskID string) (*models.Task, error)
	CancelTask(ctx context.Context, taskID string) error
}

// TrackOptions configures one tracked task. All callbacks are optional.
//
// Callbacks for a session run sequentially on that session's goroutine and never while the
// orchestrator lock is held, so they may call back into the [Orchestrator].
type TrackOptions struct {
	PollInterval time.Duration
	OnUpdate     func(task models.Task)
	OnComplete   func(result map[string]string)
	OnError      func(err error)
}

// Session is the local state of one tracked task.
type Session struct {
	id       string
	interval time.Duration
	opts     TrackOptions
	cancel   context.CancelFunc
	done     chan struct{}

	mu   sync.Mutex
	task models.Task
	err  error
}

// ID returns the tracked task id.
func (s *Session) ID() string { return s.id }

// Task returns a copy of the latest snapshot.
func (s *Session) Task() models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task.Clone()
}

// Done is closed once the session's poll loop has exited and its callbacks have run.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the terminal outcome once Done is closed: nil for a completed task,
// [shared.ErrTrackingStopped] when tracking was cancelled or disposed locally.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Wait blocks until the session ends or ctx is done and returns the last snapshot and outcome.
func (s *Session) Wait(ctx context.Context) (models.Task, error) {
	select {
	case <-s.done:
		return s.Task(), s.Err()
	case <-ctx.Done():
		return s.Task(), ctx.Err()
	}
}

func (s *Session) setTask(task models.Task) {
	s.mu.Lock()
	s.task = task
	s.mu.Unlock()
}

func (s *Session) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Orchestrator polls server-side tasks until they finish, fail or are cancelled.
//
// Each tracked task gets its own [Session] with an independent goroutine, ticker and snapshot.
// The sessions map is the single source of truth: a poll response is applied only if its
// session is still the registered one for that id.
type Orchestrator struct {
	client TaskClient
	logger *log.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewOrchestrator creates an [Orchestrator] using client. A nil logger discards output.
func NewOrchestrator(client TaskClient, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &Orchestrator{
		client:   client,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Track starts polling taskID: once immediately, then every PollInterval until a terminal state.
//
// Tracking also stops, without callbacks, when ctx is done.
func (o *Orchestrator) Track(ctx context.Context, taskID string, opts TrackOptions) (*Session, error) {
	if taskID == "" {
		return nil, shared.NewValidationError("task_id", "a task id is required")
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	o.mu.Lock()
	if _, ok := o.sessions[taskID]; ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", shared.ErrAlreadyTracked, taskID)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:       taskID,
		interval: interval,
		opts:     opts,
		cancel:   cancel,
		done:     make(chan struct{}),
		task:     models.NewPendingTask(taskID),
	}
	o.sessions[taskID] = s
	o.mu.Unlock()

	o.logger.Debug("tracking task", "task_id", taskID, "interval", interval)
	go o.run(sctx, s)
	return s, nil
}

// Cancel stops tracking taskID locally and then asks the backend to cancel it.
//
// Local teardown always happens, even when the remote request fails; that request's error is
// returned. Cancelling an id that is not tracked, including one that already reached a terminal
// state, is a no-op that contacts nobody.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) error {
	if !o.stop(taskID) {
		return nil
	}

	o.logger.Info("cancelling task", "task_id", taskID)
	if err := o.client.CancelTask(ctx, taskID); err != nil {
		o.logger.Warn("remote cancel failed", "task_id", taskID, "error", err)
		return err
	}
	return nil
}

// Dispose stops tracking taskID without contacting the backend. It is idempotent.
func (o *Orchestrator) Dispose(taskID string) {
	if o.stop(taskID) {
		o.logger.Debug("disposed task", "task_id", taskID)
	}
}

// Shutdown disposes every tracked task.
func (o *Orchestrator) Shutdown() {
	for _, id := range o.Active() {
		o.Dispose(id)
	}
}

// Active returns the ids currently tracked, sorted.
func (o *Orchestrator) Active() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	ids := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Session returns the live session for taskID.
func (o *Orchestrator) Session(taskID string) (*Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[taskID]
	return s, ok
}

// stop unregisters the session for taskID and cancels its loop. It reports whether one existed.
func (o *Orchestrator) stop(taskID string) bool {
	o.mu.Lock()
	s, ok := o.sessions[taskID]
	if ok {
		delete(o.sessions, taskID)
		s.finish(shared.ErrTrackingStopped)
	}
	o.mu.Unlock()

	if ok {
		s.cancel()
	}
	return ok
}

func (o *Orchestrator) run(ctx context.Context, s *Session) {
	defer close(s.done)
	defer s.cancel()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if o.poll(ctx, s) {
			return
		}

		select {
		case <-ctx.Done():
			o.release(s)
			return
		case <-ticker.C:
		}
	}
}

// release unregisters s after its context ended, if it is still the active session.
func (o *Orchestrator) release(s *Session) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sessions[s.id] == s {
		delete(o.sessions, s.id)
		s.finish(shared.ErrTrackingStopped)
		o.logger.Debug("tracking context ended", "task_id", s.id)
	}
}

type pollResult int

const (
	pollContinue pollResult = iota
	pollCompleted
	pollFailed
)

// poll performs one status fetch and applies it. It returns true when the loop must exit.
func (o *Orchestrator) poll(ctx context.Context, s *Session) bool {
	fetched, fetchErr := o.client.GetTask(ctx, s.id)

	o.mu.Lock()
	if o.sessions[s.id] != s {
		// Cancelled or disposed while the request was in flight.
		o.mu.Unlock()
		o.logger.Debug("discarding stale poll response", "task_id", s.id)
		return true
	}
	if fetchErr != nil && ctx.Err() != nil {
		delete(o.sessions, s.id)
		s.finish(shared.ErrTrackingStopped)
		o.mu.Unlock()
		return true
	}

	outcome, task, err := o.apply(s, fetched, fetchErr)
	if outcome != pollContinue {
		delete(o.sessions, s.id)
		s.finish(err)
	}
	o.mu.Unlock()

	switch outcome {
	case pollCompleted:
		o.logger.Info("task completed", "task_id", s.id, "outputs", len(task.Result))
		if s.opts.OnComplete != nil {
			s.opts.OnComplete(task.Clone().Result)
		}
	case pollFailed:
		o.logger.Warn("task ended with error", "task_id", s.id, "error", err)
		if s.opts.OnError != nil {
			s.opts.OnError(err)
		}
	default:
		o.logger.Debug("task progress", "task_id", s.id, "status", task.Status, "progress", task.Progress)
		if s.opts.OnUpdate != nil {
			s.opts.OnUpdate(task.Clone())
		}
	}
	return outcome != pollContinue
}

// apply validates a poll response against the previous snapshot and replaces the snapshot.
// Must be called with o.mu held.
func (o *Orchestrator) apply(s *Session, fetched *models.Task, fetchErr error) (pollResult, models.Task, error) {
	prev := s.Task()

	if fetchErr != nil {
		return pollFailed, prev, fetchErr
	}
	if fetched == nil {
		return pollFailed, prev, fmt.Errorf("%w: task %s: empty response", shared.ErrProtocolViolation, s.id)
	}

	task := fetched.Clone()
	if task.ID != "" && task.ID != s.id {
		return pollFailed, prev, fmt.Errorf("%w: asked for task %s, got %s", shared.ErrProtocolViolation, s.id, task.ID)
	}
	task.ID = s.id

	if err := task.CheckConsistency(); err != nil {
		return pollFailed, prev, fmt.Errorf("%w: task %s: %v", shared.ErrProtocolViolation, s.id, err)
	}
	if !prev.Status.CanTransition(task.Status) {
		return pollFailed, prev, fmt.Errorf("%w: task %s went from %s to %s",
			shared.ErrProtocolViolation, s.id, prev.Status, task.Status)
	}

	if !task.Status.Terminal() && task.Progress < prev.Progress {
		task.Progress = prev.Progress
	}
	s.setTask(task)

	switch task.Status {
	case models.StatusCompleted:
		return pollCompleted, task, nil
	case models.StatusFailed:
		reason := task.Error
		if reason == "" {
			reason = failedWithoutReason
		}
		return pollFailed, task, &shared.TaskFailedError{TaskID: s.id, Reason: reason}
	case models.StatusCancelled:
		return pollFailed, task, fmt.Errorf("%w: task %s was cancelled on the server", shared.ErrTaskCancelled, s.id)
	default:
		return pollContinue, task, nil
	}
}

// Await tracks taskID and blocks until it reaches a terminal state or ctx is done.
//
// OnComplete and OnError in opts still fire; the outcome is also returned.
func (o *Orchestrator) Await(ctx context.Context, taskID string, opts TrackOptions) (models.Task, error) {
	s, err := o.Track(ctx, taskID, opts)
	if err != nil {
		return models.Task{}, err
	}

	task, err := s.Wait(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		o.Dispose(taskID)
	}
	return task, err
}
