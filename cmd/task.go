package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/stemx/internal/formatter"
	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/shared"
	"github.com/desertthunder/stemx/internal/tasks"
	"github.com/urfave/cli/v3"
)

func taskID(cmd *cli.Command) (string, error) {
	id := cmd.StringArg("id")
	if id == "" {
		return "", fmt.Errorf("%w: task id is required", shared.ErrMissingArgument)
	}
	return id, nil
}

// TaskStatus fetches one snapshot of a task.
func (r *Runner) TaskStatus(ctx context.Context, cmd *cli.Command) error {
	id, err := taskID(cmd)
	if err != nil {
		return err
	}

	task, err := r.client.GetTask(ctx, id)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(task, cmd.Bool("pretty"))
	}
	if err := r.writeBytes(formatter.TaskToText(*task)); err != nil {
		return err
	}

	if task.Status == models.StatusCompleted {
		set, err := tasks.Materialize(*task)
		if err != nil {
			return err
		}
		r.writePlain("\n")
		return r.writeBytes(formatter.TrackSetToText(set, r.processedURL))
	}
	return nil
}

// TaskWatch tracks an existing task until it reaches a terminal state.
func (r *Runner) TaskWatch(ctx context.Context, cmd *cli.Command) error {
	id, err := taskID(cmd)
	if err != nil {
		return err
	}

	interval := cmd.Duration("interval")
	if interval <= 0 {
		interval = r.config.Tasks.PollInterval()
	}

	r.logger.Info("watching task", "task_id", id, "interval", interval)

	last := -1.0
	task, err := r.engine.Orchestrator().Await(ctx, id, tasks.TrackOptions{
		PollInterval: interval,
		OnUpdate: func(task models.Task) {
			if task.Progress == last {
				return
			}
			last = task.Progress
			msg := task.Message
			if msg == "" {
				msg = string(task.Status)
			}
			r.writePlain("⏳ [%s] %s\n", shared.FormatPercent(task.Progress), msg)
		},
	})
	if err != nil {
		return err
	}

	set, err := tasks.Materialize(task)
	if err != nil {
		return err
	}

	r.writePlain("\n✓ Task %s completed\n\n", id)
	return r.writeBytes(formatter.TrackSetToText(set, r.processedURL))
}

// TaskCancel asks the backend to cancel a task.
//
// This process does not track the task, so the request goes straight to the client.
func (r *Runner) TaskCancel(ctx context.Context, cmd *cli.Command) error {
	id, err := taskID(cmd)
	if err != nil {
		return err
	}

	r.logger.Info("cancelling task", "task_id", id)

	if err := r.client.CancelTask(ctx, id); err != nil {
		return err
	}
	return r.writePlain("✓ Cancellation requested for task %s\n", id)
}

// taskCommand handles task inspection and control
func taskCommand(r *Runner) *cli.Command {
	idArg := []cli.Argument{
		&cli.StringArg{
			Name: "id",
		},
	}

	return &cli.Command{
		Name:    "task",
		Aliases: []string{"tasks"},
		Usage:   "Inspect and control processing tasks",
		Commands: []*cli.Command{
			{
				Name:      "status",
				Usage:     "Show the current state of a task",
				Arguments: idArg,
				Flags:     []cli.Flag{jsonFlag(), prettyFlag()},
				Action:    r.TaskStatus,
			},
			{
				Name:      "watch",
				Usage:     "Poll a task until it completes, fails or is cancelled",
				Arguments: idArg,
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Polling interval (default: tasks.poll_interval_ms)",
					},
				},
				Action: r.TaskWatch,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a running task",
				Arguments: idArg,
				Action:    r.TaskCancel,
			},
		},
	}
}
