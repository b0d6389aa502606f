package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/stemx/internal/formatter"
	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/shared"
	"github.com/desertthunder/stemx/internal/tasks"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
)

type uploadJSON struct {
	models.AudioFile
	RecordedAt time.Time  `json:"recorded_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// HistoryList lists recorded uploads, newest first.
func (r *Runner) HistoryList(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireHistory(); err != nil {
		return err
	}

	uploads, err := r.history.Uploads().List(map[string]any{
		"filename":        cmd.String("filename"),
		"include_deleted": cmd.Bool("all"),
		"limit":           cmd.Int("limit"),
	})
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		out := make([]uploadJSON, 0, len(uploads))
		for _, u := range uploads {
			out = append(out, uploadJSON{AudioFile: u.File(), RecordedAt: u.CreatedAt(), DeletedAt: u.DeletedAt()})
		}
		return r.writeJSON(out, cmd.Bool("pretty"))
	}

	if len(uploads) == 0 {
		return r.writePlain("No uploads recorded\n")
	}

	r.writePlainHeader(fmt.Sprintf("Uploads (%d)", len(uploads)))
	for _, u := range uploads {
		file := u.File()
		r.writePlain("%-36s  %-32s  %9s  %s", file.ID, file.Filename,
			shared.FormatBytes(file.FileSizeBytes), humanize.Time(u.CreatedAt()))
		if u.IsDeleted() {
			r.writePlain("  (deleted)")
		}
		r.writePlain("\n")
	}
	return nil
}

// HistoryShow renders the recorded outputs of a task.
func (r *Runner) HistoryShow(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireHistory(); err != nil {
		return err
	}

	id, err := taskID(cmd)
	if err != nil {
		return err
	}
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	outputs, op, err := r.history.Outputs(id)
	if err != nil {
		return err
	}

	set, err := tasks.Materialize(models.Task{ID: id, Status: models.StatusCompleted, Result: outputs})
	if err != nil {
		return err
	}

	if cmd.Bool("download") {
		opts, err := r.downloadOpts(cmd.String("output"), string(format))
		if err != nil {
			return err
		}

		progressCh := make(chan tasks.ProgressUpdate, 50)
		done := r.printProgress(progressCh)
		result, err := r.engine.DownloadStems(ctx, progressCh, set, opts)
		close(progressCh)
		<-done
		if err != nil {
			return err
		}
		return r.writePlain("\nSaved %d/%d stems to %s\n", result.Successful, result.Total, result.OutputDirectory)
	}

	if path := cmd.String("save"); path != "" {
		written, err := formatter.WriteTrackSet(set, format, r.processedURL, path)
		if err != nil {
			return err
		}
		return r.writePlain("✓ Saved %s listing of task %s to %s\n", op, id, written)
	}

	data, err := formatter.RenderTrackSet(set, format, r.processedURL)
	if err != nil {
		return err
	}
	return r.writeBytes(data)
}

// historyCommand handles the local record of uploads and results
func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Browse locally recorded uploads and results",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List recorded uploads",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "filename",
						Usage: "Only show uploads whose name contains this text",
					},
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Include files deleted from the backend",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of uploads to show",
						Value: 50,
					},
					jsonFlag(),
					prettyFlag(),
				},
				Action: r.HistoryList,
			},
			{
				Name:  "show",
				Usage: "Show the recorded outputs of a task",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "id",
					},
				},
				Flags: []cli.Flag{
					formatFlag(),
					&cli.StringFlag{
						Name:  "save",
						Usage: "Write the listing to this file instead of stdout",
					},
					&cli.BoolFlag{
						Name:  "download",
						Usage: "Download the outputs",
					},
					outputDirFlag(),
				},
				Action: r.HistoryShow,
			},
		},
	}
}
