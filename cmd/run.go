package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/desertthunder/stemx/internal/formatter"
	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/services"
	"github.com/desertthunder/stemx/internal/shared"
	"github.com/desertthunder/stemx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// buildRequest turns the transform flags into a validated request.
func buildRequest(cmd *cli.Command) (models.TransformRequest, error) {
	op, err := models.ParseOperation(cmd.String("op"))
	if err != nil {
		return nil, err
	}

	var req models.TransformRequest
	switch op {
	case models.OpSeparate:
		req = models.NewSeparation(cmd.String("model"), cmd.Int("stems"))
	case models.OpTranspose:
		req = models.Transpose{Semitones: cmd.Int("semitones")}
	case models.OpTempo:
		req = models.Tempo{Factor: cmd.Float("factor")}
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// openSource runs the configured pre-filter and opens path for upload.
func (r *Runner) openSource(path string) (services.UploadSource, error) {
	if path == "" {
		return services.UploadSource{}, fmt.Errorf("%w: file path is required", shared.ErrMissingArgument)
	}

	info, err := os.Stat(path)
	if err != nil {
		return services.UploadSource{}, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if !info.IsDir() {
		if err := services.ValidateUploadCandidate(filepath.Base(path), info.Size(),
			r.config.Upload.MaxBytes(), r.config.Upload.AllowedExtensions); err != nil {
			return services.UploadSource{}, err
		}
	}
	return services.OpenUploadSource(path)
}

// Upload sends a local audio file to the backend and prints its descriptor.
func (r *Runner) Upload(ctx context.Context, cmd *cli.Command) error {
	src, err := r.openSource(cmd.StringArg("file"))
	if err != nil {
		return err
	}
	defer src.Close()

	r.logger.Info("uploading file", "name", src.Name, "size", src.Size)

	lastStep := -1
	file, err := services.NewUploader(r.client).Upload(ctx, src, func(fraction float64) {
		if step := int(fraction * 10); step != lastStep {
			lastStep = step
			r.writePlain("📤 Uploading %s... %s\n", src.Name, shared.FormatPercent(fraction))
		}
	})
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	if r.history != nil {
		if err := r.history.RecordUpload(*file); err != nil {
			r.logger.Warn("failed to record upload", "file_id", file.ID, "error", err)
		}
	}

	if cmd.Bool("json") {
		return r.writeJSON(file, cmd.Bool("pretty"))
	}

	r.writePlain("\n✓ Upload complete\n\n")
	return r.writeBytes(formatter.AudioFileToText(file))
}

// Run uploads a file, submits a transformation, tracks it to completion and optionally downloads the outputs.
//
// With --file-id the upload is skipped and the stored file is processed instead.
func (r *Runner) Run(ctx context.Context, cmd *cli.Command) error {
	req, err := buildRequest(cmd)
	if err != nil {
		return err
	}

	opts := tasks.ProcessOpts{
		Request:      req,
		PollInterval: r.config.Tasks.PollInterval(),
		Download:     cmd.Bool("download"),
	}
	if opts.Download {
		outputDir := cmd.String("output")
		if outputDir == "" {
			outputDir = r.config.Downloads.OutputDir
		}
		if opts.DownloadOpts, err = r.downloadOpts(outputDir, cmd.String("format")); err != nil {
			return err
		}
	}

	progressCh := make(chan tasks.ProgressUpdate, 100)
	done := r.printProgress(progressCh)

	var result *tasks.RunResult
	if fileID := cmd.String("file-id"); fileID != "" {
		r.logger.Info("processing stored file", "file_id", fileID, "op", req.Kind())
		result, err = r.engine.Process(ctx, progressCh, fileID, opts)
	} else {
		var src services.UploadSource
		if src, err = r.openSource(cmd.StringArg("file")); err != nil {
			close(progressCh)
			<-done
			return err
		}
		defer src.Close()

		r.logger.Info("starting run", "file", src.Name, "op", req.Kind())
		result, err = r.engine.Run(ctx, progressCh, src, opts)
	}
	close(progressCh)
	<-done

	if err != nil {
		if result != nil && result.Job != nil {
			r.writePlain("\nTask: %s\n", result.Job.TaskID)
		}
		return err
	}

	r.writePlain("\n")
	r.writePlainHeader(fmt.Sprintf("%s complete", shared.TitleCase(string(req.Kind()))))
	if result.File != nil {
		r.writePlain("Source: %s (%s)\n", result.File.Filename, result.File.ID)
	}

	if err := r.writeBytes(formatter.TrackSetToText(result.Tracks, r.processedURL)); err != nil {
		return err
	}

	if d := result.Downloads; d != nil {
		r.writePlain("\nSaved %d/%d stems to %s\n", d.Successful, d.Total, d.OutputDirectory)
		if d.ListingPath != "" {
			r.writePlain("Listing:  %s\n", d.ListingPath)
		}
		r.writePlain("Manifest: %s\n", d.ManifestPath)
		if d.Failed > 0 {
			r.writePlain("\nFailed downloads:\n")
			for _, res := range d.Results {
				if !res.Success {
					r.writePlain("  - %s: %s\n", res.Track.Label, shared.UserMessage(res.Error))
				}
			}
		}
	}

	return nil
}

func uploadCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "upload",
		Usage: "Upload an audio file to the backend",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name: "file",
			},
		},
		Flags:  []cli.Flag{jsonFlag(), prettyFlag()},
		Action: r.Upload,
	}
}

// runCommand runs the full upload → submit → track pipeline
func runCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Upload a file, transform it and wait for the outputs",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name: "file",
			},
		},
		Flags: append(transformFlags(), &cli.StringFlag{
			Name:  "file-id",
			Usage: "Process a file already stored on the backend instead of uploading",
		}),
		Action: r.Run,
	}
}
