package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/desertthunder/stemx/internal/formatter"
	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/shared"
	"github.com/desertthunder/stemx/internal/tasks"
	"github.com/urfave/cli/v3"
)

func fileID(cmd *cli.Command) (string, error) {
	id := cmd.StringArg("id")
	if id == "" {
		return "", fmt.Errorf("%w: file id is required", shared.ErrMissingArgument)
	}
	return id, nil
}

func directory(cmd *cli.Command) (models.Directory, error) {
	dir := models.Directory(cmd.String("directory"))
	if !dir.Valid() {
		return "", fmt.Errorf("%w: directory must be 'upload' or 'processed', got %q", shared.ErrInvalidArgument, dir)
	}
	return dir, nil
}

// FilesInfo prints the metadata of a stored file.
func (r *Runner) FilesInfo(ctx context.Context, cmd *cli.Command) error {
	id, err := fileID(cmd)
	if err != nil {
		return err
	}

	file, err := r.client.GetFileInfo(ctx, id)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(file, cmd.Bool("pretty"))
	}
	return r.writeBytes(formatter.AudioFileToText(file))
}

// FilesURL prints the download address of a resource.
func (r *Runner) FilesURL(ctx context.Context, cmd *cli.Command) error {
	id, err := fileID(cmd)
	if err != nil {
		return err
	}
	dir, err := directory(cmd)
	if err != nil {
		return err
	}
	return r.writePlain("%s\n", r.resourceURL(id, dir))
}

// FilesOpen opens a resource in the default browser.
func (r *Runner) FilesOpen(ctx context.Context, cmd *cli.Command) error {
	id, err := fileID(cmd)
	if err != nil {
		return err
	}
	dir, err := directory(cmd)
	if err != nil {
		return err
	}

	url := r.resourceURL(id, dir)
	r.logger.Info("opening in browser", "url", url)
	if err := shared.OpenBrowser(url); err != nil {
		r.writePlain("Could not open a browser. Visit:\n%s\n", url)
		return err
	}
	return r.writePlain("✓ Opened %s\n", url)
}

func (r *Runner) resourceURL(id string, dir models.Directory) string {
	if dir == models.DirectoryProcessed {
		return r.client.ProcessedURL(id)
	}
	return r.client.DownloadURL(id, dir)
}

// FilesDownload saves a stored resource to disk.
func (r *Runner) FilesDownload(ctx context.Context, cmd *cli.Command) error {
	id, err := fileID(cmd)
	if err != nil {
		return err
	}
	dir, err := directory(cmd)
	if err != nil {
		return err
	}

	path := cmd.String("output")
	if path == "" {
		path = tasks.StemFileName(id)
	}

	r.logger.Info("downloading file", "file_id", id, "directory", dir, "path", path)

	body, err := r.client.Download(ctx, id, dir)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return r.writePlain("✓ Saved %s (%s)\n", path, shared.FormatBytes(n))
}

// FilesDelete removes a stored file from the backend and marks it deleted in the history.
func (r *Runner) FilesDelete(ctx context.Context, cmd *cli.Command) error {
	id, err := fileID(cmd)
	if err != nil {
		return err
	}

	r.logger.Info("deleting file", "file_id", id)

	if err := r.client.DeleteFile(ctx, id); err != nil {
		return err
	}

	if r.history != nil {
		if err := r.history.Forget(id); err != nil {
			r.logger.Warn("failed to update history", "file_id", id, "error", err)
		}
	}
	return r.writePlain("✓ Deleted %s\n", id)
}

// filesCommand handles stored file operations
func filesCommand(r *Runner) *cli.Command {
	idArg := []cli.Argument{
		&cli.StringArg{
			Name: "id",
		},
	}
	directoryFlag := func(value string) cli.Flag {
		return &cli.StringFlag{
			Name:    "directory",
			Aliases: []string{"d"},
			Usage:   "Storage area of the resource (upload or processed)",
			Value:   value,
		}
	}

	return &cli.Command{
		Name:    "files",
		Aliases: []string{"file"},
		Usage:   "Inspect, fetch and delete stored files",
		Commands: []*cli.Command{
			{
				Name:      "info",
				Usage:     "Show metadata of an uploaded file",
				Arguments: idArg,
				Flags:     []cli.Flag{jsonFlag(), prettyFlag()},
				Action:    r.FilesInfo,
			},
			{
				Name:      "url",
				Usage:     "Print the download URL of a file",
				Arguments: idArg,
				Flags:     []cli.Flag{directoryFlag(string(models.DirectoryProcessed))},
				Action:    r.FilesURL,
			},
			{
				Name:      "open",
				Usage:     "Play a file in the browser",
				Arguments: idArg,
				Flags:     []cli.Flag{directoryFlag(string(models.DirectoryProcessed))},
				Action:    r.FilesOpen,
			},
			{
				Name:      "download",
				Usage:     "Save a file to disk",
				Arguments: idArg,
				Flags: []cli.Flag{
					directoryFlag(string(models.DirectoryProcessed)),
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path (default: <id>.mp3)",
					},
				},
				Action: r.FilesDownload,
			},
			{
				Name:      "delete",
				Usage:     "Delete an uploaded file from the backend",
				Arguments: idArg,
				Action:    r.FilesDelete,
			},
		},
	}
}
