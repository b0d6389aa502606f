package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/stemx/internal/services"
	"github.com/desertthunder/stemx/internal/shared"
	"github.com/desertthunder/stemx/internal/tasks"
	"github.com/desertthunder/stemx/internal/ui"
	"github.com/urfave/cli/v3"
)

// TUI launches the interactive terminal UI for processing a file.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger(cmd.String("log-file"))
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	fileLogger.SetLevel(r.logger.GetLevel())
	r.SetLogger(fileLogger)

	client := services.NewClientFromConfig(r.config.Server, fileLogger)
	engine := tasks.NewJobEngine(client, fileLogger)
	if r.history != nil {
		engine.SetHistory(r.history)
	}
	defer engine.Orchestrator().Shutdown()

	model := ui.NewModel(ctx, engine, client, ui.Options{
		MaxBytes:          r.config.Upload.MaxBytes(),
		AllowedExtensions: r.config.Upload.AllowedExtensions,
		PollInterval:      r.config.Tasks.PollInterval(),
		Download: tasks.DownloadOpts{
			OutputDir:  r.config.Downloads.OutputDir,
			NumWorkers: r.config.Downloads.Workers,
			RateLimit:  r.config.Downloads.RateLimit,
		},
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}

// tuiCommand returns the top-level TUI command.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Launch the interactive TUI",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Where to write logs while the TUI is running",
				Value: "./tmp/stemx-tui.log",
			},
		},
		Action: r.TUI,
	}
}
