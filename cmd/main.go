package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/stemx/internal/repositories"
	"github.com/desertthunder/stemx/internal/services"
	"github.com/desertthunder/stemx/internal/shared"
	"github.com/urfave/cli/v3"
)

const envConfigPath = "STEMX_CONFIG"

func main() {
	logger := shared.NewLogger(nil)

	configPath := "config.toml"
	if v := os.Getenv(envConfigPath); v != "" {
		configPath = v
	}

	config, err := shared.LoadConfig(configPath)
	if err != nil {
		if !errors.Is(err, shared.ErrMissingConfig) {
			logger.Warn("ignoring invalid config", "path", configPath, "error", err)
		}
		config = shared.DefaultConfig()
	}
	config.ApplyEnv()

	var history *repositories.History
	if db, err := shared.OpenHistory(config.Database); err == nil {
		defer db.Close()
		history = repositories.NewHistory(db)
	} else {
		logger.Warn("history disabled", "error", err)
	}

	runner := NewRunner(RunnerOpts{
		Config:     config,
		ConfigPath: configPath,
		Client:     services.NewClientFromConfig(config.Server, logger),
		History:    history,
		Logger:     logger,
	})

	app := &cli.Command{
		Name:    "stemx",
		Usage:   "Separate, transpose and retime audio on a stem processing backend",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if cmd.Bool("verbose") {
				shared.SetLogLevel(logger, log.DebugLevel)
			}
			return ctx, nil
		},
		Commands: runner.register(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		switch {
		case errors.Is(err, shared.ErrNotImplemented):
			logger.Warn("not implemented")
		case errors.Is(err, context.Canceled), errors.Is(err, shared.ErrTrackingStopped):
			logger.Warn("interrupted")
		default:
			logger.Error(shared.UserMessage(err), "error", err)
			logger.Info(failureHint(err))
			stop()
			os.Exit(1)
		}
	}
}

// failureHint tells the user whether running the same command again could help.
func failureHint(err error) string {
	if shared.IsRetryable(err) {
		return "The request may succeed if you try again."
	}
	return "Fix the parameters and run the command again."
}
