package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/stemx/internal/formatter"
	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/repositories"
	"github.com/desertthunder/stemx/internal/services"
	"github.com/desertthunder/stemx/internal/shared"
	"github.com/desertthunder/stemx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	client     *services.Client
	api        *services.APIService
	history    *repositories.History
	logger     *log.Logger
	output     io.Writer
	engine     *tasks.JobEngine
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Client     *services.Client
	History    *repositories.History
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Client == nil {
		opts.Client = services.NewClientFromConfig(opts.Config.Server, opts.Logger)
	}

	engine := tasks.NewJobEngine(opts.Client, opts.Logger)
	if opts.History != nil {
		engine.SetHistory(opts.History)
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		client:     opts.Client,
		api:        services.NewAPIServiceFromClient(opts.Client),
		history:    opts.History,
		logger:     opts.Logger,
		output:     opts.Output,
		engine:     engine,
	}
}

// SetLogger replaces the runner's logger. The engine keeps the logger it was built with.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, healthCommand, uploadCommand, runCommand, taskCommand, filesCommand, historyCommand, apiCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

func (r *Runner) requireHistory() error {
	if r.history == nil {
		return fmt.Errorf("%w: history database not initialized (run 'stemx setup')", shared.ErrServiceUnavailable)
	}
	return nil
}

// downloadOpts builds stem download options from the [downloads] config section.
func (r *Runner) downloadOpts(outputDir, format string) (tasks.DownloadOpts, error) {
	opts := tasks.DownloadOpts{
		OutputDir:  outputDir,
		NumWorkers: r.config.Downloads.Workers,
		RateLimit:  r.config.Downloads.RateLimit,
		URLFor:     r.processedURL,
	}
	if format != "" {
		f, err := formatter.ParseFormat(format)
		if err != nil {
			return opts, err
		}
		opts.Format = f
	}
	return opts, nil
}

func (r *Runner) processedURL(track models.StemTrack) string {
	return r.client.ProcessedURL(track.ResourceID)
}

// printProgress writes updates from ch until it is closed, then closes the returned channel.
func (r *Runner) printProgress(ch <-chan tasks.ProgressUpdate) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		lastUpload := -1
		for update := range ch {
			switch update.Phase {
			case tasks.Upload:
				// uploads report every percent; print every tenth
				if update.Step/10 == lastUpload && update.Step != update.Total {
					continue
				}
				lastUpload = update.Step / 10
				r.writePlain("📤 %s\n", update.Message)
			case tasks.Submit:
				r.writePlain("📨 %s\n", update.Message)
			case tasks.Process:
				r.writePlain("⏳ %s\n", update.Message)
			case tasks.Collect:
				r.writePlain("🎛️  %s\n", update.Message)
			case tasks.Download:
				r.writePlain("   %s\n", update.Message)
			}
		}
	}()
	return done
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writeBytes(data []byte) error {
	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
