package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/repositories"
	"github.com/desertthunder/stemx/internal/services"
	"github.com/desertthunder/stemx/internal/shared"
	tu "github.com/desertthunder/stemx/internal/testing"
	"github.com/urfave/cli/v3"
)

type testEnv struct {
	runner  *Runner
	backend *tu.Backend
	history *repositories.History
	output  *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	backend := tu.NewBackend(t)

	config := shared.DefaultConfig()
	config.Server.BaseURL = backend.URL()
	config.Tasks.PollIntervalMS = 1
	config.Downloads.OutputDir = filepath.Join(t.TempDir(), "stems")
	config.Downloads.RateLimit = 100

	db, err := shared.OpenHistory(shared.DatabaseConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open history: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	history := repositories.NewHistory(db)

	output := &bytes.Buffer{}
	runner := NewRunner(RunnerOpts{
		Config:  config,
		Client:  services.NewClient(backend.URL()),
		History: history,
		Logger:  shared.DiscardLogger(),
		Output:  output,
	})
	t.Cleanup(runner.engine.Orchestrator().Shutdown)

	return &testEnv{runner: runner, backend: backend, history: history, output: output}
}

func (e *testEnv) run(args ...string) error {
	app := &cli.Command{
		Name:     "stemx",
		Commands: e.runner.register(),
	}
	return app.Run(context.Background(), append([]string{"stemx"}, args...))
}

func writeSong(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	tu.MustWriteFile(t, path, bytes.Repeat([]byte("a"), 16*1024))
	return path
}

func TestRunner(t *testing.T) {
	t.Run("failureHint", func(t *testing.T) {
		if got := failureHint(shared.NewValidationError("semitones", "must not be zero")); got != "Fix the parameters and run the command again." {
			t.Errorf("unexpected hint for validation error: %q", got)
		}
		if got := failureHint(&shared.TransportError{Op: "upload", Err: errors.New("reset")}); got != "The request may succeed if you try again." {
			t.Errorf("unexpected hint for transport error: %q", got)
		}
	})

	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			client := services.NewClient("http://localhost:9999")

			runner := NewRunner(RunnerOpts{
				Config:     config,
				ConfigPath: "/test/path/config.toml",
				Logger:     logger,
				Output:     output,
				Client:     client,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.configPath != "/test/path/config.toml" {
				t.Errorf("expected configPath to be set, got %s", runner.configPath)
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.client != client {
				t.Error("expected client to be set")
			}
			if runner.api == nil || runner.engine == nil {
				t.Error("expected api and engine to be built from the client")
			}
		})

		t.Run("with nil config uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Config: nil})

			if runner.config == nil {
				t.Error("expected default config to be set")
			}
			if runner.client == nil {
				t.Fatal("expected client built from config")
			}
			if got := runner.client.BaseURL(); got != runner.config.Server.BaseURL {
				t.Errorf("expected base URL %q, got %q", runner.config.Server.BaseURL, got)
			}
		})

		t.Run("with nil logger uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Logger: nil})

			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
		})

		t.Run("with nil output uses stdout", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: nil})

			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
		})

		t.Run("without history", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			if err := runner.requireHistory(); !errors.Is(err, shared.ErrServiceUnavailable) {
				t.Errorf("expected ErrServiceUnavailable, got %v", err)
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, true); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, false); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			expected := `{"key":"value"}` + "\n"
			if result := output.String(); result != expected {
				t.Errorf("expected %q, got %q", expected, result)
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &bytes.Buffer{}})

			err := runner.writeJSON(make(chan int), false)
			if err == nil || !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})

		t.Run("handles newline write failure", func(t *testing.T) {
			limitedWriter := tu.NewLimitedWriter(1, 0, &bytes.Buffer{})
			runner := NewRunner(RunnerOpts{Output: &limitedWriter})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write newline") {
				t.Errorf("expected newline write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		t.Run("writes plain text successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writePlain("hello %s", "world"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if result := output.String(); result != "hello world" {
				t.Errorf("expected 'hello world', got %q", result)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writePlain("test")
			if err == nil || !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("register", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		commands := runner.register()

		var names []string
		for i, cmd := range commands {
			if cmd == nil {
				t.Fatalf("command at index %d is nil", i)
			}
			names = append(names, cmd.Name)
		}

		for _, want := range []string{"setup", "health", "upload", "run", "task", "files", "history", "api", "tui"} {
			if !slices.Contains(names, want) {
				t.Errorf("expected command %q to be registered, got %v", want, names)
			}
		}
	})
}

func TestCommands(t *testing.T) {
	t.Run("health", func(t *testing.T) {
		env := newTestEnv(t)
		if err := env.run("health"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(env.output.String(), "healthy") {
			t.Errorf("unexpected output: %s", env.output.String())
		}
	})

	t.Run("upload records history", func(t *testing.T) {
		env := newTestEnv(t)
		if err := env.run("upload", writeSong(t, "song.mp3")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if !strings.Contains(env.output.String(), "Upload complete") {
			t.Errorf("unexpected output: %s", env.output.String())
		}

		uploads, err := env.history.Uploads().List(nil)
		if err != nil {
			t.Fatalf("failed to list uploads: %v", err)
		}
		if len(uploads) != 1 || uploads[0].File().Filename != "song.mp3" {
			t.Errorf("expected one recorded upload of song.mp3, got %v", uploads)
		}
	})

	t.Run("upload rejects unsupported file", func(t *testing.T) {
		env := newTestEnv(t)
		err := env.run("upload", writeSong(t, "notes.txt"))
		if !errors.Is(err, shared.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
		if n := env.backend.Count("POST", "/api/upload"); n != 0 {
			t.Errorf("expected no upload request, got %d", n)
		}
	})

	t.Run("run separates and downloads", func(t *testing.T) {
		env := newTestEnv(t)
		outDir := filepath.Join(t.TempDir(), "out")

		err := env.run("run", "--download", "--output", outDir, "--format", "csv", writeSong(t, "song.mp3"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		out := env.output.String()
		for _, want := range []string{"Separate complete", "Vocals", "Saved 4/4 stems"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in output:\n%s", want, out)
			}
		}

		tu.AssertFileExists(t, filepath.Join(outDir, "vocals.mp3"))
		tu.AssertFileExists(t, filepath.Join(outDir, "manifest.json"))
		tu.AssertFileExists(t, filepath.Join(outDir, "stems.csv"))
	})

	t.Run("run rejects invalid parameters before uploading", func(t *testing.T) {
		env := newTestEnv(t)
		err := env.run("run", "--op", "transpose", "--semitones", "0", writeSong(t, "song.mp3"))
		if !errors.Is(err, shared.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
		if n := env.backend.Count("POST", "/api/upload"); n != 0 {
			t.Errorf("expected no upload request, got %d", n)
		}
	})

	t.Run("run processes stored file", func(t *testing.T) {
		env := newTestEnv(t)
		env.backend.AddFile("f9", "stored.mp3", []byte("audio"))

		if err := env.run("run", "--op", "tempo", "--factor", "1.25", "--file-id", "f9"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n := env.backend.Count("POST", "/api/upload"); n != 0 {
			t.Errorf("expected no upload request, got %d", n)
		}
		if !strings.Contains(env.output.String(), "Tempo complete") {
			t.Errorf("unexpected output:\n%s", env.output.String())
		}
	})

	t.Run("run reports failed task", func(t *testing.T) {
		env := newTestEnv(t)
		env.backend.ScriptNext(tu.Processing(0.4), tu.Failed("Out of memory"))

		err := env.run("run", writeSong(t, "song.mp3"))
		if !errors.Is(err, shared.ErrTaskFailed) {
			t.Fatalf("expected task failure, got %v", err)
		}
		if shared.UserMessage(err) != "Out of memory" {
			t.Errorf("expected failure reason, got %q", shared.UserMessage(err))
		}
	})

	t.Run("task status", func(t *testing.T) {
		env := newTestEnv(t)
		env.backend.ScriptTask("t1", tu.Completed(map[string]string{"vocals": "r1", "drums": "r2"}))

		if err := env.run("task", "status", "t1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out := env.output.String()
		if !strings.Contains(out, "completed") || !strings.Contains(out, "Drums") {
			t.Errorf("unexpected output:\n%s", out)
		}
	})

	t.Run("task watch", func(t *testing.T) {
		env := newTestEnv(t)
		env.backend.ScriptTask("t2", tu.Processing(0.1), tu.Processing(0.8), tu.Completed(map[string]string{"audio": "r3"}))

		if err := env.run("task", "watch", "--interval", "1ms", "t2"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(env.output.String(), "Task t2 completed") {
			t.Errorf("unexpected output:\n%s", env.output.String())
		}
	})

	t.Run("task cancel", func(t *testing.T) {
		env := newTestEnv(t)
		env.backend.ScriptTask("t3", tu.Processing(0.3))

		if err := env.run("task", "cancel", "t3"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := env.backend.Cancelled(); !slices.Equal(got, []string{"t3"}) {
			t.Errorf("expected t3 cancelled, got %v", got)
		}
	})

	t.Run("task cancel of finished task", func(t *testing.T) {
		env := newTestEnv(t)
		env.backend.ScriptTask("t4", tu.Completed(map[string]string{"audio": "r4"}))

		err := env.run("task", "cancel", "t4")
		if !errors.Is(err, shared.ErrServerRejected) {
			t.Fatalf("expected server rejection, got %v", err)
		}
	})

	t.Run("files info", func(t *testing.T) {
		env := newTestEnv(t)
		env.backend.AddFile("f1", "mix.mp3", []byte("audio"))

		if err := env.run("files", "info", "f1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(env.output.String(), "mix.mp3") {
			t.Errorf("unexpected output:\n%s", env.output.String())
		}
	})

	t.Run("files info of unknown file", func(t *testing.T) {
		env := newTestEnv(t)
		err := env.run("files", "info", "missing")
		if !errors.Is(err, shared.ErrFileNotFound) {
			t.Fatalf("expected ErrFileNotFound, got %v", err)
		}
	})

	t.Run("files url", func(t *testing.T) {
		env := newTestEnv(t)
		if err := env.run("files", "url", "--directory", "upload", "f1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(env.output.String(), "/api/files/f1/download?directory=upload") {
			t.Errorf("unexpected output: %s", env.output.String())
		}
	})

	t.Run("files url rejects unknown directory", func(t *testing.T) {
		env := newTestEnv(t)
		err := env.run("files", "url", "--directory", "elsewhere", "f1")
		if !errors.Is(err, shared.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("files download", func(t *testing.T) {
		env := newTestEnv(t)
		env.backend.AddFile("f2", "mix.mp3", []byte("original audio"))
		path := filepath.Join(t.TempDir(), "copy.mp3")

		if err := env.run("files", "download", "--directory", "upload", "--output", path, "f2"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := tu.MustReadFile(t, path); got != "original audio" {
			t.Errorf("unexpected content %q", got)
		}
	})

	t.Run("files delete forgets history", func(t *testing.T) {
		env := newTestEnv(t)
		file := env.backend.AddFile("f3", "mix.mp3", []byte("audio"))
		if err := env.history.RecordUpload(file); err != nil {
			t.Fatalf("failed to record upload: %v", err)
		}

		if err := env.run("files", "delete", "f3"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := env.history.Uploads().GetByFileID("f3"); !errors.Is(err, repositories.ErrNotFound) {
			t.Errorf("expected upload to be forgotten, got %v", err)
		}
	})

	t.Run("history show", func(t *testing.T) {
		env := newTestEnv(t)
		set := &models.TrackSet{TaskID: "t5", Tracks: []models.StemTrack{
			models.NewStemTrack("bass", "r5"),
			models.NewStemTrack("vocals", "r6"),
		}}
		if err := env.history.RecordResults(models.OpSeparate, "f5", set); err != nil {
			t.Fatalf("failed to record results: %v", err)
		}

		if err := env.run("history", "show", "--format", "csv", "t5"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out := env.output.String()
		if !strings.Contains(out, "vocals") || !strings.Contains(out, "r5") {
			t.Errorf("unexpected output:\n%s", out)
		}
		if strings.Index(out, "vocals") > strings.Index(out, "bass") {
			t.Errorf("expected canonical order:\n%s", out)
		}
	})

	t.Run("history show of unknown task", func(t *testing.T) {
		env := newTestEnv(t)
		err := env.run("history", "show", "nope")
		if !errors.Is(err, repositories.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("history list", func(t *testing.T) {
		env := newTestEnv(t)
		for _, name := range []string{"one.mp3", "two.mp3"} {
			if err := env.history.RecordUpload(models.AudioFile{ID: "id-" + name, Filename: name, FileSizeBytes: 10}); err != nil {
				t.Fatalf("failed to record upload: %v", err)
			}
		}

		if err := env.run("history", "list", "--filename", "two"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out := env.output.String()
		if !strings.Contains(out, "two.mp3") || strings.Contains(out, "one.mp3") {
			t.Errorf("unexpected output:\n%s", out)
		}
	})

	t.Run("api get", func(t *testing.T) {
		env := newTestEnv(t)
		if err := env.run("api", "get", "health"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(env.output.String(), `"status": "healthy"`) {
			t.Errorf("unexpected output: %s", env.output.String())
		}
	})

	t.Run("api post rejects invalid JSON", func(t *testing.T) {
		env := newTestEnv(t)
		err := env.run("api", "post", "--data", "{nope", "/api/audio/separate")
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("api get returns rejection for error status", func(t *testing.T) {
		env := newTestEnv(t)
		err := env.run("api", "get", "/api/tasks/unknown")
		if !errors.Is(err, shared.ErrServerRejected) {
			t.Fatalf("expected ErrServerRejected, got %v", err)
		}
		if !strings.Contains(env.output.String(), "Task not found") {
			t.Errorf("expected body to be printed, got %s", env.output.String())
		}
	})
}
