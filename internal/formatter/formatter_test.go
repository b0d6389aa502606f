package formatter

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/shared"
	th "github.com/desertthunder/stemx/internal/testing"
)

func testTrackSet() *models.TrackSet {
	return &models.TrackSet{
		TaskID: "t1",
		Tracks: []models.StemTrack{
			models.NewStemTrack("vocals", "f2"),
			models.NewStemTrack("drums", "f3"),
			models.NewStemTrack("piano", "f9"),
		},
	}
}

func testURL(track models.StemTrack) string {
	return "http://localhost:8000/api/audio/download/" + track.ResourceID
}

func TestRenderers(t *testing.T) {
	t.Run("TrackSetToCSV", func(t *testing.T) {
		data, err := TrackSetToCSV(testTrackSet(), testURL)
		if err != nil {
			t.Fatalf("TrackSetToCSV failed: %v", err)
		}

		output := string(data)
		if !strings.HasPrefix(output, "Name,Label,ResourceID,Known,URL\n") {
			t.Errorf("CSV missing headers, got: %s", output)
		}
		if !strings.Contains(output, "vocals,Vocals,f2,true,http://localhost:8000/api/audio/download/f2") {
			t.Errorf("CSV missing vocals row, got: %s", output)
		}
		if !strings.Contains(output, "piano,Piano,f9,false,") {
			t.Errorf("CSV missing unknown stem row, got: %s", output)
		}

		lines := strings.Split(strings.TrimSpace(output), "\n")
		if len(lines) != 4 {
			t.Errorf("expected 4 lines (header + 3 tracks), got %d", len(lines))
		}
	})

	t.Run("TrackSetToMarkdown", func(t *testing.T) {
		t.Run("with URLs", func(t *testing.T) {
			output := string(TrackSetToMarkdown(testTrackSet(), testURL))

			if !strings.Contains(output, "# Outputs of task t1") {
				t.Errorf("Markdown missing heading, got: %s", output)
			}
			if !strings.Contains(output, "**Tracks**: 3") {
				t.Errorf("Markdown missing track count")
			}
			if !strings.Contains(output, "1. 🎤 **Vocals**: [f2](http://localhost:8000/api/audio/download/f2)") {
				t.Errorf("Markdown missing linked vocals, got: %s", output)
			}
			if !strings.Contains(output, "3. 🎵 **Piano**") {
				t.Errorf("Markdown missing fallback icon for unknown stem, got: %s", output)
			}
		})

		t.Run("without URLs", func(t *testing.T) {
			output := string(TrackSetToMarkdown(testTrackSet(), nil))
			if !strings.Contains(output, "2. 🥁 **Drums**: `f3`") {
				t.Errorf("Markdown missing plain resource id, got: %s", output)
			}
		})
	})

	t.Run("TrackSetToText", func(t *testing.T) {
		output := string(TrackSetToText(testTrackSet(), nil))

		if !strings.Contains(output, "Task: t1") {
			t.Errorf("Text missing task id")
		}
		if !strings.Contains(output, "Tracks: 3") {
			t.Errorf("Text missing track count")
		}
		if !strings.Contains(output, "🎤 Vocals") {
			t.Errorf("Text missing vocals line, got: %s", output)
		}
	})

	t.Run("TrackSetToJSON", func(t *testing.T) {
		data, err := TrackSetToJSON(testTrackSet(), testURL)
		if err != nil {
			t.Fatalf("TrackSetToJSON failed: %v", err)
		}

		var decoded struct {
			TaskID string `json:"task_id"`
			Tracks []struct {
				Name       string `json:"name"`
				ResourceID string `json:"resource_id"`
				Color      string `json:"color"`
				Known      bool   `json:"known"`
				URL        string `json:"url"`
			} `json:"tracks"`
		}
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}

		if decoded.TaskID != "t1" || len(decoded.Tracks) != 3 {
			t.Fatalf("unexpected decoded set %+v", decoded)
		}
		if decoded.Tracks[0].Color != "#ef4444" || decoded.Tracks[0].URL == "" {
			t.Errorf("unexpected vocals entry %+v", decoded.Tracks[0])
		}
		if decoded.Tracks[2].Known {
			t.Error("piano should not be known")
		}
	})

	t.Run("AudioFileToText", func(t *testing.T) {
		duration, rate, channels := 185.4, 44100, 2
		file := &models.AudioFile{
			ID:              "f1",
			Filename:        "song.mp3",
			DurationSeconds: &duration,
			SampleRateHz:    &rate,
			ChannelCount:    &channels,
			FileSizeBytes:   4_200_000,
		}

		output := string(AudioFileToText(file))
		for _, want := range []string{"f1", "song.mp3", "4.2 MB", "3:05", "44,100 Hz", "Channels:    2"} {
			if !strings.Contains(output, want) {
				t.Errorf("expected %q in output, got: %s", want, output)
			}
		}

		bare := string(AudioFileToText(&models.AudioFile{ID: "f2", Filename: "x.mp3"}))
		if !strings.Contains(bare, "Duration:    -") {
			t.Errorf("expected placeholder for missing duration, got: %s", bare)
		}
	})

	t.Run("TaskToText", func(t *testing.T) {
		task := models.Task{
			ID:        "t1",
			Status:    models.StatusFailed,
			Progress:  0.42,
			Error:     "Separation failed: out of memory",
			UpdatedAt: models.Timestamp(time.Now().Add(-time.Minute)),
		}

		output := string(TaskToText(task))
		for _, want := range []string{"t1", "failed", "42%", "out of memory", "ago"} {
			if !strings.Contains(output, want) {
				t.Errorf("expected %q in output, got: %s", want, output)
			}
		}
	})
}

func TestFormats(t *testing.T) {
	tc := []struct {
		in   string
		want Format
		ext  string
	}{
		{"", FormatText, ".txt"},
		{"text", FormatText, ".txt"},
		{"JSON", FormatJSON, ".json"},
		{"csv", FormatCSV, ".csv"},
		{"md", FormatMarkdown, ".md"},
	}

	for _, tt := range tc {
		got, err := ParseFormat(tt.in)
		if err != nil {
			t.Fatalf("ParseFormat(%q) failed: %v", tt.in, err)
		}
		if got != tt.want || got.Extension() != tt.ext {
			t.Errorf("ParseFormat(%q) = %s (%s), want %s (%s)", tt.in, got, got.Extension(), tt.want, tt.ext)
		}
	}

	if _, err := ParseFormat("xml"); !errors.Is(err, shared.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestWriters(t *testing.T) {
	t.Run("WriteTrackSet", func(t *testing.T) {
		t.Run("WithCustomPath", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "stems.csv")

			written, err := WriteTrackSet(testTrackSet(), FormatCSV, testURL, path)
			if err != nil {
				t.Fatalf("WriteTrackSet failed: %v", err)
			}
			if written != path {
				t.Errorf("expected %s, got %s", path, written)
			}

			th.AssertFileExists(t, path)
			if content := th.MustReadFile(t, path); !strings.Contains(content, "drums,Drums,f3") {
				t.Errorf("unexpected file content: %s", content)
			}
		})

		t.Run("WithDefaultPath", func(t *testing.T) {
			t.Chdir(t.TempDir())

			written, err := WriteTrackSet(testTrackSet(), FormatMarkdown, nil, "")
			if err != nil {
				t.Fatalf("WriteTrackSet failed: %v", err)
			}
			if written != "stems_t1.md" {
				t.Errorf("expected default filename stems_t1.md, got %s", written)
			}
			th.AssertFileExists(t, written)
		})
	})

	t.Run("WriteManifest", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "manifest.json")

		manifest := &Manifest{
			TaskID:     "t1",
			OutputDir:  dir,
			Format:     FormatJSON,
			Successful: 1,
			Failed:     1,
			Entries: []ManifestEntry{
				{Name: "vocals", ResourceID: "f2", Path: filepath.Join(dir, "vocals.mp3"), Bytes: 2048},
				{Name: "drums", ResourceID: "f3", Error: "File not found"},
			},
		}

		if err := WriteManifest(manifest, path); err != nil {
			t.Fatalf("WriteManifest failed: %v", err)
		}

		var decoded Manifest
		if err := json.Unmarshal([]byte(th.MustReadFile(t, path)), &decoded); err != nil {
			t.Fatalf("invalid manifest JSON: %v", err)
		}
		if decoded.Successful != 1 || decoded.Failed != 1 || len(decoded.Entries) != 2 {
			t.Errorf("unexpected manifest %+v", decoded)
		}
		if decoded.Entries[0].Size != "2.0 kB" {
			t.Errorf("expected humanized size, got %q", decoded.Entries[0].Size)
		}
		if decoded.Entries[1].Size != "" {
			t.Errorf("failed entries should have no size, got %q", decoded.Entries[1].Size)
		}
	})

	t.Run("WriteManifest Fails On Missing Directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing", "manifest.json")
		if err := WriteManifest(&Manifest{TaskID: "t1"}, path); err == nil {
			t.Error("expected error writing into a missing directory")
		}
	})
}
