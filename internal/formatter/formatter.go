// package formatter renders stem listings, file descriptors and download manifests (JSON, CSV, Markdown, plain text)
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/shared"
)

// Format is an output format name.
type Format string

const (
	FormatText     Format = "txt"
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
)

// ParseFormat accepts the format names used on the command line.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "txt", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("%w: unknown format %q (want txt, json, csv or markdown)", shared.ErrInvalidArgument, s)
}

// Extension returns the file extension for f, including the dot.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return ".json"
	case FormatCSV:
		return ".csv"
	case FormatMarkdown:
		return ".md"
	default:
		return ".txt"
	}
}

// URLFunc resolves a stem to the address it can be played or downloaded from.
type URLFunc func(track models.StemTrack) string

func resolve(urlFor URLFunc, track models.StemTrack) string {
	if urlFor == nil {
		return ""
	}
	return urlFor(track)
}

// TrackSetToCSV renders set with columns: Name, Label, ResourceID, Known, URL
func TrackSetToCSV(set *models.TrackSet, urlFor URLFunc) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write([]string{"Name", "Label", "ResourceID", "Known", "URL"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, track := range set.Tracks {
		record := []string{
			track.Name,
			track.Label,
			track.ResourceID,
			strconv.FormatBool(track.Known),
			resolve(urlFor, track),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// TrackSetToMarkdown renders set as a numbered list of linked stems.
func TrackSetToMarkdown(set *models.TrackSet, urlFor URLFunc) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# Outputs of task %s\n\n", set.TaskID)
	fmt.Fprintf(&buf, "**Tracks**: %d\n\n", set.Len())

	for i, track := range set.Tracks {
		name := fmt.Sprintf("%s **%s**", track.Icon, track.Label)
		if u := resolve(urlFor, track); u != "" {
			fmt.Fprintf(&buf, "%d. %s: [%s](%s)\n", i+1, name, track.ResourceID, u)
		} else {
			fmt.Fprintf(&buf, "%d. %s: `%s`\n", i+1, name, track.ResourceID)
		}
	}

	return buf.Bytes()
}

// TrackSetToText renders set for the terminal.
func TrackSetToText(set *models.TrackSet, urlFor URLFunc) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Task: %s\n", set.TaskID)
	fmt.Fprintf(&buf, "Tracks: %d\n\n", set.Len())

	for _, track := range set.Tracks {
		fmt.Fprintf(&buf, "%s %-8s %s", track.Icon, track.Label, track.ResourceID)
		if u := resolve(urlFor, track); u != "" {
			fmt.Fprintf(&buf, "  %s", u)
		}
		buf.WriteByte('\n')
	}

	return buf.Bytes()
}

type trackJSON struct {
	models.StemTrack
	URL string `json:"url,omitempty"`
}

// TrackSetToJSON renders set as indented JSON with resolved URLs.
func TrackSetToJSON(set *models.TrackSet, urlFor URLFunc) ([]byte, error) {
	out := struct {
		TaskID string      `json:"task_id"`
		Tracks []trackJSON `json:"tracks"`
	}{TaskID: set.TaskID, Tracks: make([]trackJSON, 0, set.Len())}

	for _, track := range set.Tracks {
		out.Tracks = append(out.Tracks, trackJSON{StemTrack: track, URL: resolve(urlFor, track)})
	}
	return shared.MarshalJSON(out, true)
}

// RenderTrackSet renders set in format.
func RenderTrackSet(set *models.TrackSet, format Format, urlFor URLFunc) ([]byte, error) {
	switch format {
	case FormatJSON:
		return TrackSetToJSON(set, urlFor)
	case FormatCSV:
		return TrackSetToCSV(set, urlFor)
	case FormatMarkdown:
		return TrackSetToMarkdown(set, urlFor), nil
	default:
		return TrackSetToText(set, urlFor), nil
	}
}

// WriteTrackSet renders set in format and writes it to path, creating parent directories.
func WriteTrackSet(set *models.TrackSet, format Format, urlFor URLFunc, path string) (string, error) {
	if path == "" {
		path = "stems_" + set.TaskID + format.Extension()
	}

	data, err := RenderTrackSet(set, format, urlFor)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// AudioFileToText renders a file descriptor. Missing metadata is shown as "-".
func AudioFileToText(file *models.AudioFile) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "File ID:     %s\n", file.ID)
	fmt.Fprintf(&buf, "Filename:    %s\n", file.Filename)
	fmt.Fprintf(&buf, "Size:        %s\n", shared.FormatBytes(file.FileSizeBytes))

	duration, rate, channels := "-", "-", "-"
	if file.DurationSeconds != nil {
		duration = shared.FormatDuration(*file.DurationSeconds)
	}
	if file.SampleRateHz != nil {
		rate = fmt.Sprintf("%s Hz", humanize.Comma(int64(*file.SampleRateHz)))
	}
	if file.ChannelCount != nil {
		channels = strconv.Itoa(*file.ChannelCount)
	}
	fmt.Fprintf(&buf, "Duration:    %s\n", duration)
	fmt.Fprintf(&buf, "Sample rate: %s\n", rate)
	fmt.Fprintf(&buf, "Channels:    %s\n", channels)

	return buf.Bytes()
}

// TaskToText renders a task snapshot.
func TaskToText(task models.Task) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Task:     %s\n", task.ID)
	fmt.Fprintf(&buf, "Status:   %s\n", task.Status)
	fmt.Fprintf(&buf, "Progress: %s\n", shared.FormatPercent(task.Progress))
	if task.Message != "" {
		fmt.Fprintf(&buf, "Message:  %s\n", task.Message)
	}
	if task.Error != "" {
		fmt.Fprintf(&buf, "Error:    %s\n", task.Error)
	}
	if updated := task.UpdatedAt.Time(); !updated.IsZero() {
		fmt.Fprintf(&buf, "Updated:  %s\n", humanize.RelTime(updated, time.Now(), "ago", "from now"))
	}

	return buf.Bytes()
}
