package services

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/shared"
)

// ProgressFunc receives the uploaded fraction in [0,1].
type ProgressFunc func(fraction float64)

// UploadSource is one file to upload. Size is used for progress; zero means unknown.
type UploadSource struct {
	Name   string
	Size   int64
	Reader io.Reader
}

// Close closes the underlying reader when it is an [io.Closer].
func (s UploadSource) Close() error {
	if c, ok := s.Reader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// OpenUploadSource opens the file at path for upload. The caller must Close the source.
func OpenUploadSource(path string) (UploadSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return UploadSource{}, fmt.Errorf("failed to open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return UploadSource{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return UploadSource{}, shared.NewValidationError("file", "%s is a directory", path)
	}

	return UploadSource{Name: filepath.Base(path), Size: info.Size(), Reader: f}, nil
}

// ValidateUploadCandidate is the client-side pre-filter run before an upload.
//
// The backend performs the authoritative checks; this only fails fast on obvious mistakes.
func ValidateUploadCandidate(name string, size, maxBytes int64, allowedExts []string) error {
	if name == "" {
		return shared.NewValidationError("file", "a file name is required")
	}
	if size <= 0 {
		return shared.NewValidationError("file", "%s is empty", name)
	}
	if maxBytes > 0 && size > maxBytes {
		return shared.NewValidationError("file", "%s is %s, the limit is %s",
			name, humanize.Bytes(uint64(size)), humanize.Bytes(uint64(maxBytes)))
	}

	if len(allowedExts) > 0 {
		ext := strings.ToLower(filepath.Ext(name))
		if !slices.Contains(allowedExts, ext) {
			return shared.NewValidationError("file", "%s is not a supported audio file (allowed: %s)",
				name, strings.Join(allowedExts, ", "))
		}
	}
	return nil
}

// Uploader streams audio files to the backend.
type Uploader struct {
	client *Client
	logger *log.Logger
}

// NewUploader creates an [Uploader] on top of client.
func NewUploader(client *Client) *Uploader {
	return &Uploader{client: client, logger: client.logger}
}

// Upload sends src as the multipart "file" field and returns the stored file's descriptor.
//
// The body is streamed through a pipe so the file is never held in memory. onProgress, when set,
// receives non-decreasing fractions, is called with 1.0 exactly once on success and is never
// called after Upload returns.
func (u *Uploader) Upload(ctx context.Context, src UploadSource, onProgress ProgressFunc) (*models.AudioFile, error) {
	if src.Reader == nil {
		return nil, shared.NewValidationError("file", "no file to upload")
	}
	if src.Name == "" {
		return nil, shared.NewValidationError("file", "a file name is required")
	}

	progress := newProgressReporter(onProgress)
	defer progress.settle()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	writeErr := make(chan error, 1)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(src.Name))
		if err == nil {
			counter := &countingReader{r: src.Reader, total: src.Size, report: progress.report}
			_, err = io.Copy(part, counter)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
		writeErr <- err
	}()

	req, err := u.client.newRequest(ctx, http.MethodPost, "/api/upload", pr)
	if err != nil {
		pr.Close()
		<-writeErr
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	u.logger.Info("uploading file", "name", src.Name, "size", humanize.Bytes(uint64(max(src.Size, 0))))

	var file models.AudioFile
	err = u.client.do(req, "upload", &file)

	// Unblock the writer if the server answered before consuming the whole body.
	pr.Close()
	if werr := <-writeErr; werr != nil && err == nil {
		err = &shared.TransportError{Op: "upload", Err: werr}
	}
	if err != nil {
		return nil, err
	}

	if file.ID == "" {
		return nil, fmt.Errorf("%w: upload response has no file id", shared.ErrProtocolViolation)
	}

	progress.report(1)
	u.logger.Info("upload complete", "file_id", file.ID, "name", file.Filename)
	return &file, nil
}

// countingReader reports the fraction of total read so far.
type countingReader struct {
	r      io.Reader
	total  int64
	read   int64
	report func(float64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 && c.total > 0 {
		c.read += int64(n)
		c.report(float64(c.read) / float64(c.total))
	}
	return n, err
}

// progressReporter serializes progress callbacks for a single upload.
//
// Values are clamped to [0,1] and only strictly increasing values are forwarded, so 1.0 is
// delivered at most once. After settle no further callbacks run.
type progressReporter struct {
	mu      sync.Mutex
	fn      ProgressFunc
	last    float64
	sent    bool
	settled bool
}

func newProgressReporter(fn ProgressFunc) *progressReporter {
	return &progressReporter{fn: fn}
}

func (p *progressReporter) report(fraction float64) {
	if p.fn == nil {
		return
	}
	fraction = min(max(fraction, 0), 1)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.settled || (p.sent && fraction <= p.last) {
		return
	}
	p.last, p.sent = fraction, true
	p.fn(fraction)
}

func (p *progressReporter) settle() {
	p.mu.Lock()
	p.settled = true
	p.mu.Unlock()
}
