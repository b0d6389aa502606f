package testing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/desertthunder/stemx/internal/models"
)

// Request is one call observed by a [Backend].
type Request struct {
	Method string
	Path   string
	Body   []byte
}

// Backend is an in-memory stand-in for the audio processing server.
//
// Tasks answer polls from a script: each GET returns the next scripted snapshot and the last one
// repeats. Submissions without a script get a short processing -> completed script.
type Backend struct {
	Server *httptest.Server

	// NotImplemented makes submissions of the listed operations answer 501.
	NotImplemented map[models.Operation]bool

	mu        sync.Mutex
	nextID    int
	files     map[string]models.AudioFile
	blobs     map[string][]byte
	scripts   map[string][]models.Task
	pending   []models.Task
	cancelled []string
	requests  []Request
}

// NewBackend starts a fake backend that is closed when the test ends.
func NewBackend(t *testing.T) *Backend {
	t.Helper()

	b := &Backend{
		NotImplemented: map[models.Operation]bool{},
		files:          map[string]models.AudioFile{},
		blobs:          map[string][]byte{},
		scripts:        map[string][]models.Task{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	mux.HandleFunc("POST /api/upload", b.handleUpload)
	mux.HandleFunc("GET /api/files/{id}", b.handleFileInfo)
	mux.HandleFunc("DELETE /api/files/{id}", b.handleFileDelete)
	mux.HandleFunc("GET /api/files/{id}/download", b.handleFileDownload)
	mux.HandleFunc("GET /api/audio/download/{id}", b.handleProcessedDownload)
	mux.HandleFunc("POST /api/audio/{op}", b.handleSubmit)
	mux.HandleFunc("GET /api/tasks/{id}", b.handleTaskGet)
	mux.HandleFunc("DELETE /api/tasks/{id}", b.handleTaskDelete)

	b.Server = httptest.NewServer(b.record(mux))
	t.Cleanup(b.Server.Close)
	return b
}

// URL returns the backend base URL.
func (b *Backend) URL() string { return b.Server.URL }

// AddFile registers an existing file with content, returning its descriptor.
func (b *Backend) AddFile(id, filename string, content []byte) models.AudioFile {
	b.mu.Lock()
	defer b.mu.Unlock()

	file := models.AudioFile{ID: id, Filename: filename, FileSizeBytes: int64(len(content))}
	b.files[id] = file
	b.blobs[id] = content
	return file
}

// ScriptTask sets the snapshots returned by successive polls of id.
func (b *Backend) ScriptTask(id string, snapshots ...models.Task) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range snapshots {
		snapshots[i].ID = id
	}
	b.scripts[id] = snapshots
	b.registerOutputs(snapshots)
}

// registerOutputs makes every resource id in a completed snapshot downloadable.
func (b *Backend) registerOutputs(script []models.Task) {
	for _, task := range script {
		for name, rid := range task.Result {
			if _, ok := b.blobs[rid]; !ok {
				b.blobs[rid] = []byte("stem:" + name)
			}
		}
	}
}

// ScriptNext sets the snapshots used for the next submission that creates a task.
func (b *Backend) ScriptNext(snapshots ...models.Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = snapshots
}

// Cancelled returns the task ids that received a DELETE.
func (b *Backend) Cancelled() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.cancelled...)
}

// Requests returns every request received so far.
func (b *Backend) Requests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Request(nil), b.requests...)
}

// Count returns how many requests matched method and path.
func (b *Backend) Count(method, path string) int {
	n := 0
	for _, r := range b.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// Processing and Completed build scripted snapshots.
func Processing(progress float64) models.Task {
	return models.Task{Status: models.StatusProcessing, Progress: progress, Message: "Processing"}
}

func Completed(result map[string]string) models.Task {
	return models.Task{Status: models.StatusCompleted, Progress: 1, Message: "Completed", Result: result}
}

func Failed(reason string) models.Task {
	return models.Task{Status: models.StatusFailed, Progress: 0.5, Error: reason}
}

func (b *Backend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := Request{Method: r.Method, Path: r.URL.Path}
		if r.Header.Get("Content-Type") == "application/json" {
			body, _ := io.ReadAll(r.Body)
			r.Body.Close()
			req.Body = body
			r.Body = io.NopCloser(bytes.NewReader(body))
		}

		b.mu.Lock()
		b.requests = append(b.requests, req)
		b.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (b *Backend) newID(prefix string) string {
	b.nextID++
	return fmt.Sprintf("%s%d", prefix, b.nextID)
}

func (b *Backend) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Failed to read upload")
		return
	}
	if len(content) == 0 {
		writeDetail(w, http.StatusBadRequest, "Empty file")
		return
	}

	b.mu.Lock()
	id := b.newID("f")
	duration, rate, channels := 12.5, 44100, 2
	desc := models.AudioFile{
		ID:              id,
		Filename:        header.Filename,
		DurationSeconds: &duration,
		SampleRateHz:    &rate,
		ChannelCount:    &channels,
		FileSizeBytes:   int64(len(content)),
	}
	b.files[id] = desc
	b.blobs[id] = content
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, desc)
}

func (b *Backend) handleFileInfo(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	file, ok := b.files[r.PathValue("id")]
	b.mu.Unlock()

	if !ok {
		writeDetail(w, http.StatusNotFound, "File not found")
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (b *Backend) handleFileDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	b.mu.Lock()
	_, ok := b.files[id]
	delete(b.files, id)
	delete(b.blobs, id)
	b.mu.Unlock()

	if !ok {
		writeDetail(w, http.StatusNotFound, "File not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "File deleted successfully"})
}

func (b *Backend) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("directory")
	if dir != "upload" && dir != "processed" {
		writeDetail(w, http.StatusBadRequest, "Invalid directory")
		return
	}
	b.serveBlob(w, r.PathValue("id"))
}

func (b *Backend) handleProcessedDownload(w http.ResponseWriter, r *http.Request) {
	b.serveBlob(w, r.PathValue("id"))
}

func (b *Backend) serveBlob(w http.ResponseWriter, id string) {
	b.mu.Lock()
	content, ok := b.blobs[id]
	b.mu.Unlock()

	if !ok {
		writeDetail(w, http.StatusNotFound, "File not found")
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}

func (b *Backend) handleSubmit(w http.ResponseWriter, r *http.Request) {
	op := models.Operation(r.PathValue("op"))
	if _, err := models.ParseOperation(string(op)); err != nil {
		writeDetail(w, http.StatusNotFound, "Not Found")
		return
	}

	var body struct {
		FileID string `json:"file_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.files[body.FileID]; !ok {
		writeDetail(w, http.StatusNotFound, "File not found")
		return
	}
	if b.NotImplemented[op] {
		writeDetail(w, http.StatusNotImplemented, fmt.Sprintf("%s coming in Phase 3", op))
		return
	}

	id := b.newID("t")
	script := b.pending
	b.pending = nil
	if script == nil {
		script = []models.Task{Processing(0.5), Completed(defaultResult(op, b.newID("f")))}
	}
	for i := range script {
		script[i].ID = id
	}
	b.scripts[id] = script
	b.registerOutputs(script)

	writeJSON(w, http.StatusOK, models.JobHandle{TaskID: id, Message: fmt.Sprintf("%s task started", op)})
}

func defaultResult(op models.Operation, outputID string) map[string]string {
	if op == models.OpSeparate {
		return map[string]string{"vocals": outputID + "v", "drums": outputID + "d", "bass": outputID + "b", "other": outputID + "o"}
	}
	return map[string]string{"audio": outputID}
}

func (b *Backend) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	b.mu.Lock()
	script, ok := b.scripts[id]
	var snapshot models.Task
	if ok && len(script) > 0 {
		snapshot = script[0]
		if len(script) > 1 {
			b.scripts[id] = script[1:]
		}
	}
	b.mu.Unlock()

	if !ok || len(script) == 0 {
		writeDetail(w, http.StatusNotFound, "Task not found")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (b *Backend) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	b.mu.Lock()
	script, ok := b.scripts[id]
	active := ok && len(script) > 0 && !script[0].Status.Terminal()
	if active {
		b.cancelled = append(b.cancelled, id)
		b.scripts[id] = []models.Task{{ID: id, Status: models.StatusCancelled, Progress: script[0].Progress}}
	}
	b.mu.Unlock()

	if !active {
		writeDetail(w, http.StatusBadRequest, "Task not found or already completed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Task cancelled successfully"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
