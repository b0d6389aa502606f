package tasks

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/desertthunder/stemx/internal/formatter"
	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/shared"
)

const (
	defaultDownloadWorkers = 4
	maxDownloadWorkers     = 8
	defaultDownloadRate    = 5.0
	manifestName           = "manifest.json"
)

// StemFetcher opens the byte stream of a stored file.
type StemFetcher interface {
	Download(ctx context.Context, fileID string, dir models.Directory) (io.ReadCloser, error)
}

// DownloadOpts contains configuration for stem downloads.
type DownloadOpts struct {
	OutputDir  string            // Base output directory (default: stems_{task}_{epoch})
	NumWorkers int               // Concurrent workers (default: 4, max: 8)
	RateLimit  float64           // Requests per second (default: 5)
	Format     formatter.Format  // Format of the track listing written next to the audio (empty: none)
	URLFor     formatter.URLFunc // Optional URL resolver for the track listing
	Directory  models.Directory  // Storage area to read from (default: processed)
}

// StemDownloadJob is one stem queued for download.
type StemDownloadJob struct {
	Index    int
	Track    models.StemTrack
	FileName string
}

// StemDownloadResult is the outcome of downloading one stem.
type StemDownloadResult struct {
	Index   int
	Track   models.StemTrack
	Path    string
	Bytes   int64
	Success bool
	Error   error
}

// DownloadResult summarises a stem download run.
type DownloadResult struct {
	TaskID          string
	OutputDirectory string
	Total           int
	Successful      int
	Failed          int
	Results         []StemDownloadResult // In track set order
	ManifestPath    string
	ListingPath     string
}

// DownloadStems saves every track of set into opts.OutputDir as <name>.mp3 using a rate limited worker pool.
//
// Individual failures are recorded in the result and the manifest; they do not abort the run.
func (e *JobEngine) DownloadStems(
	ctx context.Context,
	prog chan<- ProgressUpdate,
	set *models.TrackSet,
	opts DownloadOpts,
) (*DownloadResult, error) {
	if e.files == nil {
		return nil, fmt.Errorf("%w: file service not initialized", shared.ErrServiceUnavailable)
	}
	if set == nil {
		return nil, fmt.Errorf("%w: no tracks to download", shared.ErrMissingArgument)
	}

	if opts.OutputDir == "" {
		opts.OutputDir = fmt.Sprintf("stems_%s_%d", set.TaskID, time.Now().Unix())
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = defaultDownloadWorkers
	}
	opts.NumWorkers = min(opts.NumWorkers, maxDownloadWorkers)
	if opts.RateLimit <= 0 {
		opts.RateLimit = defaultDownloadRate
	}
	if opts.Directory == "" {
		opts.Directory = models.DirectoryProcessed
	}

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	total := set.Len()
	result := &DownloadResult{
		TaskID:          set.TaskID,
		OutputDirectory: opts.OutputDir,
		Total:           total,
		Results:         make([]StemDownloadResult, 0, total),
	}

	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), 1)

	jobs := make(chan StemDownloadJob, total)
	results := make(chan StemDownloadResult, total)

	var wg sync.WaitGroup
	for range opts.NumWorkers {
		wg.Add(1)
		go e.downloadWorker(ctx, &wg, jobs, results, opts)
	}

	names := stemFileNames(set.Tracks)
	go func() {
		defer close(jobs)
		for i, track := range set.Tracks {
			if err := limiter.Wait(ctx); err != nil {
				for j := i; j < total; j++ {
					results <- StemDownloadResult{Index: j, Track: set.Tracks[j], Error: err}
				}
				return
			}
			e.sendProgress(prog, downloadingUpdate(i+1, total, track))
			jobs <- StemDownloadJob{Index: i, Track: track, FileName: names[i]}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	for res := range results {
		completed++
		result.Results = append(result.Results, res)

		if res.Success {
			result.Successful++
			e.sendProgress(prog, downloadCompletedUpdate(completed, total, res))
		} else {
			result.Failed++
			e.sendProgress(prog, downloadFailedUpdate(completed, total, res))
		}
	}

	slices.SortFunc(result.Results, func(a, b StemDownloadResult) int { return a.Index - b.Index })

	if opts.Format != "" {
		listing := filepath.Join(opts.OutputDir, "stems"+opts.Format.Extension())
		if _, err := formatter.WriteTrackSet(set, opts.Format, opts.URLFor, listing); err != nil {
			return result, fmt.Errorf("download completed but failed to write track listing: %w", err)
		}
		result.ListingPath = listing
	}

	manifestPath := filepath.Join(opts.OutputDir, manifestName)
	if err := formatter.WriteManifest(result.manifest(opts.Format), manifestPath); err != nil {
		return result, fmt.Errorf("download completed but failed to write manifest: %w", err)
	}
	result.ManifestPath = manifestPath

	e.logger.Info("stems downloaded", "task_id", set.TaskID, "ok", result.Successful, "failed", result.Failed)
	return result, nil
}

func (r *DownloadResult) manifest(format formatter.Format) *formatter.Manifest {
	m := &formatter.Manifest{
		TaskID:      r.TaskID,
		OutputDir:   r.OutputDirectory,
		Format:      format,
		GeneratedAt: time.Now().UTC(),
		Successful:  r.Successful,
		Failed:      r.Failed,
		Entries:     make([]formatter.ManifestEntry, 0, len(r.Results)),
	}
	for _, res := range r.Results {
		entry := formatter.ManifestEntry{
			Name:       res.Track.Name,
			ResourceID: res.Track.ResourceID,
			Path:       res.Path,
			Bytes:      res.Bytes,
		}
		if res.Error != nil {
			entry.Error = shared.UserMessage(res.Error)
		}
		m.Entries = append(m.Entries, entry)
	}
	return m
}

// downloadWorker is a worker goroutine that downloads stems from the jobs channel.
func (e *JobEngine) downloadWorker(
	ctx context.Context,
	wg *sync.WaitGroup,
	jobs <-chan StemDownloadJob,
	results chan<- StemDownloadResult,
	opts DownloadOpts,
) {
	defer wg.Done()

	for job := range jobs {
		if err := ctx.Err(); err != nil {
			results <- StemDownloadResult{Index: job.Index, Track: job.Track, Error: err}
			continue
		}
		results <- e.downloadStem(ctx, job, opts)
	}
}

// downloadStem copies one stem to disk, removing any partial file on failure.
func (e *JobEngine) downloadStem(ctx context.Context, j StemDownloadJob, opts DownloadOpts) StemDownloadResult {
	result := StemDownloadResult{Index: j.Index, Track: j.Track}

	body, err := e.files.Download(ctx, j.Track.ResourceID, opts.Directory)
	if err != nil {
		result.Error = err
		return result
	}
	defer body.Close()

	path := filepath.Join(opts.OutputDir, j.FileName)
	f, err := os.Create(path)
	if err != nil {
		result.Error = fmt.Errorf("failed to create %s: %w", path, err)
		return result
	}

	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		result.Error = fmt.Errorf("failed to write %s: %w", path, err)
		return result
	}

	result.Path, result.Bytes, result.Success = path, n, true
	return result
}

// StemFileName returns the local file name for a stem, e.g. "vocals.mp3".
// Characters outside [A-Za-z0-9_-] are replaced so server supplied names cannot escape the output directory.
func StemFileName(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if clean == "" {
		clean = "stem"
	}
	return clean + ".mp3"
}

// stemFileNames gives every track a distinct file name. When two names sanitize to the same file,
// ignoring case, the later track gets its position appended ("a_b_2.mp3").
func stemFileNames(tracks []models.StemTrack) []string {
	names := make([]string, len(tracks))
	taken := make(map[string]bool, len(tracks))
	for i, track := range tracks {
		name := StemFileName(track.Name)
		base := strings.TrimSuffix(name, ".mp3")
		for n := i + 1; taken[strings.ToLower(name)]; n++ {
			name = fmt.Sprintf("%s_%d.mp3", base, n)
		}
		taken[strings.ToLower(name)] = true
		names[i] = name
	}
	return names
}
