// Package tasks drives audio transformations on the processing backend with real-time progress reporting.
//
// # Task Tracking
//
// [Orchestrator] polls server-side tasks until they complete, fail or are cancelled:
//   - Each tracked task owns a [Session] with its own goroutine, ticker and snapshot
//   - A poll response is applied only while its session is still registered, so a cancel or
//     dispose that races an in-flight request never produces callbacks
//   - Snapshots are checked for consistency; unknown statuses, status regressions and
//     malformed results end tracking with a protocol violation
//   - Progress never decreases within a session
//
// # Outputs
//
// [Materialize] turns a completed task's result into a [models.TrackSet] with display
// identities for known stems and a fallback for anything else.
//
// # End-to-end Runs
//
// The [Engine] interface defines three operations:
//
//  1. [Engine.Run] : Upload a local file, submit a transformation and track it to completion
//  2. [Engine.Process] : The same for a file already stored on the backend
//  3. [Engine.DownloadStems] : Save outputs locally with a rate limited worker pool and write a manifest
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates.
//
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data for advanced UI rendering.
// Updates use select with default to prevent blocking.
//
// # History
//
// The optional [HistoryRecorder] interface persists uploads and outputs (repositories.History).
// Recording errors are logged and otherwise ignored.
package tasks
