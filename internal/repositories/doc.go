// Package repositories implements SQLite persistence for the local history of uploads and task outputs.
//
// Each repository handles CRUD operations with atomic sequence generation for human-readable ordering.
// Uploads support soft deletes via deleted_at timestamps and exclude deleted records from queries by default.
//
// Key Implementations:
//   - [UploadRepository] : Uploaded file descriptors with file id lookups
//   - [ResultRepository] : Outputs of completed tasks, queryable by task or source file
//   - [History] : Idempotent recorder used by the task engine
//
// Sequence numbers provide stable, human-readable ordering independent of UUIDs and creation timestamps.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
