// Package models defines the values exchanged between the stemx upload, dispatch, tracking and
// result components.
//
// The package contains three groups of types:
//
// 1. Wire types mirroring the audio backend's JSON
//   - [AudioFile] : metadata of an uploaded or produced audio resource
//   - [Task] : server-side job snapshot with [TaskStatus] and [Timestamp]
//   - [JobHandle] : the task id returned for an accepted submission
//
// 2. Requests and results
//   - [TransformRequest] : closed sum of [Separation], [Transpose] and [Tempo]
//   - [TrackSet] : display-ready [StemTrack] entries for a completed task
//
// 3. History records stored in sqlite
//   - [UploadRecord] and [ResultRecord], both implementing [Model]
package models
