// Package services implements the client side of the audio processing backend's HTTP contract.
//
// # Resource Client
//
// [Client] owns the base URL, the [http.Client] and optional bearer token authentication
// (an [oauth2.Transport] over a static token). Every request carries an X-Request-ID header.
// It fetches and cancels tasks, reads and deletes files, and builds download addresses.
//
// # Upload Pipeline
//
// [Uploader] streams one file per call as multipart form data through an [io.Pipe] and reports
// progress from the bytes read. [ValidateUploadCandidate] is the optional client-side pre-filter.
//
// # Dispatcher
//
// [Dispatcher] validates a [models.TransformRequest] locally and posts it, returning the
// server-issued [models.JobHandle]. It does not track or retry.
//
// # Error Handling
//
// Failures use the typed errors from the shared package:
//   - [shared.ValidationError] : bad parameters, nothing was sent
//   - [shared.TransportError] : network, timeout or cancelled context
//   - [shared.ServerRejectedError] : non-2xx status with the backend "detail" verbatim
//   - [shared.ErrProtocolViolation] : a 2xx response that does not match the contract
//
// [APIService] is the untyped escape hatch behind `stemx api get|post`.
package services
