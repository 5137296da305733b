// Package services defines small shared utilities used by the manager, worker
// and job processes.
//
// Key responsibilities:
//   - Context helpers that stamp avatar IDs, heaven names, and correlation
//     identifiers for logging across remote calls.
//   - Structured error markers plus the Wrap helper that translate lifecycle
//     failures into a consistent component mood (sad vs lost).
package services
