// Package logging assembles the structured slog loggers shared by the
// manager, worker and job processes.
//
// It owns the console and JSON handlers, level parsing, per-component level
// overrides, and the output plumbing that fans a single logger out to stdout
// and a log file. Context helpers tag records with correlation IDs, avatar IDs
// and heaven names so a remote call can be followed across processes.
//
// Warnings and errors should go through WarnWithContext and ErrorWithContext so
// every operator-facing record carries an event type, a hint and an impact.
package logging
