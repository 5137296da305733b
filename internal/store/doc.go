// Package store persists the manager's history in SQLite.
//
// Two append-only tables are kept: every mood a component reported, with the
// message that came with it, and every keycard decision the bouncer made.
// The live state of a pipeline is never read back from here; the database
// answers "what happened" for the admin surface and survives restarts.
package store
