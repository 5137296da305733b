// Package main hosts the conduit CLI entrypoint and command graph.
//
// One binary plays every role. `conduit manager` runs the manager,
// `conduit worker` runs a worker and the worker re-executes this binary as
// `conduit job` for every component it starts. The remaining commands are
// admin clients: they log in to the manager with the admin interface and
// render what it reports.
//
// Keep this package lean. New behavior belongs in the internal packages and
// is surfaced here through a command or a flag.
package main
