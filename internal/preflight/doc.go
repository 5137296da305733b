// Package preflight provides readiness checks for the paths, addresses and
// ports a conduit deployment depends on.
//
// `conduit doctor` runs them before a daemon is started, and prints one line
// per check. Checks never fail hard: each returns a Result whose Detail says
// what was found.
package preflight
