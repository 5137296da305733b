// Package worker runs the worker daemon and the job processes it spawns.
//
// A Brain logs in to the manager as a worker and starts components on
// request. Each component runs in its own job process, tracked by the
// kindergarten and reaped when it exits. Jobs log back in to the worker
// through the job heaven on a unix socket, receive the manager address and
// their reserved feeder ports, and then log in to the manager themselves.
//
// A start request completes once the job reports its component logged in to
// the manager, or fails when the job exits, times out or reports an error.
package worker
