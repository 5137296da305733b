// Package manager implements the conduit manager, Vishnu.
//
// Workers, components and admin clients log in to the manager portal and are
// represented by avatars in one heaven per interface. When a worker logs in,
// the manager asks it to start the configured components it should run.
// Each component registers the feeds it eats and feeds; the manager starts
// it once every feed it eats is ready, assigning feeder ports and telling it
// where its upstream feeds listen.
//
// Everything the manager knows lives on a single reactor loop. Remote calls
// run off the loop and report back to it. Component state changes fan out to
// admin clients, the /events websocket stream, Prometheus gauges and the
// sqlite mood history.
package manager
