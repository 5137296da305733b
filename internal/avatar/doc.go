// Package avatar holds the portal-side session objects of a conduit process.
//
// An avatar stands for one logged-in peer (a worker, a component, an admin
// client or a job). Avatars live in a Heaven, one per interface, and every
// heaven belongs to the process reactor loop: creation, attach, detach and
// removal all run on the loop. The Dispatcher adapts a set of heavens and a
// bouncer to the ipc.Realm the portal needs.
//
// Attach is always delivered on a later loop turn than the login that caused
// it, so the transport finishes its own bookkeeping first. Remote calls made
// through Base.MindCallRemote run off the loop and report back on it; a dead
// peer clears the mind instead of failing unrelated callers.
package avatar
