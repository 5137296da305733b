// Package bouncer authenticates keycards presented at login.
//
// A bouncer keeps every keycard it accepted in a table keyed by a generated
// id. Keycards carrying a ttl are expired by a periodic sweep unless their
// issuer keeps them alive; expiry notifies the Expirer so the session that
// requested the keycard can be dropped. Two bouncers are provided: Trivial
// accepts every keycard while enabled, and Challenge runs a salted
// challenge-response exchange before consulting its Checker.
//
// Bouncer state is owned by the reactor loop passed in Options. Every method
// must be called from that loop.
package bouncer
