// Package notifications alerts operators when a component turns sad or lost,
// and optionally when it recovers.
//
// Alerts are published to ntfy using the topic URL configured in
// [notifications]. Without a topic every call is a no-op, so callers never
// need to check whether alerts are enabled.
package notifications
