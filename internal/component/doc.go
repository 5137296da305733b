// Package component runs one pipeline component inside a job process.
//
// A Component logs in to the manager, registers the feeds it eats and feeds,
// and waits to be linked. Linking makes every feeder listen on its port and
// every eater dial the feeder it eats from. Eater and feeder state changes
// drive the mood machine, and moods reach the manager through heartbeats.
//
// Feeds carry raw bytes over TCP. Producers emit fixed size chunks on an
// interval, converters forward what they eat, and consumers count it.
package component
