// Package config loads, normalizes, and validates Conduit configuration data.
//
// A single TOML file describes every process role: the manager listener and
// bouncer, the worker identity and feeder port pool, component timing, and the
// pipeline itself as a list of components with their eaters and feeders.
// Eater names are qualified to "component:feed" during normalization and the
// resulting component graph must be acyclic.
//
// Always obtain settings through this package so downstream code receives
// expanded paths, qualified feed names, and clear validation errors.
package config
