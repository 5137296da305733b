// Package logs reads the per-role log files the daemons write under
// log_dir. It returns the last lines of a file and follows it as it grows,
// restarting from the top when the file is truncated.
package logs
