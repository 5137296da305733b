package preflight

import (
	"context"

	"conduit/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	// Optional results are reported but do not fail the run.
	Optional bool
	Detail   string
}

// RunAll executes every check that applies to cfg.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}

	manager := CheckManager(ctx, cfg.Worker.Manager)
	manager.Optional = true
	results = append(results, manager)

	if cfg.Manager.HTTPBind != "" {
		health := CheckHealth(ctx, cfg.Manager.HTTPBind)
		health.Optional = true
		results = append(results, health)
	}

	if len(cfg.Worker.FeederPorts) > 0 {
		results = append(results, CheckFeederPorts(cfg.Worker))
	}
	results = append(results, CheckJobBinary(cfg.Worker.JobBinary))
	return results
}

// Failed reports whether any required check failed.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed && !r.Optional {
			return true
		}
	}
	return false
}
