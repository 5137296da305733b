package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	os.Exit(run(context.Background()))
}

// run executes the command line and returns the process exit code. An
// interrupted command exits non-zero without printing the cancellation.
func run(ctx context.Context) int {
	err := newRootCommand().ExecuteContext(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return 1
	default:
		fmt.Fprintf(os.Stderr, "conduit: %v\n", err)
		return 1
	}
}
