package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/bgricker/buildgate/internal/report"
)

// exitError carries the process exit status for a command failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func exitStatus(err error) int {
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	return report.ExitNotStarted
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitStatus(err))
	}
}
