// Package main implements the taskdeps command, which runs the task
// dependency engine's operational server, database migrations and one-off
// readiness sweeps.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
