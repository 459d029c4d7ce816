// Package main is the entry point for the workstation orchestrator.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jaxs-ribs/codewalk/cmd/workstation"
	"github.com/jaxs-ribs/codewalk/internal/loop"
)

// Build information injected via ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	versionString := fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	workstation.SetVersion(versionString)

	err := workstation.Execute()
	switch {
	case err == nil:
		os.Exit(workstation.ExitClean)
	case errors.Is(err, loop.ErrShutdownTimeout):
		os.Exit(workstation.ExitLoopError)
	default:
		os.Exit(workstation.ExitInitError)
	}
}
