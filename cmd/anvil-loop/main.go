// anvil-loop - convergence loop for external training runs
//
// anvil-loop alternates a training executable with repeated calls of a
// sampling executable, aggregating the sampler's acceptance after every
// round, until the mean acceptance reaches a target.
//
// Commands:
//   - run:     drive the loop (resumes an existing run directory)
//   - status:  show the persisted state of a run
//   - history: list iterations recorded in the ledger
//   - export:  write a run's data as CSV or SVG
//   - init:    write a default configuration file
package main

import (
	"errors"
	"fmt"
	"os"

	werrors "github.com/ldd69/anvil/pkg/errors"
)

const version = "0.4.0"

// Exit statuses.
const (
	exitConverged    = 0
	exitFatal        = 1
	exitNotConverged = 2
	exitInterrupted  = 130
)

var (
	errInterrupted  = errors.New("interrupted")
	errNotConverged = errors.New("iteration limit reached before convergence")
)

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	return exitCode(cmd.Execute())
}

// exitCode maps a command error to the process exit status, rendering
// fatal errors on stderr.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitConverged
	case errors.Is(err, errInterrupted):
		return exitInterrupted
	case errors.Is(err, errNotConverged):
		fmt.Fprintln(os.Stderr, err)
		return exitNotConverged
	default:
		werrors.Display(err)
		return exitFatal
	}
}
