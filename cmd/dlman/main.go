// Command dlman is the CLI front-end for the dlmand control server: it
// implements the subset of the HTTP API described as a command surface
// (add, list, pause/resume/cancel/retry/remove, queues, settings).
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

// Exit codes: 0 success, 2 argument error, 3 engine error, 4 not found.
const (
	exitOK       = 0
	exitArgError = 2
	exitEngine   = 3
	exitNotFound = 4
)

func main() {
	app := cli.App{
		Name:      "dlman",
		HelpName:  "dlman",
		Usage:     "control the dlman download daemon",
		UsageText: "dlman <command> [arguments...]",
		Commands: []cli.Command{
			addCommand,
			listCommand,
			{Name: "pause", Usage: "pause a download", Action: actionCommand("pause")},
			{Name: "resume", Usage: "resume a paused download", Action: actionCommand("resume")},
			{Name: "cancel", Usage: "cancel a download", Action: actionCommand("cancel")},
			{Name: "retry", Usage: "retry a failed or cancelled download", Action: actionCommand("retry")},
			removeCommand,
			watchCommand,
			queuesCommand,
			settingsCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "dlman: %s\n", err)
		if ec, ok := err.(exitCoder); ok {
			os.Exit(ec.ExitCode())
		}
		os.Exit(exitEngine)
	}
}

// exitCoder lets command actions carry a specific process exit code
// without urfave/cli's own cli.ExitError machinery, since that package's
// ExitError requires a string message at construction anyway.
type exitCoder interface {
	error
	ExitCode() int
}

type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) ExitCode() int { return e.code }

func argError(err error) error    { return &cliError{code: exitArgError, err: err} }
func engineError(err error) error { return &cliError{code: exitEngine, err: err} }
func notFoundError(err error) error { return &cliError{code: exitNotFound, err: err} }

// classify maps an apiClient error to the right exit code.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*apiError); ok && ae.Status == 404 {
		return notFoundError(err)
	}
	return engineError(err)
}
