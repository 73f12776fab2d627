// Package main provides the livepreview CLI entrypoint.
//
// Usage:
//
//	livepreview <command> [options]
//
// Exit codes for `run`:
//   - 0: run succeeded (execution_success)
//   - 1: run failed (execution_error)
//   - 2: interrupted before a terminal event
//   - 3: monitor failure (connect, queue, or flush)
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/rndnanthu/Comfyui-Livepreview/cli/cmd"
	"github.com/rndnanthu/Comfyui-Livepreview/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "livepreview",
		Usage:          "ComfyUI run tracker with live preview",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.InspectCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// cli.ExitCoder errors already exited inside exitErrHandler;
		// anything left is an unwrapped failure.
		os.Exit(1)
	}
}

// exitErrHandler handles errors from the CLI, preserving exit codes from
// cli.Exit() so `run` outcomes reach the caller unchanged.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() reads "exit status N"; the run summary
		// already went to stderr, so suppress that placeholder message.
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
