// Package main provides the skinsync CLI entrypoint.
//
// Usage:
//
//	skinsync <command> [options]
//
// Exit codes:
//   - 0: success
//   - 1: operation failed (server unreachable, bad image, ...)
//   - 2: usage or configuration error
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/KendoTarakate/skin/cli/cmd"
	"github.com/KendoTarakate/skin/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "skinsync",
		Usage:          "Share custom avatar skins across a multiplayer session",
		Version:        fmt.Sprintf("%s (protocol %d, commit: %s)", types.Version, types.ProtocolVersion, commit),
		ExitErrHandler: exitErrHandler,
		Commands:       cmd.Commands(commit),
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already exited for anything it recognized.
		os.Exit(1)
	}
}

func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	os.Exit(exitStatus(err, os.Stderr))
}

// exitStatus reports err on w and returns the process exit code. Codes
// from cli.Exit pass through; any other error exits 1.
func exitStatus(err error, w io.Writer) int {
	if err == nil {
		return 0
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		// cli.Exit("", n) carries no message worth printing.
		if msg := exitCoder.Error(); msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(w, msg)
		}
		return code
	}

	fmt.Fprintf(w, "Error: %v\n", err)
	return 1
}
