// Package cmd provides the skinsync CLI commands.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode (stats, skins only).
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (stats, skins only)",
	}

	// ConfigFlag points at a skinsync.yaml. Without it ./skinsync.yaml is
	// used when present.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to skinsync.yaml",
		EnvVars: []string{"SKINSYNC_CONFIG"},
	}

	// ServerFlag is the session server address for client and query commands.
	ServerFlag = &cli.StringFlag{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Server address (host:port, ws:// or http:// URL)",
		EnvVars: []string{"SKINSYNC_SERVER"},
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// --tui is always accepted so unsupported commands can reject it with a
// clear message.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// ServerQueryFlags returns the flags of commands that query a running server.
func ServerQueryFlags() []cli.Flag {
	return append(ReadOnlyFlags(),
		ServerFlag,
		ConfigFlag,
		&cli.DurationFlag{
			Name:  "refresh",
			Usage: "TUI refresh interval (0 disables)",
			Value: defaultRefresh,
		},
	)
}
