package cmd

import "github.com/urfave/cli/v2"

// Commands returns every skinsync command.
func Commands(commit string) []*cli.Command {
	return []*cli.Command{
		ServeCommand(),
		PushCommand(),
		JoinCommand(),
		ResetCommand(),
		EncodeCommand(),
		StatsCommand(),
		SkinsCommand(),
		HistoryCommand(),
		DiscoverCommand(),
		VersionCommand(commit),
	}
}
