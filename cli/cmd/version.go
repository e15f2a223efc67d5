package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/KendoTarakate/skin/cli/render"
	"github.com/KendoTarakate/skin/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version  string `json:"version"`
	Protocol int    `json:"protocol"`
	Commit   string `json:"commit"`
}

// VersionCommand returns the version command. It never contacts a server.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Flags: ReadOnlyFlags(),
		Action: func(c *cli.Context) error {
			r, err := render.NewRenderer(c)
			if err != nil {
				return err
			}
			if c.Bool("tui") {
				return cli.Exit("--tui is not supported for version command", 1)
			}
			return r.Render(VersionResponse{
				Version:  types.Version,
				Protocol: types.ProtocolVersion,
				Commit:   commit,
			})
		},
	}
}
