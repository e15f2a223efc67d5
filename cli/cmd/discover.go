package cmd

import (
	"context"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/KendoTarakate/skin/cli/render"
	"github.com/KendoTarakate/skin/discovery"
)

// DiscoverCommand returns the discover command, which lists session servers
// advertised on the local network.
func DiscoverCommand() *cli.Command {
	return &cli.Command{
		Name:  "discover",
		Usage: "Find session servers on the local network",
		Flags: append(ReadOnlyFlags(), &cli.DurationFlag{
			Name:  "timeout",
			Usage: "How long to listen for announcements",
			Value: 3 * time.Second,
		}),
		Action: func(c *cli.Context) error {
			if c.Bool("tui") {
				return cli.Exit("--tui is not supported for discover command", exitFailure)
			}
			r, err := render.NewRenderer(c)
			if err != nil {
				return cli.Exit(err.Error(), exitUsage)
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()
			servers, err := discovery.Browse(ctx)
			if err != nil {
				return cli.Exit(err.Error(), exitFailure)
			}

			out := make([]discoveredServer, 0, len(servers))
			for _, s := range servers {
				out = append(out, discoveredServer{
					Instance: s.Instance,
					URL:      s.URL(),
					Version:  s.Version,
					Protocol: s.Protocol,
				})
			}
			return r.Render(out)
		},
	}
}

type discoveredServer struct {
	Instance string `json:"instance" yaml:"instance"`
	URL      string `json:"url" yaml:"url"`
	Version  string `json:"version" yaml:"version"`
	Protocol int    `json:"protocol" yaml:"protocol"`
}
