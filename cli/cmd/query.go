package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/KendoTarakate/skin/cli/render"
	"github.com/KendoTarakate/skin/cli/tui"
	"github.com/KendoTarakate/skin/iox"
	"github.com/KendoTarakate/skin/store"
	"github.com/KendoTarakate/skin/types"
)

// StatsCommand returns the stats command, which reports a running server's
// participants, records and counters.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show session server statistics",
		Flags: ServerQueryFlags(),
		Action: func(c *cli.Context) error {
			r, base, err := queryTarget(c)
			if err != nil {
				return err
			}
			if c.Bool("tui") {
				return tui.RunWatch(tui.ViewStats, func() (any, error) {
					return fetchStats(c.Context, base)
				}, c.Duration("refresh"))
			}
			stats, err := fetchStats(c.Context, base)
			if err != nil {
				return cli.Exit(err.Error(), exitFailure)
			}
			return r.Render(stats)
		},
	}
}

// SkinsCommand returns the skins command, which lists stored skins and
// downloads individual payloads.
func SkinsCommand() *cli.Command {
	return &cli.Command{
		Name:  "skins",
		Usage: "List skins stored on the session server",
		Flags: ServerQueryFlags(),
		Action: func(c *cli.Context) error {
			r, base, err := queryTarget(c)
			if err != nil {
				return err
			}
			if c.Bool("tui") {
				return tui.RunWatch(tui.ViewSkins, func() (any, error) {
					return fetchSkins(c.Context, base)
				}, c.Duration("refresh"))
			}
			skins, err := fetchSkins(c.Context, base)
			if err != nil {
				return cli.Exit(err.Error(), exitFailure)
			}
			if r.Format() == render.FormatTable {
				return r.Render(skinTable(skins))
			}
			return r.Render(skins)
		},
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Download a participant's stored skin",
				ArgsUsage: "<participant-uuid>",
				Flags: []cli.Flag{
					ServerFlag,
					ConfigFlag,
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file (default <uuid>.png)"},
				},
				Action: skinGetAction,
			},
		},
	}
}

func skinGetAction(c *cli.Context) error {
	owner, err := uuid.Parse(c.Args().First())
	if err != nil {
		return cli.Exit("skins get requires a participant uuid", exitUsage)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	_, base, err := endpoints(serverAddr(c, cfg))
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	out := c.String("out")
	if out == "" {
		out = owner.String() + ".png"
	}
	n, err := download(c.Context, base, owner, out)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	fmt.Fprintf(c.App.Writer, "wrote %s (%d bytes)\n", out, n)
	return nil
}

func queryTarget(c *cli.Context) (*render.Renderer, string, error) {
	r, err := render.NewRenderer(c)
	if err != nil {
		return nil, "", cli.Exit(err.Error(), exitUsage)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, "", err
	}
	_, base, err := endpoints(serverAddr(c, cfg))
	if err != nil {
		return nil, "", cli.Exit(err.Error(), exitUsage)
	}
	return r, base, nil
}

func fetchSkins(ctx context.Context, base string) ([]types.RecordMeta, error) {
	var out []types.RecordMeta
	if err := getJSON(ctx, base, "/skins", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// download writes owner's stored payload to path.
func download(ctx context.Context, base string, owner uuid.UUID, path string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/skins/"+owner.String()+".png", nil)
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download skin: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return 0, fmt.Errorf("no stored skin for %s", owner)
	default:
		return 0, fmt.Errorf("download skin: %s", resp.Status)
	}

	data, err := iox.ReadAllLimit(resp.Body, store.MaxRecordSize)
	if err != nil {
		return 0, fmt.Errorf("download skin: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, err
	}
	return len(data), nil
}

// skinTable lays out record metadata for the table renderer.
type skinTable []types.RecordMeta

func (t skinTable) Header() []string {
	return []string{"owner", "name", "model", "bytes", "stored"}
}

func (t skinTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, m := range t {
		model := "classic"
		if m.Slim {
			model = "slim"
		}
		rows = append(rows, []string{
			m.Owner,
			m.Name,
			model,
			strconv.Itoa(m.Bytes),
			time.UnixMilli(m.Timestamp).Format(time.DateTime),
		})
	}
	return rows
}
