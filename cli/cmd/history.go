package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/KendoTarakate/skin/cli/render"
	"github.com/KendoTarakate/skin/history"
	"github.com/KendoTarakate/skin/log"
)

// HistoryCommand returns the history command, which manages the list of
// recently applied skins.
func HistoryCommand() *cli.Command {
	fileFlags := []cli.Flag{
		ConfigFlag,
		&cli.StringFlag{Name: "history", Usage: "History file (default " + history.DefaultFile + ")"},
	}
	return &cli.Command{
		Name:  "history",
		Usage: "Manage recently applied skins",
		Flags: append(ReadOnlyFlags(), fileFlags...),
		Action: func(c *cli.Context) error {
			if c.Bool("tui") {
				return cli.Exit("--tui is not supported for history command", exitFailure)
			}
			r, err := render.NewRenderer(c)
			if err != nil {
				return cli.Exit(err.Error(), exitUsage)
			}
			h, err := openHistory(c)
			if err != nil {
				return err
			}
			view := historyView{Slim: h.SlimPreference(), Entries: h.Entries(), now: time.Now()}
			if r.Format() == render.FormatTable {
				return r.Render(historyTable(view))
			}
			return r.Render(view)
		},
		Subcommands: []*cli.Command{
			{
				Name:      "rename",
				Usage:     "Set the display name of an entry (empty restores the file name)",
				ArgsUsage: "<file> [name]",
				Flags:     fileFlags,
				Action: historyEdit(func(h *history.Store, c *cli.Context) error {
					return h.Rename(c.Args().Get(0), c.Args().Get(1))
				}),
			},
			{
				Name:      "remove",
				Usage:     "Forget an entry",
				ArgsUsage: "<file>",
				Flags:     fileFlags,
				Action: historyEdit(func(h *history.Store, c *cli.Context) error {
					return h.Remove(c.Args().First())
				}),
			},
			{
				Name:  "clear",
				Usage: "Forget every entry",
				Flags: fileFlags,
				Action: historyEdit(func(h *history.Store, _ *cli.Context) error {
					return h.Clear()
				}),
			},
			{
				Name:      "model",
				Usage:     "Set the default model variant",
				ArgsUsage: "<classic|slim>",
				Flags:     fileFlags,
				Action: historyEdit(func(h *history.Store, c *cli.Context) error {
					switch c.Args().First() {
					case "classic":
						return h.SetSlimPreference(false)
					case "slim":
						return h.SetSlimPreference(true)
					default:
						return fmt.Errorf("model must be classic or slim")
					}
				}),
			},
		},
	}
}

type historyView struct {
	Slim    bool            `json:"slim_preference" yaml:"slim_preference"`
	Entries []history.Entry `json:"entries" yaml:"entries"`
	now     time.Time
}

type historyTable historyView

func (t historyTable) Header() []string {
	return []string{"#", "name", "model", "applied", "path"}
}

func (t historyTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.Entries))
	for i, e := range t.Entries {
		model := "classic"
		if e.Slim {
			model = "slim"
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), e.DisplayName(), model, e.Age(t.now), e.Path})
	}
	return rows
}

func openHistory(c *cli.Context) (*history.Store, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	path := c.String("history")
	if path == "" {
		path = cfg.Client.HistoryPath
	}
	if path == "" {
		path = history.DefaultFile
	}
	h, err := history.Open(path, log.Nop())
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("open history: %v", err), exitFailure)
	}
	return h, nil
}

func historyEdit(fn func(*history.Store, *cli.Context) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		h, err := openHistory(c)
		if err != nil {
			return err
		}
		if err := fn(h, c); err != nil {
			return cli.Exit(err.Error(), exitFailure)
		}
		return nil
	}
}
