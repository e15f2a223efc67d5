package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/KendoTarakate/skin/cli/render"
	"github.com/KendoTarakate/skin/imaging"
	"github.com/KendoTarakate/skin/transfer"
)

// EncodeResponse reports what push would upload for an image.
type EncodeResponse struct {
	Input        string `json:"input"`
	Output       string `json:"output,omitempty"`
	OriginalSide int    `json:"original_side"`
	Side         int    `json:"side"`
	Bytes        int    `json:"bytes"`
	Chunks       int    `json:"chunks"`
	OverBudget   bool   `json:"over_budget"`
}

// EncodeCommand returns the encode command. It runs the upload codec
// locally without contacting a server.
func EncodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "encode",
		Usage:     "Downscale and encode a skin the way push would",
		ArgsUsage: "<skin.png>",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Write the encoded PNG here"},
			&cli.IntFlag{Name: "max-dimension", Usage: "Largest side", Value: imaging.DefaultMaxDimension},
			&cli.IntFlag{Name: "max-bytes", Usage: "Encoded size budget", Value: imaging.DefaultMaxBytes},
			&cli.IntFlag{Name: "chunk-size", Usage: "Bytes per chunk", Value: transfer.DefaultChunkSize},
		),
		Action: encodeAction,
	}
}

func encodeAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for encode command", exitFailure)
	}
	if c.NArg() != 1 {
		return cli.Exit("encode requires exactly one image", exitUsage)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	resp, err := encodeFile(c.Args().First(), c.String("out"), c.Int("max-dimension"), c.Int("max-bytes"), c.Int("chunk-size"))
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	return r.Render(resp)
}

func encodeFile(in, out string, maxDimension, maxBytes, chunkSize int) (*EncodeResponse, error) {
	codec := imaging.NewCodec(nil)
	img, err := codec.LoadFile(in)
	if err != nil {
		return nil, err
	}
	res, err := codec.Encode(img, maxDimension, maxBytes)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", in, err)
	}
	seq, err := transfer.Frame(uuid.Nil, res.Payload, false, chunkSize)
	if err != nil {
		return nil, err
	}

	if out != "" {
		if strings.EqualFold(filepath.Clean(out), filepath.Clean(in)) {
			return nil, fmt.Errorf("refusing to overwrite input %s", in)
		}
		if err := os.WriteFile(out, res.Payload, 0o644); err != nil {
			return nil, err
		}
	}

	return &EncodeResponse{
		Input:        in,
		Output:       out,
		OriginalSide: res.OriginalSide,
		Side:         res.Side,
		Bytes:        len(res.Payload),
		Chunks:       len(seq.Chunks),
		OverBudget:   res.OverBudget,
	}, nil
}
