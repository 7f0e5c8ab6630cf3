package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshp123/epdrelay/internal/render"
)

const (
	formatRaw = "raw"
	formatBMP = "bmp"
)

// newConvertCmd prepares panel images offline, letterboxed onto the full
// panel: raw packs two 4-bit gray pixels per byte, bmp is 8-bit grayscale.
func newConvertCmd() *cobra.Command {
	var (
		flagFormat string
		flagWidth  int
		flagHeight int
	)
	cmd := &cobra.Command{
		Use:   "convert <input> <output>",
		Short: "Convert an image for direct panel upload",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			box := render.Letterbox{Width: flagWidth, Height: flagHeight}
			data, err := convertFile(box, args[0], flagFormat)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], data, 0o644); err != nil {
				return err
			}
			output().line("wrote %s (%d bytes, %s %dx%d)", args[1], len(data), flagFormat, flagWidth, flagHeight)
			return nil
		},
	}
	cmd.Flags().StringVar(&flagFormat, "format", formatRaw, "output format: raw or bmp")
	cmd.Flags().IntVar(&flagWidth, "width", render.PanelWidth, "panel width")
	cmd.Flags().IntVar(&flagHeight, "height", render.PanelHeight, "panel height")
	return cmd
}

func convertFile(box render.Letterbox, path, format string) ([]byte, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch format {
	case formatRaw:
		return box.Convert4Bit(bytes.NewReader(src))
	case formatBMP:
		return box.ConvertBMPBytes(bytes.NewReader(src))
	default:
		return nil, fmt.Errorf("unknown format %q (want %s or %s)", format, formatRaw, formatBMP)
	}
}
