package main

import (
	"context"
	"fmt"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshp123/epdrelay/internal/archive"
	"github.com/joshp123/epdrelay/internal/config"
)

type frameStore interface {
	List(ctx context.Context, device string) ([]archive.Object, error)
	Load(ctx context.Context, key string) ([]byte, error)
}

// openFrameStore reads the same EPD_ARCHIVE_* settings the relay uses.
var openFrameStore = func() (frameStore, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if !cfg.Archive.Enabled() {
		return nil, fmt.Errorf("frame archive is not configured (set EPD_ARCHIVE_ENDPOINT)")
	}
	store, err := archive.NewS3Store(cfg.Archive)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func newFramesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frames",
		Short: "Browse rendered frames in the archive",
	}
	cmd.AddCommand(newFramesListCmd(), newFramesGetCmd())
	return cmd
}

func newFramesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [device-ip]",
		Short: "List archived frames",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openFrameStore()
			if err != nil {
				return err
			}
			device := ""
			if len(args) == 1 {
				device = args[0]
			}

			ctx, cancel := withTimeout(cmd)
			defer cancel()
			objects, err := store.List(ctx, device)
			if err != nil {
				return fmt.Errorf("list frames: %w", err)
			}

			out := outputMode{json: flagJSON, out: cmd.OutOrStdout()}
			if out.json {
				return out.printJSON(objects)
			}
			rows := [][]string{{"KEY", "SIZE", "MODIFIED"}}
			for _, obj := range objects {
				rows = append(rows, []string{obj.Key, strconv.FormatInt(obj.Size, 10), obj.Modified.Format(time.RFC3339)})
			}
			return out.table(rows)
		},
	}
}

func newFramesGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key> [out.png]",
		Short: "Download an archived frame as PNG",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openFrameStore()
			if err != nil {
				return err
			}
			key := args[0]
			dst := path.Base(key)
			if len(args) == 2 {
				dst = args[1]
			}

			ctx, cancel := withTimeout(cmd)
			defer cancel()
			data, err := store.Load(ctx, key)
			if err != nil {
				return fmt.Errorf("get frame: %w", err)
			}
			if err := os.WriteFile(dst, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", dst, err)
			}
			outputMode{out: cmd.OutOrStdout()}.line("saved %s (%d bytes)", dst, len(data))
			return nil
		},
	}
}
