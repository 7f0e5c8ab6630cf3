package main

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshp123/epdrelay/internal/archive"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List known displays",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			var resp struct {
				Devices []deviceInfo `json:"devices"`
			}
			if err := newRelayClient(flagURL).get(ctx, "/devices", nil, &resp); err != nil {
				return err
			}
			out := output()
			if out.json {
				return out.printJSON(resp)
			}
			rows := [][]string{{"IP", "DEFAULT", "STATUS", "DISCOVERY", "LAST SEEN", "QUEUE"}}
			for _, d := range resp.Devices {
				def := ""
				if d.Active {
					def = "*"
				}
				rows = append(rows, []string{d.IP, def, d.Status, d.Discovery, d.LastSeen, strconv.Itoa(d.QueueLength)})
			}
			return out.table(rows)
		},
	}
}

func newRegisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register <ip>",
		Short: "Register a display",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAndReport(cmd, "/register-device", map[string]string{"ip": args[0]})
		},
	}
}

func newSetDefaultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-default <ip>",
		Short: "Make a display the default target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAndReport(cmd, "/set-device", map[string]string{"ip": args[0]})
		},
	}
}

func newSendTextCmd() *cobra.Command {
	var flagDevice, flagSize string
	cmd := &cobra.Command{
		Use:   "send-text <text...>",
		Short: "Queue text for a display",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAndReport(cmd, "/send-text", map[string]string{
				"text":     strings.Join(args, " "),
				"deviceIp": flagDevice,
				"textSize": flagSize,
			})
		},
	}
	cmd.Flags().StringVar(&flagDevice, "device", "", "target display (default target when empty)")
	cmd.Flags().StringVar(&flagSize, "size", "medium", "text size: small, medium or large")
	return cmd
}

func newSendImageCmd() *cobra.Command {
	var flagDevice string
	cmd := &cobra.Command{
		Use:   "send-image <file>",
		Short: "Upload a JPEG or PNG photo for a display",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			resp, err := newRelayClient(flagURL).sendImage(ctx, args[0], flagDevice)
			if err != nil {
				return err
			}
			return report(resp)
		},
	}
	cmd.Flags().StringVar(&flagDevice, "device", "", "target display (default target when empty)")
	return cmd
}

func newClearCmd() *cobra.Command {
	var flagDevice string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Queue a clear-screen command",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return postAndReport(cmd, "/clear-display", map[string]string{"deviceIp": flagDevice})
		},
	}
	cmd.Flags().StringVar(&flagDevice, "device", "", "target display (default target when empty)")
	return cmd
}

func newQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue <ip>",
		Short: "Show pending items without consuming them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			var resp struct {
				Queue []queueItem `json:"queue"`
			}
			if err := newRelayClient(flagURL).get(ctx, "/device-queue", url.Values{"ip": {args[0]}}, &resp); err != nil {
				return err
			}
			out := output()
			if out.json {
				return out.printJSON(resp)
			}
			rows := [][]string{{"#", "TYPE", "SIZE", "DATA"}}
			for i, item := range resp.Queue {
				rows = append(rows, []string{strconv.Itoa(i + 1), item.Type, item.TextSize, describeItem(item)})
			}
			return out.table(rows)
		},
	}
}

// newPollCmd behaves like a display: it takes one item off the queue.
func newPollCmd() *cobra.Command {
	var (
		flagSave   string
		flagWidth  int
		flagHeight int
	)
	cmd := &cobra.Command{
		Use:   "poll <ip>",
		Short: "Poll as a display would, consuming one item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			var item queueItem
			if err := newRelayClient(flagURL).postJSON(ctx, "/poll-content", map[string]string{"ip": args[0]}, &item); err != nil {
				return err
			}
			if flagSave != "" && item.Type == "processed_image" {
				if err := savePreview(flagSave, item.Data, flagWidth, flagHeight, args[0]); err != nil {
					return err
				}
			}
			out := output()
			if out.json {
				return out.printJSON(item)
			}
			out.line("%s\t%s", item.Type, describeItem(item))
			return nil
		},
	}
	cmd.Flags().StringVar(&flagSave, "save", "", "write a received image as PNG to this path")
	cmd.Flags().IntVar(&flagWidth, "width", 960, "bitmap width for --save")
	cmd.Flags().IntVar(&flagHeight, "height", 480, "bitmap height for --save")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show component health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			var resp struct {
				Status     string `json:"status"`
				Components []struct {
					ID      string `json:"id"`
					Name    string `json:"displayName"`
					Status  string `json:"status"`
					Message string `json:"message"`
				} `json:"components"`
			}
			if err := newRelayClient(flagURL).get(ctx, "/status", nil, &resp); err != nil {
				return err
			}
			out := output()
			if out.json {
				return out.printJSON(resp)
			}
			rows := [][]string{{"COMPONENT", "STATUS", "MESSAGE"}}
			for _, c := range resp.Components {
				rows = append(rows, []string{c.ID, c.Status, c.Message})
			}
			if err := out.table(rows); err != nil {
				return err
			}
			out.line("overall: %s", resp.Status)
			return nil
		},
	}
}

func postAndReport(cmd *cobra.Command, path string, body map[string]string) error {
	ctx, cancel := withTimeout(cmd)
	defer cancel()
	var resp receipt
	if err := newRelayClient(flagURL).postJSON(ctx, path, body, &resp); err != nil {
		return err
	}
	return report(resp)
}

func report(resp receipt) error {
	out := output()
	if out.json {
		return out.printJSON(resp)
	}
	if resp.QueueLength != nil {
		out.line("ok: %s (%s, queue %d)", resp.Message, resp.Device, *resp.QueueLength)
		return nil
	}
	out.line("ok: %s", resp.Message)
	return nil
}

func describeItem(item queueItem) string {
	switch item.Type {
	case "text":
		return preview(item.Data, 40)
	case "processed_image":
		raw, err := base64.StdEncoding.DecodeString(item.Data)
		if err != nil {
			return "undecodable bitmap"
		}
		return fmt.Sprintf("%d bytes bitmap", len(raw))
	default:
		return ""
	}
}

func savePreview(path, data string, width, height int, device string) error {
	pixels, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	png, err := archive.EncodePNG(archive.Frame{
		Device:    device,
		Width:     width,
		Height:    height,
		Pixels:    pixels,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, png, 0o644)
}
