package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshp123/epdrelay/internal/config"
)

const (
	defaultRelayURL  = "http://localhost:3000"
	defaultGRPCAddr  = "localhost:9000"
	defaultTimeout   = 30 * time.Second
	envRelayURL      = "EPD_RELAY_URL"
	envRelayGRPCAddr = "EPD_RELAY_GRPC_ADDR"
)

var (
	flagURL      string
	flagGRPCAddr string
	flagJSON     bool
	flagTimeout  time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "epdrelay-cli",
	Short:         "Operate a running epdrelay",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	_ = config.Ensure()

	rootCmd.PersistentFlags().StringVar(&flagURL, "url", envOrDefault(envRelayURL, defaultRelayURL), "relay HTTP base URL ($"+envRelayURL+")")
	rootCmd.PersistentFlags().StringVar(&flagGRPCAddr, "grpc-addr", envOrDefault(envRelayGRPCAddr, defaultGRPCAddr), "relay gRPC address ($"+envRelayGRPCAddr+")")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "print raw JSON")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", defaultTimeout, "request timeout")

	rootCmd.AddCommand(
		newDevicesCmd(),
		newRegisterCmd(),
		newSetDefaultCmd(),
		newSendTextCmd(),
		newSendImageCmd(),
		newClearCmd(),
		newQueueCmd(),
		newPollCmd(),
		newStatusCmd(),
		newGRPCCmd(),
		newConvertCmd(),
		newFramesCmd(),
	)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "epdrelay-cli: %v\n", err)
		os.Exit(1)
	}
}

func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), flagTimeout)
}

func output() outputMode {
	return outputMode{json: flagJSON, out: os.Stdout}
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
