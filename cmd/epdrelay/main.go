package main

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/joshp123/epdrelay/internal/components"
)

var rootCmd = &cobra.Command{
	Use:           "epdrelay",
	Short:         "Relay text and images to polling e-paper displays",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = components.Version
	rootCmd.AddCommand(newServeCmd())
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("epdrelay failed")
		os.Exit(1)
	}
}
