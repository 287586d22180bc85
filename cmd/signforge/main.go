package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/signforge/signforge/internal/env"
)

var rootCmd = &cobra.Command{
	Use:   "signforge",
	Short: "Scheduled app re-sign pipeline with change-detection caching",
	Long: `signforge decides, on every scheduled run, which re-sign tasks actually
need rebuilding: it compares the enrolled-device population and per-task
upstream release versions against cached snapshots, and only signs and
republishes what changed. Signing and uploading are driven through external
tools; the decision engine itself is pure and cache-backed.`,
}

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	rootCmd.AddCommand(
		newCheckCmd(),
		newRunCmd(),
		newHistoryCmd(),
	)
	_ = env.Ensure()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("signforge command failed")
	}
}
