package main

import (
	"os"
	"time"

	"github.com/beam-cloud/contestfs/pkg/commands"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "contestfs",
	Short:         "Mount a contest server as a filesystem",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	rootCmd.AddCommand(commands.MountCmd)
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("contestfs failed")
	}
}
