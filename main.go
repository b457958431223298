package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"ocr-watch/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("ocr-watch failed")
		os.Exit(1)
	}
}
