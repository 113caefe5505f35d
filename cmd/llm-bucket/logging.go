package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/divyekant/llm-bucket/internal/config"
)

// setupLogging configures the global logger. Logs go to stderr unless the
// config names a file, so stdout stays free for the summary and --json.
func setupLogging(cfg config.LoggingConfig, levelOverride string) {
	name := cfg.Level
	if levelOverride != "" {
		name = levelOverride
	}
	level, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil || name == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var output io.Writer = os.Stderr
	if cfg.Path != "" {
		file, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to open log file, using stderr")
		} else {
			output = file
		}
	}

	if cfg.Format == "json" {
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: time.RFC3339,
		NoColor:    cfg.Path != "",
	}).With().Timestamp().Logger()
}
