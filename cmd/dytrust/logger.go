package main

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/yuxki/dytrust/pkg/config"
)

// setupLogger replaces the global logger with one writing to w at the
// configured level and format.
func setupLogger(cfg config.DyTrustConfig, w io.Writer) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(cfg.ZerologLevel)

	if cfg.ZerologFormat == config.PrettyFormat {
		w = zerolog.ConsoleWriter{Out: w}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger().Level(cfg.ZerologLevel)
}

// roleLogger returns the global logger tagged with the component role.
func roleLogger(role string) zerolog.Logger {
	return log.Logger.With().Str("role", role).Logger()
}
