package util

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LoggerConfig mirrors config.Logger without importing the config package.
type LoggerConfig struct {
	Level              zerolog.Level
	PrettyPrintConsole bool
	Caller             bool
}

// SetupLogger configures the global zerolog logger.
func SetupLogger(cfg LoggerConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerolog.SetGlobalLevel(cfg.Level)

	logger := log.Logger
	if cfg.PrettyPrintConsole {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
	if cfg.Caller {
		logger = logger.With().Caller().Logger()
	}

	log.Logger = logger
}

// LogFromContext returns the request-scoped logger or the global logger if none was attached.
func LogFromContext(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}

	return &log.Logger
}

// WithLogger attaches logger to ctx.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return logger.WithContext(ctx)
}

// LogLevelFromString parses a zerolog level and falls back to info.
func LogLevelFromString(s string) zerolog.Level {
	l, err := zerolog.ParseLevel(s)
	if err != nil {
		log.Warn().Err(err).Str("level", s).Msg("Failed to parse log level, defaulting to info")
		return zerolog.InfoLevel
	}

	return l
}
