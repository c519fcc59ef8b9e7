// Package xlog is the process-wide logger: a thin zerolog wrapper so the
// rest of the module calls Debugf/Infof/Warnf/Errorf instead of carrying a
// logger value through every constructor.
package xlog

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger, console-formatted for a CLI tool rather
// than the JSON shape zerolog defaults to.
var Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

// SetLevel sets the minimum severity that reaches the output.
func SetLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func Debugf(format string, v ...interface{}) { Logger.Debug().Msgf(format, v...) }
func Infof(format string, v ...interface{})  { Logger.Info().Msgf(format, v...) }
func Warnf(format string, v ...interface{})  { Logger.Warn().Msgf(format, v...) }
func Errorf(format string, v ...interface{}) { Logger.Error().Msgf(format, v...) }
