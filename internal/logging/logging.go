// Package logging constructs the process-wide structured logger and the
// small Logger capability interface components depend on, so that
// production code never imports zerolog directly outside this package
// and cmd/vaultd's wiring.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the minimal structured-logging capability satisfied by
// zerolog and by test doubles.
type Logger interface {
	Info(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
	Debug(msg string, fields map[string]any)
}

// ZerologLogger adapts a zerolog.Logger to the Logger interface.
type ZerologLogger struct {
	log zerolog.Logger
}

// New constructs a ZerologLogger writing JSON to stdout at the given
// level ("debug", "info", "error", ...; defaults to "info").
func New(levelStr string) *ZerologLogger {
	lvl, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	l := zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
	return &ZerologLogger{log: l}
}

func (z *ZerologLogger) Info(msg string, fields map[string]any) {
	z.log.Info().Fields(fields).Msg(msg)
}

func (z *ZerologLogger) Error(msg string, fields map[string]any) {
	z.log.Error().Fields(fields).Msg(msg)
}

func (z *ZerologLogger) Debug(msg string, fields map[string]any) {
	z.log.Debug().Fields(fields).Msg(msg)
}

// Noop discards all log output; useful as a default in tests.
type Noop struct{}

func (Noop) Info(string, map[string]any)  {}
func (Noop) Error(string, map[string]any) {}
func (Noop) Debug(string, map[string]any) {}
