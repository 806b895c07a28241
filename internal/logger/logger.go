// Package logger builds the zerolog loggers handed to gateway components.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level      string `mapstructure:"level"`
	Debug      bool   `mapstructure:"debug"`
	Output     string `mapstructure:"output"`
	TimeFormat string `mapstructure:"time_format"`
}

// New returns the root logger described by cfg. Output is "stdout" (the
// default), "stderr" or "console" for human-readable lines on stderr.
func New(cfg Config) (zerolog.Logger, error) {
	level, err := cfg.level()
	if err != nil {
		return zerolog.Nop(), err
	}

	out, err := cfg.writer()
	if err != nil {
		return zerolog.Nop(), err
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

func (c Config) level() (zerolog.Level, error) {
	if c.Debug {
		return zerolog.DebugLevel, nil
	}
	if c.Level == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(c.Level)
}

func (c Config) writer() (io.Writer, error) {
	format := c.TimeFormat
	if format == "" {
		format = time.RFC3339
	}
	zerolog.TimeFieldFormat = format

	switch c.Output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	case "console":
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: format}, nil
	default:
		return nil, fmt.Errorf("unknown log output %q", c.Output)
	}
}

// Component tags l with the emitting component.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// NewTestLogger returns a logger that discards everything.
func NewTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard).Level(zerolog.Disabled)
}
